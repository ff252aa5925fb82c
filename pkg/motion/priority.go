package motion

import (
	"fmt"
	"strings"
)

// Priority orders motion requests. Comparisons are load-bearing: a
// request below Force preempts only strictly lower priorities.
type Priority int

const (
	// PriorityNone marks an empty slot. It is never a valid request.
	PriorityNone Priority = iota
	PriorityIdle
	PriorityNormal
	PriorityForce
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p {
	case PriorityNone:
		return "none"
	case PriorityIdle:
		return "idle"
	case PriorityNormal:
		return "normal"
	case PriorityForce:
		return "force"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses "none", "idle", "normal" or "force", or their
// numeric forms 0-3.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return PriorityNone, nil
	case "idle", "1":
		return PriorityIdle, nil
	case "normal", "2":
		return PriorityNormal, nil
	case "force", "3":
		return PriorityForce, nil
	}
	return PriorityNone, fmt.Errorf("%w: %q", ErrUnknownPriority, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Slot addresses one motion definition.
type Slot struct {
	Group string `json:"group"`
	Index int    `json:"index"`
}

// String implements fmt.Stringer.
func (s Slot) String() string {
	return fmt.Sprintf("%s[%d]", s.Group, s.Index)
}
