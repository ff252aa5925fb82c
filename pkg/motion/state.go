package motion

import "github.com/teslashibe/go-live2d/pkg/clip"

// State arbitrates motion requests by priority. It tracks the slot that is
// playing, the slot that won arbitration and is still loading, and a
// separate reservation used only by idle requests.
//
// State does no I/O and has no timers; every transition happens in
// Reserve, Start or Complete. It is not safe for concurrent use; the
// owning Manager serializes access.
type State struct {
	current         Slot
	currentPriority Priority

	reserved        Slot
	reservePriority Priority

	reservedIdle Slot
	hasIdle      bool
}

// Reserve is called when a request arrives, before anything loads. It
// returns false, leaving the state untouched, when the request loses
// arbitration or repeats a slot that is already playing or reserved.
//
// An idle request only takes the idle reservation, and only while nothing
// is playing and nothing else is reserved. Normal requests must beat both
// the playing and the reserved priority. Force requests always win and
// evict the general reservation.
func (s *State) Reserve(group string, index int, priority Priority) bool {
	if priority <= PriorityNone || priority > PriorityForce {
		return false
	}

	slot := Slot{Group: group, Index: index}
	if s.currentPriority != PriorityNone && s.current == slot {
		return false
	}
	if s.reservePriority != PriorityNone && s.reserved == slot {
		return false
	}
	if s.hasIdle && s.reservedIdle == slot {
		return false
	}

	if priority == PriorityIdle {
		if s.currentPriority != PriorityNone || s.hasIdle || s.reservePriority != PriorityNone {
			return false
		}
		s.reservedIdle = slot
		s.hasIdle = true
		return true
	}

	if priority < PriorityForce {
		if priority <= s.currentPriority || priority <= s.reservePriority {
			return false
		}
	}
	s.reserved = slot
	s.reservePriority = priority
	return true
}

// Start is called once the slot's motion has loaded. It re-checks the
// reservation, which may have been evicted while loading, and on success
// makes the slot current. A nil motion (failed load) always fails but
// still releases a matching reservation.
func (s *State) Start(m *clip.Motion, group string, index int, priority Priority) bool {
	slot := Slot{Group: group, Index: index}

	if priority == PriorityIdle {
		if !s.hasIdle || s.reservedIdle != slot {
			return false
		}
		s.reservedIdle = Slot{}
		s.hasIdle = false
		if s.currentPriority != PriorityNone || s.reservePriority != PriorityNone {
			return false
		}
	} else {
		if s.reservePriority == PriorityNone || s.reserved != slot {
			return false
		}
		s.reserved = Slot{}
		s.reservePriority = PriorityNone
	}

	if m == nil {
		return false
	}

	s.current = slot
	s.currentPriority = priority
	return true
}

// Complete clears the playing slot. Reservations are untouched.
func (s *State) Complete() {
	s.current = Slot{}
	s.currentPriority = PriorityNone
}

// Cancel releases the reservation for slot without starting it. It
// reports whether a reservation was released.
func (s *State) Cancel(group string, index int, priority Priority) bool {
	slot := Slot{Group: group, Index: index}
	if priority == PriorityIdle {
		if s.hasIdle && s.reservedIdle == slot {
			s.reservedIdle = Slot{}
			s.hasIdle = false
			return true
		}
		return false
	}
	if s.reservePriority != PriorityNone && s.reserved == slot {
		s.reserved = Slot{}
		s.reservePriority = PriorityNone
		return true
	}
	return false
}

// Reset clears everything.
func (s *State) Reset() {
	*s = State{}
}

// IsActive reports whether slot is playing or reserved.
func (s *State) IsActive(group string, index int) bool {
	slot := Slot{Group: group, Index: index}
	return (s.currentPriority != PriorityNone && s.current == slot) ||
		(s.reservePriority != PriorityNone && s.reserved == slot) ||
		(s.hasIdle && s.reservedIdle == slot)
}

// ShouldRequestIdleMotion reports whether nothing is playing and no idle
// motion is on its way.
func (s *State) ShouldRequestIdleMotion() bool {
	return s.currentPriority == PriorityNone && !s.hasIdle
}

// Current returns the playing slot.
func (s *State) Current() (Slot, Priority, bool) {
	return s.current, s.currentPriority, s.currentPriority != PriorityNone
}

// Reserved returns the general reservation.
func (s *State) Reserved() (Slot, Priority, bool) {
	return s.reserved, s.reservePriority, s.reservePriority != PriorityNone
}

// ReservedIdle returns the idle reservation.
func (s *State) ReservedIdle() (Slot, bool) {
	return s.reservedIdle, s.hasIdle
}

// Snapshot is a copy of a State for reporting.
type Snapshot struct {
	Current         *Slot    `json:"current,omitempty"`
	CurrentPriority Priority `json:"current_priority"`
	Reserved        *Slot    `json:"reserved,omitempty"`
	ReservePriority Priority `json:"reserve_priority"`
	ReservedIdle    *Slot    `json:"reserved_idle,omitempty"`
}

// Empty reports whether nothing is playing or reserved.
func (sn Snapshot) Empty() bool {
	return sn.Current == nil && sn.Reserved == nil && sn.ReservedIdle == nil
}

// Snapshot copies the state.
func (s *State) Snapshot() Snapshot {
	sn := Snapshot{
		CurrentPriority: s.currentPriority,
		ReservePriority: s.reservePriority,
	}
	if s.currentPriority != PriorityNone {
		c := s.current
		sn.Current = &c
	}
	if s.reservePriority != PriorityNone {
		r := s.reserved
		sn.Reserved = &r
	}
	if s.hasIdle {
		i := s.reservedIdle
		sn.ReservedIdle = &i
	}
	return sn
}
