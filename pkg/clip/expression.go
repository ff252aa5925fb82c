package clip

import (
	"sync"
	"time"

	"github.com/teslashibe/go-live2d/pkg/params"
)

// Blend selects how an expression parameter combines with the buffer.
type Blend int

const (
	BlendAdd Blend = iota
	BlendMultiply
	BlendOverwrite
)

// ExpressionParam is one parameter override.
type ExpressionParam struct {
	ID    string
	Value float64
	Blend Blend
}

// Expression is a parameter overlay with no intrinsic duration.
type Expression struct {
	Name    string
	FadeIn  float64
	FadeOut float64
	Params  []ExpressionParam
}

// NewEmptyExpression returns an expression that changes nothing. Managers
// use it as the default expression.
func NewEmptyExpression(name string) *Expression {
	return &Expression{Name: name}
}

// Apply layers the expression onto p at the given weight.
func (e *Expression) Apply(p *params.Parameters, weight float64) {
	for _, ep := range e.Params {
		switch ep.Blend {
		case BlendMultiply:
			p.Multiply(ep.ID, 1+(ep.Value-1)*weight)
		case BlendOverwrite:
			p.Blend(ep.ID, ep.Value, weight)
		default:
			p.Add(ep.ID, ep.Value*weight)
		}
	}
}

type layerEntry struct {
	expr      *Expression
	started   bool
	startTime time.Time

	fadeRequested bool
	fading        bool
	fadeStart     time.Time
}

// ExpressionLayer cross-fades from the previous expression to the current
// one. It is finished only when no expression has ever been set or after
// StopAll.
type ExpressionLayer struct {
	mu      sync.Mutex
	entries []*layerEntry
}

// NewExpressionLayer creates an empty layer.
func NewExpressionLayer() *ExpressionLayer {
	return &ExpressionLayer{}
}

// Set makes e the current expression and fades out the rest.
func (l *ExpressionLayer) Set(e *Expression) {
	if e == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, le := range l.entries {
		le.fadeRequested = true
	}
	l.entries = append(l.entries, &layerEntry{expr: e})
}

// Current returns the most recently set expression, or nil.
func (l *ExpressionLayer) Current() *Expression {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[len(l.entries)-1].expr
}

// StopAll clears the layer.
func (l *ExpressionLayer) StopAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// IsFinished reports whether the layer holds nothing.
func (l *ExpressionLayer) IsFinished() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) == 0
}

// Update applies the layer at now.
func (l *ExpressionLayer) Update(p *params.Parameters, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	updated := false
	live := l.entries[:0]
	for _, le := range l.entries {
		if !le.started {
			le.started = true
			le.startTime = now
		}
		if le.fadeRequested && !le.fading {
			le.fading = true
			le.fadeStart = now
		}

		w := 1.0
		if le.expr.FadeIn > 0 {
			w *= Ease(now.Sub(le.startTime).Seconds() / le.expr.FadeIn)
		}
		if le.fading {
			if le.expr.FadeOut <= 0 {
				continue
			}
			left := le.expr.FadeOut - now.Sub(le.fadeStart).Seconds()
			if left <= 0 {
				continue
			}
			w *= Ease(left / le.expr.FadeOut)
		}

		le.expr.Apply(p, w)
		updated = true
		live = append(live, le)
	}
	for i := len(live); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = live
	return updated
}
