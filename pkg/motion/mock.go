package motion

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-live2d/pkg/clip"
	"github.com/teslashibe/go-live2d/pkg/params"
)

// MockLoader implements Loader for testing.
// LoadFunc can be customized; calls are recorded.
type MockLoader struct {
	// LoadFunc is called when LoadMotion is invoked.
	// If nil, returns a one second motion named after the slot.
	LoadFunc func(ctx context.Context, group string, index int) (*clip.Motion, error)

	mu    sync.Mutex
	calls []Slot
}

// NewMockLoader creates a loader that succeeds for every slot.
func NewMockLoader() *MockLoader {
	return &MockLoader{}
}

// LoadMotion calls LoadFunc and records the call.
func (m *MockLoader) LoadMotion(ctx context.Context, group string, index int) (*clip.Motion, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Slot{Group: group, Index: index})
	m.mu.Unlock()

	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, group, index)
	}
	return &clip.Motion{Name: Slot{Group: group, Index: index}.String(), Duration: 1}, nil
}

// Calls returns every recorded slot.
func (m *MockLoader) Calls() []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Slot, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of loads for slot.
func (m *MockLoader) CallCount(group string, index int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Group == group && c.Index == index {
			n++
		}
	}
	return n
}

// Reset clears recorded calls.
func (m *MockLoader) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// MockPlayer implements Player for testing. It plays nothing; a started
// motion counts as running until Finish or StopAll.
type MockPlayer struct {
	mu      sync.Mutex
	started []*clip.Motion
	running bool
	stops   int
	updates int
}

// NewMockPlayer creates an idle player.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

// Start records m and marks the player running.
func (p *MockPlayer) Start(m *clip.Motion, onFinish func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, m)
	p.running = true
}

// StopAll marks the player idle.
func (p *MockPlayer) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.stops++
}

// IsFinished reports whether nothing is running.
func (p *MockPlayer) IsFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.running
}

// Update counts the call and reports whether something is running.
func (p *MockPlayer) Update(_ *params.Parameters, _ time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates++
	return p.running
}

// Finish simulates the running motion reaching its end.
func (p *MockPlayer) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
}

// Started returns every motion passed to Start.
func (p *MockPlayer) Started() []*clip.Motion {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*clip.Motion, len(p.started))
	copy(out, p.started)
	return out
}

// StopCount returns how often StopAll was called.
func (p *MockPlayer) StopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

var (
	_ Loader = (*MockLoader)(nil)
	_ Player = (*MockPlayer)(nil)
	_ Player = (*clip.Queue)(nil)
)
