package expression

import (
	"context"
	"fmt"
	"sync"

	"github.com/teslashibe/go-live2d/pkg/clip"
)

// MockLoader implements Loader for testing.
type MockLoader struct {
	// LoadFunc is called when LoadExpression is invoked. If nil, returns
	// an expression adding 1 to "Param<index>".
	LoadFunc func(ctx context.Context, index int) (*clip.Expression, error)

	mu    sync.Mutex
	calls []int
}

// NewMockLoader creates a loader that succeeds for every index.
func NewMockLoader() *MockLoader {
	return &MockLoader{}
}

// LoadExpression calls LoadFunc and records the call.
func (m *MockLoader) LoadExpression(ctx context.Context, index int) (*clip.Expression, error) {
	m.mu.Lock()
	m.calls = append(m.calls, index)
	m.mu.Unlock()

	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, index)
	}
	return &clip.Expression{
		Name:   fmt.Sprintf("exp%d", index),
		Params: []clip.ExpressionParam{{ID: fmt.Sprintf("Param%d", index), Value: 1}},
	}, nil
}

// CallCount returns how often index was loaded.
func (m *MockLoader) CallCount(index int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == index {
			n++
		}
	}
	return n
}

// Calls returns the number of loads.
func (m *MockLoader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var (
	_ Loader = (*MockLoader)(nil)
	_ Player = (*clip.ExpressionLayer)(nil)
)
