// Package expression manages the expression overlay of a model: loading
// expressions once, switching between them without flicker, and
// suppressing the active one while a motion plays.
package expression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/teslashibe/go-live2d/pkg/asset"
	"github.com/teslashibe/go-live2d/pkg/clip"
	"github.com/teslashibe/go-live2d/pkg/event"
	"github.com/teslashibe/go-live2d/pkg/params"
	"github.com/teslashibe/go-live2d/pkg/settings"
)

// ErrNoDefinition is returned for an index outside the definitions.
var ErrNoDefinition = errors.New("expression: no definition")

// NoIndex marks the default expression, or no reservation.
const NoIndex = -1

// Loader fetches and decodes one expression definition.
type Loader interface {
	LoadExpression(ctx context.Context, index int) (*clip.Expression, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, index int) (*clip.Expression, error)

// LoadExpression implements Loader.
func (f LoaderFunc) LoadExpression(ctx context.Context, index int) (*clip.Expression, error) {
	return f(ctx, index)
}

// Player overlays the chosen expression. *clip.ExpressionLayer implements it.
type Player interface {
	Set(e *clip.Expression)
	StopAll()
	Update(p *params.Parameters, now time.Time) bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithEvents sets the event bus.
func WithEvents(b *event.Bus) Option {
	return func(m *Manager) { m.events = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRand sets the random source used by SetRandomExpression.
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rng = r }
}

// Manager switches expressions. It is safe for concurrent use.
//
// The current expression is the last one successfully set. It survives
// ResetExpression, which only changes what is displayed, so that
// RestoreExpression can bring it back.
type Manager struct {
	definitions []settings.Expression
	loader      Loader
	player      Player
	events      *event.Bus
	logger      *slog.Logger

	cache *asset.Cache[int, *clip.Expression]

	mu           sync.Mutex
	rng          *rand.Rand
	defaultExpr  *clip.Expression
	currentExpr  *clip.Expression
	currentIndex int
	displayed    int
	reserveIndex int
	// seq is bumped by every request that changes the display; a load
	// that finds it moved on is discarded.
	seq       uint64
	destroyed bool
}

// NewManager creates a manager over the given definitions.
func NewManager(definitions []settings.Expression, loader Loader, player Player, opts ...Option) *Manager {
	def := clip.NewEmptyExpression("default")
	m := &Manager{
		definitions:  definitions,
		loader:       loader,
		player:       player,
		cache:        asset.New[int, *clip.Expression](),
		defaultExpr:  def,
		currentExpr:  def,
		currentIndex: NoIndex,
		displayed:    NoIndex,
		reserveIndex: NoIndex,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default().With("component", "expression")
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x65787072))
	}
	player.StopAll()
	return m
}

// SetExpression loads and displays the expression at index. A newer
// request issued while this one is loading wins: this call then returns
// false and its result is never displayed. Setting the displayed
// expression again returns false, keeps it on screen, and discards any
// load in flight.
func (m *Manager) SetExpression(ctx context.Context, index int) bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	if index < 0 || index >= len(m.definitions) {
		m.mu.Unlock()
		m.logger.Warn("expression not defined", "index", index)
		return false
	}
	if index == m.displayed {
		// Already on screen; a load still in flight is now stale.
		if m.reserveIndex != NoIndex {
			m.seq++
			m.reserveIndex = NoIndex
		}
		m.mu.Unlock()
		return false
	}
	m.seq++
	seq := m.seq
	m.reserveIndex = index
	m.mu.Unlock()

	expr, err := m.LoadExpression(ctx, index)

	m.mu.Lock()
	if m.destroyed || m.seq != seq {
		m.mu.Unlock()
		m.logger.Debug("expression superseded", "index", index)
		return false
	}
	m.reserveIndex = NoIndex
	if err != nil {
		m.mu.Unlock()
		return false
	}
	m.currentExpr = expr
	m.currentIndex = index
	m.display(expr, index)
	m.mu.Unlock()

	m.publishSet(index, expr.Name)
	return true
}

// SetExpressionByName sets the first expression with the given name.
func (m *Manager) SetExpressionByName(ctx context.Context, name string) bool {
	for i, d := range m.definitions {
		if d.Name == name {
			return m.SetExpression(ctx, i)
		}
	}
	m.logger.Warn("expression not defined", "name", name)
	return false
}

// SetRandomExpression sets a random expression other than the displayed
// one, the one being loaded, and any that failed to load.
func (m *Manager) SetRandomExpression(ctx context.Context) bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	candidates := make([]int, 0, len(m.definitions))
	for i := range m.definitions {
		if i == m.displayed || i == m.reserveIndex {
			continue
		}
		if m.cache.Status(i) == asset.Failed {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		m.mu.Unlock()
		return false
	}
	index := candidates[m.rng.IntN(len(candidates))]
	m.mu.Unlock()

	return m.SetExpression(ctx, index)
}

// ResetExpression displays the default expression, keeping the current
// one for RestoreExpression. Any load in flight is discarded. It reports
// whether the display changed.
func (m *Manager) ResetExpression() bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	m.seq++
	m.reserveIndex = NoIndex
	if m.displayed == NoIndex {
		m.mu.Unlock()
		return false
	}
	m.display(m.defaultExpr, NoIndex)
	m.mu.Unlock()

	m.publishSet(NoIndex, m.defaultExpr.Name)
	return true
}

// RestoreExpression displays the current expression again. Any load in
// flight is discarded. It reports whether the display changed.
func (m *Manager) RestoreExpression() bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	m.seq++
	m.reserveIndex = NoIndex
	if m.displayed == m.currentIndex {
		m.mu.Unlock()
		return false
	}
	expr, index := m.currentExpr, m.currentIndex
	m.display(expr, index)
	m.mu.Unlock()

	m.publishSet(index, expr.Name)
	return true
}

// display must be called with m.mu held.
func (m *Manager) display(expr *clip.Expression, index int) {
	m.displayed = index
	m.player.Set(expr)
}

func (m *Manager) publishSet(index int, name string) {
	e := event.New(event.ExpressionSet)
	e.Index, e.Name = index, name
	m.events.Publish(e)
}

// LoadExpression returns the decoded expression at index, loading it at
// most once. A failed index fails again without a new fetch.
func (m *Manager) LoadExpression(ctx context.Context, index int) (*clip.Expression, error) {
	if index < 0 || index >= len(m.definitions) {
		return nil, fmt.Errorf("%w: %d", ErrNoDefinition, index)
	}
	if m.cache.Status(index) == asset.Failed {
		m.logger.Debug("expression unavailable", "index", index)
		return nil, asset.ErrUnavailable
	}

	name := m.definitions[index].Name
	return m.cache.Load(ctx, index, func(ctx context.Context) (*clip.Expression, error) {
		expr, err := m.loader.LoadExpression(ctx, index)
		if err == nil && expr == nil {
			err = errors.New("expression: loader returned nothing")
		}
		if ctx.Err() != nil {
			return expr, err
		}

		var e event.Event
		if err != nil {
			m.logger.Warn("expression load failed", "index", index, "name", name, "error", err)
			e = event.New(event.ExpressionLoadError)
			e.Error = err.Error()
		} else {
			m.logger.Debug("expression loaded", "index", index, "name", name)
			e = event.New(event.ExpressionLoaded)
		}
		e.Index, e.Name = index, name
		m.events.Publish(e)
		return expr, err
	})
}

// Update blends the overlay into p.
func (m *Manager) Update(p *params.Parameters, now time.Time) bool {
	m.mu.Lock()
	destroyed := m.destroyed
	m.mu.Unlock()
	if destroyed {
		return false
	}
	return m.player.Update(p, now)
}

// Invalidate forgets a loaded or failed expression so it is fetched again.
func (m *Manager) Invalidate(index int) bool {
	return m.cache.Invalidate(index)
}

// LoadStatus returns the cache state of index.
func (m *Manager) LoadStatus(index int) asset.Status {
	return m.cache.Status(index)
}

// Destroy stops the overlay and refuses further work.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.seq++
	m.player.StopAll()
	m.mu.Unlock()

	m.cache.Close()
}

// Current returns the current expression and its index (NoIndex for the
// default).
func (m *Manager) Current() (*clip.Expression, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentExpr, m.currentIndex
}

// Definitions returns the expression definitions.
func (m *Manager) Definitions() []settings.Expression {
	return m.definitions
}

// Status is a point-in-time view of a Manager.
type Status struct {
	Current   int    `json:"current"`
	Name      string `json:"name"`
	Displayed int    `json:"displayed"`
	Reserved  int    `json:"reserved"`
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Current:   m.currentIndex,
		Name:      m.currentExpr.Name,
		Displayed: m.displayed,
		Reserved:  m.reserveIndex,
	}
}
