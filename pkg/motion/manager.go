// Package motion plays motions by priority: State arbitrates requests and
// Manager drives it against asynchronous, cached motion loading, an
// optional per-motion sound, and the idle fallback loop.
package motion

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-live2d/pkg/asset"
	"github.com/teslashibe/go-live2d/pkg/clip"
	"github.com/teslashibe/go-live2d/pkg/event"
	"github.com/teslashibe/go-live2d/pkg/params"
	"github.com/teslashibe/go-live2d/pkg/settings"
	"github.com/teslashibe/go-live2d/pkg/sound"
)

// Loader fetches and decodes the motion for a slot. It is supplied by the
// runtime adapter.
type Loader interface {
	LoadMotion(ctx context.Context, group string, index int) (*clip.Motion, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, group string, index int) (*clip.Motion, error)

// LoadMotion implements Loader.
func (f LoaderFunc) LoadMotion(ctx context.Context, group string, index int) (*clip.Motion, error) {
	return f(ctx, group, index)
}

// Player blends started motions into the parameter buffer.
// *clip.Queue implements it.
type Player interface {
	Start(m *clip.Motion, onFinish func())
	StopAll()
	IsFinished() bool
	Update(p *params.Parameters, now time.Time) bool
}

// SoundPlayer is the part of *sound.Manager the motion manager uses.
type SoundPlayer interface {
	Add(url string, onFinish func(), onError func(error)) *sound.Sound
	Play(ctx context.Context, s *sound.Sound) error
	Dispose(s *sound.Sound)
}

// ExpressionController suppresses the active expression while a motion
// plays and brings it back afterwards.
type ExpressionController interface {
	ResetExpression() bool
	RestoreExpression() bool
	Destroy()
}

// request is a reserved slot on its way to Start.
type request struct {
	slot     Slot
	priority Priority
	sound    *sound.Sound
	prev     *sound.Sound // finished sound displaced by sound
}

// Manager orchestrates motion playback for one model. It is safe for
// concurrent use.
type Manager struct {
	cfg         Config
	definitions map[string][]settings.Motion
	loader      Loader
	player      Player
	logger      *slog.Logger

	// ctx bounds background work; cancelled by Destroy.
	ctx    context.Context
	cancel context.CancelFunc
	cache  *asset.Cache[Slot, *clip.Motion]

	mu              sync.Mutex
	state           State
	rng             *rand.Rand
	playing         bool
	playingSlot     Slot
	playingPriority Priority
	currentSound    *sound.Sound
	destroyed       bool
}

// NewManager creates a manager for the given definitions.
func NewManager(definitions map[string][]settings.Motion, loader Loader, player Player, opts ...Option) *Manager {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "motion")
	}
	if cfg.Resolve == nil {
		cfg.Resolve = func(s string) string { return s }
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6c697665))
	}
	if definitions == nil {
		definitions = map[string][]settings.Motion{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:         cfg,
		definitions: definitions,
		loader:      loader,
		player:      player,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
		cache:       asset.New[Slot, *clip.Motion](),
		rng:         cfg.Rand,
	}
}

// StartMotion requests the motion at (group, index). soundURL, when
// non-empty, overrides the definition's sound. It blocks until the motion
// has loaded (and, with motion sync, its sound is ready) and reports
// whether the motion actually started. Losing arbitration, a failed load
// or a destroyed manager all return false.
func (m *Manager) StartMotion(ctx context.Context, group string, index int, priority Priority, soundURL string) bool {
	m.mu.Lock()
	req := m.begin(group, index, priority, soundURL)
	m.mu.Unlock()
	if req == nil {
		return false
	}
	return m.run(ctx, req)
}

// StartRandomMotion starts a random motion from group, skipping motions
// that failed to load and the slots that are playing or reserved. It
// returns false without loading anything when no candidate is left.
func (m *Manager) StartRandomMotion(ctx context.Context, group string, priority Priority, soundURL string) bool {
	m.mu.Lock()
	req := m.beginRandom(group, priority, soundURL)
	m.mu.Unlock()
	if req == nil {
		return false
	}
	return m.run(ctx, req)
}

// beginRandom must be called with m.mu held.
func (m *Manager) beginRandom(group string, priority Priority, soundURL string) *request {
	if m.destroyed {
		return nil
	}
	defs := m.definitions[group]
	candidates := make([]int, 0, len(defs))
	for i := range defs {
		if m.cache.Status(Slot{Group: group, Index: i}) == asset.Failed {
			continue
		}
		if m.state.IsActive(group, i) {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		m.logger.Debug("no motion to pick", "group", group, "defined", len(defs))
		return nil
	}
	return m.begin(group, candidates[m.rng.IntN(len(candidates))], priority, soundURL)
}

// begin runs the synchronous part of a start request: sound gate,
// reservation, definition check, and sound creation. It must be called
// with m.mu held and returns nil when the request is refused.
func (m *Manager) begin(group string, index int, priority Priority, soundURL string) *request {
	if m.destroyed {
		return nil
	}
	slot := Slot{Group: group, Index: index}

	if m.currentSound != nil && !m.currentSound.Finished() {
		m.logger.Debug("motion refused, sound still playing", "slot", slot, "priority", priority)
		return nil
	}

	if !m.state.Reserve(group, index, priority) {
		m.logger.Debug("motion lost arbitration", "slot", slot, "priority", priority)
		return nil
	}

	def, ok := m.definition(group, index)
	if !ok {
		m.state.Cancel(group, index, priority)
		m.logger.Warn("motion not defined", "slot", slot)
		return nil
	}

	req := &request{slot: slot, priority: priority}

	url := soundURL
	if url == "" && m.cfg.Sound && def.Sound != "" {
		url = m.cfg.Resolve(def.Sound)
	}
	if url != "" && m.cfg.Sounds != nil {
		req.sound = m.cfg.Sounds.Add(url, nil, func(err error) {
			m.logger.Warn("motion sound failed", "slot", slot, "url", url, "error", err)
		})
		req.prev = m.currentSound
		m.currentSound = req.sound
	}
	return req
}

// run performs the blocking part of a start request. Every path ends in
// commit so a reservation never outlives its request.
func (m *Manager) run(ctx context.Context, req *request) bool {
	if req.sound != nil {
		ready := make(chan struct{})
		go func() {
			defer close(ready)
			if err := m.cfg.Sounds.Play(m.ctx, req.sound); err != nil {
				m.logger.Debug("motion sound not played", "slot", req.slot, "error", err)
			}
		}()
		if m.cfg.MotionSync {
			select {
			case <-ready:
			case <-ctx.Done():
			}
		}
	}

	mo, err := m.LoadMotion(ctx, req.slot.Group, req.slot.Index)
	if err != nil {
		mo = nil
	}
	return m.commit(req, mo)
}

func (m *Manager) commit(req *request, mo *clip.Motion) bool {
	m.mu.Lock()
	if m.destroyed || !m.state.Start(mo, req.slot.Group, req.slot.Index, req.priority) {
		if req.sound != nil && m.currentSound == req.sound {
			m.currentSound = req.prev
		}
		destroyed := m.destroyed
		m.mu.Unlock()

		m.dispose(req.sound)
		if !destroyed {
			m.logger.Debug("motion not started", "slot", req.slot, "priority", req.priority, "loaded", mo != nil)
		}
		return false
	}

	var stale *sound.Sound
	if m.currentSound != req.sound {
		stale = m.currentSound
	}
	m.currentSound = req.sound
	m.playing = true
	m.playingSlot = req.slot
	m.playingPriority = req.priority
	m.player.Start(mo, nil)
	m.mu.Unlock()

	m.dispose(stale)
	if req.prev != nil && req.prev != stale && req.prev != req.sound {
		m.dispose(req.prev)
	}

	e := event.New(event.MotionStart)
	e.Group, e.Index, e.Name = req.slot.Group, req.slot.Index, mo.Name
	if req.sound != nil {
		e.Sound = req.sound.ID
	}
	m.cfg.Events.Publish(e)

	if req.priority > PriorityIdle && !m.cfg.PreserveExpression && m.cfg.Expressions != nil {
		m.cfg.Expressions.ResetExpression()
	}

	m.logger.Debug("motion started", "slot", req.slot, "priority", req.priority)
	return true
}

// LoadMotion returns the decoded motion for a slot, loading it at most
// once. A slot that failed before fails again without a new fetch.
func (m *Manager) LoadMotion(ctx context.Context, group string, index int) (*clip.Motion, error) {
	slot := Slot{Group: group, Index: index}
	if _, ok := m.definition(group, index); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDefinition, slot)
	}

	if m.cache.Status(slot) == asset.Failed {
		m.logger.Debug("motion unavailable", "slot", slot)
		return nil, asset.ErrUnavailable
	}

	return m.cache.Load(ctx, slot, func(ctx context.Context) (*clip.Motion, error) {
		mo, err := m.loader.LoadMotion(ctx, group, index)
		if err == nil && mo == nil {
			err = ErrEmptyMotion
		}
		if err != nil && ctx.Err() == nil {
			m.logger.Warn("motion load failed", "slot", slot, "error", err)
			e := event.New(event.MotionLoadError)
			e.Group, e.Index, e.Error = group, index, err.Error()
			m.cfg.Events.Publish(e)
		}
		return mo, err
	})
}

// Update advances playback by one tick and reports whether any parameter
// was written. When the player has run dry it completes the current
// motion, restores the expression a motion suppressed, and requests an
// idle motion if nothing else is on its way.
func (m *Manager) Update(p *params.Parameters, now time.Time) bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}

	var (
		finished bool
		slot     Slot
		restore  bool
		idle     *request
	)
	if m.player.IsFinished() {
		if m.playing {
			m.playing = false
			finished = true
			slot = m.playingSlot
			restore = m.playingPriority > PriorityIdle && !m.cfg.PreserveExpression
		}
		m.state.Complete()
		if m.state.ShouldRequestIdleMotion() {
			idle = m.beginRandom(m.cfg.IdleGroup, PriorityIdle, "")
		}
	}
	m.mu.Unlock()

	if finished {
		e := event.New(event.MotionFinish)
		e.Group, e.Index = slot.Group, slot.Index
		m.cfg.Events.Publish(e)
		if restore && m.cfg.Expressions != nil {
			m.cfg.Expressions.RestoreExpression()
		}
	}
	if idle != nil {
		go m.run(m.ctx, idle)
	}

	return m.player.Update(p, now)
}

// StopAllMotions stops playback, clears every reservation, and disposes
// the current sound. In-flight loads finish but can no longer start.
func (m *Manager) StopAllMotions() {
	m.mu.Lock()
	m.state.Reset()
	m.player.StopAll()
	m.playing = false
	snd := m.currentSound
	m.currentSound = nil
	m.mu.Unlock()

	m.dispose(snd)
}

// Destroy stops everything and refuses further work. Loads still in
// flight are discarded when they land.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.state.Reset()
	m.player.StopAll()
	m.playing = false
	snd := m.currentSound
	m.currentSound = nil
	m.mu.Unlock()

	m.cfg.Events.Publish(event.New(event.ModelDestroy))

	m.cancel()
	m.cache.Close()
	m.dispose(snd)
	if m.cfg.Expressions != nil {
		m.cfg.Expressions.Destroy()
	}
}

func (m *Manager) dispose(s *sound.Sound) {
	if s != nil && m.cfg.Sounds != nil {
		m.cfg.Sounds.Dispose(s)
	}
}

func (m *Manager) definition(group string, index int) (settings.Motion, bool) {
	defs, ok := m.definitions[group]
	if !ok || index < 0 || index >= len(defs) {
		return settings.Motion{}, false
	}
	return defs[index], true
}

// Invalidate forgets a loaded or failed motion so it is fetched again.
func (m *Manager) Invalidate(group string, index int) bool {
	return m.cache.Invalidate(Slot{Group: group, Index: index})
}

// LoadStatus returns the cache state of a slot.
func (m *Manager) LoadStatus(group string, index int) asset.Status {
	return m.cache.Status(Slot{Group: group, Index: index})
}

// CurrentSound returns the sound of the latest sound-bearing motion, or nil.
func (m *Manager) CurrentSound() *sound.Sound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentSound
}

// IdleGroup returns the group used for idle fallback.
func (m *Manager) IdleGroup() string {
	return m.cfg.IdleGroup
}

// Groups returns the defined group names, sorted.
func (m *Manager) Groups() []string {
	groups := make([]string, 0, len(m.definitions))
	for g := range m.definitions {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Definitions returns the definitions of group.
func (m *Manager) Definitions(group string) []settings.Motion {
	return m.definitions[group]
}

// Destroyed reports whether Destroy was called.
func (m *Manager) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

// Status is a point-in-time view of a Manager.
type Status struct {
	State   Snapshot `json:"state"`
	Playing bool     `json:"playing"`
	Sound   string   `json:"sound,omitempty"`
	// SoundState is the lifecycle state of Sound.
	SoundState string `json:"sound_state,omitempty"`
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:   m.state.Snapshot(),
		Playing: m.playing,
	}
	if m.currentSound != nil {
		st.Sound = m.currentSound.URL
		st.SoundState = m.currentSound.State().String()
	}
	return st
}
