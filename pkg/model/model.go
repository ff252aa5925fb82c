// Package model ties one Live2D model's settings, runtime adapter, sound
// manager and playback managers together and drives them once per tick.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/go-live2d/pkg/clip"
	"github.com/teslashibe/go-live2d/pkg/cubism2"
	"github.com/teslashibe/go-live2d/pkg/cubism4"
	"github.com/teslashibe/go-live2d/pkg/event"
	"github.com/teslashibe/go-live2d/pkg/expression"
	"github.com/teslashibe/go-live2d/pkg/motion"
	"github.com/teslashibe/go-live2d/pkg/params"
	"github.com/teslashibe/go-live2d/pkg/settings"
	"github.com/teslashibe/go-live2d/pkg/sound"
)

// ErrDestroyed is returned by operations on a destroyed model.
var ErrDestroyed = errors.New("model: destroyed")

// InternalModel owns the playback state of one model.
type InternalModel struct {
	settings    *settings.Settings
	params      *params.Parameters
	events      *event.Bus
	sounds      *sound.Manager
	motions     *motion.Manager
	expressions *expression.Manager
	sink        Sink
	logger      *slog.Logger

	mu        sync.Mutex
	elapsed   time.Duration
	ticks     uint64
	destroyed bool
}

// Load fetches and parses the settings file at url and builds the model.
func Load(ctx context.Context, url string, opts ...Option) (*InternalModel, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	data, err := o.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	s, err := settings.Parse(data, url)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", url, err)
	}
	return New(s, opts...)
}

// New builds a model from parsed settings.
func New(s *settings.Settings, opts ...Option) (*InternalModel, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("model", s.Name)
	if o.events == nil {
		o.events = event.NewBus()
	}

	rt := o.runtime
	if rt == nil {
		var err error
		if rt, err = runtimeFor(s, o); err != nil {
			return nil, err
		}
	}

	idle := o.idleGroup
	if idle == "" {
		idle = s.DefaultIdleGroup()
	}

	m := &InternalModel{
		settings: s,
		params:   params.New(),
		events:   o.events,
		sink:     o.sink,
		logger:   logger,
		sounds: sound.NewManager(
			sound.WithFetcher(o.fetcher),
			sound.WithLogger(logger.With("component", "sound")),
			sound.WithVolume(o.volume),
		),
	}
	for _, id := range s.LipSyncIDs {
		m.params.Define(id, 0)
	}

	motionOpts := []motion.Option{
		motion.WithIdleGroup(idle),
		motion.WithSound(o.sound),
		motion.WithMotionSync(o.motionSync),
		motion.WithPreserveExpression(o.preserveExpression),
		motion.WithSounds(m.sounds),
		motion.WithEvents(o.events),
		motion.WithURLResolver(s.Resolve),
		motion.WithLogger(logger.With("component", "motion")),
	}
	if len(s.Expressions) > 0 {
		m.expressions = expression.NewManager(s.Expressions, rt, clip.NewExpressionLayer(),
			expression.WithEvents(o.events),
			expression.WithLogger(logger.With("component", "expression")),
		)
		motionOpts = append(motionOpts, motion.WithExpressions(m.expressions))
	}
	m.motions = motion.NewManager(s.Motions, rt, clip.NewQueue(), motionOpts...)

	logger.Info("model ready",
		"version", s.Version,
		"groups", len(s.Motions),
		"expressions", len(s.Expressions),
		"idle_group", idle,
	)
	return m, nil
}

func runtimeFor(s *settings.Settings, o options) (Runtime, error) {
	switch s.Version {
	case settings.Cubism2:
		return struct {
			*cubism2.MotionRuntime
			*cubism2.ExpressionRuntime
		}{cubism2.NewMotionRuntime(s, o.fetcher), cubism2.NewExpressionRuntime(s, o.fetcher)}, nil
	case settings.Cubism4:
		return struct {
			*cubism4.MotionRuntime
			*cubism4.ExpressionRuntime
		}{cubism4.NewMotionRuntime(s, o.fetcher), cubism4.NewExpressionRuntime(s, o.fetcher)}, nil
	}
	return nil, fmt.Errorf("%w: %v", settings.ErrUnsupported, s.Version)
}

// Update runs one tick: parameters go back to their defaults, then the
// motion, the expression overlay and lip sync are applied in that order.
// It reports whether any parameter was written.
func (m *InternalModel) Update(dt time.Duration, now time.Time) bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	m.elapsed += dt
	m.ticks++
	m.mu.Unlock()

	m.params.Reset()
	updated := m.motions.Update(m.params, now)
	if m.expressions != nil {
		if m.expressions.Update(m.params, now) {
			updated = true
		}
	}

	if snd := m.motions.CurrentSound(); snd != nil {
		if v := m.sounds.Analyze(snd, now); v > 0 {
			for _, id := range m.settings.LipSyncIDs {
				m.params.Add(id, v*LipSyncGain)
			}
			updated = true
		}
	}
	return updated
}

// Run calls Update every interval until ctx is done, handing the
// parameter values to the sink after each tick.
func (m *InternalModel) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("update loop started", "hz", int(time.Second/interval))
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("update loop stopped")
			return
		case now := <-ticker.C:
			m.Update(now.Sub(last), now)
			last = now
			if m.sink != nil {
				m.sink.WriteParams(m.params.Snapshot(), now)
			}
		}
	}
}

// Motion starts a motion. A negative index picks a random one from group.
func (m *InternalModel) Motion(ctx context.Context, group string, index int, priority motion.Priority, soundURL string) bool {
	if index < 0 {
		return m.motions.StartRandomMotion(ctx, group, priority, soundURL)
	}
	return m.motions.StartMotion(ctx, group, index, priority, soundURL)
}

// Expression sets an expression by name or index. An empty ref picks a
// random one.
func (m *InternalModel) Expression(ctx context.Context, ref string) bool {
	if m.expressions == nil {
		return false
	}
	if ref == "" {
		return m.expressions.SetRandomExpression(ctx)
	}
	if i := m.settings.ExpressionIndex(ref); i >= 0 {
		return m.expressions.SetExpression(ctx, i)
	}
	if i, err := strconv.Atoi(ref); err == nil {
		return m.expressions.SetExpression(ctx, i)
	}
	m.logger.Warn("expression not defined", "ref", ref)
	return false
}

// ResetExpression displays the default expression.
func (m *InternalModel) ResetExpression() bool {
	if m.expressions == nil {
		return false
	}
	return m.expressions.ResetExpression()
}

// StopMotions stops every motion and its sound.
func (m *InternalModel) StopMotions() {
	m.motions.StopAllMotions()
}

// Status is a point-in-time view of a model.
type Status struct {
	Name       string             `json:"name"`
	Version    string             `json:"version"`
	URL        string             `json:"url"`
	IdleGroup  string             `json:"idle_group"`
	Motion     motion.Status      `json:"motion"`
	Expression *expression.Status `json:"expression,omitempty"`
	Sounds     int                `json:"sounds"`
	Ticks      uint64             `json:"ticks"`
	Uptime     string             `json:"uptime"`
	Destroyed  bool               `json:"destroyed"`
}

// Status returns a snapshot of the model.
func (m *InternalModel) Status() Status {
	m.mu.Lock()
	st := Status{
		Name:      m.settings.Name,
		Version:   m.settings.Version.String(),
		URL:       m.settings.URL,
		IdleGroup: m.motions.IdleGroup(),
		Ticks:     m.ticks,
		Uptime:    m.elapsed.Round(time.Millisecond).String(),
		Destroyed: m.destroyed,
	}
	m.mu.Unlock()

	st.Motion = m.motions.Status()
	st.Sounds = m.sounds.Len()
	if m.expressions != nil {
		es := m.expressions.Status()
		st.Expression = &es
	}
	return st
}

// Params returns the parameter buffer written by Update.
func (m *InternalModel) Params() *params.Parameters {
	return m.params
}

// Settings returns the parsed settings.
func (m *InternalModel) Settings() *settings.Settings {
	return m.settings
}

// Definitions returns the motion definitions by group.
func (m *InternalModel) Definitions() map[string][]settings.Motion {
	return m.settings.Motions
}

// Events returns the event bus.
func (m *InternalModel) Events() *event.Bus {
	return m.events
}

// InvalidateFile forgets every loaded or failed motion and expression read
// from path so the next request fetches it again. It returns how many
// entries were dropped.
func (m *InternalModel) InvalidateFile(path string) int {
	target := filepath.Clean(path)
	n := 0
	for group, defs := range m.settings.Motions {
		for i, d := range defs {
			if filepath.Clean(m.settings.Resolve(d.File)) == target && m.motions.Invalidate(group, i) {
				n++
			}
		}
	}
	if m.expressions != nil {
		for i, d := range m.settings.Expressions {
			if filepath.Clean(m.settings.Resolve(d.File)) == target && m.expressions.Invalidate(i) {
				n++
			}
		}
	}
	if n > 0 {
		m.logger.Info("invalidated", "path", path, "entries", n)
	}
	return n
}

// Files returns the resolved paths of every motion and expression file.
func (m *InternalModel) Files() []string {
	var files []string
	for _, g := range m.motions.Groups() {
		for _, d := range m.settings.Motions[g] {
			files = append(files, m.settings.Resolve(d.File))
		}
	}
	for _, d := range m.settings.Expressions {
		files = append(files, m.settings.Resolve(d.File))
	}
	return files
}

// Destroy stops playback, releases sounds and refuses further work.
func (m *InternalModel) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.mu.Unlock()

	m.motions.Destroy()
	m.sounds.Close()
	m.logger.Info("model destroyed")
}
