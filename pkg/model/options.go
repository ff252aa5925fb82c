package model

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-live2d/pkg/clip"
	"github.com/teslashibe/go-live2d/pkg/event"
	"github.com/teslashibe/go-live2d/pkg/fetch"
)

// DefaultTickInterval is the update interval of Run (30 Hz).
const DefaultTickInterval = time.Second / 30

// LipSyncGain scales the analysed sound level before it is added to the
// lip sync parameters.
const LipSyncGain = 0.8

// Runtime decodes the motion and expression files of one Cubism
// generation.
type Runtime interface {
	LoadMotion(ctx context.Context, group string, index int) (*clip.Motion, error)
	LoadExpression(ctx context.Context, index int) (*clip.Expression, error)
}

// Sink receives the parameter values after every tick of Run.
type Sink interface {
	WriteParams(values map[string]float64, now time.Time)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(values map[string]float64, now time.Time)

// WriteParams implements Sink.
func (f SinkFunc) WriteParams(values map[string]float64, now time.Time) {
	f(values, now)
}

type options struct {
	fetcher            fetch.Fetcher
	runtime            Runtime
	events             *event.Bus
	logger             *slog.Logger
	sink               Sink
	idleGroup          string
	sound              bool
	motionSync         bool
	preserveExpression bool
	volume             float64
}

func defaultOptions() options {
	return options{
		fetcher:    fetch.Auto,
		sound:      true,
		motionSync: true,
		volume:     0.5,
	}
}

// Option configures Load and New.
type Option func(*options)

// WithFetcher sets how settings, motion, expression and sound files are read.
func WithFetcher(f fetch.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithRuntime replaces the runtime chosen from the settings version.
func WithRuntime(r Runtime) Option {
	return func(o *options) { o.runtime = r }
}

// WithEvents sets the event bus. A fresh bus is created otherwise.
func WithEvents(b *event.Bus) Option {
	return func(o *options) { o.events = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSink sets where Run writes parameter values.
func WithSink(s Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithIdleGroup overrides the idle motion group.
func WithIdleGroup(group string) Option {
	return func(o *options) { o.idleGroup = group }
}

// WithSound toggles sounds declared in motion definitions.
func WithSound(enabled bool) Option {
	return func(o *options) { o.sound = enabled }
}

// WithMotionSync toggles holding motions until their sound is ready.
func WithMotionSync(enabled bool) Option {
	return func(o *options) { o.motionSync = enabled }
}

// WithPreserveExpression keeps expressions displayed while motions play.
func WithPreserveExpression(preserve bool) Option {
	return func(o *options) { o.preserveExpression = preserve }
}

// WithVolume sets the sound volume, 0.0-1.0.
func WithVolume(v float64) Option {
	return func(o *options) { o.volume = v }
}
