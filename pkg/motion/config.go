package motion

import (
	"log/slog"
	"math/rand/v2"

	"github.com/teslashibe/go-live2d/pkg/event"
)

// Config holds optional Manager collaborators and switches.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// IdleGroup is auto-played whenever nothing else is playing.
	IdleGroup string

	// Sound enables sounds declared in the motion definitions. An explicit
	// sound URL passed to StartMotion plays even when this is off.
	Sound bool

	// MotionSync holds a motion back until its sound is ready to play.
	MotionSync bool

	// PreserveExpression keeps the active expression while motions play.
	PreserveExpression bool

	Sounds      SoundPlayer
	Expressions ExpressionController
	Events      *event.Bus

	// Resolve turns a definition's relative sound path into a URL.
	Resolve func(string) string

	Logger *slog.Logger
	Rand   *rand.Rand
}

// Option is a functional option for configuring a Manager.
type Option func(*Config)

// DefaultConfig returns the defaults: "idle" group, sounds on, motion sync on.
func DefaultConfig() Config {
	return Config{
		IdleGroup:  "idle",
		Sound:      true,
		MotionSync: true,
		Resolve:    func(s string) string { return s },
	}
}

// WithIdleGroup sets the idle group.
func WithIdleGroup(group string) Option {
	return func(c *Config) {
		c.IdleGroup = group
	}
}

// WithSound toggles definition sounds.
func WithSound(enabled bool) Option {
	return func(c *Config) {
		c.Sound = enabled
	}
}

// WithMotionSync toggles waiting for sounds before starting motions.
func WithMotionSync(enabled bool) Option {
	return func(c *Config) {
		c.MotionSync = enabled
	}
}

// WithPreserveExpression toggles expression suppression during motions.
func WithPreserveExpression(preserve bool) Option {
	return func(c *Config) {
		c.PreserveExpression = preserve
	}
}

// WithSounds sets the sound player.
func WithSounds(s SoundPlayer) Option {
	return func(c *Config) {
		c.Sounds = s
	}
}

// WithExpressions sets the expression controller asked to suppress and
// restore expressions around motions.
func WithExpressions(e ExpressionController) Option {
	return func(c *Config) {
		c.Expressions = e
	}
}

// WithEvents sets the event bus.
func WithEvents(b *event.Bus) Option {
	return func(c *Config) {
		c.Events = b
	}
}

// WithURLResolver sets how definition sound paths are resolved.
func WithURLResolver(fn func(string) string) Option {
	return func(c *Config) {
		c.Resolve = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithRand sets the random source used by StartRandomMotion.
func WithRand(r *rand.Rand) Option {
	return func(c *Config) {
		c.Rand = r
	}
}
