// Package config provides configuration for go-live2d commands.
//
// Values come from, in increasing precedence: DefaultConfig, an optional
// YAML file, and LIVE2D_* environment variables (LIVE2D_PLAYBACK_MOTION_SYNC
// sets playback.motion_sync). Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "LIVE2D"

// Config holds all daemon configuration.
type Config struct {
	Model    ModelConfig    `mapstructure:"model"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

// ModelConfig selects the model to load.
type ModelConfig struct {
	// URL of a model.json / model3.json settings file, local path or http(s).
	URL string `mapstructure:"url"`

	// IdleGroup overrides the idle motion group. Empty uses the
	// runtime default ("idle" for Cubism 2, "Idle" for Cubism 4).
	IdleGroup string `mapstructure:"idle_group"`
}

// PlaybackConfig tunes motion and expression playback.
type PlaybackConfig struct {
	Sound              bool          `mapstructure:"sound"`
	MotionSync         bool          `mapstructure:"motion_sync"`
	PreserveExpression bool          `mapstructure:"preserve_expression"`
	Volume             float64       `mapstructure:"volume"`    // 0.0-1.0
	TickRate           time.Duration `mapstructure:"tick_rate"` // update interval
}

// ServerConfig configures the control API.
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	ParamsEvery   int           `mapstructure:"params_every"` // ticks between /ws/params frames
	ScriptTimeout time.Duration `mapstructure:"script_timeout"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json, or empty for GO_ENV based
}

// WatchConfig enables hot reload of motion and expression files.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Playback: PlaybackConfig{
			Sound:      true,
			MotionSync: true,
			Volume:     0.5,
			TickRate:   time.Second / 30,
		},
		Server: ServerConfig{
			Enabled:       true,
			Addr:          ":8090",
			ParamsEvery:   3,
			ScriptTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Watch: WatchConfig{
			Debounce: 100 * time.Millisecond,
		},
	}
}

// Load reads configuration from path (optional) and the environment.
// A missing file at an explicit path is an error; an empty path only
// consults the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: %s not found", path)
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	return cfg, cfg.Validate()
}

// setDefaults registers every key so AutomaticEnv can override nested
// values that are absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("model.url", cfg.Model.URL)
	v.SetDefault("model.idle_group", cfg.Model.IdleGroup)

	v.SetDefault("playback.sound", cfg.Playback.Sound)
	v.SetDefault("playback.motion_sync", cfg.Playback.MotionSync)
	v.SetDefault("playback.preserve_expression", cfg.Playback.PreserveExpression)
	v.SetDefault("playback.volume", cfg.Playback.Volume)
	v.SetDefault("playback.tick_rate", cfg.Playback.TickRate)

	v.SetDefault("server.enabled", cfg.Server.Enabled)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.params_every", cfg.Server.ParamsEvery)
	v.SetDefault("server.script_timeout", cfg.Server.ScriptTimeout)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("watch.enabled", cfg.Watch.Enabled)
	v.SetDefault("watch.debounce", cfg.Watch.Debounce)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		return fmt.Errorf("config: playback.volume must be within 0-1, got %v", c.Playback.Volume)
	}
	if c.Playback.TickRate <= 0 {
		return fmt.Errorf("config: playback.tick_rate must be positive, got %v", c.Playback.TickRate)
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return errors.New("config: server.addr is required when the server is enabled")
	}
	if c.Server.ParamsEvery < 1 {
		return fmt.Errorf("config: server.params_every must be at least 1, got %d", c.Server.ParamsEvery)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}
