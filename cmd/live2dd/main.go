// live2dd loads a Live2D model, drives its motions and expressions on a
// fixed tick, and serves the control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-live2d/internal/config"
	"github.com/teslashibe/go-live2d/internal/log"
	"github.com/teslashibe/go-live2d/pkg/model"
	"github.com/teslashibe/go-live2d/pkg/script"
	"github.com/teslashibe/go-live2d/pkg/watch"
	"github.com/teslashibe/go-live2d/pkg/web"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "live2dd: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error("live2dd failed", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads the config file and applies command line overrides.
func parseFlags() (*config.Config, error) {
	configPath := flag.String("config", "", "Path to a YAML config file")
	modelURL := flag.String("model", "", "Model settings file or URL (overrides model.url)")
	addr := flag.String("addr", "", "Control API listen address (overrides server.addr)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	noSound := flag.Bool("no-sound", false, "Disable motion sounds")
	noServer := flag.Bool("no-server", false, "Disable the control API")
	watchFiles := flag.Bool("watch", false, "Reload motion and expression files when they change")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	if *modelURL != "" {
		cfg.Model.URL = *modelURL
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if *noSound {
		cfg.Playback.Sound = false
	}
	if *noServer {
		cfg.Server.Enabled = false
	}
	if *watchFiles {
		cfg.Watch.Enabled = true
	}
	if cfg.Model.URL == "" {
		return nil, fmt.Errorf("no model: set -model or model.url")
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.Component("live2dd")

	// The server is created after the model it serves, so the sink
	// forwards to it once it exists. Run starts after both are set.
	var srv *web.Server
	sink := model.SinkFunc(func(values map[string]float64, now time.Time) {
		if srv != nil {
			srv.WriteParams(values, now)
		}
	})

	m, err := model.Load(ctx, cfg.Model.URL,
		model.WithLogger(log.L()),
		model.WithIdleGroup(cfg.Model.IdleGroup),
		model.WithSound(cfg.Playback.Sound),
		model.WithMotionSync(cfg.Playback.MotionSync),
		model.WithPreserveExpression(cfg.Playback.PreserveExpression),
		model.WithVolume(cfg.Playback.Volume),
		model.WithSink(sink),
	)
	if err != nil {
		return err
	}
	defer m.Destroy()

	if cfg.Server.Enabled {
		srv = web.NewServer(web.Config{
			Addr:          cfg.Server.Addr,
			ParamsEvery:   cfg.Server.ParamsEvery,
			ScriptTimeout: cfg.Server.ScriptTimeout,
		}, m, log.Component("web"))
		srv.Scripts = script.New(m, log.Component("script"))
		srv.StartAsync()
		defer func() {
			if err := srv.Shutdown(); err != nil {
				logger.Warn("control API shutdown", "error", err)
			}
		}()
	}

	if cfg.Watch.Enabled {
		w, err := watch.New(m, cfg.Watch.Debounce, log.Component("watch"))
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		defer w.Close()
		n, err := w.Add(m.Files()...)
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		logger.Info("watching model files", "files", n)
		go w.Run(ctx)
	}

	logger.Info("running", "model", cfg.Model.URL, "tick", cfg.Playback.TickRate)
	m.Run(ctx, cfg.Playback.TickRate)
	logger.Info("shutting down")
	return nil
}
