// Package web serves the control API of a running model: status and
// definitions, motion and expression commands, Lua scripts, and live
// event and parameter streams over websockets.
package web

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-live2d/pkg/event"
	"github.com/teslashibe/go-live2d/pkg/hub"
	"github.com/teslashibe/go-live2d/pkg/model"
	"github.com/teslashibe/go-live2d/pkg/motion"
	"github.com/teslashibe/go-live2d/pkg/params"
	"github.com/teslashibe/go-live2d/pkg/settings"
)

// Model is what the API drives. *model.InternalModel implements it.
type Model interface {
	Status() model.Status
	Settings() *settings.Settings
	Params() *params.Parameters
	Events() *event.Bus
	Motion(ctx context.Context, group string, index int, priority motion.Priority, soundURL string) bool
	StopMotions()
	Expression(ctx context.Context, ref string) bool
	ResetExpression() bool
}

// ScriptRunner runs a Lua script against the model and returns the lines
// it logged.
type ScriptRunner interface {
	Run(ctx context.Context, source string) ([]string, error)
}

// Config configures a Server.
type Config struct {
	Addr string

	// ParamsEvery is how many ticks pass between /ws/params frames.
	ParamsEvery int

	// ScriptTimeout bounds POST /api/scripts.
	ScriptTimeout time.Duration
}

// Server is the control API server
type Server struct {
	app    *fiber.App
	cfg    Config
	model  Model
	logger *slog.Logger

	// Scripts runs POST /api/scripts; nil disables the endpoint.
	Scripts ScriptRunner

	// eventHub topics are event types; paramsHub replays the latest frame.
	eventHub  *hub.Hub
	paramsHub *hub.Hub

	ticks       atomic.Uint64
	unsubscribe func()
}

// NewServer creates a new control API server for m
func NewServer(cfg Config, m Model, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default().With("component", "web")
	}
	if cfg.ParamsEvery <= 0 {
		cfg.ParamsEvery = 1
	}
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:       cfg,
		model:     m,
		logger:    logger,
		eventHub:  hub.New("events", logger),
		paramsHub: hub.New("params", logger, hub.WithReplay()),
	}

	app := fiber.New(fiber.Config{
		AppName:               "live2d",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	// CORS for browser front ends
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/motions", s.handleListMotions)
	api.Get("/expressions", s.handleListExpressions)
	api.Get("/params", s.handleParams)
	api.Post("/motions/stop", s.handleStopMotions)
	api.Post("/motions/:group", s.handleStartMotion)
	api.Post("/expressions/random", s.handleRandomExpression)
	api.Post("/expressions/reset", s.handleResetExpression)
	api.Post("/expressions/:ref", s.handleSetExpression)
	api.Post("/scripts", s.handleScript)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/params", websocket.New(s.handleParamsWS))

	s.app = app
	s.unsubscribe = m.Events().Subscribe(event.All, func(e event.Event) {
		if err := s.eventHub.PublishJSON(string(e.Type), e); err != nil {
			s.logger.Warn("event broadcast failed", "type", e.Type, "error", err)
		}
	})
	return s
}

// Start starts the hubs and serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("control API listening", "addr", s.cfg.Addr)

	go s.eventHub.Run()
	go s.paramsHub.Run()

	return s.app.Listen(s.cfg.Addr)
}

// StartAsync starts the server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("control API stopped", "error", err)
		}
	}()
}

const paramsTopic = "params"

// WriteParams implements model.Sink, broadcasting every ParamsEvery-th
// frame to /ws/params clients.
func (s *Server) WriteParams(values map[string]float64, now time.Time) {
	n := s.ticks.Add(1)
	if n%uint64(s.cfg.ParamsEvery) != 0 {
		return
	}
	if err := s.paramsHub.PublishJSON(paramsTopic, ParamsFrame{Time: now, Values: values}); err != nil {
		s.logger.Warn("params broadcast failed", "error", err)
	}
}

// ParamsFrame is one /ws/params message.
type ParamsFrame struct {
	Time   time.Time          `json:"time"`
	Values map[string]float64 `json:"values"`
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.unsubscribe()
	s.eventHub.Stop()
	s.paramsHub.Stop()
	return s.app.Shutdown()
}

var _ model.Sink = (*Server)(nil)
