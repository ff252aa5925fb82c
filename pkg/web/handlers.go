package web

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-live2d/pkg/event"
	"github.com/teslashibe/go-live2d/pkg/hub"
	"github.com/teslashibe/go-live2d/pkg/motion"
)

// MotionInfo describes one motion definition.
type MotionInfo struct {
	Index int    `json:"index"`
	File  string `json:"file"`
	Sound string `json:"sound,omitempty"`
}

// ExpressionInfo describes one expression definition.
type ExpressionInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	File  string `json:"file"`
}

// StartMotionRequest is the request body for starting a motion
type StartMotionRequest struct {
	// Index selects the motion; nil picks a random one.
	Index    *int   `json:"index"`
	Priority string `json:"priority"`
	Sound    string `json:"sound"`
}

// ScriptRequest is the request body for running a script
type ScriptRequest struct {
	Source string `json:"source"`
}

// ScriptResponse reports a script's output
type ScriptResponse struct {
	Output []string `json:"output"`
	Error  string   `json:"error,omitempty"`
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// handleStatus returns the model status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.model.Status())
}

// handleListMotions returns the motion definitions by group
func (s *Server) handleListMotions(c *fiber.Ctx) error {
	out := make(map[string][]MotionInfo)
	for group, defs := range s.model.Settings().Motions {
		list := make([]MotionInfo, 0, len(defs))
		for i, d := range defs {
			list = append(list, MotionInfo{Index: i, File: d.File, Sound: d.Sound})
		}
		out[group] = list
	}
	return c.JSON(out)
}

// handleListExpressions returns the expression definitions
func (s *Server) handleListExpressions(c *fiber.Ctx) error {
	defs := s.model.Settings().Expressions
	out := make([]ExpressionInfo, 0, len(defs))
	for i, d := range defs {
		out = append(out, ExpressionInfo{Index: i, Name: d.Name, File: d.File})
	}
	return c.JSON(out)
}

// handleParams returns the current parameter values
func (s *Server) handleParams(c *fiber.Ctx) error {
	return c.JSON(s.model.Params().Snapshot())
}

// handleStartMotion starts a motion and waits for the outcome
func (s *Server) handleStartMotion(c *fiber.Ctx) error {
	group := c.Params("group")
	if _, ok := s.model.Settings().Motions[group]; !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown motion group "+group)
	}

	var req StartMotionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}

	priority := motion.PriorityNormal
	if req.Priority != "" {
		p, err := motion.ParsePriority(req.Priority)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		priority = p
	}
	index := -1
	if req.Index != nil {
		index = *req.Index
	}

	started := s.model.Motion(c.UserContext(), group, index, priority, req.Sound)
	return c.JSON(fiber.Map{
		"group":    group,
		"index":    index,
		"priority": priority.String(),
		"started":  started,
	})
}

// handleStopMotions stops every motion
func (s *Server) handleStopMotions(c *fiber.Ctx) error {
	s.model.StopMotions()
	return c.JSON(fiber.Map{"stopped": true})
}

// handleSetExpression sets an expression by name or index
func (s *Server) handleSetExpression(c *fiber.Ctx) error {
	ref := c.Params("ref")
	return c.JSON(fiber.Map{"expression": ref, "set": s.model.Expression(c.UserContext(), ref)})
}

// handleRandomExpression sets a random expression
func (s *Server) handleRandomExpression(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"set": s.model.Expression(c.UserContext(), "")})
}

// handleResetExpression shows the default expression
func (s *Server) handleResetExpression(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"reset": s.model.ResetExpression()})
}

// handleScript runs a Lua script with the configured timeout
func (s *Server) handleScript(c *fiber.Ctx) error {
	if s.Scripts == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "scripts not configured")
	}

	var req ScriptRequest
	if err := c.BodyParser(&req); err != nil || req.Source == "" {
		return fiber.NewError(fiber.StatusBadRequest, "source required")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.ScriptTimeout)
	defer cancel()

	start := time.Now()
	out, err := s.Scripts.Run(ctx, req.Source)
	resp := ScriptResponse{Output: out}
	if resp.Output == nil {
		resp.Output = []string{}
	}
	if err != nil {
		resp.Error = err.Error()
		s.logger.Warn("script failed", "error", err, "elapsed", time.Since(start))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(resp)
	}
	s.logger.Debug("script finished", "lines", len(out), "elapsed", time.Since(start))
	return c.JSON(resp)
}

// handleEventsWS streams lifecycle events, optionally only the
// comma-separated ?types= given.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	var topics []string
	for _, t := range strings.Split(c.Query("types"), ",") {
		if t = strings.TrimSpace(t); t != "" && t != string(event.All) {
			topics = append(topics, t)
		}
	}
	if client := hub.NewClient(s.eventHub, c, topics...); client != nil {
		client.Run()
	}
}

// handleParamsWS streams parameter frames
func (s *Server) handleParamsWS(c *websocket.Conn) {
	if client := hub.NewClient(s.paramsHub, c); client != nil {
		client.Run()
	}
}
