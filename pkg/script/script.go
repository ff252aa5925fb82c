// Package script runs small Lua programs against a model. Scripts chain
// motions and expressions with pauses in between:
//
//	motion("Tap", 0, "force")
//	wait_idle(5000)
//	expression("F02")
//	sleep(1500)
//	reset_expression()
//
// Only the base, table, string and math libraries are opened, and file
// access through the base library is removed.
package script

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/teslashibe/go-live2d/pkg/model"
	"github.com/teslashibe/go-live2d/pkg/motion"
)

const (
	// DefaultPollInterval is how often wait_idle checks the motion state.
	DefaultPollInterval = 20 * time.Millisecond

	// MaxSleep bounds a single sleep or wait_idle timeout.
	MaxSleep = 24 * time.Hour
)

// Model is what scripts drive. *model.InternalModel implements it.
type Model interface {
	Status() model.Status
	Motion(ctx context.Context, group string, index int, priority motion.Priority, soundURL string) bool
	StopMotions()
	Expression(ctx context.Context, ref string) bool
	ResetExpression() bool
}

// Runner executes scripts. Each Run gets a fresh interpreter, so a Runner
// is safe for concurrent use.
type Runner struct {
	model  Model
	logger *slog.Logger
	poll   time.Duration
}

// New creates a Runner for m.
func New(m Model, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default().With("component", "script")
	}
	return &Runner{model: m, logger: logger, poll: DefaultPollInterval}
}

// run holds the state of one script execution.
type run struct {
	*Runner
	ctx context.Context
	out []string
}

// Run executes source until it returns, fails or ctx ends. It returns the
// lines written by log and print, including those written before a
// failure.
func (r *Runner) Run(ctx context.Context, source string) ([]string, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return nil, fmt.Errorf("open %s: %w", lib.name, err)
		}
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	x := &run{Runner: r, ctx: ctx}
	x.register(L)
	L.SetContext(ctx)

	err := L.DoString(source)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return x.out, fmt.Errorf("script aborted: %w", ctxErr)
	}
	if err != nil {
		return x.out, fmt.Errorf("script: %w", err)
	}
	return x.out, nil
}

func (x *run) register(L *lua.LState) {
	L.Register("motion", x.motion)
	L.Register("stop", x.stop)
	L.Register("expression", x.expression)
	L.Register("reset_expression", x.resetExpression)
	L.Register("sleep", x.sleep)
	L.Register("wait_idle", x.waitIdle)
	L.Register("status", x.status)
	L.Register("log", x.log)
	L.Register("print", x.log)
}

// motion(group [, index [, priority [, sound]]]) -> bool
//
// A missing or negative index picks a random motion. Priority is a name or
// a number and defaults to "normal".
func (x *run) motion(L *lua.LState) int {
	group := L.CheckString(1)
	index := L.OptInt(2, -1)

	priority := motion.PriorityNormal
	if lv := L.Get(3); lv != lua.LNil {
		p, err := motion.ParsePriority(lv.String())
		if err != nil {
			L.ArgError(3, err.Error())
		}
		priority = p
	}
	sound := L.OptString(4, "")

	ok := x.model.Motion(x.ctx, group, index, priority, sound)
	x.logger.Debug("script motion", "group", group, "index", index, "priority", priority, "started", ok)
	L.Push(lua.LBool(ok))
	return 1
}

// stop()
func (x *run) stop(L *lua.LState) int {
	x.model.StopMotions()
	return 0
}

// expression([ref]) -> bool
//
// ref is a name or an index; without it a random expression is set.
func (x *run) expression(L *lua.LState) int {
	ref := ""
	if lv := L.Get(1); lv != lua.LNil {
		ref = lv.String()
	}
	L.Push(lua.LBool(x.model.Expression(x.ctx, ref)))
	return 1
}

// reset_expression() -> bool
func (x *run) resetExpression(L *lua.LState) int {
	L.Push(lua.LBool(x.model.ResetExpression()))
	return 1
}

// sleep(ms)
//
// Fractions of a millisecond are kept; waits are capped at MaxSleep.
func (x *run) sleep(L *lua.LState) int {
	d := millis(L.CheckNumber(1))
	if d <= 0 {
		return 0
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-x.ctx.Done():
		L.RaiseError("%v", x.ctx.Err())
	}
	return 0
}

// wait_idle([timeout_ms]) -> bool
//
// Blocks until nothing above idle priority is playing or reserved. Returns
// false if the timeout passes first; without a timeout it waits for the
// script's context.
func (x *run) waitIdle(L *lua.LState) int {
	var deadline <-chan time.Time
	if ms := L.OptNumber(1, 0); ms > 0 {
		t := time.NewTimer(millis(ms))
		defer t.Stop()
		deadline = t.C
	}

	ticker := time.NewTicker(x.poll)
	defer ticker.Stop()
	for {
		if idle(x.model.Status().Motion.State) {
			L.Push(lua.LTrue)
			return 1
		}
		select {
		case <-ticker.C:
		case <-deadline:
			L.Push(lua.LFalse)
			return 1
		case <-x.ctx.Done():
			L.RaiseError("%v", x.ctx.Err())
			return 0
		}
	}
}

// millis converts a script duration in milliseconds, clamped to
// [0, MaxSleep].
func millis(ms lua.LNumber) time.Duration {
	f := float64(ms)
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= float64(MaxSleep/time.Millisecond) {
		return MaxSleep
	}
	return time.Duration(f * float64(time.Millisecond))
}

func idle(sn motion.Snapshot) bool {
	if sn.Current != nil && sn.CurrentPriority > motion.PriorityIdle {
		return false
	}
	return sn.Reserved == nil || sn.ReservePriority <= motion.PriorityIdle
}

// status() -> table
//
// Fields: name, idle, group, index, priority, expression.
func (x *run) status(L *lua.LState) int {
	st := x.model.Status()
	t := L.NewTable()
	t.RawSetString("name", lua.LString(st.Name))
	t.RawSetString("idle", lua.LBool(idle(st.Motion.State)))
	if cur := st.Motion.State.Current; cur != nil {
		t.RawSetString("group", lua.LString(cur.Group))
		t.RawSetString("index", lua.LNumber(cur.Index))
		t.RawSetString("priority", lua.LString(st.Motion.State.CurrentPriority.String()))
	}
	if st.Expression != nil && st.Expression.Name != "" {
		t.RawSetString("expression", lua.LString(st.Expression.Name))
	}
	L.Push(t)
	return 1
}

// log(...) joins its arguments with spaces.
func (x *run) log(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.Get(i).String())
	}
	line := strings.Join(parts, " ")
	x.out = append(x.out, line)
	x.logger.Info("script", "line", line)
	return 0
}
