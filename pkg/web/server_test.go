package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-live2d/internal/log"
	"github.com/teslashibe/go-live2d/pkg/event"
	"github.com/teslashibe/go-live2d/pkg/model"
	"github.com/teslashibe/go-live2d/pkg/motion"
	"github.com/teslashibe/go-live2d/pkg/params"
	"github.com/teslashibe/go-live2d/pkg/settings"
)

type motionCall struct {
	group    string
	index    int
	priority motion.Priority
	sound    string
}

type fakeModel struct {
	settings *settings.Settings
	params   *params.Parameters
	events   *event.Bus

	mu      sync.Mutex
	motions []motionCall
	exprs   []string
	stops   int
	resets  int
}

func newFakeModel() *fakeModel {
	p := params.New()
	p.Define("ParamAngleX", 0)
	p.Set("ParamAngleX", 12.5)
	return &fakeModel{
		settings: &settings.Settings{
			Name:    "haru",
			Version: settings.Cubism4,
			Motions: map[string][]settings.Motion{
				"Idle": {{File: "idle.motion3.json"}},
				"Tap":  {{File: "tap.motion3.json", Sound: "tap.wav"}},
			},
			Expressions: []settings.Expression{{Name: "F01", File: "F01.exp3.json"}},
		},
		params: p,
		events: event.NewBus(),
	}
}

func (f *fakeModel) Status() model.Status { return model.Status{Name: f.settings.Name} }
func (f *fakeModel) Settings() *settings.Settings { return f.settings }
func (f *fakeModel) Params() *params.Parameters { return f.params }
func (f *fakeModel) Events() *event.Bus { return f.events }

func (f *fakeModel) Motion(_ context.Context, group string, index int, p motion.Priority, sound string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.motions = append(f.motions, motionCall{group, index, p, sound})
	return group == "Tap"
}

func (f *fakeModel) StopMotions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeModel) Expression(_ context.Context, ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exprs = append(f.exprs, ref)
	return ref != "missing"
}

func (f *fakeModel) ResetExpression() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return true
}

type fakeScripts struct {
	out []string
	err error
}

func (f fakeScripts) Run(ctx context.Context, source string) ([]string, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("no deadline")
	}
	return f.out, f.err
}

func newTestServer(t *testing.T) (*Server, *fakeModel) {
	t.Helper()
	m := newFakeModel()
	s := NewServer(Config{Addr: ":0", ParamsEvery: 2, ScriptTimeout: time.Second}, m, log.Discard())
	return s, m
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestStatusAndDefinitions(t *testing.T) {
	s, _ := newTestServer(t)

	code, body := do(t, s.App(), http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "haru", body["name"])

	code, body = do(t, s.App(), http.MethodGet, "/api/motions", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Idle")
	assert.Contains(t, body, "Tap")

	code, body = do(t, s.App(), http.MethodGet, "/api/params", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 12.5, body["ParamAngleX"])

	req := httptest.NewRequest(http.MethodGet, "/api/expressions", nil)
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	var exprs []ExpressionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&exprs))
	require.Len(t, exprs, 1)
	assert.Equal(t, "F01", exprs[0].Name)
}

func TestStartMotion(t *testing.T) {
	s, m := newTestServer(t)

	code, body := do(t, s.App(), http.MethodPost, "/api/motions/Tap", `{"index": 0, "priority": "force", "sound": "x.wav"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["started"])
	assert.Equal(t, "force", body["priority"])

	code, body = do(t, s.App(), http.MethodPost, "/api/motions/Idle", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["started"])

	code, _ = do(t, s.App(), http.MethodPost, "/api/motions/Idle", `{"priority": "urgent"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, s.App(), http.MethodPost, "/api/motions/Dance", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "Dance")

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.motions, 2)
	assert.Equal(t, motionCall{"Tap", 0, motion.PriorityForce, "x.wav"}, m.motions[0])
	assert.Equal(t, motionCall{"Idle", -1, motion.PriorityNormal, ""}, m.motions[1])
}

func TestStopAndExpressions(t *testing.T) {
	s, m := newTestServer(t)

	code, _ := do(t, s.App(), http.MethodPost, "/api/motions/stop", "")
	assert.Equal(t, http.StatusOK, code)

	_, body := do(t, s.App(), http.MethodPost, "/api/expressions/F01", "")
	assert.Equal(t, true, body["set"])
	_, body = do(t, s.App(), http.MethodPost, "/api/expressions/missing", "")
	assert.Equal(t, false, body["set"])
	do(t, s.App(), http.MethodPost, "/api/expressions/random", "")
	_, body = do(t, s.App(), http.MethodPost, "/api/expressions/reset", "")
	assert.Equal(t, true, body["reset"])

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.stops)
	assert.Equal(t, []string{"F01", "missing", ""}, m.exprs)
	assert.Equal(t, 1, m.resets)
}

func TestScripts(t *testing.T) {
	s, _ := newTestServer(t)

	code, _ := do(t, s.App(), http.MethodPost, "/api/scripts", `{"source": "stop()"}`)
	assert.Equal(t, http.StatusNotImplemented, code)

	s.Scripts = fakeScripts{out: []string{"hello"}}
	code, body := do(t, s.App(), http.MethodPost, "/api/scripts", `{"source": "log('hello')"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"hello"}, body["output"])

	code, _ = do(t, s.App(), http.MethodPost, "/api/scripts", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	s.Scripts = fakeScripts{err: errors.New("boom")}
	code, body = do(t, s.App(), http.MethodPost, "/api/scripts", `{"source": "error('boom')"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "boom", body["error"])
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(t)
	code, _ := do(t, s.App(), http.MethodGet, "/ws/events", "")
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

func TestShutdownUnsubscribes(t *testing.T) {
	s, m := newTestServer(t)
	_ = s.Shutdown()
	m.events.Publish(event.New(event.MotionStart))
	s.WriteParams(map[string]float64{"a": 1}, time.Now())
	assert.Equal(t, 0, s.eventHub.ClientCount())
}
