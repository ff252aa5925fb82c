package motion

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-live2d/internal/log"
	"github.com/teslashibe/go-live2d/pkg/asset"
	"github.com/teslashibe/go-live2d/pkg/clip"
	"github.com/teslashibe/go-live2d/pkg/event"
	"github.com/teslashibe/go-live2d/pkg/fetch"
	"github.com/teslashibe/go-live2d/pkg/params"
	"github.com/teslashibe/go-live2d/pkg/settings"
	"github.com/teslashibe/go-live2d/pkg/sound"
)

var testDefinitions = map[string][]settings.Motion{
	"idle": {{File: "idle_00.mtn"}, {File: "idle_01.mtn"}},
	"tap":  {{File: "tap_00.mtn"}, {File: "tap_01.mtn", Sound: "tap_01.wav"}},
	"bad":  {{File: "bad_00.mtn"}, {File: "bad_01.mtn"}},
}

// gates lets a test decide when each slot's load completes.
type gates struct {
	mu    sync.Mutex
	chans map[Slot]chan struct{}
}

func newGates(slots ...Slot) *gates {
	g := &gates{chans: make(map[Slot]chan struct{})}
	for _, s := range slots {
		g.chans[s] = make(chan struct{})
	}
	return g
}

func (g *gates) wait(ctx context.Context, s Slot) error {
	g.mu.Lock()
	ch, ok := g.chans[s]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gates) open(s Slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	close(g.chans[s])
}

type fixture struct {
	mgr    *Manager
	loader *MockLoader
	player *MockPlayer
	gates  *gates
	events *event.Bus
	exprs  *mockExpressions
}

func newFixture(t *testing.T, g *gates, opts ...Option) *fixture {
	t.Helper()
	if g == nil {
		g = newGates()
	}
	f := &fixture{
		loader: NewMockLoader(),
		player: NewMockPlayer(),
		gates:  g,
		events: event.NewBus(),
		exprs:  &mockExpressions{},
	}
	f.loader.LoadFunc = func(ctx context.Context, group string, index int) (*clip.Motion, error) {
		slot := Slot{Group: group, Index: index}
		if err := g.wait(ctx, slot); err != nil {
			return nil, err
		}
		if group == "bad" {
			return nil, errors.New("404 not found")
		}
		return &clip.Motion{Name: slot.String(), Duration: 1}, nil
	}

	base := []Option{
		WithLogger(log.Discard()),
		WithEvents(f.events),
		WithExpressions(f.exprs),
		WithMotionSync(false),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	}
	f.mgr = NewManager(testDefinitions, f.loader, f.player, append(base, opts...)...)
	t.Cleanup(f.mgr.Destroy)
	return f
}

func (f *fixture) startAsync(group string, index int, p Priority) <-chan bool {
	res := make(chan bool, 1)
	go func() {
		res <- f.mgr.StartMotion(context.Background(), group, index, p, "")
	}()
	return res
}

func (f *fixture) collect(types ...event.Type) func() []event.Event {
	var mu sync.Mutex
	var got []event.Event
	for _, typ := range types {
		f.events.Subscribe(typ, func(e event.Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		})
	}
	return func() []event.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]event.Event, len(got))
		copy(out, got)
		return out
	}
}

func recv(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for StartMotion")
		return false
	}
}

type mockExpressions struct {
	resets    atomic.Int32
	restores  atomic.Int32
	destroyed atomic.Bool
}

func (m *mockExpressions) ResetExpression() bool   { m.resets.Add(1); return true }
func (m *mockExpressions) RestoreExpression() bool { m.restores.Add(1); return true }
func (m *mockExpressions) Destroy()                { m.destroyed.Store(true) }

func TestLoadMotionSingleFetch(t *testing.T) {
	slot := Slot{Group: "tap", Index: 0}
	f := newFixture(t, newGates(slot))

	const n = 8
	results := make([]*clip.Motion, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mo, err := f.mgr.LoadMotion(context.Background(), "tap", 0)
			assert.NoError(t, err)
			results[i] = mo
		}(i)
	}

	require.Eventually(t, func() bool {
		return f.mgr.LoadStatus("tap", 0) == asset.Pending
	}, time.Second, time.Millisecond)
	f.gates.open(slot)
	wg.Wait()

	assert.Equal(t, 1, f.loader.CallCount("tap", 0))
	require.NotNil(t, results[0])
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestLoadMotionFailureIsPermanent(t *testing.T) {
	f := newFixture(t, nil)
	events := f.collect(event.MotionLoadError)

	_, err := f.mgr.LoadMotion(context.Background(), "bad", 0)
	require.Error(t, err)
	_, err = f.mgr.LoadMotion(context.Background(), "bad", 0)
	assert.ErrorIs(t, err, asset.ErrUnavailable)

	assert.False(t, f.mgr.StartMotion(context.Background(), "bad", 0, PriorityForce, ""))
	assert.Equal(t, 1, f.loader.CallCount("bad", 0))

	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, "bad", got[0].Group)
	assert.Contains(t, got[0].Error, "404")
	assert.True(t, f.mgr.Status().State.Empty(), "failed start releases its reservation")

	_, err = f.mgr.LoadMotion(context.Background(), "tap", 9)
	assert.ErrorIs(t, err, ErrNoDefinition)
}

func TestRaceIdleThenNormal(t *testing.T) {
	idle := Slot{Group: "idle", Index: 0}
	tap := Slot{Group: "tap", Index: 0}

	for _, order := range []string{"normal first", "idle first"} {
		t.Run(order, func(t *testing.T) {
			f := newFixture(t, newGates(idle, tap))

			resA := f.startAsync(idle.Group, idle.Index, PriorityIdle)
			require.Eventually(t, func() bool {
				return f.mgr.Status().State.ReservedIdle != nil
			}, time.Second, time.Millisecond)

			resB := f.startAsync(tap.Group, tap.Index, PriorityNormal)
			require.Eventually(t, func() bool {
				return f.mgr.Status().State.Reserved != nil
			}, time.Second, time.Millisecond)

			if order == "normal first" {
				f.gates.open(tap)
				assert.True(t, recv(t, resB))
				f.gates.open(idle)
				assert.False(t, recv(t, resA))
			} else {
				f.gates.open(idle)
				assert.False(t, recv(t, resA))
				f.gates.open(tap)
				assert.True(t, recv(t, resB))
			}

			started := f.player.Started()
			require.Len(t, started, 1)
			assert.Equal(t, "tap[0]", started[0].Name)

			st := f.mgr.Status()
			require.NotNil(t, st.State.Current)
			assert.Equal(t, tap, *st.State.Current)
			assert.Nil(t, st.State.ReservedIdle)
		})
	}
}

func TestForceEvictsPendingReservation(t *testing.T) {
	a := Slot{Group: "tap", Index: 0}
	b := Slot{Group: "idle", Index: 1}
	f := newFixture(t, newGates(a, b))

	resA := f.startAsync(a.Group, a.Index, PriorityNormal)
	require.Eventually(t, func() bool {
		return f.mgr.LoadStatus(a.Group, a.Index) == asset.Pending
	}, time.Second, time.Millisecond)

	resB := f.startAsync(b.Group, b.Index, PriorityForce)
	require.Eventually(t, func() bool {
		return f.mgr.LoadStatus(b.Group, b.Index) == asset.Pending
	}, time.Second, time.Millisecond)

	f.gates.open(a)
	assert.False(t, recv(t, resA), "evicted reservation cannot start")
	f.gates.open(b)
	assert.True(t, recv(t, resB))

	_, err := f.mgr.LoadMotion(context.Background(), a.Group, a.Index)
	assert.NoError(t, err, "evicted load stays cached")
	assert.Equal(t, 1, f.loader.CallCount(a.Group, a.Index))
}

func TestStartRandomMotionAllFailed(t *testing.T) {
	f := newFixture(t, nil)
	for i := range testDefinitions["bad"] {
		_, err := f.mgr.LoadMotion(context.Background(), "bad", i)
		require.Error(t, err)
	}
	f.loader.Reset()

	assert.False(t, f.mgr.StartRandomMotion(context.Background(), "bad", PriorityNormal, ""))
	assert.Empty(t, f.loader.Calls(), "no load attempted")
	assert.True(t, f.mgr.Status().State.Empty())

	assert.False(t, f.mgr.StartRandomMotion(context.Background(), "missing", PriorityNormal, ""))
}

func TestStartRandomMotionSkipsActive(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.mgr.StartMotion(context.Background(), "idle", 0, PriorityNormal, ""))

	require.True(t, f.mgr.StartRandomMotion(context.Background(), "idle", PriorityForce, ""))
	started := f.player.Started()
	require.Len(t, started, 2)
	assert.Equal(t, "idle[1]", started[1].Name)
}

func TestMissingDefinitionRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.mgr.StartMotion(context.Background(), "tap", 7, PriorityNormal, ""))
	assert.True(t, f.mgr.Status().State.Empty())
	assert.Empty(t, f.loader.Calls())

	assert.True(t, f.mgr.StartMotion(context.Background(), "tap", 0, PriorityNormal, ""))
}

func TestNoneAndDuplicateRequests(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.mgr.StartMotion(context.Background(), "tap", 0, PriorityNone, ""))
	require.True(t, f.mgr.StartMotion(context.Background(), "tap", 0, PriorityNormal, ""))
	assert.False(t, f.mgr.StartMotion(context.Background(), "tap", 0, PriorityForce, ""), "already playing")
}

func TestExpressionSuppressedAndRestored(t *testing.T) {
	f := newFixture(t, nil)
	events := f.collect(event.MotionStart, event.MotionFinish)
	p := params.New()

	require.True(t, f.mgr.StartMotion(context.Background(), "tap", 0, PriorityNormal, ""))
	assert.Equal(t, int32(1), f.exprs.resets.Load())

	assert.True(t, f.mgr.Update(p, time.Now()), "player running")
	assert.Equal(t, int32(0), f.exprs.restores.Load())

	f.player.Finish()
	f.mgr.Update(p, time.Now())
	assert.Equal(t, int32(1), f.exprs.restores.Load())

	got := events()
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, event.MotionStart, got[0].Type)
	assert.Equal(t, event.MotionFinish, got[1].Type)
	assert.Equal(t, "tap", got[1].Group)

	// The finished motion hands over to the idle loop, which neither
	// suppresses nor restores.
	require.Eventually(t, func() bool { return len(f.player.Started()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), f.exprs.resets.Load())
	f.player.Finish()
	f.mgr.Update(p, time.Now())
	assert.Equal(t, int32(1), f.exprs.restores.Load())
}

func TestPreserveExpression(t *testing.T) {
	f := newFixture(t, nil, WithPreserveExpression(true))
	require.True(t, f.mgr.StartMotion(context.Background(), "tap", 0, PriorityForce, ""))
	f.player.Finish()
	f.mgr.Update(params.New(), time.Now())
	assert.Equal(t, int32(0), f.exprs.resets.Load())
	assert.Equal(t, int32(0), f.exprs.restores.Load())
}

func TestIdleFallback(t *testing.T) {
	f := newFixture(t, nil)
	p := params.New()

	f.mgr.Update(p, time.Now())
	require.Eventually(t, func() bool { return len(f.player.Started()) == 1 }, time.Second, time.Millisecond)
	cur := f.mgr.Status().State.Current
	require.NotNil(t, cur)
	assert.Equal(t, "idle", cur.Group)

	// While the idle motion plays no further idle request is made.
	before := len(f.loader.Calls())
	for i := 0; i < 5; i++ {
		f.mgr.Update(p, time.Now())
	}
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, f.loader.Calls(), before)
	assert.Len(t, f.player.Started(), 1)
}

func TestIdleFallbackWaitsForReservedIdle(t *testing.T) {
	idle0 := Slot{Group: "idle", Index: 0}
	idle1 := Slot{Group: "idle", Index: 1}
	f := newFixture(t, newGates(idle0, idle1))

	f.mgr.Update(params.New(), time.Now())
	require.Eventually(t, func() bool { return len(f.loader.Calls()) == 1 }, time.Second, time.Millisecond)

	f.mgr.Update(params.New(), time.Now())
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, f.loader.Calls(), 1, "idle reservation blocks another idle request")
	f.gates.open(idle0)
	f.gates.open(idle1)
}

func TestStopAllMotions(t *testing.T) {
	sounds := sound.NewManager(
		sound.WithFetcher(fetch.Map{"voice.wav": wavBytes(8000, 8000)}),
		sound.WithLogger(log.Discard()),
	)
	f := newFixture(t, nil, WithSounds(sounds), WithMotionSync(true))

	require.True(t, f.mgr.StartMotion(context.Background(), "tap", 0, PriorityNormal, "voice.wav"))
	snd := f.mgr.CurrentSound()
	require.NotNil(t, snd)
	assert.Equal(t, sound.StatePlaying, snd.State())

	assert.False(t, f.mgr.StartMotion(context.Background(), "tap", 1, PriorityForce, ""), "sound still playing")

	f.mgr.StopAllMotions()
	assert.True(t, f.mgr.Status().State.Empty())
	assert.Nil(t, f.mgr.CurrentSound())
	assert.Equal(t, sound.StateDisposed, snd.State())
	assert.Equal(t, 1, f.player.StopCount())
	assert.Equal(t, 0, sounds.Len())

	assert.True(t, f.mgr.StartMotion(context.Background(), "tap", 1, PriorityForce, ""))
}

func TestDefinitionSoundAndStaleDisposal(t *testing.T) {
	sounds := sound.NewManager(
		sound.WithFetcher(fetch.Map{"models/tap_01.wav": wavBytes(8000, 80)}),
		sound.WithLogger(log.Discard()),
	)
	f := newFixture(t, nil,
		WithSounds(sounds),
		WithMotionSync(true),
		WithURLResolver(func(s string) string { return "models/" + s }),
	)
	events := f.collect(event.MotionStart)

	require.True(t, f.mgr.StartMotion(context.Background(), "tap", 1, PriorityNormal, ""))
	first := f.mgr.CurrentSound()
	require.NotNil(t, first)
	assert.Equal(t, "models/tap_01.wav", first.URL)
	require.Len(t, events(), 1)
	assert.Equal(t, first.ID, events()[0].Sound)

	require.Eventually(t, first.Finished, time.Second, 5*time.Millisecond)

	require.True(t, f.mgr.StartMotion(context.Background(), "tap", 0, PriorityForce, ""))
	assert.Equal(t, sound.StateDisposed, first.State(), "stale sound disposed on the next start")
	assert.Nil(t, f.mgr.CurrentSound())
}

func TestSoundMotionDisposesFinishedSound(t *testing.T) {
	sounds := sound.NewManager(
		sound.WithFetcher(fetch.Map{
			"a.wav": wavBytes(8000, 80),
			"b.wav": wavBytes(8000, 8000),
		}),
		sound.WithLogger(log.Discard()),
	)
	f := newFixture(t, nil, WithSounds(sounds), WithMotionSync(true))

	require.True(t, f.mgr.StartMotion(context.Background(), "tap", 1, PriorityNormal, "a.wav"))
	first := f.mgr.CurrentSound()
	require.NotNil(t, first)
	require.Eventually(t, first.Finished, time.Second, 5*time.Millisecond)

	require.True(t, f.mgr.StartMotion(context.Background(), "tap", 0, PriorityForce, "b.wav"))
	second := f.mgr.CurrentSound()
	require.NotNil(t, second)
	assert.Equal(t, "b.wav", second.URL)
	assert.Equal(t, sound.StateDisposed, first.State())
	assert.Equal(t, 1, sounds.Len())
}

func TestRefusedSoundMotionKeepsPreviousSound(t *testing.T) {
	sounds := sound.NewManager(
		sound.WithFetcher(fetch.Map{
			"a.wav": wavBytes(8000, 80),
			"b.wav": wavBytes(8000, 80),
		}),
		sound.WithLogger(log.Discard()),
	)
	f := newFixture(t, nil, WithSounds(sounds), WithMotionSync(true))

	require.True(t, f.mgr.StartMotion(context.Background(), "tap", 1, PriorityNormal, "a.wav"))
	first := f.mgr.CurrentSound()
	require.NotNil(t, first)
	require.Eventually(t, first.Finished, time.Second, 5*time.Millisecond)

	// The slot exists but its motion fails to load, so the start is refused.
	require.False(t, f.mgr.StartMotion(context.Background(), "bad", 0, PriorityForce, "b.wav"))
	assert.Same(t, first, f.mgr.CurrentSound())
	assert.Equal(t, 1, sounds.Len())
}

func TestMotionSyncWaitsForSound(t *testing.T) {
	release := make(chan struct{})
	slow := fetch.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		select {
		case <-release:
			return wavBytes(8000, 80), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	sounds := sound.NewManager(sound.WithFetcher(slow), sound.WithLogger(log.Discard()))
	f := newFixture(t, nil, WithSounds(sounds), WithMotionSync(true))

	res := make(chan bool, 1)
	go func() {
		res <- f.mgr.StartMotion(context.Background(), "tap", 0, PriorityNormal, "slow.wav")
	}()

	assert.Never(t, func() bool { return len(f.loader.Calls()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	close(release)
	assert.True(t, recv(t, res))
}

func TestDestroyDiscardsInFlight(t *testing.T) {
	slot := Slot{Group: "tap", Index: 0}
	f := newFixture(t, newGates(slot))
	events := f.collect(event.ModelDestroy)

	res := f.startAsync(slot.Group, slot.Index, PriorityNormal)
	require.Eventually(t, func() bool {
		return f.mgr.LoadStatus(slot.Group, slot.Index) == asset.Pending
	}, time.Second, time.Millisecond)

	f.mgr.Destroy()
	assert.False(t, recv(t, res))
	f.gates.open(slot)

	assert.True(t, f.mgr.Destroyed())
	assert.Equal(t, asset.NotRequested, f.mgr.LoadStatus(slot.Group, slot.Index))
	assert.Empty(t, f.player.Started())
	assert.True(t, f.exprs.destroyed.Load())
	assert.Len(t, events(), 1)

	assert.False(t, f.mgr.StartMotion(context.Background(), "tap", 1, PriorityForce, ""))
	assert.False(t, f.mgr.Update(params.New(), time.Now()))
}

func TestInvalidateAllowsRetry(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mgr.LoadMotion(context.Background(), "bad", 1)
	require.Error(t, err)
	assert.Equal(t, asset.Failed, f.mgr.LoadStatus("bad", 1))

	assert.True(t, f.mgr.Invalidate("bad", 1))
	_, _ = f.mgr.LoadMotion(context.Background(), "bad", 1)
	assert.Equal(t, 2, f.loader.CallCount("bad", 1))
}

// wavBytes builds a silent-ish 16-bit mono PCM file of n frames.
func wavBytes(rate, n int) []byte {
	var b bytes.Buffer
	size := uint32(n * 2)
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, 36+size)
	b.WriteString("WAVEfmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint32(rate))
	binary.Write(&b, binary.LittleEndian, uint32(rate*2))
	binary.Write(&b, binary.LittleEndian, uint16(2))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, size)
	b.Write(bytes.Repeat([]byte{0x10, 0x00}, n))
	return b.Bytes()
}
