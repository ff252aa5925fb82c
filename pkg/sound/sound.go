package sound

import (
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// State is the lifecycle state of a Sound.
type State int

const (
	StateLoading State = iota
	StateReady
	StatePlaying
	StateEnded
	StateFailed
	StateDisposed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "disposed"
	}
}

// Sound is a playable handle returned by Manager.Add. Loading starts
// immediately; Play waits for it.
type Sound struct {
	ID  string
	URL string

	mu       sync.Mutex
	state    State
	err      error
	ready    chan struct{}
	once     sync.Once
	buf      *beep.Buffer
	format   beep.Format
	duration time.Duration
	started  time.Time
	timer    *time.Timer

	onFinish func()
	onError  func(error)
}

func newSound(id, url string, onFinish func(), onError func(error)) *Sound {
	return &Sound{
		ID:       id,
		URL:      url,
		ready:    make(chan struct{}),
		onFinish: onFinish,
		onError:  onError,
	}
}

// State returns the current state.
func (s *Sound) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Finished reports whether the sound can no longer produce audio: it
// ended, failed, or was disposed. A sound that is still loading is not
// finished.
func (s *Sound) Finished() bool {
	switch s.State() {
	case StateEnded, StateFailed, StateDisposed:
		return true
	default:
		return false
	}
}

// Err returns the load error of a failed sound.
func (s *Sound) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Duration returns the decoded length, or 0 before the sound is ready.
func (s *Sound) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Ready is closed once loading succeeded, failed, or the sound was disposed.
func (s *Sound) Ready() <-chan struct{} {
	return s.ready
}

func (s *Sound) markReady() {
	s.once.Do(func() { close(s.ready) })
}
