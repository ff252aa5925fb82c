// Package sound manages the audio handles attached to motions: loading,
// playback timing, disposal, and amplitude analysis for lip sync.
//
// Playback is clock driven. A playing sound advances with wall time and
// ends after its decoded duration; nothing is written to an output device.
package sound

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"

	"github.com/teslashibe/go-live2d/pkg/fetch"
)

// Manager owns a set of sounds. It is safe for concurrent use.
type Manager struct {
	fetcher fetch.Fetcher
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	volume float64
	sounds map[string]*Sound
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithFetcher sets how sound files are read. Defaults to fetch.Auto.
func WithFetcher(f fetch.Fetcher) Option {
	return func(m *Manager) {
		m.fetcher = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithVolume sets the initial volume (0.0-1.0).
func WithVolume(v float64) Option {
	return func(m *Manager) {
		m.volume = clamp(v, 0, 1)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a sound manager.
func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		fetcher: fetch.Auto,
		logger:  slog.Default().With("component", "sound"),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		volume:  0.5,
		sounds:  make(map[string]*Sound),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add creates a handle for url and starts loading it in the background.
// onFinish runs when playback ends; onError runs if loading fails. Either
// may be nil. Neither runs after the sound is disposed.
func (m *Manager) Add(url string, onFinish func(), onError func(error)) *Sound {
	s := newSound(uuid.NewString(), url, onFinish, onError)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.fail(ErrClosed)
		return s
	}
	m.sounds[s.ID] = s
	m.mu.Unlock()

	go m.load(s)
	return s
}

func (m *Manager) load(s *Sound) {
	buf, format, err := m.decode(s.URL)

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		m.logger.Warn("sound load failed", "url", s.URL, "error", err)
		if s.fail(err) && s.onError != nil {
			s.onError(err)
		}
		return
	}
	s.buf = buf
	s.format = format
	s.duration = format.SampleRate.D(buf.Len())
	s.state = StateReady
	s.mu.Unlock()
	s.markReady()

	m.logger.Debug("sound ready", "url", s.URL, "duration", s.duration)
}

// fail moves a live sound to StateFailed and reports whether it did.
func (s *Sound) fail(err error) bool {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return false
	}
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()
	s.markReady()
	return true
}

func (m *Manager) decode(url string) (*beep.Buffer, beep.Format, error) {
	data, err := m.fetcher.Fetch(m.ctx, url)
	if err != nil {
		return nil, beep.Format{}, err
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch detectFormat(url, data) {
	case "wav":
		streamer, format, err = wav.Decode(bytes.NewReader(data))
	case "mp3":
		streamer, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, url)
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("sound: decode %s: %w", url, err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	if err := streamer.Err(); err != nil {
		return nil, beep.Format{}, fmt.Errorf("sound: decode %s: %w", url, err)
	}
	return buf, format, nil
}

func detectFormat(url string, data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return "wav"
	case bytes.HasPrefix(data, []byte("ID3")), len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	name := url
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".wav":
		return "wav"
	case ".mp3":
		return "mp3"
	}
	return ""
}

// Play waits until s is ready and starts it. It returns the load error of
// a failed sound, ErrDisposed for a disposed one, or ctx.Err() if ctx ends
// first. Playing a sound that is already playing is a no-op.
func (m *Manager) Play(ctx context.Context, s *Sound) error {
	select {
	case <-s.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateFailed:
		return s.err
	case StateDisposed:
		return ErrDisposed
	case StatePlaying:
		return nil
	}

	s.state = StatePlaying
	s.started = m.now()
	s.timer = time.AfterFunc(s.duration, func() { m.finish(s) })
	return nil
}

func (m *Manager) finish(s *Sound) {
	s.mu.Lock()
	if s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	s.timer = nil
	s.mu.Unlock()

	if s.onFinish != nil {
		s.onFinish()
	}
}

// Dispose stops s and releases it. Callbacks never run afterwards.
func (m *Manager) Dispose(s *Sound) {
	if s == nil {
		return
	}

	m.mu.Lock()
	delete(m.sounds, s.ID)
	m.mu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateDisposed
	s.buf = nil
	s.mu.Unlock()
	s.markReady()
}

// DisposeAll disposes every sound the manager still holds.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	sounds := make([]*Sound, 0, len(m.sounds))
	for _, s := range m.sounds {
		sounds = append(sounds, s)
	}
	m.mu.Unlock()

	for _, s := range sounds {
		m.Dispose(s)
	}
}

// Close disposes everything and refuses further Adds.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.DisposeAll()
}

// Len returns the number of live sounds.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sounds)
}

// Volume returns the playback volume.
func (m *Manager) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// SetVolume sets the playback volume, clamped to 0.0-1.0.
func (m *Manager) SetVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = clamp(v, 0, 1)
}
