package clip

import (
	"sync"
	"time"

	"github.com/teslashibe/go-live2d/pkg/params"
)

type queueEntry struct {
	motion   *Motion
	onFinish func()

	started   bool
	startTime time.Time

	// Set by Start/StopAll on older entries; the fade begins on the next
	// Update since only Update knows the clock.
	fadeRequested bool
	fading        bool
	fadeStart     time.Time
}

// Queue blends motions into a parameter buffer. Starting a motion fades
// out everything already queued; finished entries drop out on Update.
//
// Queue is safe for concurrent use. Finish callbacks run on the
// goroutine calling Update, after the queue lock is released.
type Queue struct {
	mu      sync.Mutex
	entries []*queueEntry
}

// NewQueue creates an empty motion queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Start queues m. onFinish (optional) runs once m has finished or faded out.
func (q *Queue) Start(m *Motion, onFinish func()) {
	if m == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		e.fadeRequested = true
	}
	q.entries = append(q.entries, &queueEntry{motion: m, onFinish: onFinish})
}

// StopAll drops every entry immediately. Finish callbacks do not run.
func (q *Queue) StopAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}

// IsFinished reports whether nothing is left to play.
func (q *Queue) IsFinished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) == 0
}

// Len returns the number of queued entries, fading ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Update applies every live entry at now and returns whether anything was
// written.
func (q *Queue) Update(p *params.Parameters, now time.Time) bool {
	var done []func()
	updated := false

	q.mu.Lock()
	live := q.entries[:0]
	for _, e := range q.entries {
		if !e.started {
			e.started = true
			e.startTime = now
		}
		if e.fadeRequested && !e.fading {
			e.fading = true
			e.fadeStart = now
		}

		elapsed := now.Sub(e.startTime).Seconds()
		weight, finished := e.weight(now, elapsed)
		if finished {
			if e.onFinish != nil {
				done = append(done, e.onFinish)
			}
			continue
		}

		e.motion.Apply(p, elapsed, weight)
		updated = true
		live = append(live, e)
	}
	for i := len(live); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = live
	q.mu.Unlock()

	for _, fn := range done {
		fn()
	}
	return updated
}

// weight returns the fade weight at now and whether the entry is done.
func (e *queueEntry) weight(now time.Time, elapsed float64) (float64, bool) {
	m := e.motion
	if m.Finished(elapsed) {
		return 0, true
	}

	w := 1.0
	if m.FadeIn > 0 {
		w *= Ease(elapsed / m.FadeIn)
	}

	if e.fading {
		if m.FadeOut <= 0 {
			return 0, true
		}
		left := m.FadeOut - now.Sub(e.fadeStart).Seconds()
		if left <= 0 {
			return 0, true
		}
		w *= Ease(left / m.FadeOut)
	} else if !m.Loop && m.FadeOut > 0 {
		w *= Ease((m.Duration - elapsed) / m.FadeOut)
	}
	return w, false
}
