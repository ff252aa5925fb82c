// Package event provides the lifecycle notifications emitted by the
// motion and expression managers.
package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event.
type Type string

const (
	MotionStart     Type = "motion.start"
	MotionFinish    Type = "motion.finish"
	MotionLoadError Type = "motion.load_error"

	ExpressionSet       Type = "expression.set"
	ExpressionLoaded    Type = "expression.loaded"
	ExpressionLoadError Type = "expression.load_error"

	ModelDestroy Type = "model.destroy"
)

// All matches every event type in Subscribe.
const All Type = "*"

// Event is a single notification. Fields that do not apply to a type are
// left empty.
type Event struct {
	ID    string    `json:"id"`
	Type  Type      `json:"type"`
	Time  time.Time `json:"time"`
	Group string    `json:"group,omitempty"`
	Index int       `json:"index"`
	Name  string    `json:"name,omitempty"`
	Sound string    `json:"sound,omitempty"`
	Error string    `json:"error,omitempty"`
}

// New stamps an event with an id and the current time.
func New(t Type) Event {
	return Event{ID: uuid.NewString(), Type: t, Time: time.Now()}
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous pub/sub bus. Handlers run on the publishing
// goroutine in subscription order; they must not block.
//
// A nil *Bus drops everything, so publishers need no nil checks.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Type][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]subscription)}
}

// Subscribe registers h for t (or All) and returns a function removing it.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	if b == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(t, id) })
	}
}

func (b *Bus) remove(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to the handlers for e.Type and All.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Type])+len(b.subs[All]))
	for _, s := range b.subs[e.Type] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.subs[All] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
