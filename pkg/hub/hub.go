package hub

import (
	"log/slog"
	"sync"
)

// Option configures a Hub.
type Option func(*Hub)

// WithReplay keeps the latest frame per topic and sends those frames to
// each new subscriber before anything else.
func WithReplay() Option {
	return func(h *Hub) { h.last = make(map[string]Message) }
}

// Hub owns the subscriber set. All membership changes and fan-out happen
// on the Run goroutine.
type Hub struct {
	name   string
	logger *slog.Logger

	subscribers map[*Client]bool
	last        map[string]Message // nil unless WithReplay
	order       []string           // replay order, first-seen topic first

	publish     chan Message
	subscribe   chan *Client
	unsubscribe chan *Client

	done     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex // guards count and running for readers
	count   int
	running bool
}

// New creates a Hub. Call Run in a goroutine before subscribing.
func New(name string, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		name:        name,
		logger:      logger.With("hub", name),
		subscribers: make(map[*Client]bool),
		publish:     make(chan Message, 256),
		subscribe:   make(chan *Client),
		unsubscribe: make(chan *Client),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run delivers frames until Stop.
func (h *Hub) Run() {
	h.setRunning(true)
	defer h.setRunning(false)

	for {
		select {
		case <-h.done:
			for c := range h.subscribers {
				h.drop(c)
			}
			return

		case c := <-h.subscribe:
			h.subscribers[c] = true
			h.replay(c)
			h.logger.Debug("subscriber joined", "topics", c.topics, "subscribers", h.setCount())

		case c := <-h.unsubscribe:
			if h.subscribers[c] {
				h.drop(c)
			}
			h.logger.Debug("subscriber left", "subscribers", h.setCount())

		case msg := <-h.publish:
			if h.last != nil {
				if _, seen := h.last[msg.Topic]; !seen {
					h.order = append(h.order, msg.Topic)
				}
				h.last[msg.Topic] = msg
			}
			for c := range h.subscribers {
				if !c.wants(msg.Topic) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					h.drop(c)
					h.logger.Warn("dropped slow subscriber", "subscribers", h.setCount())
				}
			}
		}
	}
}

// replay queues the remembered frames for a new subscriber. Frames that
// do not fit in its send buffer are skipped.
func (h *Hub) replay(c *Client) {
	for _, topic := range h.order {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.send <- h.last[topic]:
		default:
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.subscribers, c)
	close(c.send)
}

func (h *Hub) setCount() int {
	n := len(h.subscribers)
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
	return n
}

func (h *Hub) setRunning(v bool) {
	h.mu.Lock()
	h.running = v
	if !v {
		h.count = 0
	}
	h.mu.Unlock()
}

// Stop ends Run and disconnects every subscriber. It is safe to call more
// than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish queues a frame. Frames are dropped when the queue is full.
func (h *Hub) Publish(msg Message) {
	select {
	case h.publish <- msg:
	case <-h.done:
	default:
		h.logger.Warn("publish queue full, dropping frame", "topic", msg.Topic)
	}
}

// PublishJSON encodes v and publishes it on topic.
func (h *Hub) PublishJSON(topic string, v any) error {
	msg, err := NewMessage(topic, v)
	if err != nil {
		return err
	}
	h.Publish(msg)
	return nil
}

// ClientCount returns the number of subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
