// Package broker is a small in-memory queue manager speaking the mqfire
// framing protocol over TCP and WebSocket. It exists so load scripts can be
// exercised without a production queue manager, and it supports fault
// injection by dropping live sessions.
package broker

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Broker owns the queues and the live client sessions.
type Broker struct {
	cfg      Config
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	queues   map[string]*queue
	forwards map[string]string
	sessions map[*session]struct{}
	closed   bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger used for session events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// New creates a broker with the queues defined in cfg.
func New(cfg Config, opts ...Option) *Broker {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	b := &Broker{
		cfg:      cfg,
		log:      logrus.StandardLogger(),
		queues:   make(map[string]*queue),
		forwards: make(map[string]string),
		sessions: make(map[*session]struct{}),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, def := range cfg.Queues {
		b.queues[def.Name] = newQueue(def.Name, def.MaxDepth)
		if def.ForwardTo != "" {
			b.forwards[def.Name] = def.ForwardTo
		}
	}
	return b
}

// Depth reports the number of messages waiting on name, or zero for an
// unknown queue.
func (b *Broker) Depth(name string) int {
	b.mu.Lock()
	q := b.queues[name]
	b.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.depth()
}

// Sessions reports the number of connected clients.
func (b *Broker) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// DropSessions severs every live session without a goodbye, as a network
// failure would. It returns the number of sessions dropped.
func (b *Broker) DropSessions() int {
	b.mu.Lock()
	victims := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		victims = append(victims, s)
	}
	b.mu.Unlock()

	for _, s := range victims {
		_ = s.conn.Close()
	}
	if len(victims) > 0 {
		b.log.WithField("sessions", len(victims)).Warn("dropped client sessions")
	}
	return len(victims)
}

// Close drops all sessions and refuses new ones.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.DropSessions()
	return nil
}

// putTarget resolves the queue a put lands on, following forwards.
func (b *Broker) putTarget(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target, ok := b.forwards[name]; ok {
		name = target
	}
	return b.lookupLocked(name)
}

func (b *Broker) getTarget(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookupLocked(name)
}

func (b *Broker) lookupLocked(name string) *queue {
	if q, ok := b.queues[name]; ok {
		return q
	}
	if !b.cfg.AutoCreate {
		return nil
	}
	q := newQueue(name, 0)
	b.queues[name] = q
	return q
}

func (b *Broker) register(s *session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.sessions[s] = struct{}{}
	return true
}

func (b *Broker) unregister(s *session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
}
