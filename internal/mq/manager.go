package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/torosent/mqfire/internal/metrics"
	"github.com/torosent/mqfire/internal/transport"
	"github.com/torosent/mqfire/internal/transport/kafkaq"
	"github.com/torosent/mqfire/internal/transport/native"
	"github.com/torosent/mqfire/internal/transport/redisq"
)

// ManagerOptions configures a Manager. Zero values pick the defaults.
type ManagerOptions struct {
	Logger logrus.FieldLogger
	// Dialers overrides the dialer used for a built-in transport kind.
	Dialers  map[TransportKind]transport.Dialer
	Recorder metrics.Recorder
}

// Manager creates, tracks and releases connections. Each owner (a virtual
// user) holds at most one live connection, and a connection is never handed
// to a second owner.
type Manager struct {
	log      logrus.FieldLogger
	dialers  map[TransportKind]transport.Dialer
	recorder metrics.Recorder

	mu      sync.Mutex
	conns   map[string]*Connection
	byOwner map[string]*Connection
	closed  bool
}

func NewManager(opts ManagerOptions) *Manager {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Discard{}
	}
	dialers := map[TransportKind]transport.Dialer{
		TransportTCP:       native.TCPDialer{Log: log},
		TransportWebSocket: native.WebSocketDialer{Log: log},
		TransportRedis:     redisq.Dialer{},
		TransportKafka:     kafkaq.Dialer{},
	}
	for kind, d := range opts.Dialers {
		dialers[kind] = d
	}
	return &Manager{
		log:      log,
		dialers:  dialers,
		recorder: recorder,
		conns:    make(map[string]*Connection),
		byOwner:  make(map[string]*Connection),
	}
}

// Connect validates cfg and opens a new connection for owner within the
// connect timeout. An existing connection of the same owner is closed first.
func (m *Manager) Connect(ctx context.Context, owner string, cfg ConnectionConfig) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	ep, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}
	dialer, ok := m.dialers[cfg.Transport]
	if !ok || dialer == nil {
		return nil, &ConfigError{Issues: []string{fmt.Sprintf("no dialer registered for transport %q", cfg.Transport)}}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	prev := m.byOwner[owner]
	if prev != nil {
		delete(m.conns, prev.id)
	}
	conn := newConnection(uuid.NewString(), owner, cfg, m.log)
	conn.state = Connecting
	m.conns[conn.id] = conn
	m.byOwner[owner] = conn
	m.mu.Unlock()

	if prev != nil {
		if err := prev.release(); err != nil {
			conn.log.WithError(err).Warn("closing previous connection failed")
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	start := time.Now()
	sess, err := dialer.Dial(dialCtx, ep)
	latency := time.Since(start)

	if err != nil {
		conn.transition(Closed, Connecting)
		m.untrack(conn)
		m.recorder.RecordOperation(string(OpConnect), connectOutcome(ctx, err).String(), latency, 0)
		conn.log.WithError(err).Debug("connect failed")
		return nil, &ConnectionError{Owner: owner, Address: ep.Address(), Cause: err}
	}
	if !conn.established(sess) {
		// CloseAll or an explicit Close won the race with the dial.
		_ = sess.Close()
		m.untrack(conn)
		m.recorder.RecordOperation(string(OpConnect), Cancelled.String(), latency, 0)
		return nil, &ConnectionError{Owner: owner, Address: ep.Address(), Cause: ErrManagerClosed}
	}

	m.recorder.RecordOperation(string(OpConnect), Success.String(), latency, 0)
	conn.log.WithFields(logrus.Fields{"address": ep.Address(), "transport": cfg.Transport}).Debug("connected")
	return conn, nil
}

// Acquire returns owner's current connection, connecting on first use or
// after the previous connection was closed. A Failed connection is returned
// as is: replacing it is the caller's decision, made through Connect.
func (m *Manager) Acquire(ctx context.Context, owner string, cfg ConnectionConfig) (*Connection, error) {
	m.mu.Lock()
	conn := m.byOwner[owner]
	m.mu.Unlock()
	if conn != nil {
		switch conn.State() {
		case Connected, Failed, Connecting:
			return conn, nil
		}
	}
	return m.Connect(ctx, owner, cfg)
}

// Close releases conn. It is idempotent.
func (m *Manager) Close(conn *Connection) error {
	if conn == nil {
		return nil
	}
	err := conn.release()
	m.untrack(conn)
	if err != nil {
		return fmt.Errorf("close connection %s: %w", conn.id, err)
	}
	return nil
}

// CloseAll closes every tracked connection and refuses new ones afterwards.
// Individual failures are logged and returned together; they never stop the
// remaining closes. If ctx ends first CloseAll returns while the outstanding
// closes finish in the background.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var (
		mu       sync.Mutex
		result   *multierror.Error
		returned bool
		wg       sync.WaitGroup
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := m.Close(c); err != nil {
				c.log.WithError(err).Warn("close failed during teardown")
				mu.Lock()
				if !returned {
					result = multierror.Append(result, err)
				}
				mu.Unlock()
			}
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		result = multierror.Append(result, fmt.Errorf("close all: %w", ctx.Err()))
		mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	returned = true
	if result != nil {
		m.log.WithField("errors", len(result.Errors)).Warn("teardown closed connections with errors")
	}
	return result.ErrorOrNil()
}

// Open reports how many tracked connections are not yet closed.
func (m *Manager) Open() int {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	n := 0
	for _, c := range conns {
		if c.State() != Closed {
			n++
		}
	}
	return n
}

func (m *Manager) untrack(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, conn.id)
	if m.byOwner[conn.owner] == conn {
		delete(m.byOwner, conn.owner)
	}
}

func connectOutcome(ctx context.Context, err error) Outcome {
	switch {
	case ctx.Err() != nil:
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}
	var be *transport.BrokerError
	if errors.As(err, &be) || errors.Is(err, transport.ErrProtocolViolation) {
		return ProtocolError
	}
	return ConnectionLost
}
