package mq

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/torosent/mqfire/internal/clientmetrics"
	"github.com/torosent/mqfire/internal/transport"
)

// State is the lifecycle position of a Connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connection is one broker session owned by a single virtual user. It is
// created by a Manager and must not be shared between concurrent callers.
type Connection struct {
	id       string
	owner    string
	cfg      ConnectionConfig
	log      logrus.FieldLogger
	counters *clientmetrics.Counters

	// opMu serialises operations so they reach the broker in issue order.
	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	session transport.Session
	cause   error
}

func newConnection(id, owner string, cfg ConnectionConfig, log logrus.FieldLogger) *Connection {
	return &Connection{
		id:       id,
		owner:    owner,
		cfg:      cfg,
		log:      log.WithFields(logrus.Fields{"conn": id, "vu": owner}),
		counters: clientmetrics.New(),
		state:    Disconnected,
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Owner() string { return c.owner }

// Config returns the configuration the connection was opened with.
func (c *Connection) Config() ConnectionConfig { return c.cfg }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns why the connection failed, or nil.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Stats returns the connection's traffic counters.
func (c *Connection) Stats() clientmetrics.Snapshot {
	return c.counters.Snapshot()
}

// transition moves the connection to next if it is currently in one of from.
func (c *Connection) transition(next State, from ...State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range from {
		if c.state == s {
			c.state = next
			return true
		}
	}
	return false
}

func (c *Connection) established(sess transport.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connecting {
		return false
	}
	c.session = sess
	c.state = Connected
	c.counters.MarkConnected()
	return true
}

// active returns the session when the connection is Connected.
func (c *Connection) active() (transport.Session, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return nil, c.state
	}
	return c.session, c.state
}

// fail moves a Connected connection to Failed and releases its session. It
// reports whether this call performed the transition.
func (c *Connection) fail(cause error) bool {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return false
	}
	c.state = Failed
	c.cause = cause
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	c.counters.MarkDisconnected()
	c.log.WithError(cause).Warn("connection failed")
	if sess != nil {
		_ = sess.Close()
	}
	return true
}

// release runs Connected/Failed -> Closing -> Closed. Calls after the first
// are no-ops.
func (c *Connection) release() error {
	c.mu.Lock()
	switch c.state {
	case Closing, Closed:
		c.mu.Unlock()
		return nil
	case Disconnected, Connecting:
		c.state = Closed
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.Close()
	}
	c.counters.MarkDisconnected()

	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
	return err
}
