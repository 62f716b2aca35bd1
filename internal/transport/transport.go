// Package transport defines the boundary between the queue-client core and a
// concrete broker. A Dialer performs the broker handshake and yields a Session;
// a Session moves already-encoded message payloads to and from named queues.
//
// Implementations classify failures with the sentinel errors below so the
// core can tell an empty queue from a rejected request from a broken link:
//
//   - ErrNoMessage: a get found no message before its wait elapsed.
//   - *BrokerError: the broker refused the request; the session stays usable.
//   - ErrProtocolViolation: the broker answered with something unexpected.
//   - context errors: the caller's deadline or cancellation fired.
//   - anything else: the transport is broken and the session must be discarded.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoMessage reports an empty queue at the end of a get's wait.
	ErrNoMessage = errors.New("transport: no message available")
	// ErrSessionClosed is returned by operations on a session after Close.
	ErrSessionClosed = errors.New("transport: session closed")
	// ErrProtocolViolation reports a broker reply that does not fit the request.
	ErrProtocolViolation = errors.New("transport: protocol violation")
)

// Endpoint carries everything a Dialer needs to open a session.
type Endpoint struct {
	Host             string
	Port             int
	QueueManager     string
	Channel          string
	User             string
	Password         string
	AppName          string
	TLS              *tls.Config
	MaxMessageLength int
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Dialer opens sessions against one kind of broker.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, ep Endpoint) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, ep Endpoint) (Session, error) {
	return f(ctx, ep)
}

// Session is one established broker session. Put returns once the broker has
// acknowledged the enqueue. Get removes and returns at most one payload,
// waiting up to wait for one to arrive; a zero wait means do not wait.
type Session interface {
	Put(ctx context.Context, queue string, payload []byte) error
	Get(ctx context.Context, queue string, wait time.Duration) ([]byte, error)
	Close() error
}

// BrokerError is a request the broker understood and refused.
type BrokerError struct {
	Code   uint32
	Reason string
}

func (e *BrokerError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("broker rejected request: reason %d", e.Code)
	}
	return fmt.Sprintf("broker rejected request: reason %d: %s", e.Code, e.Reason)
}
