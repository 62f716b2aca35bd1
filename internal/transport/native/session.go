// Package native speaks the mqfire framing protocol to the development broker
// (or any broker implementing it) over TCP, TLS, or WebSocket.
package native

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/mqfire/internal/transport"
	"github.com/torosent/mqfire/internal/wire"
)

const byeTimeout = time.Second

// Session multiplexes requests over one framed connection. Responses are
// matched by correlation ID, so a request abandoned on timeout does not
// desynchronise the ones that follow it.
type Session struct {
	conn wire.Conn
	log  logrus.FieldLogger
	corr atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan wire.Frame
	closed  bool
	err     error
	done    chan struct{}
}

// Open performs the HELLO handshake on conn. The connection is closed if the
// handshake fails.
func Open(ctx context.Context, conn wire.Conn, ep transport.Endpoint, log logrus.FieldLogger) (*Session, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Session{
		conn:    conn,
		log:     log.WithField("remote", conn.RemoteAddr()),
		pending: make(map[uint64]chan wire.Frame),
		done:    make(chan struct{}),
	}
	go s.readLoop()

	resp, err := s.roundTrip(ctx, wire.Frame{
		Op: wire.OpHello,
		Hello: &wire.Hello{
			QueueManager:     ep.QueueManager,
			Channel:          ep.Channel,
			User:             ep.User,
			Password:         ep.Password,
			AppName:          ep.AppName,
			MaxMessageLength: uint32(ep.MaxMessageLength),
		},
	})
	if err != nil {
		_ = s.shutdown(transport.ErrSessionClosed)
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if resp.Op != wire.OpHelloOK {
		_ = s.shutdown(transport.ErrSessionClosed)
		return nil, fmt.Errorf("handshake: %w: got %s", transport.ErrProtocolViolation, resp.Op)
	}
	return s, nil
}

// Put enqueues payload on queue and waits for the broker's acknowledgement.
func (s *Session) Put(ctx context.Context, queue string, payload []byte) error {
	resp, err := s.roundTrip(ctx, wire.Frame{Op: wire.OpPut, Queue: queue, Data: payload})
	if err != nil {
		return err
	}
	if resp.Op != wire.OpPutAck {
		return fmt.Errorf("put: %w: got %s", transport.ErrProtocolViolation, resp.Op)
	}
	return nil
}

// Get removes one payload from queue, letting the broker hold the request for
// up to wait when the queue is empty.
func (s *Session) Get(ctx context.Context, queue string, wait time.Duration) ([]byte, error) {
	if wait < 0 {
		wait = 0
	}
	resp, err := s.roundTrip(ctx, wire.Frame{Op: wire.OpGet, Queue: queue, Wait: wait})
	if err != nil {
		return nil, err
	}
	switch resp.Op {
	case wire.OpMessage:
		if resp.Data == nil {
			return []byte{}, nil
		}
		return resp.Data, nil
	case wire.OpEmpty:
		return nil, transport.ErrNoMessage
	default:
		return nil, fmt.Errorf("get: %w: got %s", transport.ErrProtocolViolation, resp.Op)
	}
}

// Close says goodbye to the broker and releases the connection. It is safe to
// call more than once.
func (s *Session) Close() error {
	if !s.markClosed(transport.ErrSessionClosed) {
		return nil
	}
	_ = s.conn.WriteFrame(wire.Frame{Op: wire.OpBye}, time.Now().Add(byeTimeout))
	return s.conn.Close()
}

func (s *Session) roundTrip(ctx context.Context, req wire.Frame) (wire.Frame, error) {
	if err := ctx.Err(); err != nil {
		return wire.Frame{}, err
	}

	req.Corr = s.corr.Add(1)
	ch := make(chan wire.Frame, 1)

	s.mu.Lock()
	if s.closed {
		err := s.err
		s.mu.Unlock()
		return wire.Frame{}, err
	}
	s.pending[req.Corr] = ch
	s.mu.Unlock()
	defer s.forget(req.Corr)

	deadline, _ := ctx.Deadline()
	if err := s.conn.WriteFrame(req, deadline); err != nil {
		// A partially written frame leaves the stream unusable.
		_ = s.shutdown(fmt.Errorf("write %s: %w", req.Op, err))
		return wire.Frame{}, s.terminalErr()
	}

	select {
	case resp := <-ch:
		if resp.Op == wire.OpError {
			return resp, &transport.BrokerError{Code: resp.Code, Reason: resp.Reason}
		}
		return resp, nil
	case <-s.done:
		return wire.Frame{}, s.terminalErr()
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}

func (s *Session) readLoop() {
	for {
		f, err := s.conn.ReadFrame()
		if err != nil {
			_ = s.shutdown(fmt.Errorf("read: %w", err))
			return
		}
		s.mu.Lock()
		ch, ok := s.pending[f.Corr]
		if ok {
			delete(s.pending, f.Corr)
		}
		s.mu.Unlock()
		if !ok {
			s.log.WithFields(logrus.Fields{"corr": f.Corr, "op": f.Op.String()}).
				Debug("dropping response for abandoned request")
			continue
		}
		ch <- f
	}
}

func (s *Session) forget(corr uint64) {
	s.mu.Lock()
	delete(s.pending, corr)
	s.mu.Unlock()
}

func (s *Session) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) shutdown(cause error) error {
	if !s.markClosed(cause) {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) markClosed(cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.err = cause
	close(s.done)
	return true
}
