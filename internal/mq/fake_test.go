package mq_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/mqfire/internal/mq"
	"github.com/torosent/mqfire/internal/transport"
)

// fakeSession is an in-memory transport session whose behaviour tests can
// override per operation.
type fakeSession struct {
	mu     sync.Mutex
	queues map[string][][]byte

	put      func(ctx context.Context, queue string, payload []byte) error
	get      func(ctx context.Context, queue string, wait time.Duration) ([]byte, error)
	closeErr error

	puts   atomic.Int64
	gets   atomic.Int64
	closes atomic.Int64
}

func newFakeSession() *fakeSession {
	return &fakeSession{queues: make(map[string][][]byte)}
}

func (s *fakeSession) Put(ctx context.Context, queue string, payload []byte) error {
	s.puts.Add(1)
	if s.put != nil {
		return s.put(ctx, queue, payload)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queue] = append(s.queues[queue], payload)
	return nil
}

func (s *fakeSession) Get(ctx context.Context, queue string, wait time.Duration) ([]byte, error) {
	s.gets.Add(1)
	if s.get != nil {
		return s.get(ctx, queue, wait)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.queues[queue]
	if len(items) == 0 {
		return nil, transport.ErrNoMessage
	}
	s.queues[queue] = items[1:]
	return items[0], nil
}

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	return s.closeErr
}

// fakeDialer hands out sessions from newSession and counts dials.
type fakeDialer struct {
	mu         sync.Mutex
	dials      int
	sessions   []*fakeSession
	err        error
	newSession func() *fakeSession
}

func (d *fakeDialer) Dial(ctx context.Context, _ transport.Endpoint) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var s *fakeSession
	if d.newSession != nil {
		s = d.newSession()
	} else {
		s = newFakeSession()
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Sessions() []*fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSession(nil), d.sessions...)
}

const fakeKind mq.TransportKind = "tcp"

func fakeConfig() mq.ConnectionConfig {
	return mq.ConnectionConfig{
		Transport:        fakeKind,
		Host:             "broker.test",
		Port:             1414,
		QueueManager:     "QM1",
		Channel:          "DEV.APP.SVRCONN",
		Queue:            "DEV.QUEUE.1",
		ConnectTimeout:   time.Second,
		OperationTimeout: 200 * time.Millisecond,
	}
}

func newFakeManager(d *fakeDialer) *mq.Manager {
	return mq.NewManager(mq.ManagerOptions{
		Dialers: map[mq.TransportKind]transport.Dialer{fakeKind: d},
	})
}

var errLinkDown = errors.New("connection reset by peer")
