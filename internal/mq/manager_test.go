package mq_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/mqfire/internal/metrics"
	"github.com/torosent/mqfire/internal/mq"
	"github.com/torosent/mqfire/internal/transport"
)

func TestConnectRejectsInvalidConfigBeforeDialing(t *testing.T) {
	d := &fakeDialer{}
	m := newFakeManager(d)

	cfg := fakeConfig()
	cfg.Host = ""
	cfg.Port = 0
	cfg.Queue = ""
	cfg.Channel = " "

	_, err := m.Connect(context.Background(), "vu-1", cfg)
	var ce *mq.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Issues, 4)
	assert.Contains(t, ce.Issues, "channel is required")
	assert.Zero(t, d.Dials())
}

func TestConnectWithMissingCertificateIsConfigError(t *testing.T) {
	d := &fakeDialer{}
	m := newFakeManager(d)

	cfg := fakeConfig()
	cfg.TLS = mq.TLSConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"}

	_, err := m.Connect(context.Background(), "vu-1", cfg)
	var ce *mq.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Zero(t, d.Dials())
}

func TestConnectFailureReturnsConnectionError(t *testing.T) {
	d := &fakeDialer{err: &transport.BrokerError{Code: 2035, Reason: "not authorized"}}
	rec := metrics.NewCollector()
	m := mq.NewManager(mq.ManagerOptions{
		Dialers:  map[mq.TransportKind]transport.Dialer{fakeKind: d},
		Recorder: rec,
	})

	conn, err := m.Connect(context.Background(), "vu-1", fakeConfig())
	assert.Nil(t, conn)
	var connErr *mq.ConnectionError
	require.ErrorAs(t, err, &connErr)
	var be *transport.BrokerError
	assert.ErrorAs(t, err, &be)
	assert.Equal(t, "vu-1", connErr.Owner)
	assert.Zero(t, m.Open())

	stats := rec.Stats(0)
	assert.Equal(t, int64(1), stats.Operations["connect"].Outcomes["protocol_error"])
}

func TestConcurrentConnectsAreIsolated(t *testing.T) {
	d := &fakeDialer{}
	m := newFakeManager(d)

	const vus = 50
	conns := make([]*mq.Connection, vus)
	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Connect(context.Background(), fmt.Sprintf("vu-%d", i), fakeConfig())
			if err == nil {
				conns[i] = c
			}
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool, vus)
	for i, c := range conns {
		require.NotNil(t, c, "vu-%d did not connect", i)
		assert.Equal(t, fmt.Sprintf("vu-%d", i), c.Owner())
		assert.Equal(t, mq.Connected, c.State())
		assert.False(t, ids[c.ID()], "connection id %s handed out twice", c.ID())
		ids[c.ID()] = true
	}
	assert.Equal(t, vus, d.Dials())
	assert.Equal(t, vus, m.Open())

	require.NoError(t, m.CloseAll(context.Background()))
	assert.Zero(t, m.Open())
	for _, s := range d.Sessions() {
		assert.Equal(t, int64(1), s.closes.Load())
	}
}

func TestConnectReplacesOwnersPreviousConnection(t *testing.T) {
	d := &fakeDialer{}
	m := newFakeManager(d)
	ctx := context.Background()

	first, err := m.Connect(ctx, "vu-1", fakeConfig())
	require.NoError(t, err)
	second, err := m.Connect(ctx, "vu-1", fakeConfig())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, mq.Closed, first.State())
	assert.Equal(t, mq.Connected, second.State())
	assert.Equal(t, 1, m.Open())
}

func TestAcquireCreatesOnFirstUseAndKeepsFailed(t *testing.T) {
	d := &fakeDialer{}
	m := newFakeManager(d)
	exec := mq.NewExecutor(mq.ExecutorOptions{})
	ctx := context.Background()

	c1, err := m.Acquire(ctx, "vu-1", fakeConfig())
	require.NoError(t, err)
	c2, err := m.Acquire(ctx, "vu-1", fakeConfig())
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, d.Dials())

	d.Sessions()[0].put = func(context.Context, string, []byte) error { return errLinkDown }
	res, err := exec.Write(ctx, c1, mq.NewMessage([]byte("x")))
	require.NoError(t, err)
	require.Equal(t, mq.ConnectionLost, res.Outcome)

	c3, err := m.Acquire(ctx, "vu-1", fakeConfig())
	require.NoError(t, err)
	assert.Same(t, c1, c3, "a failed connection must not be replaced silently")
	assert.Equal(t, mq.Failed, c3.State())
	assert.Equal(t, 1, d.Dials())

	require.NoError(t, m.Close(c1))
	c4, err := m.Acquire(ctx, "vu-1", fakeConfig())
	require.NoError(t, err)
	assert.NotSame(t, c1, c4)
	assert.Equal(t, 2, d.Dials())
}

func TestCloseIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newFakeManager(d)
	exec := mq.NewExecutor(mq.ExecutorOptions{})

	conn, err := m.Connect(context.Background(), "vu-1", fakeConfig())
	require.NoError(t, err)

	require.NoError(t, m.Close(conn))
	require.NoError(t, m.Close(conn))
	assert.Equal(t, mq.Closed, conn.State())
	assert.Equal(t, int64(1), d.Sessions()[0].closes.Load())

	_, err = exec.Write(context.Background(), conn, mq.NewMessage([]byte("late")))
	var se *mq.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, mq.Closed, se.State)
	assert.Equal(t, int64(0), d.Sessions()[0].puts.Load())
}

func TestCloseAllToleratesIndividualFailures(t *testing.T) {
	closeErr := errors.New("bye not acknowledged")
	n := 0
	d := &fakeDialer{newSession: func() *fakeSession {
		s := newFakeSession()
		if n == 1 {
			s.closeErr = closeErr
		}
		n++
		return s
	}}
	m := newFakeManager(d)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Connect(ctx, fmt.Sprintf("vu-%d", i), fakeConfig())
		require.NoError(t, err)
	}

	err := m.CloseAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, closeErr)
	assert.Zero(t, m.Open())
	for _, s := range d.Sessions() {
		assert.Equal(t, int64(1), s.closes.Load(), "every session is closed despite the failure")
	}

	_, err = m.Connect(ctx, "vu-late", fakeConfig())
	assert.ErrorIs(t, err, mq.ErrManagerClosed)
}

func TestUnknownTransportIsConfigError(t *testing.T) {
	m := mq.NewManager(mq.ManagerOptions{})
	cfg := fakeConfig()
	cfg.Transport = "carrier-pigeon"

	_, err := m.Connect(context.Background(), "vu-1", cfg)
	var ce *mq.ConfigError
	assert.ErrorAs(t, err, &ce)
}
