package mq_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/mqfire/internal/broker"
	"github.com/torosent/mqfire/internal/metrics"
	"github.com/torosent/mqfire/internal/mq"
)

func startBroker(t *testing.T, cfg broker.Config) (*broker.Broker, mq.ConnectionConfig) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := broker.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
	})

	return b, mq.ConnectionConfig{
		Transport:        mq.TransportTCP,
		Host:             "127.0.0.1",
		Port:             ln.Addr().(*net.TCPAddr).Port,
		QueueManager:     cfg.QueueManager,
		Channel:          "DEV.APP.SVRCONN",
		Queue:            "DEV.QUEUE.1",
		ConnectTimeout:   2 * time.Second,
		OperationTimeout: time.Second,
	}
}

func echoBrokerConfig() broker.Config {
	cfg := broker.DefaultConfig()
	cfg.Queues = []broker.QueueDefinition{
		{Name: "DEV.QUEUE.1", ForwardTo: "DEV.QUEUE.2"},
		{Name: "DEV.QUEUE.2"},
	}
	return cfg
}

func TestEchoAgainstBroker(t *testing.T) {
	_, cfg := startBroker(t, echoBrokerConfig())
	cfg.ReplyQueue = "DEV.QUEUE.2"

	rec := metrics.NewCollector()
	m := mq.NewManager(mq.ManagerOptions{Recorder: rec})
	exec := mq.NewExecutor(mq.ExecutorOptions{Recorder: rec})
	ctx := context.Background()

	conn, err := m.Connect(ctx, "vu-1", cfg)
	require.NoError(t, err)

	msg := mq.NewMessage([]byte(`{"order":42}`))
	msg.SetString("content-type", "application/json")
	msg.Priority = 5
	msg.Persistence = mq.Persistent

	w, err := exec.Write(ctx, conn, msg)
	require.NoError(t, err)
	require.Equal(t, mq.Success, w.Outcome, "write err: %v", w.Err)

	r, err := exec.Read(ctx, conn, time.Second)
	require.NoError(t, err)
	require.Equal(t, mq.Success, r.Outcome, "read err: %v", r.Err)
	assert.Equal(t, msg.Payload, r.Message.Payload)
	assert.Equal(t, 5, r.Message.Priority)
	assert.Equal(t, mq.Persistent, r.Message.Persistence)
	ct, _ := r.Message.Text("content-type")
	assert.Equal(t, "application/json", ct)

	require.NoError(t, m.CloseAll(ctx))
	assert.Zero(t, m.Open())

	stats := rec.Stats(0)
	for _, op := range []string{"connect", "write", "read"} {
		assert.Equal(t, int64(1), stats.Operations[op].Successes, "op %s", op)
	}
}

func TestReadTimeoutFidelity(t *testing.T) {
	_, cfg := startBroker(t, broker.DefaultConfig())
	m := mq.NewManager(mq.ManagerOptions{})
	exec := mq.NewExecutor(mq.ExecutorOptions{})

	conn, err := m.Connect(context.Background(), "vu-1", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(conn) })

	for _, wait := range []time.Duration{300 * time.Microsecond, 900 * time.Microsecond, 20 * time.Millisecond, 300 * time.Millisecond} {
		for i := 0; i < 5; i++ {
			start := time.Now()
			res, err := exec.Read(context.Background(), conn, wait)
			elapsed := time.Since(start)

			require.NoError(t, err)
			assert.Equal(t, mq.Timeout, res.Outcome, "wait %s", wait)
			assert.GreaterOrEqual(t, elapsed, wait, "wait %s returned early", wait)
			assert.Less(t, elapsed, wait+time.Second)
		}
	}
	assert.Equal(t, mq.Connected, conn.State())
}

func TestBrokerSessionDropFailsOnlyThatConnection(t *testing.T) {
	b, cfg := startBroker(t, broker.DefaultConfig())
	m := mq.NewManager(mq.ManagerOptions{})
	exec := mq.NewExecutor(mq.ExecutorOptions{})
	ctx := context.Background()

	conn, err := m.Connect(ctx, "vu-1", cfg)
	require.NoError(t, err)
	require.Equal(t, 1, b.DropSessions())

	// The drop races with the write; poll until the client notices.
	var res mq.OperationResult
	require.Eventually(t, func() bool {
		res, err = exec.Write(ctx, conn, mq.NewMessage([]byte("x")))
		return err == nil && res.Outcome == mq.ConnectionLost
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, mq.Failed, conn.State())

	fresh, err := m.Connect(ctx, "vu-2", cfg)
	require.NoError(t, err)
	res, err = exec.Write(ctx, fresh, mq.NewMessage([]byte("y")))
	require.NoError(t, err)
	assert.Equal(t, mq.Success, res.Outcome)

	require.NoError(t, m.CloseAll(ctx))
	assert.Zero(t, m.Open())
}

func TestBrokerRejectsOversizedMessage(t *testing.T) {
	bcfg := broker.DefaultConfig()
	bcfg.MaxMessageLength = 64
	_, cfg := startBroker(t, bcfg)
	m := mq.NewManager(mq.ManagerOptions{})
	exec := mq.NewExecutor(mq.ExecutorOptions{})

	conn, err := m.Connect(context.Background(), "vu-1", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(conn) })

	res, err := exec.Write(context.Background(), conn, mq.NewMessage(make([]byte, 128)))
	require.NoError(t, err)
	assert.Equal(t, mq.ProtocolError, res.Outcome)
	assert.Equal(t, mq.Connected, conn.State())
}

func TestConnectToWrongQueueManager(t *testing.T) {
	_, cfg := startBroker(t, broker.DefaultConfig())
	cfg.QueueManager = "QM.OTHER"
	m := mq.NewManager(mq.ManagerOptions{})

	_, err := m.Connect(context.Background(), "vu-1", cfg)
	var ce *mq.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Zero(t, m.Open())
}
