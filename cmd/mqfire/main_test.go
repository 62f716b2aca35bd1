package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/mqfire/internal/broker"
	"github.com/torosent/mqfire/internal/config"
	"github.com/torosent/mqfire/internal/logging"
	"github.com/torosent/mqfire/internal/mq"
	"github.com/torosent/mqfire/internal/runner"
)

func TestToRunnerArrivalModel(t *testing.T) {
	tests := []struct {
		input config.ArrivalModel
		want  runner.ArrivalModel
	}{
		{config.ArrivalModelUniform, runner.ArrivalModelUniform},
		{config.ArrivalModelPoisson, runner.ArrivalModelPoisson},
		{"unknown", runner.ArrivalModelUniform},
	}

	for _, tt := range tests {
		got := toRunnerArrivalModel(tt.input)
		if got != tt.want {
			t.Errorf("toRunnerArrivalModel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestToRunnerLoadPatterns(t *testing.T) {
	input := []config.LoadPattern{
		{
			Name:     "ramp",
			Type:     "RAMP",
			FromRPS:  10,
			ToRPS:    100,
			Duration: time.Minute,
		},
		{
			Type:  config.LoadPatternTypeStep,
			Steps: []config.LoadStep{{RPS: 5, Duration: time.Second}},
		},
	}
	got := toRunnerLoadPatterns(input)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Type != runner.LoadPatternTypeRamp {
		t.Errorf("Type = %q, want ramp", got[0].Type)
	}
	if got[0].ToRPS != 100 || got[0].Duration != time.Minute {
		t.Errorf("pattern = %+v", got[0])
	}
	if len(got[1].Steps) != 1 || got[1].Steps[0].RPS != 5 {
		t.Errorf("steps = %+v", got[1].Steps)
	}
	if toRunnerLoadPatterns(nil) != nil {
		t.Error("nil patterns should stay nil")
	}
}

func TestToConnectionConfig(t *testing.T) {
	b := config.BrokerConfig{
		Transport:        config.TransportWebSocket,
		Host:             "mq.example.com",
		Port:             1414,
		QueueManager:     "QM1",
		Channel:          "DEV.APP.SVRCONN",
		Queue:            "DEV.QUEUE.1",
		ReplyQueue:       "DEV.QUEUE.2",
		User:             "app",
		Password:         "secret",
		AppName:          "mqfire",
		ConnectTimeout:   time.Second,
		OperationTimeout: 2 * time.Second,
		MaxMessageLength: 1024,
		TLS:              config.TLSConfig{Enabled: true, ServerName: "mq.example.com"},
	}
	got := toConnectionConfig(b)

	assert.Equal(t, mq.TransportWebSocket, got.Transport)
	assert.Equal(t, "DEV.QUEUE.2", got.ReadQueue())
	assert.Equal(t, 2*time.Second, got.OperationTimeout)
	assert.Equal(t, 1024, got.MaxMessageLength)
	assert.True(t, got.TLS.Enabled)
	assert.Equal(t, "mq.example.com", got.TLS.ServerName)
	assert.NoError(t, got.Validate())
}

func TestToEchoOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))

	opts, err := toEchoOptions(config.ScriptConfig{
		PayloadFile:   path,
		Persistence:   "non_persistent",
		WriteAttempts: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("from-file"), opts.Payload)
	assert.Equal(t, mq.NonPersistent, opts.Persistence)
	assert.Equal(t, uint(3), opts.WriteAttempts)

	opts, err = toEchoOptions(config.ScriptConfig{Payload: "inline", Persistence: "PERSISTENT"})
	require.NoError(t, err)
	assert.Equal(t, []byte("inline"), opts.Payload)
	assert.Equal(t, mq.Persistent, opts.Persistence)

	_, err = toEchoOptions(config.ScriptConfig{PayloadFile: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	dataPath := filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte("order\n1\n2\n"), 0o600))
	opts, err = toEchoOptions(config.ScriptConfig{Payload: "order {{order}}", DataFile: dataPath})
	require.NoError(t, err)
	require.NotNil(t, opts.Feeder)
	assert.Equal(t, 2, opts.Feeder.Len())

	_, err = toEchoOptions(config.ScriptConfig{DataFile: filepath.Join(t.TempDir(), "orders.xml")})
	assert.Error(t, err)
}

func TestDashboardInfo(t *testing.T) {
	cfg := config.Defaults()
	cfg.Broker.Host = "mq.example.com"
	cfg.Broker.QueueManager = "QM1"
	cfg.Broker.Queue = "REQ"
	cfg.Broker.ReplyQueue = "RESP"
	cfg.VUs = 8
	cfg.Script.WriteAttempts = 2

	info := dashboardInfo(cfg)
	assert.Equal(t, "mq.example.com:1414", info.Target)
	assert.Equal(t, "tcp", info.Transport)
	assert.Equal(t, "RESP", info.ReplyQueue)
	assert.Equal(t, 8, info.VUs)
	assert.Equal(t, 2, info.WriteAttempts)
	assert.Equal(t, 5*time.Second, info.OperationTimeout)
}

func startEchoBroker(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := broker.DefaultConfig()
	cfg.Queues = []broker.QueueDefinition{
		{Name: "DEV.QUEUE.1", ForwardTo: "DEV.QUEUE.2"},
		{Name: "DEV.QUEUE.2"},
	}
	b := broker.New(cfg, broker.WithLogger(logging.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
	})
	return ln.Addr().(*net.TCPAddr).Port
}

func echoRunConfig(port int) config.Config {
	cfg := config.Defaults()
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.Port = port
	cfg.Broker.QueueManager = "QM1"
	cfg.Broker.Channel = "DEV.APP.SVRCONN"
	cfg.Broker.Queue = "DEV.QUEUE.1"
	cfg.Broker.ReplyQueue = "DEV.QUEUE.2"
	cfg.Broker.ConnectTimeout = 2 * time.Second
	cfg.Broker.OperationTimeout = time.Second
	cfg.VUs = 2
	cfg.Iterations = 10
	cfg.JSONOutput = true
	cfg.LogLevel = "error"
	return cfg
}

func TestExecuteEchoRun(t *testing.T) {
	cfg := echoRunConfig(startEchoBroker(t))
	cfg.Thresholds = []string{"mq_read_failed:count == 0"}

	var stdout bytes.Buffer
	require.NoError(t, execute(context.Background(), cfg, &stdout, io.Discard))

	var report struct {
		Total      int64 `json:"total"`
		Operations map[string]struct {
			Total     int64 `json:"total"`
			Successes int64 `json:"successes"`
		} `json:"operations"`
		Thresholds []struct {
			Pass bool `json:"pass"`
		} `json:"thresholds"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, int64(10), report.Operations["write"].Successes)
	assert.Equal(t, int64(10), report.Operations["read"].Successes)
	require.Len(t, report.Thresholds, 1)
	assert.True(t, report.Thresholds[0].Pass)
}

func TestExecuteReportsFailedThresholds(t *testing.T) {
	cfg := echoRunConfig(startEchoBroker(t))
	cfg.Iterations = 2
	cfg.Thresholds = []string{"mq_writes:count < 1"}

	err := execute(context.Background(), cfg, io.Discard, io.Discard)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errThresholdsFailed))
}

func TestExecuteDurationEndedRunIsNotAFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	bcfg := broker.DefaultConfig()
	bcfg.Queues = []broker.QueueDefinition{{Name: "DEV.QUEUE.1"}, {Name: "DEV.QUEUE.2"}}
	b := broker.New(bcfg, broker.WithLogger(logging.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
	})

	// Nothing is echoed, so every read is still waiting when the run ends.
	cfg := echoRunConfig(ln.Addr().(*net.TCPAddr).Port)
	cfg.Iterations = 0
	cfg.Duration = 200 * time.Millisecond
	cfg.GracefulStop = 0
	cfg.Broker.OperationTimeout = 3 * time.Second

	var stdout bytes.Buffer
	start := time.Now()
	require.NoError(t, execute(context.Background(), cfg, &stdout, io.Discard))
	assert.Less(t, time.Since(start), 3*time.Second)

	var report struct {
		Operations map[string]struct {
			Total     int64 `json:"total"`
			Failures  int64 `json:"failures"`
			Cancelled int64 `json:"cancelled"`
		} `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	read := report.Operations["read"]
	assert.Equal(t, int64(2), read.Cancelled)
	assert.Zero(t, read.Failures)
}

func TestExecuteRejectsInvalidConfig(t *testing.T) {
	cfg := echoRunConfig(1414)
	cfg.Broker.Queue = ""

	err := execute(context.Background(), cfg, io.Discard, io.Discard)
	var verr config.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestExecuteSetupFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	err = execute(context.Background(), echoRunConfig(port), io.Discard, io.Discard)
	var connErr *mq.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestRunBrokerServesUntilCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queue_manager: QM9
auto_create: true
queues:
  - name: IN
    forward_to: OUT
  - name: OUT
`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- runBroker(ctx, brokerOptions{
			listen:     "127.0.0.1:0",
			wsListen:   "127.0.0.1:0",
			configPath: path,
			logLevel:   "error",
			ready:      func(tcp, _ net.Addr) { addrs <- tcp },
		}, io.Discard)
	}()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case err := <-done:
		t.Fatalf("broker exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("broker did not start")
	}

	mgr := mq.NewManager(mq.ManagerOptions{Logger: logging.Discard})
	exec := mq.NewExecutor(mq.ExecutorOptions{})
	conn, err := mgr.Connect(context.Background(), "vu-1", mq.ConnectionConfig{
		Host:         "127.0.0.1",
		Port:         addr.(*net.TCPAddr).Port,
		QueueManager: "QM9",
		Channel:      "DEV.APP.SVRCONN",
		Queue:        "IN",
		ReplyQueue:   "OUT",
	})
	require.NoError(t, err)

	res, err := exec.Write(context.Background(), conn, mq.NewMessage([]byte("ping")))
	require.NoError(t, err)
	require.True(t, res.OK(), "write outcome %s", res.Outcome)

	res, err = exec.Read(context.Background(), conn, time.Second)
	require.NoError(t, err)
	require.True(t, res.OK(), "read outcome %s", res.Outcome)
	assert.Equal(t, []byte("ping"), res.Message.Payload)
	require.NoError(t, mgr.CloseAll(context.Background()))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("broker did not stop after cancel")
	}
}

func TestRootCommandHelp(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand(&out, &out)
	root.SetArgs([]string{"run", "--help"})
	assert.NoError(t, root.Execute())
}
