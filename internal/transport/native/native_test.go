package native_test

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/torosent/mqfire/internal/broker"
	"github.com/torosent/mqfire/internal/transport"
	"github.com/torosent/mqfire/internal/transport/native"
	"github.com/torosent/mqfire/internal/wire"
)

func startTCPBroker(t *testing.T, cfg broker.Config) (*broker.Broker, transport.Endpoint) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := broker.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
	})
	addr := ln.Addr().(*net.TCPAddr)
	return b, transport.Endpoint{Host: "127.0.0.1", Port: addr.Port, QueueManager: cfg.QueueManager}
}

func TestTCPPutGet(t *testing.T) {
	_, ep := startTCPBroker(t, broker.DefaultConfig())
	ctx := context.Background()

	sess, err := native.TCPDialer{}.Dial(ctx, ep)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	if err := sess.Put(ctx, "DEV.QUEUE.1", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := sess.Get(ctx, "DEV.QUEUE.1", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Get = %q, want hello", got)
	}

	if _, err := sess.Get(ctx, "DEV.QUEUE.1", -time.Second); !errors.Is(err, transport.ErrNoMessage) {
		t.Errorf("Get on empty queue err = %v, want ErrNoMessage", err)
	}
}

func TestHandshakeBrokerError(t *testing.T) {
	_, ep := startTCPBroker(t, broker.DefaultConfig())
	ep.QueueManager = "WRONG"

	_, err := native.TCPDialer{}.Dial(context.Background(), ep)
	var be *transport.BrokerError
	if !errors.As(err, &be) {
		t.Fatalf("Dial err = %v, want BrokerError", err)
	}
	if be.Code != wire.ReasonQueueManagerName {
		t.Errorf("Code = %d, want %d", be.Code, wire.ReasonQueueManagerName)
	}
}

func TestAbandonedGetDoesNotDesyncSession(t *testing.T) {
	_, ep := startTCPBroker(t, broker.DefaultConfig())
	sess, err := native.TCPDialer{}.Dial(context.Background(), ep)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_, err = sess.Get(ctx, "SLOW", 150*time.Millisecond)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get err = %v, want DeadlineExceeded", err)
	}

	// The broker answers the abandoned get later; the next request must still
	// see its own reply.
	time.Sleep(200 * time.Millisecond)
	if err := sess.Put(context.Background(), "OTHER", []byte("x")); err != nil {
		t.Fatalf("Put after abandoned get: %v", err)
	}
	got, err := sess.Get(context.Background(), "OTHER", 0)
	if err != nil || string(got) != "x" {
		t.Fatalf("Get = %q, %v; want x", got, err)
	}
}

func TestSessionDroppedByBroker(t *testing.T) {
	b, ep := startTCPBroker(t, broker.DefaultConfig())
	sess, err := native.TCPDialer{}.Dial(context.Background(), ep)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	b.DropSessions()

	deadline := time.Now().Add(2 * time.Second)
	for {
		err = sess.Put(context.Background(), "Q", []byte("x"))
		if err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("put kept succeeding after session drop")
		}
		time.Sleep(10 * time.Millisecond)
	}
	var be *transport.BrokerError
	if errors.As(err, &be) || errors.Is(err, transport.ErrNoMessage) {
		t.Fatalf("err = %v, want a transport failure", err)
	}
}

func TestWebSocketPutGet(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	srv := httptest.NewServer(b.WebSocketHandler())
	t.Cleanup(func() {
		_ = b.Close()
		srv.Close()
	})

	hostPort := strings.TrimPrefix(srv.URL, "http://")
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	ep := transport.Endpoint{Host: host, Port: port, QueueManager: "QM1"}

	ctx := context.Background()
	sess, err := native.WebSocketDialer{Path: "/"}.Dial(ctx, ep)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	if err := sess.Put(ctx, "WS.Q", []byte("over websocket")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := sess.Get(ctx, "WS.Q", time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "over websocket" {
		t.Errorf("Get = %q", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, ep := startTCPBroker(t, broker.DefaultConfig())
	sess, err := native.TCPDialer{}.Dial(context.Background(), ep)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.Put(context.Background(), "Q", nil); !errors.Is(err, transport.ErrSessionClosed) {
		t.Errorf("Put after Close err = %v, want ErrSessionClosed", err)
	}
}
