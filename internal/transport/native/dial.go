package native

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/torosent/mqfire/internal/transport"
	"github.com/torosent/mqfire/internal/wire"
)

// DefaultWebSocketPath is where the development broker accepts WebSocket sessions.
const DefaultWebSocketPath = "/mq"

// TCPDialer opens framed sessions over TCP, or TLS when the endpoint carries a
// TLS configuration.
type TCPDialer struct {
	Log logrus.FieldLogger
}

func (d TCPDialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Session, error) {
	var (
		conn net.Conn
		err  error
		nd   net.Dialer
	)
	if ep.TLS != nil {
		td := tls.Dialer{NetDialer: &nd, Config: ep.TLS}
		conn, err = td.DialContext(ctx, "tcp", ep.Address())
	} else {
		conn, err = nd.DialContext(ctx, "tcp", ep.Address())
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.Address(), err)
	}
	return Open(ctx, wire.NewStreamConn(conn), ep, d.Log)
}

// WebSocketDialer opens framed sessions tunnelled through WebSocket binary
// messages, for brokers reachable only through HTTP infrastructure.
type WebSocketDialer struct {
	Path string
	Log  logrus.FieldLogger
}

func (d WebSocketDialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Session, error) {
	path := d.Path
	if path == "" {
		path = DefaultWebSocketPath
	}
	scheme := "ws"
	if ep.TLS != nil {
		scheme = "wss"
	}
	target := url.URL{Scheme: scheme, Host: ep.Address(), Path: path}

	dialer := &websocket.Dialer{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: ep.TLS,
	}
	conn, resp, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return Open(ctx, wire.NewWebSocketConn(conn), ep, d.Log)
}
