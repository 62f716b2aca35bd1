// Package mq is the queue-client core: connections to a message-queuing
// broker, the codec for messages on the wire, a manager that hands each
// virtual user its own connection, and an executor that runs put and get
// operations with explicit timeouts and no implicit retries.
package mq

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/torosent/mqfire/internal/transport"
)

// TransportKind names the wire a Connection uses to reach its broker.
type TransportKind string

const (
	TransportTCP       TransportKind = "tcp"
	TransportWebSocket TransportKind = "websocket"
	TransportRedis     TransportKind = "redis"
	TransportKafka     TransportKind = "kafka"
)

const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultOperationTimeout = 5 * time.Second
)

// TLSConfig describes client-side TLS. Zero value means plaintext.
type TLSConfig struct {
	Enabled            bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// ConnectionConfig holds everything needed to open one broker session. A
// Connection keeps its own copy, so later changes to the caller's value have
// no effect on it.
type ConnectionConfig struct {
	Transport        TransportKind
	Host             string
	Port             int
	QueueManager     string
	Channel          string
	Queue            string
	ReplyQueue       string
	User             string
	Password         string
	AppName          string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	TLS              TLSConfig
	MaxMessageLength int
}

// Validate reports every problem with c as a *ConfigError.
func (c ConnectionConfig) Validate() error {
	var issues []string

	switch c.Transport {
	case "", TransportTCP, TransportWebSocket, TransportRedis, TransportKafka:
	default:
		issues = append(issues, fmt.Sprintf("transport %q is not supported (use tcp, websocket, redis, or kafka)", c.Transport))
	}
	if strings.TrimSpace(c.Host) == "" {
		issues = append(issues, "host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		issues = append(issues, fmt.Sprintf("port %d is out of range", c.Port))
	}
	if c.native() && strings.TrimSpace(c.QueueManager) == "" {
		issues = append(issues, "queue manager is required")
	}
	if c.native() && strings.TrimSpace(c.Channel) == "" {
		issues = append(issues, "channel is required")
	}
	if strings.TrimSpace(c.Queue) == "" {
		issues = append(issues, "queue is required")
	}
	if c.ConnectTimeout < 0 {
		issues = append(issues, "connect timeout must be non-negative")
	}
	if c.OperationTimeout < 0 {
		issues = append(issues, "operation timeout must be non-negative")
	}
	if c.MaxMessageLength < 0 {
		issues = append(issues, "max message length must be non-negative")
	}
	if c.Password != "" && c.User == "" {
		issues = append(issues, "password given without user")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		issues = append(issues, "tls cert and key must be provided together")
	}

	if len(issues) > 0 {
		return &ConfigError{Issues: issues}
	}
	return nil
}

// ReadQueue returns the queue Read consumes from.
func (c ConnectionConfig) ReadQueue() string {
	if c.ReplyQueue != "" {
		return c.ReplyQueue
	}
	return c.Queue
}

func (c ConnectionConfig) native() bool {
	return c.Transport == "" || c.Transport == TransportTCP || c.Transport == TransportWebSocket
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	return c
}

// endpoint resolves c into what a transport dialer needs. Certificate files
// are read here, so a bad path is still reported before any network I/O.
func (c ConnectionConfig) endpoint() (transport.Endpoint, error) {
	ep := transport.Endpoint{
		Host:             c.Host,
		Port:             c.Port,
		QueueManager:     c.QueueManager,
		Channel:          c.Channel,
		User:             c.User,
		Password:         c.Password,
		AppName:          c.AppName,
		MaxMessageLength: c.MaxMessageLength,
	}
	if !c.TLS.Enabled {
		return ep, nil
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed test brokers
	}
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = c.Host
	}
	var issues []string
	if c.TLS.CAFile != "" {
		pem, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			issues = append(issues, fmt.Sprintf("tls ca file: %v", err))
		} else {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				issues = append(issues, fmt.Sprintf("tls ca file %s contains no certificates", c.TLS.CAFile))
			}
			tlsCfg.RootCAs = pool
		}
	}
	if c.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			issues = append(issues, fmt.Sprintf("tls client certificate: %v", err))
		} else {
			tlsCfg.Certificates = []tls.Certificate{cert}
		}
	}
	if len(issues) > 0 {
		return transport.Endpoint{}, &ConfigError{Issues: issues}
	}
	ep.TLS = tlsCfg
	return ep, nil
}
