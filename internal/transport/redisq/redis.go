// Package redisq maps queue sessions onto Redis lists. Each queue is a list
// named "<queue manager>:<queue>"; puts append with RPUSH and gets pop from
// the head, blocking with BLPOP when a wait is requested.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/torosent/mqfire/internal/transport"
	"github.com/torosent/mqfire/internal/wire"
)

// Dialer opens Redis-backed sessions.
type Dialer struct {
	// DB selects the Redis logical database.
	DB int
}

func (d Dialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Session, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  ep.Address(),
		Username:              ep.User,
		Password:              ep.Password,
		DB:                    d.DB,
		ClientName:            ep.AppName,
		TLSConfig:             ep.TLS,
		ContextTimeoutEnabled: true,
		PoolSize:              1,
		MaxRetries:            -1,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis handshake with %s: %w", ep.Address(), err)
	}
	return &Session{client: client, prefix: ep.QueueManager, maxLen: ep.MaxMessageLength}, nil
}

// Session is a single-connection Redis client bound to a key prefix.
type Session struct {
	client *redis.Client
	prefix string
	maxLen int
}

func (s *Session) key(queue string) string {
	if s.prefix == "" {
		return queue
	}
	return s.prefix + ":" + queue
}

func (s *Session) Put(ctx context.Context, queue string, payload []byte) error {
	if s.maxLen > 0 && len(payload) > s.maxLen {
		return &transport.BrokerError{Code: wire.ReasonMessageTooBig, Reason: fmt.Sprintf("message length %d exceeds %d", len(payload), s.maxLen)}
	}
	return classify(s.client.RPush(ctx, s.key(queue), payload).Err())
}

// Get pops one payload. Redis only accepts whole-second BLPOP timeouts, so
// waits are rounded up.
func (s *Session) Get(ctx context.Context, queue string, wait time.Duration) ([]byte, error) {
	if wait <= 0 {
		data, err := s.client.LPop(ctx, s.key(queue)).Bytes()
		if err != nil {
			return nil, classify(err)
		}
		return data, nil
	}

	timeout := wait.Truncate(time.Second)
	if timeout < wait {
		timeout += time.Second
	}
	res, err := s.client.BLPop(ctx, timeout, s.key(queue)).Result()
	if err != nil {
		return nil, classify(err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: BLPOP returned %d elements", transport.ErrProtocolViolation, len(res))
	}
	return []byte(res[1]), nil
}

func (s *Session) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return transport.ErrNoMessage
	case errors.Is(err, redis.ErrClosed):
		return transport.ErrSessionClosed
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return &transport.BrokerError{Code: wire.ReasonUnexpected, Reason: rerr.Error()}
	}
	return err
}
