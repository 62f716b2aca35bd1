// Package kafkaq maps queue sessions onto Kafka topics. A queue name is used
// as the topic; readers join a consumer group named after the channel so
// concurrent virtual users share the messages of a queue rather than each
// seeing all of them.
package kafkaq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/torosent/mqfire/internal/transport"
	"github.com/torosent/mqfire/internal/wire"
)

// MinPollWait is the shortest fetch window. Kafka has no non-blocking
// fetch, so a no-wait get polls for this long.
const MinPollWait = 100 * time.Millisecond

const defaultGroup = "mqfire"

// Dialer opens Kafka-backed sessions.
type Dialer struct {
	// GroupID overrides the consumer group derived from the endpoint.
	GroupID string
}

func (d Dialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Session, error) {
	var mechanism sasl.Mechanism
	if ep.User != "" {
		mechanism = plain.Mechanism{Username: ep.User, Password: ep.Password}
	}
	clientID := ep.AppName
	if clientID == "" {
		clientID = defaultGroup
	}
	dialer := &kafka.Dialer{
		ClientID:      clientID,
		Timeout:       10 * time.Second,
		DualStack:     true,
		TLS:           ep.TLS,
		SASLMechanism: mechanism,
	}

	conn, err := dialer.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, fmt.Errorf("kafka handshake with %s: %w", ep.Address(), err)
	}
	_ = conn.Close()

	group := d.GroupID
	if group == "" {
		group = ep.Channel
	}
	if group == "" {
		group = clientID
	}

	return &Session{
		addr:   ep.Address(),
		group:  group,
		maxLen: ep.MaxMessageLength,
		dialer: dialer,
		writer:  newWriter(ep, clientID, mechanism),
		readers: make(map[string]*kafka.Reader),
	}, nil
}

// newWriter builds the producer for a session. Topics are never created on
// demand; a put to an unknown queue fails with UnknownTopicOrPartition.
func newWriter(ep transport.Endpoint, clientID string, mechanism sasl.Mechanism) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(ep.Address()),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		BatchSize:              1,
		Transport: &kafka.Transport{
			ClientID: clientID,
			TLS:      ep.TLS,
			SASL:     mechanism,
		},
	}
}

// Session owns one writer and a reader per queue read from.
type Session struct {
	addr   string
	group  string
	maxLen int
	dialer *kafka.Dialer
	writer *kafka.Writer

	mu      sync.Mutex
	readers map[string]*kafka.Reader
	closed  bool
}

func (s *Session) Put(ctx context.Context, queue string, payload []byte) error {
	if s.isClosed() {
		return transport.ErrSessionClosed
	}
	if s.maxLen > 0 && len(payload) > s.maxLen {
		return &transport.BrokerError{Code: wire.ReasonMessageTooBig, Reason: fmt.Sprintf("message length %d exceeds %d", len(payload), s.maxLen)}
	}
	return classify(s.writer.WriteMessages(ctx, kafka.Message{Topic: queue, Value: payload}))
}

// Get fetches the next message of the consumer group and commits it before
// returning, so delivery is at-least-once per group.
func (s *Session) Get(ctx context.Context, queue string, wait time.Duration) ([]byte, error) {
	r, err := s.reader(queue)
	if err != nil {
		return nil, err
	}
	if wait < MinPollWait {
		wait = MinPollWait
	}

	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	msg, err := r.FetchMessage(fetchCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, transport.ErrNoMessage
		}
		return nil, classify(err)
	}
	if err := r.CommitMessages(ctx, msg); err != nil {
		return nil, classify(err)
	}
	if msg.Value == nil {
		return []byte{}, nil
	}
	return msg.Value, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	readers := s.readers
	s.readers = nil
	s.mu.Unlock()

	var result *multierror.Error
	if err := s.writer.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close writer: %w", err))
	}
	for topic, r := range readers {
		if err := r.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close reader %s: %w", topic, err))
		}
	}
	return result.ErrorOrNil()
}

func (s *Session) reader(topic string) (*kafka.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrSessionClosed
	}
	if r, ok := s.readers[topic]; ok {
		return r, nil
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{s.addr},
		GroupID:     s.group,
		Topic:       topic,
		Dialer:      s.dialer,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     MinPollWait,
		StartOffset: kafka.FirstOffset,
	})
	s.readers[topic] = r
	return r, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return &transport.BrokerError{Code: reasonFor(kerr), Reason: kerr.Title()}
	}
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e != nil {
				return classify(e)
			}
		}
	}
	return err
}

func reasonFor(kerr kafka.Error) uint32 {
	switch kerr {
	case kafka.MessageSizeTooLarge:
		return wire.ReasonMessageTooBig
	case kafka.UnknownTopicOrPartition, kafka.InvalidTopic:
		return wire.ReasonUnknownObject
	case kafka.TopicAuthorizationFailed, kafka.GroupAuthorizationFailed, kafka.SASLAuthenticationFailed:
		return wire.ReasonNotAuthorized
	default:
		return wire.ReasonUnexpected
	}
}
