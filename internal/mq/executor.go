package mq

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/mqfire/internal/metrics"
	"github.com/torosent/mqfire/internal/tracing"
	"github.com/torosent/mqfire/internal/transport"
)

// readSlack is added to a read's wait so the broker can answer "empty"
// before the client-side deadline fires.
const readSlack = 500 * time.Millisecond

// ExecutorOptions configures an Executor. Zero values pick the defaults.
type ExecutorOptions struct {
	Codec    Codec
	Recorder metrics.Recorder
	Tracer   trace.Tracer
	// Propagate injects the W3C trace context into written message properties.
	Propagate bool
}

// Executor runs write and read operations against connections. It holds no
// per-connection state and is safe for concurrent use.
type Executor struct {
	codec     Codec
	recorder  metrics.Recorder
	tracer    trace.Tracer
	propagate bool
	now       func() time.Time
}

func NewExecutor(opts ExecutorOptions) *Executor {
	e := &Executor{
		codec:     opts.Codec,
		recorder:  opts.Recorder,
		tracer:    opts.Tracer,
		propagate: opts.Propagate,
		now:       time.Now,
	}
	if e.codec == nil {
		e.codec = BinaryCodec{}
	}
	if e.recorder == nil {
		e.recorder = metrics.Discard{}
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("mqfire")
	}
	return e
}

// Write puts msg on the connection's queue and waits for the broker's
// acknowledgement. The returned error is non-nil only when conn is not in a
// state to run operations; every other failure is reported in the result.
func (e *Executor) Write(ctx context.Context, conn *Connection, msg Message) (OperationResult, error) {
	res := OperationResult{Op: OpWrite}
	if ctx.Err() != nil {
		res.Outcome, res.Err = Cancelled, ctx.Err()
		return res, nil
	}

	conn.opMu.Lock()
	defer conn.opMu.Unlock()

	sess, state := conn.active()
	if sess == nil {
		return e.refuse(res, conn, state)
	}
	cfg := conn.cfg

	msg.ID = e.newID()
	msg.PutTime = e.now().UTC()
	if len(msg.Properties) > 0 {
		msg.Properties = maps.Clone(msg.Properties)
	}

	spanCtx, span := tracing.StartOperationSpan(ctx, e.tracer, "publish", cfg.Queue)
	span.SetAttributes(attribute.String("messaging.message.id", msg.ID))
	if e.propagate {
		for k, v := range tracing.InjectProperties(spanCtx) {
			msg.SetString(k, v)
		}
	}

	payload, err := e.codec.Encode(msg)
	if err != nil {
		res.Outcome, res.Err = ProtocolError, err
		return e.finish(conn, span, res), nil
	}

	opCtx, cancel := context.WithTimeout(spanCtx, cfg.OperationTimeout)
	defer cancel()
	start := time.Now()
	err = sess.Put(opCtx, cfg.Queue, payload)
	res.Latency = time.Since(start)

	if err == nil {
		res.Outcome = Success
		res.Bytes = len(payload)
		conn.counters.RecordPut(len(payload))
		return e.finish(conn, span, res), nil
	}
	res.Outcome, res.Err = e.classify(ctx, conn, err)
	return e.finish(conn, span, res), nil
}

// Read takes one message from the connection's reply queue. A zero timeout
// means the connection's operation timeout; a negative timeout does not wait
// at all. An empty queue at expiry is a Timeout outcome, not an error.
// Messages whose time-to-live has passed are discarded as the broker would.
func (e *Executor) Read(ctx context.Context, conn *Connection, timeout time.Duration) (OperationResult, error) {
	res := OperationResult{Op: OpRead}
	if ctx.Err() != nil {
		res.Outcome, res.Err = Cancelled, ctx.Err()
		return res, nil
	}

	conn.opMu.Lock()
	defer conn.opMu.Unlock()

	sess, state := conn.active()
	if sess == nil {
		return e.refuse(res, conn, state)
	}
	cfg := conn.cfg
	queue := cfg.ReadQueue()

	wait := timeout
	if wait == 0 {
		wait = cfg.OperationTimeout
	}
	noWait := wait < 0
	if noWait {
		wait = 0
	}
	bound := wait + readSlack
	if noWait {
		bound = cfg.OperationTimeout
	}

	spanCtx, span := tracing.StartOperationSpan(ctx, e.tracer, "receive", queue)
	opCtx, cancel := context.WithTimeout(spanCtx, bound)
	defer cancel()

	start := time.Now()
	waitUntil := start.Add(wait)
	for {
		remaining := wait
		if !noWait {
			remaining = time.Until(waitUntil)
			if remaining < 0 {
				remaining = 0
			}
		}
		data, err := sess.Get(opCtx, queue, remaining)
		res.Latency = time.Since(start)
		if errors.Is(err, transport.ErrNoMessage) && !noWait && time.Until(waitUntil) > 0 {
			continue
		}
		if err != nil {
			res.Outcome, res.Err = e.classify(ctx, conn, err)
			return e.finish(conn, span, res), nil
		}

		msg, err := e.codec.Decode(data)
		if err != nil {
			res.Outcome, res.Err = ProtocolError, err
			return e.finish(conn, span, res), nil
		}
		if msg.Expired(e.now()) {
			conn.log.WithField("msg_id", msg.ID).Debug("discarding expired message")
			if noWait || time.Until(waitUntil) > 0 {
				continue
			}
			res.Outcome, res.Err = Timeout, transport.ErrNoMessage
			return e.finish(conn, span, res), nil
		}

		res.Outcome = Success
		res.Message = &msg
		res.Bytes = len(data)
		conn.counters.RecordGet(len(data))
		span.SetAttributes(attribute.String("messaging.message.id", msg.ID))
		if sc := tracing.ExtractProperties(spanCtx, stringProperties(msg)); sc.IsValid() {
			span.AddLink(trace.Link{SpanContext: sc})
		}
		return e.finish(conn, span, res), nil
	}
}

// refuse builds the result for an operation issued outside Connected. A
// Failed connection reports ConnectionLost without touching the network.
func (e *Executor) refuse(res OperationResult, conn *Connection, state State) (OperationResult, error) {
	if state == Failed {
		res.Outcome = ConnectionLost
		res.Err = fmt.Errorf("%w: %v", ErrConnectionLost, conn.Err())
		conn.counters.RecordError()
		e.recorder.RecordOperation(string(res.Op), res.Outcome.String(), 0, 0)
		return res, nil
	}
	err := &StateError{Op: res.Op, State: state}
	res.Outcome, res.Err = ProtocolError, err
	return res, err
}

// classify maps a transport error to an outcome, moving the connection to
// Failed or Closed when the error demands it.
func (e *Executor) classify(parent context.Context, conn *Connection, err error) (Outcome, error) {
	if parent.Err() != nil {
		if rerr := conn.release(); rerr != nil {
			conn.log.WithError(rerr).Debug("release after cancellation failed")
		}
		return Cancelled, parent.Err()
	}
	if errors.Is(err, transport.ErrNoMessage) || errors.Is(err, context.DeadlineExceeded) {
		return Timeout, err
	}
	var be *transport.BrokerError
	var ce *CodecError
	if errors.As(err, &be) || errors.As(err, &ce) || errors.Is(err, transport.ErrProtocolViolation) {
		return ProtocolError, err
	}
	conn.fail(err)
	return ConnectionLost, fmt.Errorf("%w: %v", ErrConnectionLost, err)
}

func (e *Executor) finish(conn *Connection, span trace.Span, res OperationResult) OperationResult {
	switch res.Outcome {
	case Success:
	case Timeout:
		conn.counters.RecordTimeout()
	default:
		conn.counters.RecordError()
	}
	e.recorder.RecordOperation(string(res.Op), res.Outcome.String(), res.Latency, res.Bytes)

	var spanErr error
	if res.Outcome != Success && res.Outcome != Timeout {
		spanErr = res.Err
	}
	tracing.EndSpan(span, spanErr, attribute.String("mqfire.outcome", res.Outcome.String()))
	return res
}

func (e *Executor) newID() string {
	return ulid.MustNew(ulid.Timestamp(e.now()), ulid.DefaultEntropy()).String()
}

func stringProperties(m Message) map[string]string {
	if len(m.Properties) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.Properties))
	for k, p := range m.Properties {
		if p.Kind == PropertyString {
			out[k] = p.Str
		}
	}
	return out
}
