// Package script holds the load-test scripts mqfire ships with.
package script

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go"

	"github.com/torosent/mqfire/internal/feeder"
	"github.com/torosent/mqfire/internal/lifecycle"
	"github.com/torosent/mqfire/internal/mq"
)

// DefaultPayloadSize is used when neither a payload nor a size is given.
const DefaultPayloadSize = 256

// EchoOptions tune the echo script.
type EchoOptions struct {
	Payload     []byte
	PayloadSize int
	Properties  map[string]string
	Priority    int
	Persistence mq.Persistence
	TTL         time.Duration
	// ReadWait bounds each read. Zero uses the operation timeout.
	ReadWait time.Duration
	// WriteAttempts is the number of tries a write gets when it times out.
	// Other outcomes are never retried.
	WriteAttempts uint
	RetryDelay    time.Duration
	// Feeder, when set, supplies one record per message. Its fields fill
	// {{field}} placeholders in the payload and are sent as properties.
	Feeder feeder.Feeder
}

// OutcomeError reports an operation that did not succeed.
type OutcomeError struct {
	Op      mq.Operation
	Outcome mq.Outcome
	Err     error
}

func (e *OutcomeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Outcome)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Outcome, e.Err)
}

func (e *OutcomeError) Unwrap() error { return e.Err }

// Echo returns hooks that write a message to the request queue and read the
// echoed reply from the reply queue on every iteration.
func Echo(opts EchoOptions) lifecycle.Hooks {
	if len(opts.Payload) == 0 {
		size := opts.PayloadSize
		if size <= 0 {
			size = DefaultPayloadSize
		}
		opts.Payload = make([]byte, size)
		for i := range opts.Payload {
			opts.Payload[i] = 'a' + byte(i%26)
		}
	}
	if opts.WriteAttempts == 0 {
		opts.WriteAttempts = 1
	}
	e := &echo{opts: opts}
	return lifecycle.Hooks{
		Setup:    e.setup,
		Default:  e.iterate,
		Teardown: e.teardown,
	}
}

type echo struct {
	opts EchoOptions
}

// setup checks that the broker accepts a connection before any VU starts.
func (e *echo) setup(ctx context.Context, vu *lifecycle.VU) error {
	conn, err := vu.Connect(ctx)
	if err != nil {
		return err
	}
	vu.Logger().WithField("conn", conn.ID()).Info("broker reachable")
	return vu.Close()
}

func (e *echo) iterate(ctx context.Context, vu *lifecycle.VU) error {
	msg, err := e.message(ctx, vu)
	if err != nil {
		return err
	}

	err = retry.Do(
		func() error {
			res, err := vu.Write(ctx, msg)
			if err != nil {
				return err
			}
			if res.OK() {
				return nil
			}
			return &OutcomeError{Op: res.Op, Outcome: res.Outcome, Err: res.Err}
		},
		retry.Context(ctx),
		retry.RetryIf(isTimeout),
		retry.Attempts(e.opts.WriteAttempts),
		retry.Delay(e.opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			vu.Logger().WithError(err).WithField("attempt", n+1).Debug("retrying write")
		}),
	)
	if err != nil {
		return e.fail(vu, err)
	}

	res, err := vu.Read(ctx, e.opts.ReadWait)
	if err != nil {
		return e.fail(vu, err)
	}
	if !res.OK() {
		return e.fail(vu, &OutcomeError{Op: res.Op, Outcome: res.Outcome, Err: res.Err})
	}
	return nil
}

func isTimeout(err error) bool {
	var oe *OutcomeError
	return errors.As(err, &oe) && oe.Outcome == mq.Timeout
}

// fail drops a lost connection so the VU's next iteration reconnects.
func (e *echo) fail(vu *lifecycle.VU, err error) error {
	var oe *OutcomeError
	if errors.As(err, &oe) && oe.Outcome == mq.ConnectionLost {
		vu.Logger().WithError(err).Warn("connection lost, reconnecting on next iteration")
		_ = vu.Close()
	}
	return err
}

func (e *echo) teardown(_ context.Context, vu *lifecycle.VU) error {
	vu.Logger().Info("echo run finished")
	return nil
}

func (e *echo) message(ctx context.Context, vu *lifecycle.VU) (mq.Message, error) {
	payload := e.opts.Payload
	var record feeder.Record
	if e.opts.Feeder != nil {
		rec, err := e.opts.Feeder.Next(ctx)
		if err != nil {
			return mq.Message{}, fmt.Errorf("data feeder: %w", err)
		}
		record = rec
		payload = []byte(feeder.Substitute(string(payload), record))
	}

	msg := mq.NewMessage(payload)
	for k, v := range e.opts.Properties {
		msg.SetString(k, v)
	}
	for k, v := range record {
		msg.SetString(k, v)
	}
	msg.SetString("vu", strconv.Itoa(vu.ID()))
	msg.Priority = e.opts.Priority
	msg.Persistence = e.opts.Persistence
	msg.TTL = e.opts.TTL
	return msg, nil
}
