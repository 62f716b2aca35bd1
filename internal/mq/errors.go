package mq

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnectionLost is the cause attached to results on a Failed connection.
	ErrConnectionLost = errors.New("mq: connection lost")
	// ErrManagerClosed is returned by Connect once CloseAll has run.
	ErrManagerClosed = errors.New("mq: connection manager closed")
)

// ConfigError lists everything wrong with a ConnectionConfig. It is always
// returned before any network I/O.
type ConfigError struct {
	Issues []string
}

func (e *ConfigError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid connection config: " + e.Issues[0]
	}
	return "invalid connection config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// ConnectionError reports a failed connect: unreachable host, rejected
// credentials, or an expired connect timeout.
type ConnectionError struct {
	Owner   string
	Address string
	Cause   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s for %s: %v", e.Address, e.Owner, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// StateError is returned when an operation is issued on a connection that is
// not in a state to run it.
type StateError struct {
	Op    Operation
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s requires a connected connection, state is %s", e.Op, e.State)
}

// CodecError reports a payload that cannot be encoded or decoded.
type CodecError struct {
	Reason string
	Err    error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: %s: %v", e.Reason, e.Err)
	}
	return "codec: " + e.Reason
}

func (e *CodecError) Unwrap() error { return e.Err }
