package mq

import "time"

// Operation names an executor or manager call, as reported to metrics.
type Operation string

const (
	OpConnect Operation = "connect"
	OpWrite   Operation = "write"
	OpRead    Operation = "read"
)

// Outcome classifies how an operation ended. Exactly one applies.
type Outcome int

const (
	Success Outcome = iota
	Timeout
	ConnectionLost
	ProtocolError
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case ConnectionLost:
		return "connection_lost"
	case ProtocolError:
		return "protocol_error"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// OperationResult is what Write and Read report. Message is set only for a
// successful Read; Err carries the cause of any other outcome.
type OperationResult struct {
	Op      Operation
	Outcome Outcome
	Message *Message
	Latency time.Duration
	Bytes   int
	Err     error
}

// OK reports whether the operation succeeded.
func (r OperationResult) OK() bool {
	return r.Outcome == Success
}
