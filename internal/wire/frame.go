// Package wire implements the framing spoken between mqfire clients and the
// development broker. Frame bodies use the protobuf wire format so that new
// fields can be added without breaking older peers; each frame on a byte
// stream is prefixed with its big-endian uint32 length.
package wire

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Op identifies the kind of a frame.
type Op uint8

const (
	OpHello Op = iota + 1
	OpHelloOK
	OpPut
	OpPutAck
	OpGet
	OpMessage
	OpEmpty
	OpError
	OpBye
)

func (o Op) String() string {
	switch o {
	case OpHello:
		return "HELLO"
	case OpHelloOK:
		return "HELLO_OK"
	case OpPut:
		return "PUT"
	case OpPutAck:
		return "PUT_ACK"
	case OpGet:
		return "GET"
	case OpMessage:
		return "MESSAGE"
	case OpEmpty:
		return "EMPTY"
	case OpError:
		return "ERROR"
	case OpBye:
		return "BYE"
	default:
		return fmt.Sprintf("OP(%d)", uint8(o))
	}
}

// Frame is a single request or response. Corr ties a response to the request
// that produced it.
type Frame struct {
	Op     Op
	Corr   uint64
	Queue  string
	Data   []byte
	Wait   time.Duration // GET only; zero means do not wait
	Code   uint32        // ERROR only
	Reason string        // ERROR only
	Hello  *Hello        // HELLO only
}

// Hello carries the session identity presented during the handshake.
type Hello struct {
	QueueManager     string
	Channel          string
	User             string
	Password         string
	AppName          string
	MaxMessageLength uint32
}

// ErrMalformedFrame is returned when a frame body cannot be parsed.
var ErrMalformedFrame = errors.New("wire: malformed frame")

const (
	fieldOp     protowire.Number = 1
	fieldCorr   protowire.Number = 2
	fieldQueue  protowire.Number = 3
	fieldData   protowire.Number = 4
	fieldWaitMs protowire.Number = 5
	fieldCode   protowire.Number = 6
	fieldReason protowire.Number = 7
	fieldHello  protowire.Number = 8
)

const (
	helloQueueManager protowire.Number = 1
	helloChannel      protowire.Number = 2
	helloUser         protowire.Number = 3
	helloPassword     protowire.Number = 4
	helloAppName      protowire.Number = 5
	helloMaxLength    protowire.Number = 6
)

// waitMillis rounds d up to whole milliseconds so the broker never gives up
// before the caller's deadline.
func waitMillis(d time.Duration) uint64 {
	return uint64((d + time.Millisecond - 1) / time.Millisecond)
}

// Marshal encodes a frame body.
func Marshal(f Frame) []byte {
	b := make([]byte, 0, 32+len(f.Queue)+len(f.Data)+len(f.Reason))
	b = protowire.AppendTag(b, fieldOp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Op))
	if f.Corr != 0 {
		b = protowire.AppendTag(b, fieldCorr, protowire.VarintType)
		b = protowire.AppendVarint(b, f.Corr)
	}
	if f.Queue != "" {
		b = protowire.AppendTag(b, fieldQueue, protowire.BytesType)
		b = protowire.AppendString(b, f.Queue)
	}
	if f.Data != nil {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Data)
	}
	if f.Wait > 0 {
		b = protowire.AppendTag(b, fieldWaitMs, protowire.VarintType)
		b = protowire.AppendVarint(b, waitMillis(f.Wait))
	}
	if f.Code != 0 {
		b = protowire.AppendTag(b, fieldCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Code))
	}
	if f.Reason != "" {
		b = protowire.AppendTag(b, fieldReason, protowire.BytesType)
		b = protowire.AppendString(b, f.Reason)
	}
	if f.Hello != nil {
		b = protowire.AppendTag(b, fieldHello, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalHello(*f.Hello))
	}
	return b
}

func marshalHello(h Hello) []byte {
	var b []byte
	b = appendString(b, helloQueueManager, h.QueueManager)
	b = appendString(b, helloChannel, h.Channel)
	b = appendString(b, helloUser, h.User)
	b = appendString(b, helloPassword, h.Password)
	b = appendString(b, helloAppName, h.AppName)
	if h.MaxMessageLength > 0 {
		b = protowire.AppendTag(b, helloMaxLength, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.MaxMessageLength))
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Unmarshal decodes a frame body produced by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (Frame, error) {
	var f Frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, malformed(protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldOp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, malformed(protowire.ParseError(n))
			}
			f.Op = Op(v)
			b = b[n:]
		case num == fieldCorr && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, malformed(protowire.ParseError(n))
			}
			f.Corr = v
			b = b[n:]
		case num == fieldQueue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Frame{}, malformed(protowire.ParseError(n))
			}
			f.Queue = v
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Frame{}, malformed(protowire.ParseError(n))
			}
			f.Data = append([]byte{}, v...)
			b = b[n:]
		case num == fieldWaitMs && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, malformed(protowire.ParseError(n))
			}
			f.Wait = time.Duration(v) * time.Millisecond
			b = b[n:]
		case num == fieldCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, malformed(protowire.ParseError(n))
			}
			f.Code = uint32(v)
			b = b[n:]
		case num == fieldReason && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Frame{}, malformed(protowire.ParseError(n))
			}
			f.Reason = v
			b = b[n:]
		case num == fieldHello && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Frame{}, malformed(protowire.ParseError(n))
			}
			h, err := unmarshalHello(v)
			if err != nil {
				return Frame{}, err
			}
			f.Hello = &h
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Frame{}, malformed(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if f.Op == 0 {
		return Frame{}, fmt.Errorf("%w: missing op", ErrMalformedFrame)
	}
	return f, nil
}

func unmarshalHello(b []byte) (Hello, error) {
	var h Hello
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Hello{}, malformed(protowire.ParseError(n))
		}
		b = b[n:]
		if num == helloMaxLength && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Hello{}, malformed(protowire.ParseError(n))
			}
			h.MaxMessageLength = uint32(v)
			b = b[n:]
			continue
		}
		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Hello{}, malformed(protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return Hello{}, malformed(protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case helloQueueManager:
			h.QueueManager = v
		case helloChannel:
			h.Channel = v
		case helloUser:
			h.User = v
		case helloPassword:
			h.Password = v
		case helloAppName:
			h.AppName = v
		}
	}
	return h, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
}
