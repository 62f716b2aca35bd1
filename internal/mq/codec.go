package mq

import (
	"encoding/binary"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Codec converts messages to and from broker payloads.
type Codec interface {
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

var codecMagic = [4]byte{'M', 'Q', 'F', '1'}

const headerLen = 8

// Message body field numbers.
const (
	fieldPayload     protowire.Number = 1
	fieldProperty    protowire.Number = 2
	fieldID          protowire.Number = 3
	fieldCorrelation protowire.Number = 4
	fieldPriority    protowire.Number = 5
	fieldPersistence protowire.Number = 6
	fieldTTL         protowire.Number = 7
	fieldPutTime     protowire.Number = 8
)

// Property entry field numbers.
const (
	propKey   protowire.Number = 1
	propKind  protowire.Number = 2
	propValue protowire.Number = 3
)

// BinaryCodec is the default Codec: a 4-byte magic, a 4-byte big-endian body
// length, then the body in protobuf wire format.
type BinaryCodec struct{}

func (BinaryCodec) Encode(m Message) ([]byte, error) {
	if m.Priority < 0 || m.Priority > MaxPriority {
		return nil, &CodecError{Reason: fmt.Sprintf("priority %d out of range 0-%d", m.Priority, MaxPriority)}
	}
	if m.TTL < 0 {
		return nil, &CodecError{Reason: "negative time-to-live"}
	}

	var body []byte
	body = protowire.AppendTag(body, fieldPayload, protowire.BytesType)
	body = protowire.AppendBytes(body, m.Payload)

	for key, p := range m.Properties {
		var value []byte
		switch p.Kind {
		case PropertyString:
			value = []byte(p.Str)
		case PropertyBytes:
			value = p.Bytes
		default:
			return nil, &CodecError{Reason: fmt.Sprintf("property %q has unknown kind %d", key, p.Kind)}
		}
		var entry []byte
		entry = protowire.AppendTag(entry, propKey, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = protowire.AppendTag(entry, propKind, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(p.Kind))
		entry = protowire.AppendTag(entry, propValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, value)

		body = protowire.AppendTag(body, fieldProperty, protowire.BytesType)
		body = protowire.AppendBytes(body, entry)
	}

	if m.ID != "" {
		body = protowire.AppendTag(body, fieldID, protowire.BytesType)
		body = protowire.AppendString(body, m.ID)
	}
	if m.CorrelationID != "" {
		body = protowire.AppendTag(body, fieldCorrelation, protowire.BytesType)
		body = protowire.AppendString(body, m.CorrelationID)
	}
	if m.Priority != 0 {
		body = protowire.AppendTag(body, fieldPriority, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(m.Priority))
	}
	if m.Persistence != PersistenceDefault {
		body = protowire.AppendTag(body, fieldPersistence, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(m.Persistence))
	}
	if m.TTL != 0 {
		body = protowire.AppendTag(body, fieldTTL, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(m.TTL))
	}
	if !m.PutTime.IsZero() {
		body = protowire.AppendTag(body, fieldPutTime, protowire.Fixed64Type)
		body = protowire.AppendFixed64(body, uint64(m.PutTime.UnixNano()))
	}

	out := make([]byte, headerLen, headerLen+len(body))
	copy(out, codecMagic[:])
	binary.BigEndian.PutUint32(out[4:], uint32(len(body)))
	return append(out, body...), nil
}

func (BinaryCodec) Decode(b []byte) (Message, error) {
	if len(b) < headerLen {
		return Message{}, &CodecError{Reason: fmt.Sprintf("truncated header: %d bytes", len(b))}
	}
	if [4]byte(b[:4]) != codecMagic {
		return Message{}, &CodecError{Reason: fmt.Sprintf("bad magic %q", b[:4])}
	}
	size := binary.BigEndian.Uint32(b[4:headerLen])
	body := b[headerLen:]
	if uint64(len(body)) < uint64(size) {
		return Message{}, &CodecError{Reason: fmt.Sprintf("truncated body: have %d of %d bytes", len(body), size)}
	}
	if uint64(len(body)) != uint64(size) {
		return Message{}, &CodecError{Reason: fmt.Sprintf("length mismatch: header says %d, body has %d bytes", size, len(body))}
	}

	var m Message
	sawPayload := false
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return Message{}, malformed("tag", n)
		}
		body = body[n:]

		switch {
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return Message{}, malformed("payload", n)
			}
			m.Payload = append([]byte{}, v...)
			sawPayload = true
			body = body[n:]
		case num == fieldProperty && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return Message{}, malformed("property", n)
			}
			key, p, err := decodeProperty(v)
			if err != nil {
				return Message{}, err
			}
			m.set(key, p)
			body = body[n:]
		case (num == fieldID || num == fieldCorrelation) && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(body)
			if n < 0 {
				return Message{}, malformed("identifier", n)
			}
			if num == fieldID {
				m.ID = v
			} else {
				m.CorrelationID = v
			}
			body = body[n:]
		case (num == fieldPriority || num == fieldPersistence || num == fieldTTL) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return Message{}, malformed("descriptor", n)
			}
			switch num {
			case fieldPriority:
				if v > MaxPriority {
					return Message{}, &CodecError{Reason: fmt.Sprintf("priority %d out of range", v)}
				}
				m.Priority = int(v)
			case fieldPersistence:
				if v > uint64(Persistent) {
					return Message{}, &CodecError{Reason: fmt.Sprintf("unknown persistence %d", v)}
				}
				m.Persistence = Persistence(v)
			case fieldTTL:
				m.TTL = time.Duration(v)
			}
			body = body[n:]
		case num == fieldPutTime && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(body)
			if n < 0 {
				return Message{}, malformed("put time", n)
			}
			m.PutTime = time.Unix(0, int64(v)).UTC()
			body = body[n:]
		case num >= fieldPayload && num <= fieldPutTime:
			return Message{}, &CodecError{Reason: fmt.Sprintf("field %d has wire type %d", num, typ)}
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return Message{}, malformed("unknown field", n)
			}
			body = body[n:]
		}
	}
	if !sawPayload {
		return Message{}, &CodecError{Reason: "missing payload"}
	}
	return m, nil
}

func decodeProperty(b []byte) (string, Property, error) {
	var (
		key      string
		kind     uint64
		value    []byte
		haveKey  bool
		haveKind bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", Property{}, malformed("property tag", n)
		}
		b = b[n:]
		switch {
		case num == propKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", Property{}, malformed("property key", n)
			}
			key, haveKey = v, true
			b = b[n:]
		case num == propKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return "", Property{}, malformed("property kind", n)
			}
			kind, haveKind = v, true
			b = b[n:]
		case num == propValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", Property{}, malformed("property value", n)
			}
			value = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", Property{}, malformed("property field", n)
			}
			b = b[n:]
		}
	}
	if !haveKey || !haveKind {
		return "", Property{}, &CodecError{Reason: "property missing key or kind"}
	}
	switch PropertyKind(kind) {
	case PropertyString:
		return key, StringProperty(string(value)), nil
	case PropertyBytes:
		return key, BytesProperty(append([]byte{}, value...)), nil
	default:
		return "", Property{}, &CodecError{Reason: fmt.Sprintf("property %q has unknown kind %d", key, kind)}
	}
}

func malformed(what string, n int) error {
	return &CodecError{Reason: "malformed " + what, Err: protowire.ParseError(n)}
}
