package mq

import "time"

// PropertyKind tags the value held by a Property.
type PropertyKind uint8

const (
	PropertyString PropertyKind = iota + 1
	PropertyBytes
)

// Property is a message property value: either a string or raw bytes.
type Property struct {
	Kind  PropertyKind
	Str   string
	Bytes []byte
}

func StringProperty(v string) Property { return Property{Kind: PropertyString, Str: v} }

func BytesProperty(v []byte) Property { return Property{Kind: PropertyBytes, Bytes: v} }

// Persistence controls whether the broker keeps a message across restarts.
type Persistence uint8

const (
	PersistenceDefault Persistence = iota
	NonPersistent
	Persistent
)

// MaxPriority is the highest message priority.
const MaxPriority = 9

// Message is a payload plus its properties and descriptor fields. ID and
// PutTime are assigned by Write.
type Message struct {
	Payload       []byte
	Properties    map[string]Property
	ID            string
	CorrelationID string
	Priority      int
	Persistence   Persistence
	TTL           time.Duration
	PutTime       time.Time
}

// NewMessage returns a message carrying payload.
func NewMessage(payload []byte) Message {
	return Message{Payload: payload}
}

func (m *Message) SetString(key, value string) {
	m.set(key, StringProperty(value))
}

func (m *Message) SetBytes(key string, value []byte) {
	m.set(key, BytesProperty(value))
}

func (m *Message) set(key string, p Property) {
	if m.Properties == nil {
		m.Properties = make(map[string]Property)
	}
	m.Properties[key] = p
}

// Text returns the value of a string property.
func (m Message) Text(key string) (string, bool) {
	p, ok := m.Properties[key]
	if !ok || p.Kind != PropertyString {
		return "", false
	}
	return p.Str, true
}

// Expired reports whether a message with a TTL has outlived it at now.
func (m Message) Expired(now time.Time) bool {
	return m.TTL > 0 && !m.PutTime.IsZero() && now.After(m.PutTime.Add(m.TTL))
}
