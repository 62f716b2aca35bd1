package clientmetrics

import (
	"sync"
	"time"
)

// Counters tracks message traffic for a single broker connection.
type Counters struct {
	mu          sync.Mutex
	connectedAt time.Time
	putCount    int64
	getCount    int64
	bytesPut    int64
	bytesGot    int64
	timeouts    int64
	errors      int64
}

// New creates a new Counters instance.
func New() *Counters {
	return &Counters{}
}

// MarkConnected records when the session was established.
func (m *Counters) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectedAt = time.Now()
}

// MarkDisconnected clears the session start time.
func (m *Counters) MarkDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectedAt = time.Time{}
}

// RecordPut counts one acknowledged put of the given encoded size.
func (m *Counters) RecordPut(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCount++
	m.bytesPut += int64(bytes)
}

// RecordGet counts one message received.
func (m *Counters) RecordGet(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCount++
	m.bytesGot += int64(bytes)
}

func (m *Counters) RecordTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

func (m *Counters) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	ConnectedFor time.Duration
	MessagesPut  int64
	MessagesGot  int64
	BytesPut     int64
	BytesGot     int64
	Timeouts     int64
	Errors       int64
}

// Snapshot returns a consistent snapshot of all counters.
func (m *Counters) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var connectedFor time.Duration
	if !m.connectedAt.IsZero() {
		connectedFor = time.Since(m.connectedAt)
	}
	return Snapshot{
		ConnectedFor: connectedFor,
		MessagesPut:  m.putCount,
		MessagesGot:  m.getCount,
		BytesPut:     m.bytesPut,
		BytesGot:     m.bytesGot,
		Timeouts:     m.timeouts,
		Errors:       m.errors,
	}
}

// Add returns the field-wise sum of s and other. ConnectedFor keeps the
// longer of the two.
func (s Snapshot) Add(other Snapshot) Snapshot {
	out := Snapshot{
		ConnectedFor: s.ConnectedFor,
		MessagesPut:  s.MessagesPut + other.MessagesPut,
		MessagesGot:  s.MessagesGot + other.MessagesGot,
		BytesPut:     s.BytesPut + other.BytesPut,
		BytesGot:     s.BytesGot + other.BytesGot,
		Timeouts:     s.Timeouts + other.Timeouts,
		Errors:       s.Errors + other.Errors,
	}
	if other.ConnectedFor > out.ConnectedFor {
		out.ConnectedFor = other.ConnectedFor
	}
	return out
}
