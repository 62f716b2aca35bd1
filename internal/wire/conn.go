package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MaxFrameSize bounds a single frame so a corrupt length prefix cannot force a
// huge allocation.
const MaxFrameSize = 64 << 20

// ErrFrameTooLarge is returned when a peer announces a frame above MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame too large")

// Conn moves frames over an established transport. ReadFrame must only be
// called from one goroutine; WriteFrame is safe for concurrent use.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame, deadline time.Time) error
	Close() error
	RemoteAddr() string
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	body := Marshal(f)
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Unmarshal(body)
}

type streamConn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewStreamConn frames a byte stream such as a TCP or TLS connection.
func NewStreamConn(c net.Conn) Conn {
	return &streamConn{conn: c, reader: bufio.NewReaderSize(c, 32*1024)}
}

func (s *streamConn) ReadFrame() (Frame, error) {
	return ReadFrame(s.reader)
}

func (s *streamConn) WriteFrame(f Frame, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return WriteFrame(s.conn, f)
}

func (s *streamConn) Close() error {
	return s.conn.Close()
}

func (s *streamConn) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

type webSocketConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketConn carries one frame per binary WebSocket message.
func NewWebSocketConn(c *websocket.Conn) Conn {
	c.SetReadLimit(MaxFrameSize)
	return &webSocketConn{conn: c}
}

func (w *webSocketConn) ReadFrame() (Frame, error) {
	msgType, data, err := w.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if msgType != websocket.BinaryMessage {
		return Frame{}, fmt.Errorf("%w: unexpected websocket message type %d", ErrMalformedFrame, msgType)
	}
	return Unmarshal(data)
}

func (w *webSocketConn) WriteFrame(f Frame, deadline time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, Marshal(f))
}

func (w *webSocketConn) Close() error {
	w.mu.Lock()
	err := w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	w.mu.Unlock()

	closeErr := w.conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return closeErr
}

func (w *webSocketConn) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
