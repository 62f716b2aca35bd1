package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/mqfire/internal/wire"
)

const replyTimeout = 5 * time.Second

type session struct {
	conn   wire.Conn
	log    logrus.FieldLogger
	maxLen int
	wg     sync.WaitGroup
}

// Serve accepts framed TCP sessions on ln until ctx is cancelled or the
// listener fails.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	b.log.WithField("addr", ln.Addr().String()).Info("broker listening")
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go b.ServeConn(ctx, wire.NewStreamConn(c))
	}
}

// WebSocketHandler upgrades HTTP requests to framed WebSocket sessions.
func (b *Broker) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.log.WithError(err).Debug("websocket upgrade failed")
			return
		}
		b.ServeConn(r.Context(), wire.NewWebSocketConn(c))
	})
}

// ServeConn runs one client session to completion.
func (b *Broker) ServeConn(ctx context.Context, conn wire.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		conn: conn,
		log:  b.log.WithField("remote", conn.RemoteAddr()),
	}
	if !b.register(s) {
		_ = conn.Close()
		cancel()
		return
	}
	defer func() {
		cancel()
		_ = conn.Close()
		s.wg.Wait()
		b.unregister(s)
		s.log.Debug("session ended")
	}()

	handshaken := false
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.WithError(err).Debug("read failed")
			}
			return
		}

		if f.Op == wire.OpBye {
			return
		}
		if !handshaken {
			if f.Op != wire.OpHello {
				b.reply(s, errorFrame(f.Corr, wire.ReasonUnexpected, "handshake required"))
				return
			}
			resp := b.handshake(s, f)
			b.reply(s, resp)
			if resp.Op != wire.OpHelloOK {
				return
			}
			handshaken = true
			continue
		}

		switch f.Op {
		case wire.OpPut:
			b.reply(s, b.put(s, f))
		case wire.OpGet:
			if f.Wait <= 0 {
				b.serveGet(ctx, s, f)
				continue
			}
			s.wg.Add(1)
			go func(f wire.Frame) {
				defer s.wg.Done()
				b.serveGet(ctx, s, f)
			}(f)
		default:
			b.reply(s, errorFrame(f.Corr, wire.ReasonUnexpected, fmt.Sprintf("unexpected %s", f.Op)))
		}
	}
}

func (b *Broker) handshake(s *session, f wire.Frame) wire.Frame {
	h := f.Hello
	if h == nil {
		return errorFrame(f.Corr, wire.ReasonUnexpected, "hello without identity")
	}
	if h.QueueManager != b.cfg.QueueManager {
		return errorFrame(f.Corr, wire.ReasonQueueManagerName,
			fmt.Sprintf("queue manager %q not available", h.QueueManager))
	}
	if len(b.cfg.Channels) > 0 && !slices.Contains(b.cfg.Channels, h.Channel) {
		return errorFrame(f.Corr, wire.ReasonUnknownChannel,
			fmt.Sprintf("channel %q not defined", h.Channel))
	}
	if len(b.cfg.Users) > 0 {
		if pw, ok := b.cfg.Users[h.User]; !ok || pw != h.Password {
			return errorFrame(f.Corr, wire.ReasonNotAuthorized, "not authorized")
		}
	}

	s.maxLen = b.cfg.MaxMessageLength
	if h.MaxMessageLength > 0 && int(h.MaxMessageLength) < s.maxLen {
		s.maxLen = int(h.MaxMessageLength)
	}
	s.log = s.log.WithFields(logrus.Fields{"app": h.AppName, "channel": h.Channel})
	s.log.Debug("session established")
	return wire.Frame{Op: wire.OpHelloOK, Corr: f.Corr}
}

func (b *Broker) put(s *session, f wire.Frame) wire.Frame {
	if len(f.Data) > s.maxLen {
		return errorFrame(f.Corr, wire.ReasonMessageTooBig,
			fmt.Sprintf("message length %d exceeds %d", len(f.Data), s.maxLen))
	}
	q := b.putTarget(f.Queue)
	if q == nil {
		return errorFrame(f.Corr, wire.ReasonUnknownObject, fmt.Sprintf("queue %q not defined", f.Queue))
	}
	data := f.Data
	if data == nil {
		data = []byte{}
	}
	if !q.put(data) {
		return errorFrame(f.Corr, wire.ReasonQueueFull, fmt.Sprintf("queue %q is full", q.name))
	}
	return wire.Frame{Op: wire.OpPutAck, Corr: f.Corr}
}

func (b *Broker) serveGet(ctx context.Context, s *session, f wire.Frame) {
	q := b.getTarget(f.Queue)
	if q == nil {
		b.reply(s, errorFrame(f.Corr, wire.ReasonUnknownObject, fmt.Sprintf("queue %q not defined", f.Queue)))
		return
	}
	data, ok := q.get(ctx, f.Wait)
	if !ok {
		if ctx.Err() != nil {
			return
		}
		b.reply(s, wire.Frame{Op: wire.OpEmpty, Corr: f.Corr})
		return
	}
	if !b.reply(s, wire.Frame{Op: wire.OpMessage, Corr: f.Corr, Data: data}) {
		q.requeue(data)
	}
}

func (b *Broker) reply(s *session, f wire.Frame) bool {
	if err := s.conn.WriteFrame(f, time.Now().Add(replyTimeout)); err != nil {
		s.log.WithError(err).WithField("op", f.Op.String()).Debug("reply failed")
		_ = s.conn.Close()
		return false
	}
	return true
}

func errorFrame(corr uint64, code uint32, reason string) wire.Frame {
	return wire.Frame{Op: wire.OpError, Corr: corr, Code: code, Reason: reason}
}
