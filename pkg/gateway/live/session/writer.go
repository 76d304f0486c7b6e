package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second

	shutdownFlushWindow = 100 * time.Millisecond
	shutdownFlushFrames = 16
)

// wsWriter is the write half of *websocket.Conn.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type outboundFrame struct {
	textPayload []byte
}

// outboundWriter is the only goroutine that writes to the socket. Frames on
// the priority queue (drain notices) go out before anything waiting on the
// normal queue; each queue keeps its own order.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan outboundFrame
	normal   <-chan outboundFrame
}

func (w *outboundWriter) timeouts() (ping, write time.Duration) {
	ping, write = w.cfg.PingInterval, w.cfg.WriteTimeout
	if ping <= 0 {
		ping = defaultPingInterval
	}
	if write <= 0 {
		write = defaultWriteTimeout
	}
	return ping, write
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	pingEvery, writeTimeout := w.timeouts()
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for w.priority != nil || w.normal != nil {
		if ctx.Err() != nil {
			w.closeGracefully(writeTimeout)
			return nil
		}

		// Priority frames never wait behind a ready normal frame.
		if frame, ok, got := tryRecv(&w.priority); got {
			if ok {
				if err := w.send(frame, writeTimeout); err != nil {
					return err
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
			} else if err := w.send(frame, writeTimeout); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
			} else if err := w.send(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
	return nil
}

// tryRecv polls ch without blocking. got is false when nothing was ready; a
// closed channel is reported as got with ok false and ch is set to nil.
func tryRecv(ch *<-chan outboundFrame) (frame outboundFrame, ok, got bool) {
	if *ch == nil {
		return outboundFrame{}, false, false
	}
	select {
	case frame, ok = <-*ch:
		if !ok {
			*ch = nil
		}
		return frame, ok, true
	default:
		return outboundFrame{}, false, false
	}
}

// closeGracefully writes whatever is already queued, within a short window, so
// a final error or drain notice lands before the close frame.
func (w *outboundWriter) closeGracefully(writeTimeout time.Duration) {
	window := min(shutdownFlushWindow, writeTimeout)
	deadline := time.Now().Add(window)

	for _, ch := range []*<-chan outboundFrame{&w.priority, &w.normal} {
		for i := 0; i < shutdownFlushFrames && time.Now().Before(deadline); i++ {
			frame, ok, got := tryRecv(ch)
			if !got || !ok {
				break
			}
			_ = w.send(frame, writeTimeout)
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeTimeout))
	_ = w.ws.Close()
}

func (w *outboundWriter) send(frame outboundFrame, writeTimeout time.Duration) error {
	if len(frame.textPayload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame.textPayload)
}
