package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	kind int
	body string
}

// memSocket records everything written to it.
type memSocket struct {
	mu     sync.Mutex
	sent   []sentMessage
	err    error
	closed bool
}

func (m *memSocket) SetWriteDeadline(time.Time) error { return nil }

func (m *memSocket) WriteMessage(kind int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{kind: kind, body: string(data)})
	return nil
}

func (m *memSocket) WriteControl(kind int, data []byte, _ time.Time) error {
	return m.WriteMessage(kind, data)
}

func (m *memSocket) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memSocket) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type writerFixture struct {
	priority chan outboundFrame
	normal   chan outboundFrame
	sock     *memSocket
	writer   *outboundWriter
}

func newWriterFixture(ctx context.Context, normalSize int) *writerFixture {
	f := &writerFixture{
		priority: make(chan outboundFrame, 2),
		normal:   make(chan outboundFrame, normalSize),
		sock:     &memSocket{},
	}
	f.writer = &outboundWriter{
		ws:       f.sock,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: f.priority,
		normal:   f.normal,
	}
	return f
}

func (f *writerFixture) queue(ch chan outboundFrame, payloads ...string) {
	for _, p := range payloads {
		ch <- outboundFrame{textPayload: []byte(p)}
	}
}

func (f *writerFixture) closeQueues() {
	close(f.priority)
	close(f.normal)
}

func TestOutboundWriter_DrainNoticeJumpsQueue(t *testing.T) {
	f := newWriterFixture(context.Background(), 4)
	f.queue(f.normal, `{"type":"transcript","text":"add a database"}`)
	f.queue(f.priority, `{"type":"error","code":"draining"}`)
	f.closeQueues()

	require.NoError(t, f.writer.Run())

	got := f.sock.messages()
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"type":"error","code":"draining"}`, got[0].body)
	assert.JSONEq(t, `{"type":"transcript","text":"add a database"}`, got[1].body)
}

func TestOutboundWriter_KeepsRoundOrder(t *testing.T) {
	states := []string{"transcribing", "reasoning", "rendering", "idle"}
	f := newWriterFixture(context.Background(), len(states))
	for _, s := range states {
		f.queue(f.normal, `{"type":"state","state":"`+s+`"}`)
	}
	f.closeQueues()

	require.NoError(t, f.writer.Run())

	got := f.sock.messages()
	require.Len(t, got, len(states))
	for i, s := range states {
		assert.Equal(t, websocket.TextMessage, got[i].kind)
		assert.Contains(t, got[i].body, s)
	}
}

func TestOutboundWriter_SkipsEmptyFrames(t *testing.T) {
	f := newWriterFixture(context.Background(), 2)
	f.normal <- outboundFrame{}
	f.queue(f.normal, `{"type":"state","state":"idle"}`)
	f.closeQueues()

	require.NoError(t, f.writer.Run())
	assert.Len(t, f.sock.messages(), 1)
}

func TestOutboundWriter_WriteErrorStopsLoop(t *testing.T) {
	f := newWriterFixture(context.Background(), 1)
	f.sock.err = errors.New("broken pipe")
	f.queue(f.normal, `{"type":"state","state":"idle"}`)

	assert.ErrorIs(t, f.writer.Run(), f.sock.err)
}

func TestOutboundWriter_CancelFlushesThenCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newWriterFixture(ctx, 1)
	f.queue(f.normal, `{"type":"error","message":"An unexpected error occurred"}`)
	cancel()

	require.NoError(t, f.writer.Run())

	got := f.sock.messages()
	require.Len(t, got, 2)
	assert.Contains(t, got[0].body, `"type":"error"`)
	assert.Equal(t, websocket.CloseMessage, got[1].kind)
	assert.True(t, f.sock.closed)
}

func TestOutboundWriter_PingsWhileIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newWriterFixture(ctx, 1)
	f.writer.cfg.PingInterval = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- f.writer.Run() }()

	require.Eventually(t, func() bool {
		for _, m := range f.sock.messages() {
			if m.kind == websocket.PingMessage {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("writer did not stop after cancel")
	}
}
