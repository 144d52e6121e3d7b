package websocket

import (
	"errors"
	"sync"
	"time"
)

var errConnClosed = errors.New("connection closed")

type mockMessage struct {
	Type int
	Data []byte
}

// mockConnection records writes. ReadMessage blocks until Close or until a
// queued inbound frame is available.
type mockConnection struct {
	mu      sync.Mutex
	written []mockMessage
	closed  bool
	limit   int64
	pong    func(string) error

	inbound chan mockMessage
	done    chan struct{}
	once    sync.Once
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		inbound: make(chan mockMessage, 8),
		done:    make(chan struct{}),
	}
}

func (m *mockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errConnClosed
	}
	m.written = append(m.written, mockMessage{Type: messageType, Data: data})
	return nil
}

func (m *mockConnection) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-m.inbound:
		return msg.Type, msg.Data, nil
	case <-m.done:
		return 0, nil, errConnClosed
	}
}

func (m *mockConnection) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}

func (m *mockConnection) SetReadDeadline(time.Time) error  { return nil }
func (m *mockConnection) SetWriteDeadline(time.Time) error { return nil }

func (m *mockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	m.limit = limit
	m.mu.Unlock()
}

func (m *mockConnection) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	m.pong = h
	m.mu.Unlock()
}

func (m *mockConnection) RemoteAddr() string { return "127.0.0.1:9000" }

func (m *mockConnection) messages() []mockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockMessage, len(m.written))
	copy(out, m.written)
	return out
}

func (m *mockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
