package comm

import (
	"bytes"
	"io"
	"sync"
)

// MockConn is an in-memory connection.  Reads return queued chunks one at a
// time, an empty queue reads as an empty chunk.  Writes are recorded and may
// be answered by Respond.
type MockConn struct {
	mu      sync.Mutex
	chunks  [][]byte
	written bytes.Buffer
	closed  bool

	// Respond, if not nil, is called with every write and its return
	// is queued for reading
	Respond func(p []byte) [][]byte
}

// NewMockConn returns a MockConn with chunks queued for reading
func NewMockConn(chunks ...[]byte) *MockConn {
	m := &MockConn{}
	m.Feed(chunks...)
	return m
}

// Maker returns a CreationFunc that yields this connection, re-opening it
// if it was closed
func (m *MockConn) Maker() CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		m.mu.Lock()
		m.closed = false
		m.mu.Unlock()
		return m, nil
	}
}

// Feed queues chunks for reading
func (m *MockConn) Feed(chunks ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		cp := make([]byte, len(c))
		copy(cp, c)
		m.chunks = append(m.chunks, cp)
	}
}

// Pending returns the number of chunks not yet read
func (m *MockConn) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

// Read pops the next chunk.  A chunk longer than p is split and the
// remainder stays at the head of the queue.
func (m *MockConn) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if len(m.chunks) == 0 {
		return 0, nil
	}
	head := m.chunks[0]
	n := copy(p, head)
	if n < len(head) {
		m.chunks[0] = head[n:]
	} else {
		m.chunks = m.chunks[1:]
	}
	return n, nil
}

// Write records p
func (m *MockConn) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	m.written.Write(p)
	respond := m.Respond
	m.mu.Unlock()
	if respond != nil {
		m.Feed(respond(p)...)
	}
	return len(p), nil
}

// Written returns a copy of everything written so far
func (m *MockConn) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

// Close marks the connection closed
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
