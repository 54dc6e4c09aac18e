package ws_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/serroba/online-pad/internal/ws"
)

const testDocID = "doc1"

// mockConn is a test double for ws.Conn.
type mockConn struct {
	mu       sync.Mutex
	messages []ws.Message
	closed   bool
	failAt   int // WriteJSON fails once this many messages were written; 0 never fails
}

func newMockConn() *mockConn {
	return &mockConn{
		messages: make([]ws.Message, 0),
	}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || (m.failAt > 0 && len(m.messages) >= m.failAt) {
		return errConnClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.messages = append(m.messages, msg)

	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

func (m *mockConn) Messages() []ws.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]ws.Message, len(m.messages))
	copy(result, m.messages)

	return result
}

func (m *mockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func TestHub_RegisterUnregister(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub()
	client := ws.NewClient("c1", testDocID, newMockConn())

	hub.Register(client)

	if hub.TotalClients() != 1 {
		t.Errorf("expected 1 client, got %d", hub.TotalClients())
	}

	if hub.ClientCount(testDocID) != 1 {
		t.Errorf("expected 1 client on doc1, got %d", hub.ClientCount(testDocID))
	}

	hub.Unregister(client)

	if hub.TotalClients() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.TotalClients())
	}

	if hub.ClientCount(testDocID) != 0 {
		t.Errorf("expected 0 clients on doc1 after unregister, got %d", hub.ClientCount(testDocID))
	}
}

func TestHub_CountsPerDocument(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub()
	hub.Register(ws.NewClient("c1", testDocID, newMockConn()))
	hub.Register(ws.NewClient("c2", testDocID, newMockConn()))
	hub.Register(ws.NewClient("c3", "doc2", newMockConn()))

	if hub.ClientCount(testDocID) != 2 {
		t.Errorf("expected 2 clients on doc1, got %d", hub.ClientCount(testDocID))
	}

	if hub.ClientCount("doc2") != 1 {
		t.Errorf("expected 1 client on doc2, got %d", hub.ClientCount("doc2"))
	}
}

func TestHub_CloseAll(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub()
	conn1 := newMockConn()
	conn2 := newMockConn()

	hub.Register(ws.NewClient("c1", testDocID, conn1))
	hub.Register(ws.NewClient("c2", "doc2", conn2))

	hub.CloseAll()

	if !conn1.IsClosed() || !conn2.IsClosed() {
		t.Error("expected every connection to be closed")
	}
}
