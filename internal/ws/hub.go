package ws

import (
	"sync"

	"github.com/serroba/online-pad/internal/metrics"
)

// Hub keeps track of open commit streams so they can be counted and closed
// together on shutdown.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	// documents maps document ID to set of client IDs
	documents map[string]map[string]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		documents: make(map[string]map[string]struct{}),
	}
}

// Register adds a client to the hub under its document.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client

	if h.documents[client.DocID] == nil {
		h.documents[client.DocID] = make(map[string]struct{})
	}

	h.documents[client.DocID][client.ID] = struct{}{}

	metrics.StreamClients.Set(float64(len(h.clients)))
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.documents[client.DocID]; ok {
		delete(clients, client.ID)

		if len(clients) == 0 {
			delete(h.documents, client.DocID)
		}
	}

	delete(h.clients, client.ID)

	metrics.StreamClients.Set(float64(len(h.clients)))
}

// CloseAll closes every registered client. Their stream loops end on the next
// failed send and unregister themselves.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))

	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		_ = c.Close()
	}
}

// ClientCount returns the number of clients streaming a document.
func (h *Hub) ClientCount(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.documents[docID]; ok {
		return len(clients)
	}

	return 0
}

// TotalClients returns the total number of open streams.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
