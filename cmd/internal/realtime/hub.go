package realtime

import (
	"log/slog"
	"sync"
	"time"

	"unisession/cmd/identity"
	"unisession/cmd/internal/auth/session"
)

// Hub fans session changes out to connected clients.
//
// Concurrency guarantees:
//   - Join/Leave are safe under concurrent Broadcast.
//   - Broadcast never blocks: a client whose queue is full is dropped.
//   - A joining client receives its snapshot before any later change.
type Hub struct {
	log     *slog.Logger
	current func() *identity.CanonicalSession
	now     func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub constructs a Hub. current supplies the snapshot sent on join.
func NewHub(log *slog.Logger, current func() *identity.CanonicalSession) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if current == nil {
		current = func() *identity.CanonicalSession { return nil }
	}
	return &Hub{
		log:     log,
		current: current,
		now:     func() time.Time { return time.Now().UTC() },
		clients: make(map[string]*Client),
	}
}

// Join adds client and enqueues the current session snapshot. Holding the
// write lock orders the snapshot before any concurrent broadcast.
func (h *Hub) Join(client *Client) bool {
	if h == nil || client == nil || client.ID == "" {
		return false
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	ok := client.offer(snapshotEnvelope(h.current(), h.now()))
	h.mu.Unlock()

	h.log.Info("ws.client.join", "client_id", client.ID)
	return ok
}

// Leave removes a client and signals its shutdown.
func (h *Hub) Leave(clientID string) {
	if h == nil || clientID == "" {
		return
	}

	h.mu.Lock()
	cl := h.clients[clientID]
	delete(h.clients, clientID)
	h.mu.Unlock()

	// Close after removal so broadcasters never hold a closing client.
	if cl != nil {
		cl.Close()
		h.log.Info("ws.client.leave", "client_id", clientID)
	}
}

// Snapshot enqueues the current session for one client. Like Join it holds
// the write lock, so no change can be queued between the read and the enqueue.
func (h *Hub) Snapshot(client *Client) bool {
	if h == nil || client == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return client.offer(snapshotEnvelope(h.current(), h.now()))
}

// Broadcast fans env out to every client and returns the number reached.
// Slow clients are dropped rather than allowed to block the others.
func (h *Hub) Broadcast(env Envelope) int {
	if h == nil {
		return 0
	}

	var slow []string
	delivered := 0

	h.mu.RLock()
	for id, c := range h.clients {
		select {
		case <-c.Done():
			continue
		default:
		}
		if c.offer(env) {
			delivered++
			continue
		}
		slow = append(slow, id)
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.log.Warn("ws.client.slow_dropped", "client_id", id, "type", env.Type)
		h.Leave(id)
	}
	return delivered
}

// OnSessionEvent is a session.Handler that pushes session_changed.
func (h *Hub) OnSessionEvent(ev session.Event) {
	h.Broadcast(changedEnvelope(ev.Previous, ev.Current, h.now()))
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
