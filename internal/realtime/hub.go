package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type client struct {
	id      string
	queueID string
	box     *mailbox
}

// Hub is the in-process Broker. The realtime gateway also uses it to fan a single
// upstream subscription out to its connected sessions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	buffer  int
}

func NewHub(buffer int) *Hub {
	return &Hub{clients: make(map[string]*client), buffer: bufferSize(buffer)}
}

func (h *Hub) Publish(ctx context.Context, change Change) error {
	h.Broadcast(change)
	return nil
}

func (h *Hub) Broadcast(change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.queueID != "" && c.queueID != change.QueueID {
			continue
		}
		c.box.put(change)
	}
}

func (h *Hub) Subscribe(ctx context.Context, queueID string) (*Subscription, error) {
	c := &client{id: uuid.NewString(), queueID: queueID, box: newMailbox(h.buffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		h.unregister(c)
	}()
	return newSubscription(c.box.out, cancel), nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	c.box.close()
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		c.box.close()
	}
	return nil
}
