// Package ws fans batch events out to websocket and server-sent-event subscribers.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/AbhishekMashetty/axon/internal/events"
)

// AllBatches subscribes to events of every batch.
const AllBatches = "*"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by batch ID.
type Hub struct {
	mu        sync.Mutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

type message struct {
	batchID string
	payload []byte
}

type subscription struct {
	batchID string
	client  Subscriber
}

var _ events.Publisher = (*Hub)(nil)

// NewHub creates a Hub and starts its dispatch loop. Call Close to stop it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 256),
		done:      make(chan struct{}),
		log:       logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = map[string]map[Subscriber]struct{}{}
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.batchID]; !ok {
				h.clients[sub.batchID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.batchID][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			h.remove(sub.batchID, sub.client)
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			h.deliver(msg.batchID, msg.payload)
			if msg.batchID != AllBatches {
				h.deliver(AllBatches, msg.payload)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) deliver(batchID string, payload []byte) {
	for c := range h.clients[batchID] {
		if err := c.Send(payload); err != nil {
			c.Close()
			h.remove(batchID, c)
		}
	}
}

func (h *Hub) remove(batchID string, client Subscriber) {
	clients, ok := h.clients[batchID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, batchID)
	}
}

// Register adds a client to a batch stream. Use AllBatches for every batch.
func (h *Hub) Register(batchID string, client Subscriber) {
	select {
	case h.register <- subscription{batchID: batchID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(batchID string, client Subscriber) {
	select {
	case h.unreg <- subscription{batchID: batchID, client: client}:
	case <-h.done:
	}
}

// Subscribers returns the number of clients attached to batchID.
func (h *Hub) Subscribers(batchID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[batchID])
}

// Publish encodes e and queues it for the batch subscribers. Events are dropped when the queue
// is full so workers never stall on slow clients.
func (h *Hub) Publish(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Error("encode event failed", "type", e.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- message{batchID: e.BatchID, payload: payload}:
	case <-h.done:
	default:
		h.log.Warn("event dropped", "type", e.Type, "batch_id", e.BatchID)
	}
}

// Close stops the dispatch loop and closes every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
