package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
)

const clientSendBuffer = 16

// Client is one connected quiz socket. The gateway owns the connection;
// the hub only ever touches the Send channel.
type Client struct {
	UserID uuid.UUID
	Send   chan []byte

	closeOnce sync.Once
}

func NewClient(userID uuid.UUID) *Client {
	return &Client{
		UserID: userID,
		Send:   make(chan []byte, clientSendBuffer),
	}
}

// Deliver queues a single event for this client only. Used for unicast
// error events; a client that cannot keep up loses the event.
func (c *Client) Deliver(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[hub] marshal unicast event: %v", err)
		return
	}
	select {
	case c.Send <- payload:
	default:
		log.Printf("[hub] dropping unicast event for slow client %s", c.UserID)
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// Hub fans events out to the clients subscribed to each quiz topic.
// Delivery is best-effort and at-most-once: there is no persistence, no
// replay for late subscribers, and slow clients are dropped rather than
// allowed to block a publish.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Client]bool)}
}

func (h *Hub) Subscribe(quizID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.topics[quizID]
	if !ok {
		clients = make(map[*Client]bool)
		h.topics[quizID] = clients
	}
	clients[c] = true
	log.Printf("[hub] client %s subscribed to quiz %s (%d connected)", c.UserID, quizID, len(clients))
}

// Unsubscribe removes the client and closes its send channel. Safe to call
// more than once for the same client.
func (h *Hub) Unsubscribe(quizID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.topics[quizID]
	if !ok {
		return
	}
	if !clients[c] {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.topics, quizID)
	}
	c.close()
	log.Printf("[hub] client %s unsubscribed from quiz %s (%d connected)", c.UserID, quizID, len(clients))
}

// Publish delivers ev to every client currently subscribed to the quiz.
// A full send buffer means the client misses this event.
func (h *Hub) Publish(quizID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[hub] marshal event %q: %v", ev.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.topics[quizID] {
		select {
		case c.Send <- payload:
		default:
			log.Printf("[hub] dropping %q event for slow client %s on quiz %s", ev.Type, c.UserID, quizID)
		}
	}
}

// Subscribers reports how many clients are connected to the quiz topic.
func (h *Hub) Subscribers(quizID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[quizID])
}
