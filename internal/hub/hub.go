// Package hub fans realtime queue events out to connected clients: patrons
// tracking their own ticket and board displays showing a whole service
// queue.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Subscription scopes a client to one (date, serviceType) queue. Empty
// fields match everything, which board displays use to follow all queues.
type Subscription struct {
	Date        string
	ServiceType string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// SubscribeMessage is what a connected client sends to follow a queue. A
// positive TicketKey additionally asks for personal ticket tracking.
type SubscribeMessage struct {
	Action      string `json:"action"`
	Date        string `json:"date"`
	ServiceType string `json:"service_type"`
	TicketKey   int    `json:"ticket_key"`
	DisplayText string `json:"display_text"`
}

// Envelope frames every payload delivered to clients.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Broadcast delivers payload to every client whose subscription matches
// meta. Full-state payloads make dropped frames safe for slow clients.
func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("hub drop frame for client %s", client.ID)
		}
	}
}

// Send delivers payload to one client only, used for personal tracker
// updates.
func (h *Hub) Send(clientID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	select {
	case client.Send <- payload:
	default:
		log.Printf("hub drop frame for client %s", clientID)
	}
}

func match(sub, meta Subscription) bool {
	if sub.Date != "" && meta.Date != sub.Date {
		return false
	}
	if sub.ServiceType != "" && meta.ServiceType != sub.ServiceType {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

func MarshalEnvelope(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()})
}
