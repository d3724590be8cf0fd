package hub

import (
	"expvar"
	"sync"

	"go.uber.org/zap"
)

const DefaultSendBuffer = 16

var (
	clientsGauge = expvar.NewInt("hub_clients")
	droppedTotal = expvar.NewInt("hub_dropped_total")
)

// Client is one subscriber connection. Send is closed by the hub when the
// client is unsubscribed or falls behind.
type Client struct {
	ID           string
	RestaurantID string
	Send         chan []byte
}

func NewClient(id, restaurantID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{ID: id, RestaurantID: restaurantID, Send: make(chan []byte, buffer)}
}

type room struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// Hub keeps one room per restaurant. Publishing to a room holds the room
// lock, so every subscriber of a restaurant receives messages in the same
// order, and never blocks on a subscriber.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	logger *zap.Logger
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{rooms: make(map[string]*room), logger: logger}
}

func (h *Hub) Subscribe(restaurantID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[restaurantID]
	if !ok {
		r = &room{clients: make(map[string]*Client)}
		h.rooms[restaurantID] = r
	}
	client.RestaurantID = restaurantID
	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()
	clientsGauge.Add(1)
}

// Unsubscribe removes the client and closes its Send channel. Calling it for
// a client that is already gone is a no-op.
func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[client.RestaurantID]
	if !ok {
		return
	}
	r.mu.Lock()
	if _, ok := r.clients[client.ID]; ok {
		delete(r.clients, client.ID)
		close(client.Send)
		clientsGauge.Add(-1)
	}
	empty := len(r.clients) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, client.RestaurantID)
	}
}

// Publish delivers payload to every subscriber of restaurantID. A client
// whose queue is full is disconnected instead of delaying the others.
func (h *Hub) Publish(restaurantID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[restaurantID]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delivered := 0
	for id, client := range r.clients {
		select {
		case client.Send <- payload:
			delivered++
		default:
			delete(r.clients, id)
			close(client.Send)
			clientsGauge.Add(-1)
			droppedTotal.Add(1)
			h.logger.Warn("drop slow client", zap.String("client_id", id), zap.String("restaurant_id", restaurantID))
		}
	}
	return delivered
}

func (h *Hub) Subscribers(restaurantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[restaurantID]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
