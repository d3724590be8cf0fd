// Package realtime serves the live waitlist feed. A connection is bound to
// one restaurant for its whole life: it is subscribed to that restaurant's
// hub room before the handshake completes and unsubscribed as soon as the
// connection ends.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/valayash/qwaitfront/internal/hub"
	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// RestaurantLookup is the part of the store the gateway needs.
type RestaurantLookup interface {
	GetRestaurant(ctx context.Context, restaurantID string) (models.Restaurant, error)
}

type Options struct {
	PingInterval time.Duration
	SendBuffer   int
}

type Gateway struct {
	hub          *hub.Hub
	restaurants  RestaurantLookup
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	sendBuffer   int
}

func NewGateway(h *hub.Hub, restaurants RestaurantLookup, logger *zap.Logger, opts Options) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = hub.DefaultSendBuffer
	}
	return &Gateway{
		hub:         h,
		restaurants: restaurants,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingInterval: opts.PingInterval,
		sendBuffer:   opts.SendBuffer,
	}
}

// ServeWS handles GET /ws/waitlist/{restaurant_id}.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	restaurantID := r.PathValue("restaurant_id")
	status, err := g.checkRestaurant(r.Context(), restaurantID)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	client := hub.NewClient(uuid.NewString(), restaurantID, g.sendBuffer)
	g.hub.Subscribe(restaurantID, client)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.hub.Unsubscribe(client)
		g.logger.Debug("websocket upgrade failed", zap.String("restaurant_id", restaurantID), zap.Error(err))
		return
	}
	g.logger.Debug("websocket connected", zap.String("client_id", client.ID), zap.String("restaurant_id", restaurantID))

	done := make(chan struct{})
	go g.writePump(conn, client, done)
	g.readPump(conn)

	g.hub.Unsubscribe(client)
	<-done
	_ = conn.Close()
	g.logger.Debug("websocket closed", zap.String("client_id", client.ID), zap.String("restaurant_id", restaurantID))
}

func (g *Gateway) checkRestaurant(ctx context.Context, restaurantID string) (int, error) {
	if restaurantID == "" {
		return http.StatusBadRequest, errors.New("restaurant_id is required")
	}
	if _, err := g.restaurants.GetRestaurant(ctx, restaurantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return http.StatusNotFound, errors.New("restaurant not found")
		}
		g.logger.Error("restaurant lookup failed", zap.String("restaurant_id", restaurantID), zap.Error(err))
		return http.StatusServiceUnavailable, errors.New("restaurant lookup failed")
	}
	return http.StatusOK, nil
}

// readPump discards inbound frames; the feed is one-way. It returns when
// the peer goes away or stops answering pings.
func (g *Gateway) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	pongWait := g.pingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, client *hub.Client, done chan<- struct{}) {
	ticker := time.NewTicker(g.pingInterval)
	defer func() {
		ticker.Stop()
		close(done)
	}()
	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = conn.Close()
				drain(client.Send)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drain(client.Send)
				return
			}
		}
	}
}

// drain waits for the hub to close a client's queue after its writer gave up.
func drain(ch <-chan []byte) {
	for range ch {
	}
}
