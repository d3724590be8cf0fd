package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/valayash/qwaitfront/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"
)

const sockjsPrefix = "/realtime"

// SockJSHandler serves the feed over SockJS at /realtime for browsers that
// cannot hold a native WebSocket. The restaurant is chosen with the
// restaurant_id query parameter.
func (g *Gateway) SockJSHandler() http.Handler {
	return sockjs.NewHandler(sockjsPrefix, sockjs.DefaultOptions, g.serveSession)
}

func (g *Gateway) serveSession(session sockjs.Session) {
	restaurantID := session.Request().URL.Query().Get("restaurant_id")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	status, err := g.checkRestaurant(ctx, restaurantID)
	cancel()
	if err != nil {
		_ = session.Close(closeCode(status), err.Error())
		return
	}

	client := hub.NewClient(uuid.NewString(), restaurantID, g.sendBuffer)
	g.hub.Subscribe(restaurantID, client)
	defer g.hub.Unsubscribe(client)

	go func() {
		for msg := range client.Send {
			if err := session.Send(string(msg)); err != nil {
				g.logger.Debug("sockjs send failed", zap.String("client_id", client.ID), zap.Error(err))
			}
		}
		_ = session.Close(4008, "closed")
	}()

	for {
		if _, err := session.Recv(); err != nil {
			return
		}
	}
}

func closeCode(status int) uint32 {
	switch status {
	case http.StatusBadRequest:
		return 4001
	case http.StatusNotFound:
		return 4004
	default:
		return 4003
	}
}
