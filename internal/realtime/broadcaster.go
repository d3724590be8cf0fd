package realtime

import (
	"context"
	"encoding/json"

	"github.com/valayash/qwaitfront/internal/events"
	"github.com/valayash/qwaitfront/internal/hub"
	"github.com/valayash/qwaitfront/internal/models"
)

const (
	MessageUpdate = "send.waitlist.update"
	MessageRemove = "send.waitlist.remove"
)

type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type removed struct {
	ID string `json:"id"`
}

// Encode renders an event as the message clients receive.
func Encode(event events.Event) ([]byte, error) {
	switch event.Kind {
	case events.KindRemove:
		return json.Marshal(message{Type: MessageRemove, Data: removed{ID: event.EntryID}})
	default:
		var entry models.QueueEntry
		if event.Entry != nil {
			entry = *event.Entry
		}
		return json.Marshal(message{Type: MessageUpdate, Data: entry})
	}
}

// Broadcaster is the event subscriber that fans queue mutations out to the
// restaurant's connected clients.
type Broadcaster struct {
	hub *hub.Hub
}

func NewBroadcaster(h *hub.Hub) *Broadcaster {
	return &Broadcaster{hub: h}
}

func (b *Broadcaster) Name() string { return "realtime" }

func (b *Broadcaster) Handle(ctx context.Context, event events.Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	b.hub.Publish(event.RestaurantID, payload)
	return nil
}
