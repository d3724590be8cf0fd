// Package events carries queue mutations from the controller to the named
// subscribers that react to them (the realtime broadcaster, the broker
// forwarder). Subscribers are invoked in registration order.
package events

import (
	"context"
	"time"

	"github.com/valayash/qwaitfront/internal/models"

	"go.uber.org/zap"
)

type Kind string

const (
	// KindUpdate carries the full entry; clients add or replace by id.
	KindUpdate Kind = "update"
	// KindRemove carries only the id; clients delete it from view.
	KindRemove Kind = "remove"
)

type Event struct {
	Kind         Kind
	Type         string
	RestaurantID string
	EntryID      string
	Entry        *models.QueueEntry
	OccurredAt   time.Time
}

func Update(eventType string, entry models.QueueEntry) Event {
	e := entry
	return Event{
		Kind:         KindUpdate,
		Type:         eventType,
		RestaurantID: entry.RestaurantID,
		EntryID:      entry.ID,
		Entry:        &e,
		OccurredAt:   time.Now().UTC(),
	}
}

func Remove(eventType string, entry models.QueueEntry) Event {
	return Event{
		Kind:         KindRemove,
		Type:         eventType,
		RestaurantID: entry.RestaurantID,
		EntryID:      entry.ID,
		OccurredAt:   time.Now().UTC(),
	}
}

type Subscriber interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// Bus fans events out to subscribers. A failing subscriber is logged and
// never affects the others or the publisher.
type Bus struct {
	subscribers []Subscriber
	logger      *zap.Logger
}

func NewBus(logger *zap.Logger, subscribers ...Subscriber) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{subscribers: subscribers, logger: logger}
}

func (b *Bus) Subscribe(s Subscriber) {
	b.subscribers = append(b.subscribers, s)
}

func (b *Bus) Publish(ctx context.Context, events ...Event) {
	for _, event := range events {
		for _, sub := range b.subscribers {
			if err := sub.Handle(ctx, event); err != nil {
				b.logger.Warn("event delivery failed",
					zap.String("subscriber", sub.Name()),
					zap.String("type", event.Type),
					zap.String("restaurant_id", event.RestaurantID),
					zap.String("entry_id", event.EntryID),
					zap.Error(err),
				)
			}
		}
	}
}

// Recorder buffers published events for later inspection. Events beyond
// its capacity are dropped.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Handle(ctx context.Context, event Event) error {
	select {
	case r.ch <- event:
	default:
	}
	return nil
}

// Drain returns the events recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
