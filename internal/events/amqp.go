package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultQueue = "waitlist.events"

var ErrForwardQueueFull = errors.New("forward queue full")

// BrokerPublisher delivers one encoded event to the message broker.
type BrokerPublisher interface {
	PublishJSON(ctx context.Context, eventType string, body []byte) error
}

// AMQPPublisher publishes persistent messages to a durable queue on the
// default exchange. The connection is opened lazily and reopened after a
// failed publish.
type AMQPPublisher struct {
	url    string
	queue  string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url, queue string, logger *zap.Logger) *AMQPPublisher {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{url: url, queue: queue, logger: logger}
}

func (p *AMQPPublisher) PublishJSON(ctx context.Context, eventType string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannelLocked(); err != nil {
		return err
	}
	err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.logger.Warn("amqp publish failed", zap.String("queue", p.queue), zap.Error(err))
		p.resetLocked()
		return err
	}
	return nil
}

func (p *AMQPPublisher) ensureChannelLocked() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.resetLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.conn = conn
	p.ch = ch
	return nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

type envelope struct {
	Type         string      `json:"type"`
	Kind         Kind        `json:"kind"`
	RestaurantID string      `json:"restaurant_id"`
	EntryID      string      `json:"entry_id"`
	Entry        interface{} `json:"entry,omitempty"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

func Encode(event Event) ([]byte, error) {
	env := envelope{
		Type:         event.Type,
		Kind:         event.Kind,
		RestaurantID: event.RestaurantID,
		EntryID:      event.EntryID,
		OccurredAt:   event.OccurredAt,
	}
	if event.Entry != nil {
		env.Entry = event.Entry
	}
	return json.Marshal(env)
}

type forwardItem struct {
	eventType string
	body      []byte
}

// Forwarder is a bus subscriber that hands events to a broker from a
// background goroutine so a slow broker never stalls the controller.
type Forwarder struct {
	publisher BrokerPublisher
	logger    *zap.Logger
	queue     chan forwardItem
}

func NewForwarder(publisher BrokerPublisher, buffer int, logger *zap.Logger) *Forwarder {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{publisher: publisher, logger: logger, queue: make(chan forwardItem, buffer)}
}

func (f *Forwarder) Name() string { return "broker" }

func (f *Forwarder) Handle(ctx context.Context, event Event) error {
	body, err := Encode(event)
	if err != nil {
		return err
	}
	select {
	case f.queue <- forwardItem{eventType: event.Type, body: body}:
		return nil
	default:
		return ErrForwardQueueFull
	}
}

// Run publishes queued events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-f.queue:
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := f.publisher.PublishJSON(pubCtx, item.eventType, item.body); err != nil {
				f.logger.Warn("forward event failed", zap.String("type", item.eventType), zap.Error(err))
			}
			cancel()
		}
	}
}
