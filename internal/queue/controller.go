// Package queue owns the waitlist entry lifecycle. Every mutation is one
// atomic store call followed, only on success, by the matching realtime
// event.
package queue

import (
	"context"
	"strings"
	"time"

	"github.com/valayash/qwaitfront/internal/events"
	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/notify"
	"github.com/valayash/qwaitfront/internal/store"
	"github.com/valayash/qwaitfront/internal/telemetry"

	"go.uber.org/zap"
)

const (
	RecentActivityWindow = 7 * 24 * time.Hour
	RecentActivityLimit  = 20
	ServedHistoryLimit   = 50
	DefaultPartiesLimit  = 100
)

type Controller struct {
	store     store.Store
	publisher events.Publisher
	notifier  notify.Sender
	logger    *zap.Logger
	now       func() time.Time
	locks     *keyLock
}

type Option func(*Controller)

func WithNotifier(n notify.Sender) Option {
	return func(c *Controller) { c.notifier = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(st store.Store, publisher events.Publisher, opts ...Option) *Controller {
	c := &Controller{
		store:     st,
		publisher: publisher,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		locks:     newKeyLock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.publisher == nil {
		c.publisher = events.NewBus(c.logger)
	}
	if c.notifier == nil {
		c.notifier = notify.NewNotifier(nil, nil, c.logger)
	}
	return c
}

type JoinInput struct {
	RestaurantID string
	CustomerName string
	PhoneNumber  string
	PeopleCount  int
	Notes        string
}

// Join adds a walk-in party to the restaurant's queue.
func (c *Controller) Join(ctx context.Context, input JoinInput) (entry models.QueueEntry, err error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.join", input.RestaurantID)
	defer func() { telemetry.EndSpan(span, err) }()

	input.CustomerName = strings.TrimSpace(input.CustomerName)
	input.PhoneNumber = strings.TrimSpace(input.PhoneNumber)
	input.Notes = strings.TrimSpace(input.Notes)
	if err := validateJoin(input); err != nil {
		return models.QueueEntry{}, err
	}

	restaurant, err := c.store.GetRestaurant(ctx, input.RestaurantID)
	if err != nil {
		return models.QueueEntry{}, c.wrap("get restaurant", err)
	}

	// Capped queues serialize every join for the restaurant so the count
	// and the insert cannot interleave.
	if restaurant.MaxQueueSize > 0 {
		unlockCap := c.locks.Lock(capacityKey(input.RestaurantID))
		defer unlockCap()
	}
	unlock := c.locks.Lock(phoneKey(input.RestaurantID, store.NormalizePhone(input.PhoneNumber)))
	defer unlock()

	entry, err = c.store.CreateEntry(ctx, store.CreateEntryInput{
		RestaurantID: input.RestaurantID,
		CustomerName: input.CustomerName,
		PhoneNumber:  input.PhoneNumber,
		PeopleCount:  input.PeopleCount,
		Notes:        input.Notes,
		Origin:       models.OriginWalkIn,
		Timestamp:    c.now(),
		MaxQueueSize: restaurant.MaxQueueSize,
	})
	if err != nil {
		return models.QueueEntry{}, c.wrap("create entry", err)
	}
	c.logger.Info("entry joined",
		zap.String("restaurant_id", entry.RestaurantID),
		zap.String("entry_id", entry.ID),
		zap.Int("people_count", entry.PeopleCount),
	)
	c.publisher.Publish(ctx, events.Update(store.EventEntryCreated, entry))
	return entry, nil
}

func validateJoin(input JoinInput) error {
	switch {
	case input.RestaurantID == "":
		return store.Invalid("restaurant_id", "is required")
	case input.CustomerName == "":
		return store.Invalid("customer_name", "is required")
	case input.PhoneNumber == "":
		return store.Invalid("phone_number", "is required")
	case !store.ValidPhone(input.PhoneNumber):
		return store.Invalid("phone_number", "must contain 7 to 15 digits")
	case input.PeopleCount <= 0:
		return store.Invalid("people_count", "must be greater than zero")
	}
	return nil
}

// EditInput changes only the fields that are set.
type EditInput struct {
	RestaurantID string
	EntryID      string
	CustomerName *string
	PhoneNumber  *string
	PeopleCount  *int
	Notes        *string
	QuotedTime   *int
}

func (c *Controller) Edit(ctx context.Context, input EditInput) (models.QueueEntry, error) {
	if err := validateEdit(&input); err != nil {
		return models.QueueEntry{}, err
	}

	unlock := c.locks.Lock(entryKey(input.RestaurantID, input.EntryID))
	defer unlock()
	if input.PhoneNumber != nil {
		unlockPhone := c.locks.Lock(phoneKey(input.RestaurantID, store.NormalizePhone(*input.PhoneNumber)))
		defer unlockPhone()
	}

	entry, err := c.store.UpdateEntry(ctx, store.UpdateEntryInput{
		RestaurantID: input.RestaurantID,
		EntryID:      input.EntryID,
		CustomerName: input.CustomerName,
		PhoneNumber:  input.PhoneNumber,
		PeopleCount:  input.PeopleCount,
		Notes:        input.Notes,
		QuotedTime:   input.QuotedTime,
	})
	if err != nil {
		return models.QueueEntry{}, c.wrap("update entry", err)
	}
	c.publisher.Publish(ctx, events.Update(store.EventEntryUpdated, entry))
	return entry, nil
}

func validateEdit(input *EditInput) error {
	if input.RestaurantID == "" || input.EntryID == "" {
		return store.Invalid("entry_id", "is required")
	}
	if input.CustomerName != nil {
		name := strings.TrimSpace(*input.CustomerName)
		if name == "" {
			return store.Invalid("customer_name", "must not be empty")
		}
		input.CustomerName = &name
	}
	if input.PhoneNumber != nil {
		phone := strings.TrimSpace(*input.PhoneNumber)
		if !store.ValidPhone(phone) {
			return store.Invalid("phone_number", "must contain 7 to 15 digits")
		}
		input.PhoneNumber = &phone
	}
	if input.PeopleCount != nil && *input.PeopleCount <= 0 {
		return store.Invalid("people_count", "must be greater than zero")
	}
	if input.QuotedTime != nil && *input.QuotedTime < 0 {
		return store.Invalid("quoted_time", "must not be negative")
	}
	if input.Notes != nil {
		notes := strings.TrimSpace(*input.Notes)
		input.Notes = &notes
	}
	return nil
}

// Cancel removes a waiting party from the queue.
func (c *Controller) Cancel(ctx context.Context, restaurantID, entryID string) (models.QueueEntry, error) {
	entry, err := c.transition(ctx, restaurantID, entryID, store.ActionCancel, func(entry models.QueueEntry) []events.Event {
		return []events.Event{events.Remove(store.EventEntryRemoved, entry)}
	})
	return entry, err
}

// MarkServed seats a waiting party. Subscribers get the final state and
// then the removal from the active view.
func (c *Controller) MarkServed(ctx context.Context, restaurantID, entryID string) (models.QueueEntry, error) {
	return c.transition(ctx, restaurantID, entryID, store.ActionServe, func(entry models.QueueEntry) []events.Event {
		return []events.Event{
			events.Update(store.EventEntryServed, entry),
			events.Remove(store.EventEntryServed, entry),
		}
	})
}

func (c *Controller) transition(ctx context.Context, restaurantID, entryID, action string, emit func(models.QueueEntry) []events.Event) (entry models.QueueEntry, err error) {
	ctx, span := telemetry.StartSpan(ctx, "queue."+action, restaurantID, telemetry.EntryIDKey.String(entryID))
	defer func() { telemetry.EndSpan(span, err) }()

	if restaurantID == "" || entryID == "" {
		return models.QueueEntry{}, store.Invalid("entry_id", "is required")
	}
	unlock := c.locks.Lock(entryKey(restaurantID, entryID))
	defer unlock()

	entry, err = c.store.TransitionEntry(ctx, store.TransitionInput{
		RestaurantID: restaurantID,
		EntryID:      entryID,
		Action:       action,
		OccurredAt:   c.now(),
	})
	if err != nil {
		return models.QueueEntry{}, c.wrap(action+" entry", err)
	}
	c.logger.Info("entry "+action,
		zap.String("restaurant_id", restaurantID),
		zap.String("entry_id", entryID),
		zap.String("status", entry.Status),
	)
	c.publisher.Publish(ctx, emit(entry)...)
	return entry, nil
}

// wrap passes domain errors through and turns anything else the store
// returns into a retryable persistence error.
func (c *Controller) wrap(op string, err error) error {
	if err == nil || store.IsDomainError(err) {
		return err
	}
	c.logger.Error("store failure", zap.String("op", op), zap.Error(err))
	return &store.PersistenceError{Op: op, Err: err}
}
