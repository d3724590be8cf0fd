package queue

import (
	"context"

	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/ordering"
	"github.com/valayash/qwaitfront/internal/store"
)

// Placement is an entry with its place in the restaurant's queue. Position
// and EstimatedWait are zero for entries that are no longer waiting.
type Placement struct {
	Entry         models.QueueEntry `json:"entry"`
	Position      int               `json:"position"`
	EstimatedWait int               `json:"estimated_wait"`
	TimeInQueue   int               `json:"time_in_queue"`
	WaitMinutes   int               `json:"wait_minutes"`
}

func (c *Controller) Get(ctx context.Context, restaurantID, entryID string) (models.QueueEntry, error) {
	entry, err := c.store.GetEntry(ctx, restaurantID, entryID)
	if err != nil {
		return models.QueueEntry{}, c.wrap("get entry", err)
	}
	return entry, nil
}

func (c *Controller) snapshot(ctx context.Context, restaurantID string) (ordering.Queue, error) {
	restaurant, err := c.store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return ordering.Queue{}, c.wrap("get restaurant", err)
	}
	active, err := c.store.ListActive(ctx, restaurantID)
	if err != nil {
		return ordering.Queue{}, c.wrap("list active", err)
	}
	return ordering.NewQueue(restaurantID, active, restaurant.AvgWait()), nil
}

func (c *Controller) place(q ordering.Queue, entry models.QueueEntry) (Placement, error) {
	position, err := q.Position(entry)
	if err != nil {
		return Placement{}, err
	}
	wait, err := q.EstimatedWait(entry)
	if err != nil {
		return Placement{}, err
	}
	now := c.now()
	return Placement{
		Entry:         entry,
		Position:      position,
		EstimatedWait: wait,
		TimeInQueue:   ordering.TimeInQueue(entry, now),
		WaitMinutes:   ordering.WaitTimeMinutes(entry, now),
	}, nil
}

// ListActive returns the waiting entries in serving order.
func (c *Controller) ListActive(ctx context.Context, restaurantID string) ([]Placement, error) {
	q, err := c.snapshot(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	out := make([]Placement, 0, q.Len())
	for _, entry := range q.Entries() {
		p, err := c.place(q, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Status is what a customer sees after joining: the entry with its current
// position and estimated wait.
func (c *Controller) Status(ctx context.Context, restaurantID, entryID string) (Placement, error) {
	entry, err := c.Get(ctx, restaurantID, entryID)
	if err != nil {
		return Placement{}, err
	}
	q, err := c.snapshot(ctx, restaurantID)
	if err != nil {
		return Placement{}, err
	}
	return c.place(q, entry)
}

func (c *Controller) CountActive(ctx context.Context, restaurantID string) (int, error) {
	n, err := c.store.CountActive(ctx, restaurantID)
	if err != nil {
		return 0, c.wrap("count active", err)
	}
	return n, nil
}

// RecentActivity lists entries that left the queue during the last week,
// newest first.
func (c *Controller) RecentActivity(ctx context.Context, restaurantID string) ([]models.QueueEntry, error) {
	return c.history(ctx, store.HistoryFilter{
		RestaurantID: restaurantID,
		Statuses:     []string{models.StatusServed, models.StatusRemoved},
		Since:        c.now().Add(-RecentActivityWindow),
		Limit:        RecentActivityLimit,
	})
}

func (c *Controller) ServedHistory(ctx context.Context, restaurantID string) ([]models.QueueEntry, error) {
	return c.history(ctx, store.HistoryFilter{
		RestaurantID: restaurantID,
		Statuses:     []string{models.StatusServed},
		Limit:        ServedHistoryLimit,
	})
}

func (c *Controller) history(ctx context.Context, filter store.HistoryFilter) ([]models.QueueEntry, error) {
	if _, err := c.store.GetRestaurant(ctx, filter.RestaurantID); err != nil {
		return nil, c.wrap("get restaurant", err)
	}
	entries, err := c.store.ListHistory(ctx, filter)
	if err != nil {
		return nil, c.wrap("list history", err)
	}
	return entries, nil
}

func (c *Controller) Restaurant(ctx context.Context, restaurantID string) (models.Restaurant, error) {
	r, err := c.store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return models.Restaurant{}, c.wrap("get restaurant", err)
	}
	return r, nil
}

// Parties lists the restaurant's returning guests, most recent first.
func (c *Controller) Parties(ctx context.Context, restaurantID string, limit int) ([]models.Party, error) {
	if limit <= 0 {
		limit = DefaultPartiesLimit
	}
	parties, err := c.store.ListParties(ctx, restaurantID, limit)
	if err != nil {
		return nil, c.wrap("list parties", err)
	}
	return parties, nil
}
