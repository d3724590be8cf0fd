package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valayash/qwaitfront/internal/models"
)

type CreateEntryInput struct {
	RestaurantID  string
	CustomerName  string
	PhoneNumber   string
	PeopleCount   int
	Notes         string
	Origin        string
	ReservationID string
	Timestamp     time.Time
	// MaxQueueSize rejects the insert with ErrQueueFull once the restaurant
	// already has that many waiting entries. Zero means unlimited.
	MaxQueueSize int
}

// UpdateEntryInput carries the editable fields; nil means unchanged.
type UpdateEntryInput struct {
	RestaurantID string
	EntryID      string
	CustomerName *string
	PhoneNumber  *string
	PeopleCount  *int
	Notes        *string
	QuotedTime   *int
}

type TransitionInput struct {
	RestaurantID string
	EntryID      string
	Action       string
	OccurredAt   time.Time
}

type NotificationInput struct {
	RestaurantID string
	EntryID      string
	SMSSent      bool
	EmailSent    bool
	OccurredAt   time.Time
}

type HistoryFilter struct {
	RestaurantID string
	Statuses     []string
	Since        time.Time
	Limit        int
}

type CreateReservationInput struct {
	RestaurantID string
	Name         string
	Phone        string
	PartySize    int
	Date         string
	Time         string
	Notes        string
}

type UpdateReservationInput struct {
	RestaurantID  string
	ReservationID string
	Name          *string
	Phone         *string
	PartySize     *int
	Date          *string
	Time          *string
	Notes         *string
}

type CheckInInput struct {
	RestaurantID  string
	ReservationID string
	CheckedInAt   time.Time
}

// EntryStore persists queue entries. Every mutating call is one atomic unit.
type EntryStore interface {
	CreateEntry(ctx context.Context, input CreateEntryInput) (models.QueueEntry, error)
	UpdateEntry(ctx context.Context, input UpdateEntryInput) (models.QueueEntry, error)
	TransitionEntry(ctx context.Context, input TransitionInput) (models.QueueEntry, error)
	RecordNotification(ctx context.Context, input NotificationInput) (models.QueueEntry, error)
	GetEntry(ctx context.Context, restaurantID, entryID string) (models.QueueEntry, error)
	ListActive(ctx context.Context, restaurantID string) ([]models.QueueEntry, error)
	CountActive(ctx context.Context, restaurantID string) (int, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]models.QueueEntry, error)
}

type ReservationStore interface {
	CreateReservation(ctx context.Context, input CreateReservationInput) (models.Reservation, error)
	UpdateReservation(ctx context.Context, input UpdateReservationInput) (models.Reservation, error)
	DeleteReservation(ctx context.Context, restaurantID, reservationID string) error
	GetReservation(ctx context.Context, restaurantID, reservationID string) (models.Reservation, error)
	ListReservations(ctx context.Context, restaurantID, date string) ([]models.Reservation, error)
	// CheckInReservation marks the reservation checked in and creates its
	// WAITING queue entry in the same unit of work.
	CheckInReservation(ctx context.Context, input CheckInInput) (models.Reservation, models.QueueEntry, error)
}

type RestaurantStore interface {
	GetRestaurant(ctx context.Context, restaurantID string) (models.Restaurant, error)
	ListParties(ctx context.Context, restaurantID string, limit int) ([]models.Party, error)
}

type Store interface {
	EntryStore
	ReservationStore
	RestaurantStore
}

type OutboxEvent struct {
	EventID      string          `json:"event_id"`
	RestaurantID string          `json:"restaurant_id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// OutboxSource is implemented by stores that record mutation events in the
// same transaction as the mutation itself. Rows stay pending until marked
// relayed, so a transaction that commits late is still picked up.
type OutboxSource interface {
	ListPendingOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkOutboxRelayed(ctx context.Context, eventIDs []string, at time.Time) error
	// CleanupOutbox deletes rows relayed before the cutoff.
	CleanupOutbox(ctx context.Context, before time.Time) (int64, error)
}

// Outbox event types.
const (
	EventEntryCreated       = "entry.created"
	EventEntryUpdated       = "entry.updated"
	EventEntryServed        = "entry.served"
	EventEntryRemoved       = "entry.removed"
	EventEntryNotified      = "entry.notified"
	EventReservationCheckIn = "reservation.checked_in"
	EventReservationCreated = "reservation.created"
)
