package models

import "time"

type QueueEntry struct {
	ID                   string     `json:"id"`
	RestaurantID         string     `json:"restaurant_id"`
	CustomerName         string     `json:"customer_name"`
	PhoneNumber          string     `json:"phone_number"`
	PhoneKey             string     `json:"-"`
	PeopleCount          int        `json:"people_count"`
	Notes                string     `json:"notes"`
	Status               string     `json:"status"`
	Origin               string     `json:"origin"`
	ReservationID        *string    `json:"reservation_id,omitempty"`
	Timestamp            time.Time  `json:"timestamp"`
	QuotedTime           *int       `json:"quoted_time,omitempty"`
	CompletionTime       *time.Time `json:"completion_time,omitempty"`
	NotifiedAt           *time.Time `json:"notified_at,omitempty"`
	NotifiedSMSAt        *time.Time `json:"notified_sms_at,omitempty"`
	NotifiedEmailAt      *time.Time `json:"notified_email_at,omitempty"`
	NotificationAttempts int        `json:"notification_attempts"`
}

const (
	StatusWaiting = "WAITING"
	StatusServed  = "SERVED"
	StatusRemoved = "REMOVED"
)

const (
	OriginWalkIn      = "WALKIN"
	OriginReservation = "RESERVATION"
)

// Active reports whether the entry takes part in queue ordering.
func (e QueueEntry) Active() bool {
	return e.Status == StatusWaiting
}

// ParseStatus maps client supplied status names onto the canonical set.
// CANCELED and CANCELLED are accepted as aliases of REMOVED.
func ParseStatus(value string) (string, bool) {
	switch value {
	case StatusWaiting, "waiting":
		return StatusWaiting, true
	case StatusServed, "served":
		return StatusServed, true
	case StatusRemoved, "removed", "CANCELED", "canceled", "CANCELLED", "cancelled":
		return StatusRemoved, true
	default:
		return "", false
	}
}
