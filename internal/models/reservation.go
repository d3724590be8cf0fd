package models

import "time"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Reservation struct {
	ID           string     `json:"id"`
	RestaurantID string     `json:"restaurant_id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	PartySize    int        `json:"party_size"`
	Date         string     `json:"date"`
	Time         string     `json:"time"`
	Notes        string     `json:"notes"`
	CheckedIn    bool       `json:"checked_in"`
	CheckInTime  *time.Time `json:"check_in_time,omitempty"`
	EntryID      *string    `json:"entry_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ScheduledAt combines Date and Time in the given location.
func (r Reservation) ScheduledAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout+" "+TimeLayout, r.Date+" "+r.Time, loc)
}
