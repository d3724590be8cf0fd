package models

import "time"

const DefaultAvgWaitMinutes = 15

type Restaurant struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Address          string `json:"address,omitempty"`
	Phone            string `json:"phone,omitempty"`
	AvgWaitMinutes   int    `json:"avg_wait_minutes"`
	MaxQueueSize     int    `json:"max_queue_size"`
	SMSNotifications bool   `json:"sms_notifications"`
	StaffKeyHash     string `json:"-"`
}

// AvgWait returns the configured minutes per party, falling back to the default.
func (r Restaurant) AvgWait() int {
	if r.AvgWaitMinutes <= 0 {
		return DefaultAvgWaitMinutes
	}
	return r.AvgWaitMinutes
}

type Party struct {
	RestaurantID string     `json:"restaurant_id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	PhoneKey     string     `json:"-"`
	Visits       int        `json:"visits"`
	LastVisit    *time.Time `json:"last_visit,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
