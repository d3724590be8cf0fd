// Package ordering computes the canonical queue order of a restaurant's
// active entries and the position and wait figures derived from it.
//
// Entries checked in from a reservation form the first priority group and
// walk-ins the second. Within a group entries are ordered by timestamp, with
// the entry id breaking ties so the order is total and repeatable.
package ordering

import (
	"errors"
	"sort"
	"time"

	"github.com/valayash/qwaitfront/internal/models"
)

var ErrForeignEntry = errors.New("entry belongs to another restaurant")

const (
	groupReservation = 0
	groupWalkIn      = 1
)

// PriorityGroup returns the ordering group of an entry origin.
func PriorityGroup(origin string) int {
	if origin == models.OriginReservation {
		return groupReservation
	}
	return groupWalkIn
}

// Less reports whether a sorts before b in the canonical order.
func Less(a, b models.QueueEntry) bool {
	ga, gb := PriorityGroup(a.Origin), PriorityGroup(b.Origin)
	if ga != gb {
		return ga < gb
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// Order returns the WAITING entries in canonical order. The input is not modified.
func Order(entries []models.QueueEntry) []models.QueueEntry {
	active := make([]models.QueueEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Active() {
			active = append(active, entry)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return Less(active[i], active[j])
	})
	return active
}

// Queue is an ordered snapshot of one restaurant's active entries.
type Queue struct {
	restaurantID string
	avgWait      int
	entries      []models.QueueEntry
	positions    map[string]int
}

func NewQueue(restaurantID string, entries []models.QueueEntry, avgWaitMinutes int) Queue {
	if avgWaitMinutes <= 0 {
		avgWaitMinutes = models.DefaultAvgWaitMinutes
	}
	scoped := make([]models.QueueEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.RestaurantID == restaurantID {
			scoped = append(scoped, entry)
		}
	}
	ordered := Order(scoped)
	positions := make(map[string]int, len(ordered))
	for i, entry := range ordered {
		positions[entry.ID] = i + 1
	}
	return Queue{
		restaurantID: restaurantID,
		avgWait:      avgWaitMinutes,
		entries:      ordered,
		positions:    positions,
	}
}

func (q Queue) RestaurantID() string { return q.restaurantID }

func (q Queue) AvgWait() int { return q.avgWait }

func (q Queue) Len() int { return len(q.entries) }

// Entries returns a copy of the ordered active entries.
func (q Queue) Entries() []models.QueueEntry {
	out := make([]models.QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Position returns the 1-based place of entry, or 0 when it is not active.
func (q Queue) Position(entry models.QueueEntry) (int, error) {
	if entry.RestaurantID != q.restaurantID {
		return 0, ErrForeignEntry
	}
	if !entry.Active() {
		return 0, nil
	}
	return q.positions[entry.ID], nil
}

// EstimatedWait is position times the restaurant's minutes per party. It
// ignores party size and table capacity.
func (q Queue) EstimatedWait(entry models.QueueEntry) (int, error) {
	pos, err := q.Position(entry)
	if err != nil {
		return 0, err
	}
	return pos * q.avgWait, nil
}

// Positions maps every active entry id to its position.
func (q Queue) Positions() map[string]int {
	out := make(map[string]int, len(q.positions))
	for id, pos := range q.positions {
		out[id] = pos
	}
	return out
}

// TimeInQueue is the whole minutes an active entry has waited since its timestamp.
func TimeInQueue(entry models.QueueEntry, now time.Time) int {
	if !entry.Active() {
		return 0
	}
	return wholeMinutes(now.Sub(entry.Timestamp))
}

// WaitTimeMinutes is the display wait: elapsed time for active entries and
// the completed wait for terminal ones.
func WaitTimeMinutes(entry models.QueueEntry, now time.Time) int {
	if entry.Active() {
		return wholeMinutes(now.Sub(entry.Timestamp))
	}
	if entry.CompletionTime == nil {
		return 0
	}
	return wholeMinutes(entry.CompletionTime.Sub(entry.Timestamp))
}

func wholeMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}
