// Package memory is a process-local Store used by tests and by single node
// deployments without Postgres. A single mutex makes every call atomic.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/store"

	"github.com/google/uuid"
)

type partyKey struct {
	restaurantID string
	phoneKey     string
}

type Store struct {
	mu           sync.Mutex
	now          func() time.Time
	restaurants  map[string]models.Restaurant
	entries      map[string]models.QueueEntry
	reservations map[string]models.Reservation
	parties      map[partyKey]models.Party
}

func NewStore(restaurants ...models.Restaurant) *Store {
	s := &Store{
		now:          func() time.Time { return time.Now().UTC() },
		restaurants:  make(map[string]models.Restaurant),
		entries:      make(map[string]models.QueueEntry),
		reservations: make(map[string]models.Reservation),
		parties:      make(map[partyKey]models.Party),
	}
	for _, r := range restaurants {
		s.restaurants[r.ID] = r
	}
	return s
}

// SetClock replaces the time source for created_at style fields.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) PutRestaurant(r models.Restaurant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants[r.ID] = r
}

func (s *Store) GetRestaurant(ctx context.Context, restaurantID string) (models.Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.restaurants[restaurantID]
	if !ok {
		return models.Restaurant{}, store.ErrRestaurantNotFound
	}
	return r, nil
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.restaurants[input.RestaurantID]; !ok {
		return models.QueueEntry{}, store.ErrRestaurantNotFound
	}
	return s.createEntryLocked(input)
}

func (s *Store) createEntryLocked(input store.CreateEntryInput) (models.QueueEntry, error) {
	if input.MaxQueueSize > 0 && s.countActiveLocked(input.RestaurantID) >= input.MaxQueueSize {
		return models.QueueEntry{}, store.ErrQueueFull
	}
	phoneKey := store.NormalizePhone(input.PhoneNumber)
	if existing, ok := s.activeByPhoneLocked(input.RestaurantID, phoneKey, ""); ok {
		return models.QueueEntry{}, &store.ConflictError{
			Kind:       store.ConflictActiveEntry,
			ExistingID: existing.ID,
			Message:    "phone number already in the queue for " + existing.CustomerName,
		}
	}

	ts := input.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	origin := input.Origin
	if origin == "" {
		origin = models.OriginWalkIn
	}
	entry := models.QueueEntry{
		ID:           uuid.NewString(),
		RestaurantID: input.RestaurantID,
		CustomerName: input.CustomerName,
		PhoneNumber:  input.PhoneNumber,
		PhoneKey:     phoneKey,
		PeopleCount:  input.PeopleCount,
		Notes:        input.Notes,
		Status:       models.StatusWaiting,
		Origin:       origin,
		Timestamp:    ts,
	}
	if input.ReservationID != "" {
		id := input.ReservationID
		entry.ReservationID = &id
	}
	s.entries[entry.ID] = entry
	s.touchPartyLocked(entry)
	return entry, nil
}

func (s *Store) activeByPhoneLocked(restaurantID, phoneKey, exceptID string) (models.QueueEntry, bool) {
	for _, e := range s.entries {
		if e.RestaurantID == restaurantID && e.PhoneKey == phoneKey && e.Active() && e.ID != exceptID {
			return e, true
		}
	}
	return models.QueueEntry{}, false
}

func (s *Store) UpdateEntry(ctx context.Context, input store.UpdateEntryInput) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[input.EntryID]
	if !ok || entry.RestaurantID != input.RestaurantID {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	if !store.ValidTransition(store.ActionEdit, entry.Status) {
		return models.QueueEntry{}, store.ErrInvalidState
	}
	if input.PhoneNumber != nil {
		key := store.NormalizePhone(*input.PhoneNumber)
		if existing, ok := s.activeByPhoneLocked(entry.RestaurantID, key, entry.ID); ok {
			return models.QueueEntry{}, &store.ConflictError{Kind: store.ConflictActiveEntry, ExistingID: existing.ID}
		}
		entry.PhoneNumber = *input.PhoneNumber
		entry.PhoneKey = key
	}
	if input.CustomerName != nil {
		entry.CustomerName = *input.CustomerName
	}
	if input.PeopleCount != nil {
		entry.PeopleCount = *input.PeopleCount
	}
	if input.Notes != nil {
		entry.Notes = *input.Notes
	}
	if input.QuotedTime != nil {
		quoted := *input.QuotedTime
		entry.QuotedTime = &quoted
	}
	s.entries[entry.ID] = entry
	s.touchPartyLocked(entry)
	return entry, nil
}

func (s *Store) TransitionEntry(ctx context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := store.TargetStatus(input.Action)
	if !ok {
		return models.QueueEntry{}, store.ErrInvalidState
	}
	entry, ok := s.entries[input.EntryID]
	if !ok || entry.RestaurantID != input.RestaurantID {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	if !store.ValidTransition(input.Action, entry.Status) {
		return models.QueueEntry{}, store.ErrInvalidState
	}
	at := input.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	entry.Status = target
	entry.CompletionTime = &at
	s.entries[entry.ID] = entry
	s.touchPartyLocked(entry)
	return entry, nil
}

func (s *Store) RecordNotification(ctx context.Context, input store.NotificationInput) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[input.EntryID]
	if !ok || entry.RestaurantID != input.RestaurantID {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	if !store.ValidTransition(store.ActionNotify, entry.Status) {
		return models.QueueEntry{}, store.ErrInvalidState
	}
	at := input.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	entry.NotificationAttempts++
	if input.SMSSent || input.EmailSent {
		entry.NotifiedAt = &at
	}
	if input.SMSSent {
		entry.NotifiedSMSAt = &at
	}
	if input.EmailSent {
		entry.NotifiedEmailAt = &at
	}
	s.entries[entry.ID] = entry
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, restaurantID, entryID string) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok || entry.RestaurantID != restaurantID {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	return entry, nil
}

func (s *Store) ListActive(ctx context.Context, restaurantID string) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueEntry
	for _, e := range s.entries {
		if e.RestaurantID == restaurantID && e.Active() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CountActive(ctx context.Context, restaurantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveLocked(restaurantID), nil
}

func (s *Store) countActiveLocked(restaurantID string) int {
	count := 0
	for _, e := range s.entries {
		if e.RestaurantID == restaurantID && e.Active() {
			count++
		}
	}
	return count
}

func (s *Store) ListHistory(ctx context.Context, filter store.HistoryFilter) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueEntry
	for _, e := range s.entries {
		if e.RestaurantID != filter.RestaurantID || !containsStatus(filter.Statuses, e.Status) {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func containsStatus(statuses []string, status string) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *Store) touchPartyLocked(entry models.QueueEntry) {
	key := partyKey{restaurantID: entry.RestaurantID, phoneKey: entry.PhoneKey}
	party, ok := s.parties[key]
	if !ok {
		party = models.Party{
			RestaurantID: entry.RestaurantID,
			PhoneKey:     entry.PhoneKey,
			CreatedAt:    s.now(),
		}
	}
	party.Name = entry.CustomerName
	party.Phone = entry.PhoneNumber
	if entry.Notes != "" {
		party.Notes = entry.Notes
	}
	if entry.Status == models.StatusServed && entry.CompletionTime != nil {
		party.Visits++
		last := *entry.CompletionTime
		party.LastVisit = &last
	}
	s.parties[key] = party
}

func (s *Store) ListParties(ctx context.Context, restaurantID string, limit int) ([]models.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Party
	for key, p := range s.parties {
		if key.restaurantID == restaurantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastVisit, out[j].LastVisit
		switch {
		case li != nil && lj != nil && !li.Equal(*lj):
			return li.After(*lj)
		case li != nil && lj == nil:
			return true
		case li == nil && lj != nil:
			return false
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
