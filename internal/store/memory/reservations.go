package memory

import (
	"context"
	"sort"

	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateReservation(ctx context.Context, input store.CreateReservationInput) (models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.restaurants[input.RestaurantID]; !ok {
		return models.Reservation{}, store.ErrRestaurantNotFound
	}
	if existing, ok := s.slotLocked(input.RestaurantID, input.Phone, input.Date, input.Time, ""); ok {
		return models.Reservation{}, slotConflict(existing.ID)
	}
	now := s.now()
	partySize := input.PartySize
	if partySize == 0 {
		partySize = 1
	}
	res := models.Reservation{
		ID:           uuid.NewString(),
		RestaurantID: input.RestaurantID,
		Name:         input.Name,
		Phone:        input.Phone,
		PartySize:    partySize,
		Date:         input.Date,
		Time:         input.Time,
		Notes:        input.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.reservations[res.ID] = res
	return res, nil
}

func (s *Store) slotLocked(restaurantID, phone, date, tm, exceptID string) (models.Reservation, bool) {
	key := store.NormalizePhone(phone)
	for _, r := range s.reservations {
		if r.RestaurantID == restaurantID && store.NormalizePhone(r.Phone) == key && r.Date == date && r.Time == tm && r.ID != exceptID {
			return r, true
		}
	}
	return models.Reservation{}, false
}

func slotConflict(existingID string) error {
	return &store.ConflictError{
		Kind:       store.ConflictReservationSlot,
		ExistingID: existingID,
		Message:    "a reservation with these details already exists",
	}
}

func (s *Store) UpdateReservation(ctx context.Context, input store.UpdateReservationInput) (models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[input.ReservationID]
	if !ok || res.RestaurantID != input.RestaurantID {
		return models.Reservation{}, store.ErrReservationNotFound
	}
	if res.CheckedIn {
		return models.Reservation{}, store.ErrInvalidState
	}
	if input.Name != nil {
		res.Name = *input.Name
	}
	if input.Phone != nil {
		res.Phone = *input.Phone
	}
	if input.PartySize != nil {
		res.PartySize = *input.PartySize
	}
	if input.Date != nil {
		res.Date = *input.Date
	}
	if input.Time != nil {
		res.Time = *input.Time
	}
	if input.Notes != nil {
		res.Notes = *input.Notes
	}
	if existing, ok := s.slotLocked(res.RestaurantID, res.Phone, res.Date, res.Time, res.ID); ok {
		return models.Reservation{}, slotConflict(existing.ID)
	}
	res.UpdatedAt = s.now()
	s.reservations[res.ID] = res
	return res, nil
}

func (s *Store) DeleteReservation(ctx context.Context, restaurantID, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[reservationID]
	if !ok || res.RestaurantID != restaurantID {
		return store.ErrReservationNotFound
	}
	delete(s.reservations, reservationID)
	return nil
}

func (s *Store) GetReservation(ctx context.Context, restaurantID, reservationID string) (models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[reservationID]
	if !ok || res.RestaurantID != restaurantID {
		return models.Reservation{}, store.ErrReservationNotFound
	}
	return res, nil
}

func (s *Store) ListReservations(ctx context.Context, restaurantID, date string) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, r := range s.reservations {
		if r.RestaurantID == restaurantID && (date == "" || r.Date == date) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CheckInReservation(ctx context.Context, input store.CheckInInput) (models.Reservation, models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[input.ReservationID]
	if !ok || res.RestaurantID != input.RestaurantID {
		return models.Reservation{}, models.QueueEntry{}, store.ErrReservationNotFound
	}
	if res.CheckedIn {
		return models.Reservation{}, models.QueueEntry{}, store.ErrInvalidState
	}
	at := input.CheckedInAt
	if at.IsZero() {
		at = s.now()
	}

	entry, err := s.createEntryLocked(store.CreateEntryInput{
		RestaurantID:  res.RestaurantID,
		CustomerName:  res.Name,
		PhoneNumber:   res.Phone,
		PeopleCount:   res.PartySize,
		Notes:         res.Notes,
		Origin:        models.OriginReservation,
		ReservationID: res.ID,
		Timestamp:     at,
	})
	if err != nil {
		return models.Reservation{}, models.QueueEntry{}, err
	}

	res.CheckedIn = true
	res.CheckInTime = &at
	entryID := entry.ID
	res.EntryID = &entryID
	res.UpdatedAt = at
	s.reservations[res.ID] = res
	return res, entry, nil
}

var _ store.Store = (*Store)(nil)
