package queue

import (
	"context"
	"strings"
	"time"

	"github.com/valayash/qwaitfront/internal/idempotency"
	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/store"

	"go.uber.org/zap"
)

type reservationStore interface {
	store.ReservationStore
	GetRestaurant(ctx context.Context, restaurantID string) (models.Restaurant, error)
}

// Reservations manages bookings ahead of check-in.
type Reservations struct {
	store    reservationStore
	guard    idempotency.Guard
	logger   *zap.Logger
	location *time.Location
	now      func() time.Time
}

type ReservationsConfig struct {
	Guard    idempotency.Guard
	Logger   *zap.Logger
	Location *time.Location
	Now      func() time.Time
}

func NewReservations(st reservationStore, cfg ReservationsConfig) *Reservations {
	r := &Reservations{
		store:    st,
		guard:    cfg.Guard,
		logger:   cfg.Logger,
		location: cfg.Location,
		now:      cfg.Now,
	}
	if r.guard == nil {
		r.guard = idempotency.NewMemoryGuard(idempotency.DefaultTTL)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.location == nil {
		r.location = time.UTC
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

type ReservationInput struct {
	RestaurantID string
	Name         string
	Phone        string
	PartySize    int
	Date         string
	Time         string
	Notes        string
}

func (s *Reservations) Create(ctx context.Context, input ReservationInput) (models.Reservation, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Phone = strings.TrimSpace(input.Phone)
	input.Date = strings.TrimSpace(input.Date)
	input.Time = strings.TrimSpace(input.Time)
	input.Notes = strings.TrimSpace(input.Notes)
	if input.PartySize == 0 {
		input.PartySize = 1
	}
	if err := s.validate(input); err != nil {
		return models.Reservation{}, err
	}
	if _, err := s.store.GetRestaurant(ctx, input.RestaurantID); err != nil {
		return models.Reservation{}, s.wrap("get restaurant", err)
	}

	token := idempotency.Token(input.RestaurantID, input.Name, store.NormalizePhone(input.Phone), input.Date, input.Time)
	acquired, err := s.guard.Acquire(ctx, token)
	if err != nil {
		// The unique slot index still rejects duplicates.
		s.logger.Warn("idempotency guard unavailable", zap.Error(err))
	} else if !acquired {
		return models.Reservation{}, &store.ConflictError{
			Kind:    store.ConflictReservationInProg,
			Message: "an identical reservation request is already being processed",
		}
	} else {
		defer func() {
			if err := s.guard.Release(context.WithoutCancel(ctx), token); err != nil {
				s.logger.Warn("idempotency release failed", zap.Error(err))
			}
		}()
	}

	res, err := s.store.CreateReservation(ctx, store.CreateReservationInput{
		RestaurantID: input.RestaurantID,
		Name:         input.Name,
		Phone:        input.Phone,
		PartySize:    input.PartySize,
		Date:         input.Date,
		Time:         input.Time,
		Notes:        input.Notes,
	})
	if err != nil {
		return models.Reservation{}, s.wrap("create reservation", err)
	}
	s.logger.Info("reservation created",
		zap.String("restaurant_id", res.RestaurantID),
		zap.String("reservation_id", res.ID),
		zap.String("date", res.Date),
		zap.String("time", res.Time),
	)
	return res, nil
}

func (s *Reservations) validate(input ReservationInput) error {
	switch {
	case input.RestaurantID == "":
		return store.Invalid("restaurant_id", "is required")
	case input.Name == "":
		return store.Invalid("name", "is required")
	case !store.ValidPhone(input.Phone):
		return store.Invalid("phone", "must contain 7 to 15 digits")
	case input.PartySize < 0:
		return store.Invalid("party_size", "must be greater than zero")
	}
	return s.validateSchedule(input.Date, input.Time)
}

// validateSchedule rejects dates before today and, for today, times that
// have already passed, in the restaurant's time zone.
func (s *Reservations) validateSchedule(date, clock string) error {
	if _, err := time.ParseInLocation(models.DateLayout, date, s.location); err != nil {
		return store.Invalid("date", "must be YYYY-MM-DD")
	}
	if _, err := time.Parse(models.TimeLayout, clock); err != nil {
		return store.Invalid("time", "must be HH:MM")
	}
	now := s.now().In(s.location)
	today := now.Format(models.DateLayout)
	switch {
	case date < today:
		return store.Invalid("date", "reservation date cannot be in the past")
	case date == today:
		at, _ := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, date+" "+clock, s.location)
		if at.Before(now) {
			return store.Invalid("time", "reservation time cannot be in the past for today")
		}
	}
	return nil
}

func (s *Reservations) Get(ctx context.Context, restaurantID, reservationID string) (models.Reservation, error) {
	res, err := s.store.GetReservation(ctx, restaurantID, reservationID)
	if err != nil {
		return models.Reservation{}, s.wrap("get reservation", err)
	}
	return res, nil
}

// ListByDate lists a day's reservations by time. An empty date means today.
func (s *Reservations) ListByDate(ctx context.Context, restaurantID, date string) ([]models.Reservation, error) {
	if date == "" {
		date = s.now().In(s.location).Format(models.DateLayout)
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return nil, store.Invalid("date", "must be YYYY-MM-DD")
	}
	if _, err := s.store.GetRestaurant(ctx, restaurantID); err != nil {
		return nil, s.wrap("get restaurant", err)
	}
	list, err := s.store.ListReservations(ctx, restaurantID, date)
	if err != nil {
		return nil, s.wrap("list reservations", err)
	}
	return list, nil
}

type ReservationUpdate struct {
	RestaurantID  string
	ReservationID string
	Name          *string
	Phone         *string
	PartySize     *int
	Date          *string
	Time          *string
	Notes         *string
}

// Update edits a reservation that has not been checked in yet.
func (s *Reservations) Update(ctx context.Context, input ReservationUpdate) (models.Reservation, error) {
	current, err := s.store.GetReservation(ctx, input.RestaurantID, input.ReservationID)
	if err != nil {
		return models.Reservation{}, s.wrap("get reservation", err)
	}
	if current.CheckedIn {
		return models.Reservation{}, store.ErrInvalidState
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return models.Reservation{}, store.Invalid("name", "must not be empty")
		}
		input.Name = &name
	}
	if input.Phone != nil {
		phone := strings.TrimSpace(*input.Phone)
		if !store.ValidPhone(phone) {
			return models.Reservation{}, store.Invalid("phone", "must contain 7 to 15 digits")
		}
		input.Phone = &phone
	}
	if input.PartySize != nil && *input.PartySize <= 0 {
		return models.Reservation{}, store.Invalid("party_size", "must be greater than zero")
	}
	if input.Date != nil || input.Time != nil {
		date, clock := current.Date, current.Time
		if input.Date != nil {
			date = strings.TrimSpace(*input.Date)
			input.Date = &date
		}
		if input.Time != nil {
			clock = strings.TrimSpace(*input.Time)
			input.Time = &clock
		}
		if err := s.validateSchedule(date, clock); err != nil {
			return models.Reservation{}, err
		}
	}

	res, err := s.store.UpdateReservation(ctx, store.UpdateReservationInput{
		RestaurantID:  input.RestaurantID,
		ReservationID: input.ReservationID,
		Name:          input.Name,
		Phone:         input.Phone,
		PartySize:     input.PartySize,
		Date:          input.Date,
		Time:          input.Time,
		Notes:         input.Notes,
	})
	if err != nil {
		return models.Reservation{}, s.wrap("update reservation", err)
	}
	return res, nil
}

func (s *Reservations) Delete(ctx context.Context, restaurantID, reservationID string) error {
	if err := s.store.DeleteReservation(ctx, restaurantID, reservationID); err != nil {
		return s.wrap("delete reservation", err)
	}
	s.logger.Info("reservation deleted", zap.String("restaurant_id", restaurantID), zap.String("reservation_id", reservationID))
	return nil
}

func (s *Reservations) wrap(op string, err error) error {
	if err == nil || store.IsDomainError(err) {
		return err
	}
	s.logger.Error("store failure", zap.String("op", op), zap.Error(err))
	return &store.PersistenceError{Op: op, Err: err}
}
