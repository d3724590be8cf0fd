package queue

import (
	"context"

	"github.com/valayash/qwaitfront/internal/events"
	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/store"
	"github.com/valayash/qwaitfront/internal/telemetry"

	"go.uber.org/zap"
)

// CheckInReservation turns a booked reservation into a waiting entry that
// is served ahead of walk-ins. The reservation is marked and the entry
// created in one store call, so a phone conflict leaves the reservation
// unchecked.
func (c *Controller) CheckInReservation(ctx context.Context, restaurantID, reservationID string) (res models.Reservation, entry models.QueueEntry, err error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.check_in", restaurantID, telemetry.ReservationIDKey.String(reservationID))
	defer func() { telemetry.EndSpan(span, err) }()

	if restaurantID == "" || reservationID == "" {
		return models.Reservation{}, models.QueueEntry{}, store.Invalid("reservation_id", "is required")
	}
	res, err = c.store.GetReservation(ctx, restaurantID, reservationID)
	if err != nil {
		return models.Reservation{}, models.QueueEntry{}, c.wrap("get reservation", err)
	}
	if res.CheckedIn {
		return models.Reservation{}, models.QueueEntry{}, store.ErrInvalidState
	}

	unlock := c.locks.Lock(phoneKey(restaurantID, store.NormalizePhone(res.Phone)))
	defer unlock()

	res, entry, err = c.store.CheckInReservation(ctx, store.CheckInInput{
		RestaurantID:  restaurantID,
		ReservationID: reservationID,
		CheckedInAt:   c.now(),
	})
	if err != nil {
		return models.Reservation{}, models.QueueEntry{}, c.wrap("check in reservation", err)
	}
	c.logger.Info("reservation checked in",
		zap.String("restaurant_id", restaurantID),
		zap.String("reservation_id", reservationID),
		zap.String("entry_id", entry.ID),
	)
	c.publisher.Publish(ctx, events.Update(store.EventReservationCheckIn, entry))
	return res, entry, nil
}
