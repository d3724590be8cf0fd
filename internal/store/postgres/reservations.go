package postgres

import (
	"context"
	"database/sql"

	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const reservationColumns = `
	id, restaurant_id, name, phone, party_size, reservation_date, reservation_time, notes,
	checked_in, check_in_time, entry_id, created_at, updated_at`

func (s *Store) CreateReservation(ctx context.Context, input store.CreateReservationInput) (res models.Reservation, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, errors.Wrap(err, "begin create reservation")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = ensureRestaurant(ctx, tx, input.RestaurantID); err != nil {
		return models.Reservation{}, err
	}
	phoneKey := store.NormalizePhone(input.Phone)
	if err = checkSlot(ctx, tx, input.RestaurantID, phoneKey, input.Date, input.Time, ""); err != nil {
		return models.Reservation{}, err
	}

	partySize := input.PartySize
	if partySize == 0 {
		partySize = 1
	}
	now := s.now()
	row := tx.QueryRow(ctx, `
		INSERT INTO reservations (
			id, restaurant_id, name, phone, phone_key, party_size, reservation_date, reservation_time,
			notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+reservationColumns,
		uuid.NewString(), input.RestaurantID, input.Name, input.Phone, phoneKey, partySize, input.Date, input.Time, input.Notes, now)
	res, err = scanReservation(row)
	if err != nil {
		if isUniqueViolation(err) {
			err = slotConflict("")
			return models.Reservation{}, err
		}
		return models.Reservation{}, errors.Wrap(err, "insert reservation")
	}
	if err = s.insertOutboxEvent(ctx, tx, res.RestaurantID, store.EventReservationCreated, res); err != nil {
		return models.Reservation{}, errors.Wrap(err, "insert outbox event")
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, errors.Wrap(err, "commit create reservation")
	}
	return res, nil
}

func (s *Store) UpdateReservation(ctx context.Context, input store.UpdateReservationInput) (res models.Reservation, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, errors.Wrap(err, "begin update reservation")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	res, err = lockReservation(ctx, tx, input.RestaurantID, input.ReservationID)
	if err != nil {
		return models.Reservation{}, err
	}
	if res.CheckedIn {
		err = store.ErrInvalidState
		return models.Reservation{}, err
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
	phoneKey := store.NormalizePhone(res.Phone)
	if err = checkSlot(ctx, tx, res.RestaurantID, phoneKey, res.Date, res.Time, res.ID); err != nil {
		return models.Reservation{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE reservations
		SET name = $3, phone = $4, phone_key = $5, party_size = $6, reservation_date = $7, reservation_time = $8, notes = $9, updated_at = $10
		WHERE id = $1 AND restaurant_id = $2
		RETURNING `+reservationColumns,
		res.ID, res.RestaurantID, res.Name, res.Phone, phoneKey, res.PartySize, res.Date, res.Time, res.Notes, s.now())
	res, err = scanReservation(row)
	if err != nil {
		if isUniqueViolation(err) {
			err = slotConflict("")
			return models.Reservation{}, err
		}
		return models.Reservation{}, errors.Wrap(err, "update reservation")
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, errors.Wrap(err, "commit update reservation")
	}
	return res, nil
}

func (s *Store) DeleteReservation(ctx context.Context, restaurantID, reservationID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM reservations
		WHERE id = $1 AND restaurant_id = $2
	`, reservationID, restaurantID)
	if err != nil {
		return errors.Wrap(err, "delete reservation")
	}
	if tag.RowsAffected() == 0 {
		return store.ErrReservationNotFound
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, restaurantID, reservationID string) (models.Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1 AND restaurant_id = $2
	`, reservationID, restaurantID)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reservation{}, store.ErrReservationNotFound
		}
		return models.Reservation{}, errors.Wrap(err, "get reservation")
	}
	return res, nil
}

func (s *Store) ListReservations(ctx context.Context, restaurantID, date string) ([]models.Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE restaurant_id = $1 AND ($2 = '' OR reservation_date = $2)
		ORDER BY reservation_date ASC, reservation_time ASC, id ASC
	`, restaurantID, date)
	if err != nil {
		return nil, errors.Wrap(err, "list reservations")
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan reservation")
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate reservations")
	}
	return out, nil
}

// CheckInReservation converts a reservation into a WAITING entry. The
// reservation row lock is taken before the phone lock, matching the order
// used by entry edits, and a phone conflict rolls back both writes.
func (s *Store) CheckInReservation(ctx context.Context, input store.CheckInInput) (res models.Reservation, entry models.QueueEntry, err error) {
	at := input.CheckedInAt
	if at.IsZero() {
		at = s.now()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, models.QueueEntry{}, errors.Wrap(err, "begin check-in")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	res, err = lockReservation(ctx, tx, input.RestaurantID, input.ReservationID)
	if err != nil {
		return models.Reservation{}, models.QueueEntry{}, err
	}
	if res.CheckedIn {
		err = store.ErrInvalidState
		return models.Reservation{}, models.QueueEntry{}, err
	}

	entry, err = s.insertEntry(ctx, tx, store.CreateEntryInput{
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

	row := tx.QueryRow(ctx, `
		UPDATE reservations
		SET checked_in = TRUE, check_in_time = $3, entry_id = $4, updated_at = $3
		WHERE id = $1 AND restaurant_id = $2
		RETURNING `+reservationColumns,
		res.ID, res.RestaurantID, at, entry.ID)
	res, err = scanReservation(row)
	if err != nil {
		return models.Reservation{}, models.QueueEntry{}, errors.Wrap(err, "mark reservation checked in")
	}

	if err = s.insertOutboxEvent(ctx, tx, res.RestaurantID, store.EventReservationCheckIn, entry); err != nil {
		return models.Reservation{}, models.QueueEntry{}, errors.Wrap(err, "insert outbox event")
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, models.QueueEntry{}, errors.Wrap(err, "commit check-in")
	}
	return res, entry, nil
}

func lockReservation(ctx context.Context, tx pgx.Tx, restaurantID, reservationID string) (models.Reservation, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1 AND restaurant_id = $2
		FOR UPDATE
	`, reservationID, restaurantID)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reservation{}, store.ErrReservationNotFound
		}
		return models.Reservation{}, errors.Wrap(err, "load reservation")
	}
	return res, nil
}

// checkSlot matches on the normalized phone, so formatting differences do
// not produce a second booking for the same slot.
func checkSlot(ctx context.Context, tx pgx.Tx, restaurantID, phoneKey, date, tm, exceptID string) error {
	var existingID string
	row := tx.QueryRow(ctx, `
		SELECT id
		FROM reservations
		WHERE restaurant_id = $1 AND phone_key = $2 AND reservation_date = $3 AND reservation_time = $4 AND id <> $5
		LIMIT 1
	`, restaurantID, phoneKey, date, tm, exceptID)
	if err := row.Scan(&existingID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return errors.Wrap(err, "check reservation slot")
	}
	return slotConflict(existingID)
}

func slotConflict(existingID string) error {
	return &store.ConflictError{
		Kind:       store.ConflictReservationSlot,
		ExistingID: existingID,
		Message:    "a reservation with these details already exists",
	}
}

func scanReservation(row pgx.Row) (models.Reservation, error) {
	var res models.Reservation
	var checkIn sql.NullTime
	var entryID sql.NullString
	err := row.Scan(
		&res.ID,
		&res.RestaurantID,
		&res.Name,
		&res.Phone,
		&res.PartySize,
		&res.Date,
		&res.Time,
		&res.Notes,
		&res.CheckedIn,
		&checkIn,
		&entryID,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return models.Reservation{}, err
	}
	res.CheckInTime = nullTimePtr(checkIn)
	res.EntryID = nullStringPtr(entryID)
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	return res, nil
}
