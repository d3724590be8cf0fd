// Package postgres implements store.Store on pgx. Each mutation runs in one
// transaction that also appends its outbox row.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

const entryColumns = `
	id, restaurant_id, customer_name, phone_number, phone_key, people_count, notes,
	status, origin, reservation_id, joined_at, quoted_time, completion_time,
	notified_at, notified_sms_at, notified_email_at, notification_attempts`

type Store struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	outbox bool
}

type Option func(*Store)

// WithOutbox makes every mutation append its event to outbox_events for the
// broker relay. Without it no outbox rows are written.
func WithOutbox() Option {
	return func(s *Store) { s.outbox = true }
}

func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertRestaurant creates or replaces a restaurant row. Used for seeding.
func (s *Store) UpsertRestaurant(ctx context.Context, r models.Restaurant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO restaurants (id, name, address, phone, avg_wait_minutes, max_queue_size, sms_notifications, staff_key_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			avg_wait_minutes = EXCLUDED.avg_wait_minutes,
			max_queue_size = EXCLUDED.max_queue_size,
			sms_notifications = EXCLUDED.sms_notifications,
			staff_key_hash = EXCLUDED.staff_key_hash
	`, r.ID, r.Name, r.Address, r.Phone, r.AvgWaitMinutes, r.MaxQueueSize, r.SMSNotifications, r.StaffKeyHash)
	return errors.Wrap(err, "upsert restaurant")
}

func (s *Store) GetRestaurant(ctx context.Context, restaurantID string) (models.Restaurant, error) {
	var r models.Restaurant
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, address, phone, avg_wait_minutes, max_queue_size, sms_notifications, staff_key_hash
		FROM restaurants
		WHERE id = $1
	`, restaurantID)
	if err := row.Scan(&r.ID, &r.Name, &r.Address, &r.Phone, &r.AvgWaitMinutes, &r.MaxQueueSize, &r.SMSNotifications, &r.StaffKeyHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Restaurant{}, store.ErrRestaurantNotFound
		}
		return models.Restaurant{}, errors.Wrap(err, "get restaurant")
	}
	return r, nil
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (entry models.QueueEntry, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "begin create entry")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = ensureRestaurant(ctx, tx, input.RestaurantID); err != nil {
		return models.QueueEntry{}, err
	}
	if input.MaxQueueSize > 0 {
		if err = checkCapacity(ctx, tx, input.RestaurantID, input.MaxQueueSize); err != nil {
			return models.QueueEntry{}, err
		}
	}
	entry, err = s.insertEntry(ctx, tx, input)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err = s.insertOutboxEvent(ctx, tx, entry.RestaurantID, store.EventEntryCreated, entry); err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "insert outbox event")
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "commit create entry")
	}
	return entry, nil
}

// insertEntry serializes joins per restaurant and phone key with an advisory
// lock, so the conflict check and the insert see the same active set.
func (s *Store) insertEntry(ctx context.Context, tx pgx.Tx, input store.CreateEntryInput) (models.QueueEntry, error) {
	phoneKey := store.NormalizePhone(input.PhoneNumber)
	if err := lockPhone(ctx, tx, input.RestaurantID, phoneKey); err != nil {
		return models.QueueEntry{}, err
	}
	if err := checkActivePhone(ctx, tx, input.RestaurantID, phoneKey, ""); err != nil {
		return models.QueueEntry{}, err
	}

	ts := input.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	origin := input.Origin
	if origin == "" {
		origin = models.OriginWalkIn
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO queue_entries (
			id, restaurant_id, customer_name, phone_number, phone_key, people_count,
			notes, status, origin, reservation_id, joined_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+entryColumns,
		uuid.NewString(), input.RestaurantID, input.CustomerName, input.PhoneNumber, phoneKey,
		input.PeopleCount, input.Notes, models.StatusWaiting, origin, nullIfEmpty(input.ReservationID), ts)
	entry, err := scanEntry(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.QueueEntry{}, &store.ConflictError{Kind: store.ConflictActiveEntry}
		}
		return models.QueueEntry{}, errors.Wrap(err, "insert queue entry")
	}
	if err := s.touchParty(ctx, tx, entry); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) UpdateEntry(ctx context.Context, input store.UpdateEntryInput) (entry models.QueueEntry, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "begin update entry")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE id = $1 AND restaurant_id = $2
		FOR UPDATE
	`, input.EntryID, input.RestaurantID)
	entry, err = scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, errors.Wrap(err, "load queue entry")
	}
	if !store.ValidTransition(store.ActionEdit, entry.Status) {
		return models.QueueEntry{}, store.ErrInvalidState
	}

	if input.PhoneNumber != nil {
		key := store.NormalizePhone(*input.PhoneNumber)
		if key != entry.PhoneKey {
			if err = lockPhone(ctx, tx, entry.RestaurantID, key); err != nil {
				return models.QueueEntry{}, err
			}
			if err = checkActivePhone(ctx, tx, entry.RestaurantID, key, entry.ID); err != nil {
				return models.QueueEntry{}, err
			}
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

	row = tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET customer_name = $3, phone_number = $4, phone_key = $5, people_count = $6, notes = $7, quoted_time = $8
		WHERE id = $1 AND restaurant_id = $2
		RETURNING `+entryColumns,
		entry.ID, entry.RestaurantID, entry.CustomerName, entry.PhoneNumber, entry.PhoneKey,
		entry.PeopleCount, entry.Notes, entry.QuotedTime)
	entry, err = scanEntry(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.QueueEntry{}, &store.ConflictError{Kind: store.ConflictActiveEntry}
		}
		return models.QueueEntry{}, errors.Wrap(err, "update queue entry")
	}
	if err = s.touchParty(ctx, tx, entry); err != nil {
		return models.QueueEntry{}, err
	}
	if err = s.insertOutboxEvent(ctx, tx, entry.RestaurantID, store.EventEntryUpdated, entry); err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "insert outbox event")
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "commit update entry")
	}
	return entry, nil
}

// TransitionEntry applies a terminal transition with a conditional UPDATE so
// only one of two racing serve/cancel calls can win.
func (s *Store) TransitionEntry(ctx context.Context, input store.TransitionInput) (entry models.QueueEntry, err error) {
	target, ok := store.TargetStatus(input.Action)
	if !ok {
		return models.QueueEntry{}, store.ErrInvalidState
	}
	at := input.OccurredAt
	if at.IsZero() {
		at = s.now()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "begin transition")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $3, completion_time = $4
		WHERE id = $1 AND restaurant_id = $2 AND status = $5
		RETURNING `+entryColumns,
		input.EntryID, input.RestaurantID, target, at, models.StatusWaiting)
	entry, err = scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = missingOrInvalid(ctx, tx, input.RestaurantID, input.EntryID)
			return models.QueueEntry{}, err
		}
		return models.QueueEntry{}, errors.Wrap(err, "transition queue entry")
	}
	if err = s.touchParty(ctx, tx, entry); err != nil {
		return models.QueueEntry{}, err
	}

	eventType := store.EventEntryRemoved
	if target == models.StatusServed {
		eventType = store.EventEntryServed
	}
	if err = s.insertOutboxEvent(ctx, tx, entry.RestaurantID, eventType, entry); err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "insert outbox event")
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "commit transition")
	}
	return entry, nil
}

func (s *Store) RecordNotification(ctx context.Context, input store.NotificationInput) (entry models.QueueEntry, err error) {
	at := input.OccurredAt
	if at.IsZero() {
		at = s.now()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "begin record notification")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET notification_attempts = notification_attempts + 1,
			notified_at = CASE WHEN $3 OR $4 THEN $5 ELSE notified_at END,
			notified_sms_at = CASE WHEN $3 THEN $5 ELSE notified_sms_at END,
			notified_email_at = CASE WHEN $4 THEN $5 ELSE notified_email_at END
		WHERE id = $1 AND restaurant_id = $2 AND status = $6
		RETURNING `+entryColumns,
		input.EntryID, input.RestaurantID, input.SMSSent, input.EmailSent, at, models.StatusWaiting)
	entry, err = scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = missingOrInvalid(ctx, tx, input.RestaurantID, input.EntryID)
			return models.QueueEntry{}, err
		}
		return models.QueueEntry{}, errors.Wrap(err, "record notification")
	}
	if err = s.insertOutboxEvent(ctx, tx, entry.RestaurantID, store.EventEntryNotified, entry); err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "insert outbox event")
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, errors.Wrap(err, "commit record notification")
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, restaurantID, entryID string) (models.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE id = $1 AND restaurant_id = $2
	`, entryID, restaurantID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, errors.Wrap(err, "get queue entry")
	}
	return entry, nil
}

func (s *Store) ListActive(ctx context.Context, restaurantID string) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE restaurant_id = $1 AND status = $2
		ORDER BY joined_at ASC, id ASC
	`, restaurantID, models.StatusWaiting)
	if err != nil {
		return nil, errors.Wrap(err, "list active entries")
	}
	return collectEntries(rows)
}

func (s *Store) CountActive(ctx context.Context, restaurantID string) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE restaurant_id = $1 AND status = $2
	`, restaurantID, models.StatusWaiting)
	if err := row.Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count active entries")
	}
	return count, nil
}

func (s *Store) ListHistory(ctx context.Context, filter store.HistoryFilter) ([]models.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE restaurant_id = $1`
	args := []interface{}{filter.RestaurantID}
	if len(filter.Statuses) > 0 {
		args = append(args, filter.Statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND joined_at >= $%d", len(args))
	}
	query += " ORDER BY joined_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list history")
	}
	return collectEntries(rows)
}

func (s *Store) ListParties(ctx context.Context, restaurantID string, limit int) ([]models.Party, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT restaurant_id, phone_key, name, phone, notes, visits, last_visit, created_at
		FROM parties
		WHERE restaurant_id = $1
		ORDER BY last_visit DESC NULLS LAST, lower(name) ASC
		LIMIT $2
	`, restaurantID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list parties")
	}
	defer rows.Close()

	var parties []models.Party
	for rows.Next() {
		var p models.Party
		var lastVisit sql.NullTime
		if err := rows.Scan(&p.RestaurantID, &p.PhoneKey, &p.Name, &p.Phone, &p.Notes, &p.Visits, &lastVisit, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan party")
		}
		p.LastVisit = nullTimePtr(lastVisit)
		parties = append(parties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list parties")
	}
	return parties, nil
}

// touchParty keeps the per-phone guest record current and counts a visit
// when the entry was served.
func (s *Store) touchParty(ctx context.Context, tx pgx.Tx, entry models.QueueEntry) error {
	visits := 0
	var lastVisit interface{}
	if entry.Status == models.StatusServed && entry.CompletionTime != nil {
		visits = 1
		lastVisit = *entry.CompletionTime
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO parties (restaurant_id, phone_key, name, phone, notes, visits, last_visit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (restaurant_id, phone_key) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			notes = COALESCE(NULLIF(EXCLUDED.notes, ''), parties.notes),
			visits = parties.visits + EXCLUDED.visits,
			last_visit = COALESCE(EXCLUDED.last_visit, parties.last_visit)
	`, entry.RestaurantID, entry.PhoneKey, entry.CustomerName, entry.PhoneNumber, entry.Notes, visits, lastVisit, s.now())
	return errors.Wrap(err, "upsert party")
}

func ensureRestaurant(ctx context.Context, tx pgx.Tx, restaurantID string) error {
	var exists bool
	row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM restaurants WHERE id = $1)`, restaurantID)
	if err := row.Scan(&exists); err != nil {
		return errors.Wrap(err, "check restaurant")
	}
	if !exists {
		return store.ErrRestaurantNotFound
	}
	return nil
}

// checkCapacity serializes capped joins per restaurant and rejects the
// insert once the waiting count reaches limit. The two-key lock form keeps it
// apart from the phone locks.
func checkCapacity(ctx context.Context, tx pgx.Tx, restaurantID string, limit int) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('queue_capacity'), hashtext($1))`, restaurantID); err != nil {
		return errors.Wrap(err, "lock queue capacity")
	}
	var count int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE restaurant_id = $1 AND status = $2
	`, restaurantID, models.StatusWaiting)
	if err := row.Scan(&count); err != nil {
		return errors.Wrap(err, "count active entries")
	}
	if count >= limit {
		return store.ErrQueueFull
	}
	return nil
}

func lockPhone(ctx context.Context, tx pgx.Tx, restaurantID, phoneKey string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, restaurantID+"|"+phoneKey); err != nil {
		return errors.Wrap(err, "lock phone")
	}
	return nil
}

func checkActivePhone(ctx context.Context, tx pgx.Tx, restaurantID, phoneKey, exceptID string) error {
	var existingID, existingName string
	row := tx.QueryRow(ctx, `
		SELECT id, customer_name
		FROM queue_entries
		WHERE restaurant_id = $1 AND phone_key = $2 AND status = $3 AND id <> $4
		LIMIT 1
	`, restaurantID, phoneKey, models.StatusWaiting, exceptID)
	if err := row.Scan(&existingID, &existingName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return errors.Wrap(err, "check active phone")
	}
	return &store.ConflictError{
		Kind:       store.ConflictActiveEntry,
		ExistingID: existingID,
		Message:    "phone number already in the queue for " + existingName,
	}
}

func missingOrInvalid(ctx context.Context, tx pgx.Tx, restaurantID, entryID string) error {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status
		FROM queue_entries
		WHERE id = $1 AND restaurant_id = $2
	`, entryID, restaurantID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrEntryNotFound
		}
		return errors.Wrap(err, "load entry state")
	}
	return store.ErrInvalidState
}

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var reservationID sql.NullString
	var quoted sql.NullInt32
	var completion, notified, notifiedSMS, notifiedEmail sql.NullTime
	err := row.Scan(
		&entry.ID,
		&entry.RestaurantID,
		&entry.CustomerName,
		&entry.PhoneNumber,
		&entry.PhoneKey,
		&entry.PeopleCount,
		&entry.Notes,
		&entry.Status,
		&entry.Origin,
		&reservationID,
		&entry.Timestamp,
		&quoted,
		&completion,
		&notified,
		&notifiedSMS,
		&notifiedEmail,
		&entry.NotificationAttempts,
	)
	if err != nil {
		return models.QueueEntry{}, err
	}
	entry.Timestamp = entry.Timestamp.UTC()
	entry.ReservationID = nullStringPtr(reservationID)
	if quoted.Valid {
		value := int(quoted.Int32)
		entry.QuotedTime = &value
	}
	entry.CompletionTime = nullTimePtr(completion)
	entry.NotifiedAt = nullTimePtr(notified)
	entry.NotifiedSMSAt = nullTimePtr(notifiedSMS)
	entry.NotifiedEmailAt = nullTimePtr(notifiedEmail)
	return entry, nil
}

func collectEntries(rows pgx.Rows) ([]models.QueueEntry, error) {
	defer rows.Close()
	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan queue entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate queue entries")
	}
	return entries, nil
}

func (s *Store) insertOutboxEvent(ctx context.Context, tx pgx.Tx, restaurantID, eventType string, value interface{}) error {
	if !s.outbox {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, restaurant_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), restaurantID, eventType, payload, s.now())
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfEmpty(value string) interface{} {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

var _ store.Store = (*Store)(nil)
var _ store.OutboxSource = (*Store)(nil)
