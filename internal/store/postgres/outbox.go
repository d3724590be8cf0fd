package postgres

import (
	"context"
	"time"

	"github.com/valayash/qwaitfront/internal/store"

	"github.com/pkg/errors"
)

// ListPendingOutboxEvents returns rows not yet relayed, oldest first.
func (s *Store) ListPendingOutboxEvents(ctx context.Context, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, restaurant_id, type, payload_json, created_at
		FROM outbox_events
		WHERE relayed_at IS NULL
		ORDER BY created_at ASC, event_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list pending outbox events")
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.RestaurantID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan outbox event")
		}
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate outbox events")
	}
	return events, nil
}

func (s *Store) MarkOutboxRelayed(ctx context.Context, eventIDs []string, at time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET relayed_at = $2
		WHERE event_id = ANY($1) AND relayed_at IS NULL
	`, eventIDs, at)
	return errors.Wrap(err, "mark outbox relayed")
}

func (s *Store) CleanupOutbox(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE relayed_at IS NOT NULL AND relayed_at < $1
	`, before)
	if err != nil {
		return 0, errors.Wrap(err, "cleanup outbox")
	}
	return tag.RowsAffected(), nil
}
