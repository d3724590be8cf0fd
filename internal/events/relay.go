package events

import (
	"context"
	"time"

	"github.com/valayash/qwaitfront/internal/store"

	"go.uber.org/zap"
)

const DefaultOutboxRetention = 24 * time.Hour

// Relay copies outbox rows written inside store transactions to the broker.
// Published rows are marked relayed and dropped once they age past the
// retention window. Delivery is at least once.
type Relay struct {
	source    store.OutboxSource
	publisher BrokerPublisher
	batchSize int
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewRelay(source store.OutboxSource, publisher BrokerPublisher, batchSize int, retention time.Duration, logger *zap.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if retention <= 0 {
		retention = DefaultOutboxRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		batchSize: batchSize,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce relays one batch of pending rows and returns how many were
// published. It stops at the first publish failure; rows after it stay
// pending for the next run.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.source.ListPendingOutboxEvents(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	var sent []string
	var publishErr error
	for _, event := range events {
		if err := r.publisher.PublishJSON(ctx, event.Type, event.Payload); err != nil {
			publishErr = err
			break
		}
		sent = append(sent, event.EventID)
	}
	if len(sent) > 0 {
		if err := r.source.MarkOutboxRelayed(ctx, sent, r.now()); err != nil {
			return len(sent), err
		}
	}
	return len(sent), publishErr
}

// Cleanup deletes rows relayed longer ago than the retention window.
func (r *Relay) Cleanup(ctx context.Context) (int64, error) {
	return r.source.CleanupOutbox(ctx, r.now().Add(-r.retention))
}

func StartRelay(ctx context.Context, interval time.Duration, r *Relay) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastCleanup time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			count, err := r.RunOnce(runCtx)
			if err != nil {
				r.logger.Warn("outbox relay error", zap.Error(err))
			} else if count > 0 {
				r.logger.Debug("outbox relayed", zap.Int("count", count))
			}
			if now := r.now(); now.Sub(lastCleanup) >= time.Minute {
				lastCleanup = now
				if removed, err := r.Cleanup(runCtx); err != nil {
					r.logger.Warn("outbox cleanup error", zap.Error(err))
				} else if removed > 0 {
					r.logger.Debug("outbox cleaned", zap.Int64("count", removed))
				}
			}
			cancel()
		}
	}
}
