package queue

import (
	"context"
	"time"

	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/ordering"
	"github.com/valayash/qwaitfront/internal/store"
)

const DefaultStatsWindow = 24 * time.Hour

// Stats summarizes one restaurant's queue over a trailing window.
type Stats struct {
	Since          time.Time `json:"since"`
	Waiting        int       `json:"waiting"`
	Served         int       `json:"served"`
	Removed        int       `json:"removed"`
	AvgWaitMinutes float64   `json:"avg_wait_minutes"`
	MaxWaitMinutes int       `json:"max_wait_minutes"`
}

// Stats counts entries that joined within window. Waiting is the live
// queue length regardless of window; wait averages cover served entries only.
func (c *Controller) Stats(ctx context.Context, restaurantID string, window time.Duration) (Stats, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	now := c.now()
	since := now.Add(-window)

	waiting, err := c.CountActive(ctx, restaurantID)
	if err != nil {
		return Stats{}, err
	}
	entries, err := c.history(ctx, store.HistoryFilter{
		RestaurantID: restaurantID,
		Statuses:     []string{models.StatusServed, models.StatusRemoved},
		Since:        since,
	})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Since: since, Waiting: waiting}
	total := 0
	for _, entry := range entries {
		switch entry.Status {
		case models.StatusServed:
			stats.Served++
			wait := ordering.WaitTimeMinutes(entry, now)
			total += wait
			if wait > stats.MaxWaitMinutes {
				stats.MaxWaitMinutes = wait
			}
		case models.StatusRemoved:
			stats.Removed++
		}
	}
	if stats.Served > 0 {
		stats.AvgWaitMinutes = float64(total) / float64(stats.Served)
	}
	return stats, nil
}
