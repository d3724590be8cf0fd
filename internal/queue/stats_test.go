package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	now := base.Add(-48 * time.Hour)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	old := f.join(t, "r1", "Old", "5550000009", 2)
	now = now.Add(time.Hour)
	_, err := f.controller.MarkServed(ctx, "r1", old.ID)
	require.NoError(t, err)

	now = base
	a := f.join(t, "r1", "A", "5550000001", 2)
	b := f.join(t, "r1", "B", "5550000002", 4)
	now = base.Add(20 * time.Minute)
	_, err = f.controller.MarkServed(ctx, "r1", a.ID)
	require.NoError(t, err)
	now = base.Add(30 * time.Minute)
	_, err = f.controller.Cancel(ctx, "r1", b.ID)
	require.NoError(t, err)
	f.join(t, "r1", "C", "5550000003", 2)

	stats, err := f.controller.Stats(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-DefaultStatsWindow), stats.Since)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 1, stats.Served)
	assert.Equal(t, 1, stats.Removed)
	assert.InDelta(t, 20.0, stats.AvgWaitMinutes, 0.001)
	assert.Equal(t, 20, stats.MaxWaitMinutes)

	stats, err = f.controller.Stats(ctx, "r1", 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Served)
	assert.InDelta(t, 40.0, stats.AvgWaitMinutes, 0.001)
	assert.Equal(t, 60, stats.MaxWaitMinutes)

	_, err = f.controller.Stats(ctx, "missing", 0)
	assert.Error(t, err)
}
