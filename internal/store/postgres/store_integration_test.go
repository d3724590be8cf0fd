package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentJoinSamePhone(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	restaurantID := seedRestaurant(t, ctx, st)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	phones := []string{"(555) 123-4567", "+1 555 123 4567"}
	for _, phone := range phones {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := st.CreateEntry(ctx, store.CreateEntryInput{
				RestaurantID: restaurantID,
				CustomerName: "Alice",
				PhoneNumber:  p,
				PeopleCount:  2,
			})
			errs <- err
		}(phone)
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, store.ErrConflict)
		conflicts++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	count, err := st.CountActive(ctx, restaurantID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTransitionRace(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	restaurantID := seedRestaurant(t, ctx, st)

	entry := createEntry(t, ctx, st, restaurantID, "5550001111", time.Now().UTC())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, action := range []string{store.ActionServe, store.ActionCancel} {
		wg.Add(1)
		go func(a string) {
			defer wg.Done()
			_, err := st.TransitionEntry(ctx, store.TransitionInput{RestaurantID: restaurantID, EntryID: entry.ID, Action: a})
			errs <- err
		}(action)
	}
	wg.Wait()
	close(errs)

	var ok, invalid int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, store.ErrInvalidState)
		invalid++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, invalid)

	_, err := st.TransitionEntry(ctx, store.TransitionInput{RestaurantID: restaurantID, EntryID: uuid.NewString(), Action: store.ActionServe})
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestListActiveOrderAndHistory(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	restaurantID := seedRestaurant(t, ctx, st)

	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	first := createEntry(t, ctx, st, restaurantID, "5550000001", base)
	second := createEntry(t, ctx, st, restaurantID, "5550000002", base.Add(time.Minute))
	third := createEntry(t, ctx, st, restaurantID, "5550000003", base.Add(2*time.Minute))

	_, err := st.TransitionEntry(ctx, store.TransitionInput{RestaurantID: restaurantID, EntryID: second.ID, Action: store.ActionServe})
	require.NoError(t, err)

	active, err := st.ListActive(ctx, restaurantID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, third.ID, active[1].ID)

	served, err := st.ListHistory(ctx, store.HistoryFilter{RestaurantID: restaurantID, Statuses: []string{models.StatusServed}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, served, 1)
	assert.Equal(t, second.ID, served[0].ID)
	require.NotNil(t, served[0].CompletionTime)

	parties, err := st.ListParties(ctx, restaurantID, 10)
	require.NoError(t, err)
	require.Len(t, parties, 3)
	assert.Equal(t, 1, parties[0].Visits)
}

func TestCheckInRollsBackOnConflict(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	restaurantID := seedRestaurant(t, ctx, st)

	res, err := st.CreateReservation(ctx, store.CreateReservationInput{
		RestaurantID: restaurantID,
		Name:         "Bob",
		Phone:        "5552223333",
		PartySize:    4,
		Date:         "2026-03-01",
		Time:         "19:00",
	})
	require.NoError(t, err)

	_, err = st.CreateReservation(ctx, store.CreateReservationInput{
		RestaurantID: restaurantID,
		Name:         "Bob",
		Phone:        "5552223333",
		Date:         "2026-03-01",
		Time:         "19:00",
	})
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, res.ID, conflict.ExistingID)

	_, err = st.CreateReservation(ctx, store.CreateReservationInput{
		RestaurantID: restaurantID,
		Name:         "Bob",
		Phone:        "(555) 222-3333",
		Date:         "2026-03-01",
		Time:         "19:00",
	})
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, res.ID, conflict.ExistingID)

	walkIn := createEntry(t, ctx, st, restaurantID, "555-222-3333", time.Now().UTC())

	_, _, err = st.CheckInReservation(ctx, store.CheckInInput{RestaurantID: restaurantID, ReservationID: res.ID})
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, walkIn.ID, conflict.ExistingID)

	stored, err := st.GetReservation(ctx, restaurantID, res.ID)
	require.NoError(t, err)
	assert.False(t, stored.CheckedIn)

	_, err = st.TransitionEntry(ctx, store.TransitionInput{RestaurantID: restaurantID, EntryID: walkIn.ID, Action: store.ActionCancel})
	require.NoError(t, err)

	checked, entry, err := st.CheckInReservation(ctx, store.CheckInInput{RestaurantID: restaurantID, ReservationID: res.ID})
	require.NoError(t, err)
	assert.True(t, checked.CheckedIn)
	require.NotNil(t, checked.EntryID)
	assert.Equal(t, entry.ID, *checked.EntryID)
	assert.Equal(t, models.OriginReservation, entry.Origin)
	assert.Equal(t, 4, entry.PeopleCount)

	_, _, err = st.CheckInReservation(ctx, store.CheckInInput{RestaurantID: restaurantID, ReservationID: res.ID})
	assert.ErrorIs(t, err, store.ErrInvalidState)

	var count int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE type = $1`, store.EventReservationCheckIn)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOutboxPendingAndCleanup(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	restaurantID := seedRestaurant(t, ctx, st)

	entry := createEntry(t, ctx, st, restaurantID, "5554445555", time.Now().UTC())
	_, err := st.RecordNotification(ctx, store.NotificationInput{RestaurantID: restaurantID, EntryID: entry.ID, SMSSent: true})
	require.NoError(t, err)

	pending, err := st.ListPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, store.EventEntryCreated, pending[0].Type)
	assert.Equal(t, store.EventEntryNotified, pending[1].Type)
	assert.Contains(t, string(pending[0].Payload), entry.ID)

	relayedAt := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, st.MarkOutboxRelayed(ctx, []string{pending[0].EventID}, relayedAt))

	rest, err := st.ListPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, pending[1].EventID, rest[0].EventID)

	removed, err := st.CleanupOutbox(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	rest, err = st.ListPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestOutboxDisabledWritesNothing(t *testing.T) {
	ctx := context.Background()
	_, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	st := NewStore(pool)
	restaurantID := seedRestaurant(t, ctx, st)

	createEntry(t, ctx, st, restaurantID, "5554446666", time.Now().UTC())

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events`).Scan(&count))
	assert.Zero(t, count)
}

func TestCreateEntryEnforcesCapacity(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	restaurantID := seedRestaurant(t, ctx, st)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.CreateEntry(ctx, store.CreateEntryInput{
				RestaurantID: restaurantID,
				CustomerName: "Guest",
				PhoneNumber:  fmt.Sprintf("55500000%02d", i),
				PeopleCount:  2,
				MaxQueueSize: 2,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, full int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, store.ErrQueueFull)
		full++
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 8, full)

	count, err := st.CountActive(ctx, restaurantID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return NewStore(pool, WithOutbox()), pool, cleanup
}

func seedRestaurant(t *testing.T, ctx context.Context, st *Store) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, st.UpsertRestaurant(ctx, models.Restaurant{
		ID:               id,
		Name:             "Trattoria",
		AvgWaitMinutes:   10,
		SMSNotifications: true,
	}))
	return id
}

func createEntry(t *testing.T, ctx context.Context, st *Store, restaurantID, phone string, at time.Time) models.QueueEntry {
	t.Helper()
	entry, err := st.CreateEntry(ctx, store.CreateEntryInput{
		RestaurantID: restaurantID,
		CustomerName: "Guest " + phone,
		PhoneNumber:  phone,
		PeopleCount:  2,
		Timestamp:    at,
	})
	require.NoError(t, err)
	return entry
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
