package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(models.Restaurant{ID: "r1", Name: "Diner"}, models.Restaurant{ID: "r2", Name: "Bistro"})
}

func TestCreateEntryRejectsDuplicatePhone(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()

	first, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "Jane", PhoneNumber: "555-123-4567", PeopleCount: 2})
	require.NoError(t, err)
	assert.Equal(t, models.OriginWalkIn, first.Origin)
	assert.Equal(t, "5551234567", first.PhoneKey)

	_, err = st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "Jane2", PhoneNumber: "+1 (555) 123 4567", PeopleCount: 3})
	var conflict *store.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.ExistingID)

	other, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r2", CustomerName: "Jane", PhoneNumber: "5551234567", PeopleCount: 2})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreateEntryUnknownRestaurant(t *testing.T) {
	_, err := newTestStore().CreateEntry(context.Background(), store.CreateEntryInput{RestaurantID: "nope", PhoneNumber: "5551234567"})
	assert.ErrorIs(t, err, store.ErrRestaurantNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentCreateKeepsOneActiveEntry(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "Sam", PhoneNumber: "5550001111", PeopleCount: 1})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	count, err := st.CountActive(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateEntryEnforcesCapacity(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var created, full int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.CreateEntry(ctx, store.CreateEntryInput{
				RestaurantID: "r1",
				CustomerName: "Guest",
				PhoneNumber:  fmt.Sprintf("55500000%02d", i),
				PeopleCount:  2,
				MaxQueueSize: 3,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrQueueFull):
				full++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, created)
	assert.Equal(t, 7, full)

	n, err := st.CountActive(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r2", CustomerName: "Other", PhoneNumber: "5550000001", PeopleCount: 1, MaxQueueSize: 3})
	assert.NoError(t, err)
}

func TestTransitionSetsCompletionOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	entry, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "Ann", PhoneNumber: "5559990000", PeopleCount: 2})
	require.NoError(t, err)

	servedAt := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)
	served, err := st.TransitionEntry(ctx, store.TransitionInput{RestaurantID: "r1", EntryID: entry.ID, Action: store.ActionServe, OccurredAt: servedAt})
	require.NoError(t, err)
	assert.Equal(t, models.StatusServed, served.Status)
	require.NotNil(t, served.CompletionTime)

	_, err = st.TransitionEntry(ctx, store.TransitionInput{RestaurantID: "r1", EntryID: entry.ID, Action: store.ActionCancel, OccurredAt: servedAt.Add(time.Minute)})
	assert.ErrorIs(t, err, store.ErrInvalidState)

	_, err = st.UpdateEntry(ctx, store.UpdateEntryInput{RestaurantID: "r1", EntryID: entry.ID, Notes: strPtr("late")})
	assert.ErrorIs(t, err, store.ErrInvalidState)

	got, err := st.GetEntry(ctx, "r1", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusServed, got.Status)
	assert.True(t, got.CompletionTime.Equal(servedAt))
}

func TestTransitionWrongRestaurantIsNotFound(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	entry, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "Ann", PhoneNumber: "5559990000", PeopleCount: 2})
	require.NoError(t, err)

	_, err = st.TransitionEntry(ctx, store.TransitionInput{RestaurantID: "r2", EntryID: entry.ID, Action: store.ActionCancel})
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestUpdateEntryPhoneConflict(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	a, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "A", PhoneNumber: "5550000001", PeopleCount: 1})
	require.NoError(t, err)
	b, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "B", PhoneNumber: "5550000002", PeopleCount: 1})
	require.NoError(t, err)

	_, err = st.UpdateEntry(ctx, store.UpdateEntryInput{RestaurantID: "r1", EntryID: b.ID, PhoneNumber: strPtr("555 000 0001")})
	var conflict *store.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, a.ID, conflict.ExistingID)

	same, err := st.UpdateEntry(ctx, store.UpdateEntryInput{RestaurantID: "r1", EntryID: b.ID, PhoneNumber: strPtr("(555) 000-0002")})
	require.NoError(t, err)
	assert.Equal(t, "(555) 000-0002", same.PhoneNumber)
}

func TestPartyTracksVisits(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	for i := 0; i < 2; i++ {
		entry, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "Regular", PhoneNumber: "5554443333", PeopleCount: 2})
		require.NoError(t, err)
		_, err = st.TransitionEntry(ctx, store.TransitionInput{RestaurantID: "r1", EntryID: entry.ID, Action: store.ActionServe})
		require.NoError(t, err)
	}
	cancelled, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "Regular", PhoneNumber: "5554443333", PeopleCount: 2})
	require.NoError(t, err)
	_, err = st.TransitionEntry(ctx, store.TransitionInput{RestaurantID: "r1", EntryID: cancelled.ID, Action: store.ActionCancel})
	require.NoError(t, err)

	parties, err := st.ListParties(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, parties, 1)
	assert.Equal(t, 2, parties[0].Visits)
	assert.NotNil(t, parties[0].LastVisit)
}

func TestRecordNotification(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	entry, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "Ann", PhoneNumber: "5559990000", PeopleCount: 2})
	require.NoError(t, err)

	updated, err := st.RecordNotification(ctx, store.NotificationInput{RestaurantID: "r1", EntryID: entry.ID, SMSSent: true})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.NotificationAttempts)
	assert.NotNil(t, updated.NotifiedSMSAt)
	assert.Nil(t, updated.NotifiedEmailAt)

	failed, err := st.RecordNotification(ctx, store.NotificationInput{RestaurantID: "r1", EntryID: entry.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, failed.NotificationAttempts)
}

func TestReservationSlotUniqueness(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	input := store.CreateReservationInput{RestaurantID: "r1", Name: "Bob", Phone: "5551112222", PartySize: 4, Date: "2030-01-02", Time: "19:30"}
	first, err := st.CreateReservation(ctx, input)
	require.NoError(t, err)

	_, err = st.CreateReservation(ctx, input)
	var conflict *store.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, store.ConflictReservationSlot, conflict.Kind)
	assert.Equal(t, first.ID, conflict.ExistingID)

	formatted := input
	formatted.Phone = "(555) 111-2222"
	_, err = st.CreateReservation(ctx, formatted)
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.ExistingID)

	input.Time = "20:00"
	second, err := st.CreateReservation(ctx, input)
	require.NoError(t, err)

	_, err = st.UpdateReservation(ctx, store.UpdateReservationInput{RestaurantID: "r1", ReservationID: second.ID, Time: strPtr("19:30")})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCheckInReservationCreatesEntry(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	res, err := st.CreateReservation(ctx, store.CreateReservationInput{RestaurantID: "r1", Name: "Bob", Phone: "5551112222", PartySize: 4, Date: "2030-01-02", Time: "19:30"})
	require.NoError(t, err)

	checked, entry, err := st.CheckInReservation(ctx, store.CheckInInput{RestaurantID: "r1", ReservationID: res.ID})
	require.NoError(t, err)
	assert.True(t, checked.CheckedIn)
	require.NotNil(t, checked.EntryID)
	assert.Equal(t, entry.ID, *checked.EntryID)
	assert.Equal(t, models.OriginReservation, entry.Origin)
	assert.Equal(t, 4, entry.PeopleCount)

	_, _, err = st.CheckInReservation(ctx, store.CheckInInput{RestaurantID: "r1", ReservationID: res.ID})
	assert.ErrorIs(t, err, store.ErrInvalidState)

	_, err = st.UpdateReservation(ctx, store.UpdateReservationInput{RestaurantID: "r1", ReservationID: res.ID, Notes: strPtr("x")})
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestCheckInConflictLeavesReservationUntouched(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	_, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "Bob", PhoneNumber: "5551112222", PeopleCount: 2})
	require.NoError(t, err)
	res, err := st.CreateReservation(ctx, store.CreateReservationInput{RestaurantID: "r1", Name: "Bob", Phone: "5551112222", PartySize: 4, Date: "2030-01-02", Time: "19:30"})
	require.NoError(t, err)

	_, _, err = st.CheckInReservation(ctx, store.CheckInInput{RestaurantID: "r1", ReservationID: res.ID})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := st.GetReservation(ctx, "r1", res.ID)
	require.NoError(t, err)
	assert.False(t, got.CheckedIn)
}

func TestListHistoryFilters(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	old, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "Old", PhoneNumber: "5550000001", PeopleCount: 1, Timestamp: now.AddDate(0, 0, -10)})
	require.NoError(t, err)
	recent, err := st.CreateEntry(ctx, store.CreateEntryInput{RestaurantID: "r1", CustomerName: "New", PhoneNumber: "5550000002", PeopleCount: 1, Timestamp: now.Add(-time.Hour)})
	require.NoError(t, err)
	for _, id := range []string{old.ID, recent.ID} {
		_, err := st.TransitionEntry(ctx, store.TransitionInput{RestaurantID: "r1", EntryID: id, Action: store.ActionServe})
		require.NoError(t, err)
	}

	history, err := st.ListHistory(ctx, store.HistoryFilter{RestaurantID: "r1", Statuses: []string{models.StatusServed}, Since: now.AddDate(0, 0, -7)})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, recent.ID, history[0].ID)
}

func strPtr(v string) *string { return &v }
