package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/valayash/qwaitfront/internal/events"
	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/queue"
	"github.com/valayash/qwaitfront/internal/store"
	"github.com/valayash/qwaitfront/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const staffKey = "staff-secret"

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(staffKey), bcrypt.MinCost)
	require.NoError(t, err)
	st := memory.NewStore(
		models.Restaurant{ID: "r1", Name: "Diner", AvgWaitMinutes: 10, SMSNotifications: true, StaffKeyHash: string(hash)},
		models.Restaurant{ID: "r2", Name: "Bistro"},
		models.Restaurant{ID: "r3", Name: "Quiet Room", StaffKeyHash: string(hash)},
	)
	controller := queue.NewController(st, events.NewBus(nil))
	reservations := queue.NewReservations(st, queue.ReservationsConfig{Now: func() time.Time { return testNow }})
	return NewHandler(controller, reservations, Options{}).Routes()
}

func do(t *testing.T, h http.Handler, method, path string, body any, staff bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if staff {
		req.Header.Set("Authorization", "Bearer "+staffKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func joinBody(name, phone string, people int) map[string]any {
	return map[string]any{"customer_name": name, "phone_number": phone, "people_count": people}
}

func TestJoinAndStatus(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/restaurants/r1/queue", joinBody("Ann", "5551234567", 2), false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, first["position"])
	assert.EqualValues(t, 10, first["estimated_wait"])
	id := first["id"].(string)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/queue", joinBody("Bo", "5550000002", 3), false)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, second["position"])
	assert.EqualValues(t, 20, second["estimated_wait"])

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/queue/"+id, nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	placed := decode[queue.Placement](t, rec)
	assert.Equal(t, 1, placed.Position)
	assert.Equal(t, "Ann", placed.Entry.CustomerName)

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/join", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, info["queue_size"])
	assert.EqualValues(t, 30, info["estimated_wait"])
}

func TestJoinDuplicatePhoneReturnsExistingEntry(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/api/restaurants/r1/queue", joinBody("Jane", "5551234567", 2), false)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]any](t, rec)["id"].(string)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/queue", joinBody("Jane2", "555-123-4567", 3), false)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Equal(t, store.ConflictActiveEntry, resp.Error.Code)
	assert.Equal(t, id, resp.Error.EntryID)
}

func TestJoinValidation(t *testing.T) {
	h := newTestHandler(t)
	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"missing name", joinBody("", "5551234567", 2), "customer_name"},
		{"zero people", joinBody("Ann", "5551234567", 0), "people_count"},
		{"short phone", joinBody("Ann", "123", 2), "phone_number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/restaurants/r1/queue", tt.body, false)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[errorResponse](t, rec)
			assert.Equal(t, "invalid_request", resp.Error.Code)
			assert.Contains(t, resp.Error.Fields, tt.field)
		})
	}

	rec := do(t, h, http.MethodPost, "/api/restaurants/r1/queue", map[string]any{"unknown": true}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decode[errorResponse](t, rec).Error.Code)
}

func TestJoinUnknownRestaurant(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/api/restaurants/nope/queue", joinBody("Ann", "5551234567", 2), false)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "restaurant_not_found", decode[errorResponse](t, rec).Error.Code)
}

func TestStaffRoutesRequireKey(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/api/restaurants/r1/waitlist", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/restaurants/r1/waitlist", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// r2 has no staff key configured.
	rec = do(t, h, http.MethodGet, "/api/restaurants/r2/waitlist", nil, true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/waitlist", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStaffLifecycle(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/api/restaurants/r1/queue", joinBody("Ann", "5551234567", 2), false)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]any](t, rec)["id"].(string)

	rec = do(t, h, http.MethodPatch, "/api/restaurants/r1/waitlist/"+id, map[string]any{"people_count": 4, "quoted_time": 25}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[models.QueueEntry](t, rec)
	assert.Equal(t, 4, edited.PeopleCount)
	require.NotNil(t, edited.QuotedTime)
	assert.Equal(t, 25, *edited.QuotedTime)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/waitlist/"+id+"/notify", map[string]any{"notification_type": "sms"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[queue.NotifyResult](t, rec).SMSSent)

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/waitlist", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]queue.Placement](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Entry.NotificationAttempts)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/waitlist/"+id+"/serve", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusServed, decode[models.QueueEntry](t, rec).Status)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/waitlist/"+id+"/remove", nil, true)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decode[errorResponse](t, rec).Error.Code)

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/served", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.QueueEntry](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/activity", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.QueueEntry](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/parties?limit=5", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	parties := decode[[]models.Party](t, rec)
	require.Len(t, parties, 1)
	assert.Equal(t, 1, parties[0].Visits)

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/parties?limit=x", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/stats?hours=2", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[queue.Stats](t, rec)
	assert.Equal(t, 1, stats.Served)
	assert.Zero(t, stats.Waiting)

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/stats?hours=0", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelfCancel(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/api/restaurants/r1/queue", joinBody("Ann", "5551234567", 2), false)
	id := decode[map[string]any](t, rec)["id"].(string)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/queue/"+id+"/cancel", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusRemoved, decode[models.QueueEntry](t, rec).Status)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r2/queue/"+id+"/cancel", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/queue/not-a-uuid/cancel", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReservationFlow(t *testing.T) {
	h := newTestHandler(t)
	body := map[string]any{"name": "Bob", "phone": "5559990000", "party_size": 4, "date": "2026-10-19", "time": "19:00"}

	rec := do(t, h, http.MethodPost, "/api/restaurants/r1/reservations", body, false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[models.Reservation](t, rec)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/reservations", body, false)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, res.ID, decode[errorResponse](t, rec).Error.EntryID)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/reservations", map[string]any{"name": "Bob", "phone": "5559990000", "date": "2026-10-19", "time": "7pm"}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/reservations?date=2026-10-19", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Reservation](t, rec), 1)

	rec = do(t, h, http.MethodPatch, "/api/restaurants/r1/reservations/"+res.ID, map[string]any{"notes": "window seat"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "window seat", decode[models.Reservation](t, rec).Notes)

	walkIn := do(t, h, http.MethodPost, "/api/restaurants/r1/queue", joinBody("Walk", "5550000001", 2), false)
	require.Equal(t, http.StatusCreated, walkIn.Code)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/reservations/"+res.ID+"/checkin", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	checked := decode[struct {
		Reservation models.Reservation `json:"reservation"`
		Entry       queue.Placement    `json:"entry"`
	}](t, rec)
	assert.True(t, checked.Reservation.CheckedIn)
	assert.Equal(t, 1, checked.Entry.Position)
	assert.Equal(t, models.OriginReservation, checked.Entry.Entry.Origin)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r1/reservations/"+res.ID+"/checkin", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/restaurants/r1/reservations/"+res.ID, nil, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/restaurants/r1/reservations/"+res.ID, nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQRCode(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodGet, "/api/restaurants/r1/qrcode?download=true", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "join-queue-r1.png")
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, rec.Body.Bytes()[:4])

	rec = do(t, h, http.MethodGet, "/api/restaurants/nope/qrcode", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{store.Invalid("people_count", "must be greater than zero"), http.StatusBadRequest, "invalid_request"},
		{&store.ConflictError{Kind: store.ConflictActiveEntry, ExistingID: "e1"}, http.StatusConflict, "active_entry"},
		{store.ErrEntryNotFound, http.StatusNotFound, "entry_not_found"},
		{store.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{store.ErrQueueFull, http.StatusConflict, "queue_full"},
		{queue.ErrSMSDisabled, http.StatusForbidden, "access_denied"},
		{&store.DeliveryError{Channel: "sms", Err: errors.New("down")}, http.StatusBadGateway, "delivery_failed"},
		{&store.PersistenceError{Op: "create entry", Err: errors.New("conn reset")}, http.StatusServiceUnavailable, "unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code, _ := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestNotifySMSDisabledIsForbidden(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/api/restaurants/r3/queue", joinBody("Ann", "5551234567", 2), false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[map[string]any](t, rec)["id"].(string)

	rec = do(t, h, http.MethodPost, "/api/restaurants/r3/waitlist/"+id+"/notify", map[string]any{"notification_type": "sms"}, true)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "access_denied", body.Error.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestHandler(t)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil, false).Code)
	rec := do(t, h, http.MethodGet, "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "requests_total")
}
