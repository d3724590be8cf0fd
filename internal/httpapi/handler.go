package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"reflect"
	"strings"

	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/qrcode"
	"github.com/valayash/qwaitfront/internal/queue"
	"github.com/valayash/qwaitfront/internal/store"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Realtime is the live feed mounted next to the REST routes.
type Realtime interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	SockJSHandler() http.Handler
}

type Handler struct {
	queue        *queue.Controller
	reservations *queue.Reservations
	qr           *qrcode.Generator
	realtime     Realtime
	logger       *zap.Logger
	validate     *validator.Validate
}

type Options struct {
	QRCode   *qrcode.Generator
	Realtime Realtime
	Logger   *zap.Logger
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	EntryID string            `json:"entry_id,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func NewHandler(controller *queue.Controller, reservations *queue.Reservations, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	qr := options.QRCode
	if qr == nil {
		qr = qrcode.NewGenerator("", 0, "")
	}
	return &Handler{
		queue:        controller,
		reservations: reservations,
		qr:           qr,
		realtime:     options.Realtime,
		logger:       logger,
		validate:     newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", expvar.Handler())

	mux.HandleFunc("GET /api/restaurants/{id}/join", h.handleJoinInfo)
	mux.HandleFunc("POST /api/restaurants/{id}/queue", h.handleJoin)
	mux.HandleFunc("GET /api/restaurants/{id}/queue/{entry_id}", h.handleEntryStatus)
	mux.HandleFunc("POST /api/restaurants/{id}/queue/{entry_id}/cancel", h.handleSelfCancel)
	mux.HandleFunc("GET /api/restaurants/{id}/qrcode", h.handleQRCode)
	mux.HandleFunc("POST /api/restaurants/{id}/reservations", h.handleCreateReservation)

	mux.Handle("GET /api/restaurants/{id}/waitlist", h.staff(h.handleWaitlist))
	mux.Handle("PATCH /api/restaurants/{id}/waitlist/{entry_id}", h.staff(h.handleEditEntry))
	mux.Handle("POST /api/restaurants/{id}/waitlist/{entry_id}/serve", h.staff(h.handleServe))
	mux.Handle("POST /api/restaurants/{id}/waitlist/{entry_id}/remove", h.staff(h.handleRemove))
	mux.Handle("POST /api/restaurants/{id}/waitlist/{entry_id}/notify", h.staff(h.handleNotify))
	mux.Handle("GET /api/restaurants/{id}/activity", h.staff(h.handleActivity))
	mux.Handle("GET /api/restaurants/{id}/served", h.staff(h.handleServed))
	mux.Handle("GET /api/restaurants/{id}/parties", h.staff(h.handleParties))
	mux.Handle("GET /api/restaurants/{id}/stats", h.staff(h.handleStats))

	mux.Handle("GET /api/restaurants/{id}/reservations", h.staff(h.handleListReservations))
	mux.Handle("GET /api/restaurants/{id}/reservations/{reservation_id}", h.staff(h.handleGetReservation))
	mux.Handle("PATCH /api/restaurants/{id}/reservations/{reservation_id}", h.staff(h.handleUpdateReservation))
	mux.Handle("DELETE /api/restaurants/{id}/reservations/{reservation_id}", h.staff(h.handleDeleteReservation))
	mux.Handle("POST /api/restaurants/{id}/reservations/{reservation_id}/checkin", h.staff(h.handleCheckIn))

	if h.realtime != nil {
		mux.HandleFunc("GET /ws/waitlist/{restaurant_id}", h.realtime.ServeWS)
		mux.Handle("/realtime/", h.realtime.SockJSHandler())
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// decodeRequest reads a JSON body into target and runs its validate tags.
// It writes the error response itself and reports whether to continue.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{
				RequestID: requestIDFromRequest(r),
				Error: responseError{
					Code:    "invalid_request",
					Message: "request validation failed",
					Fields:  fields,
				},
			})
			return false
		}
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{RequestID: requestIDFromRequest(r)}
	status, code, msg := mapError(err)
	resp.Error = responseError{Code: code, Message: msg}

	var verr *store.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		resp.Error.Fields = map[string]string{verr.Field: verr.Message}
	}
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		resp.Error.EntryID = conflict.ExistingID
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", resp.RequestID),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func mapError(err error) (int, string, string) {
	var verr *store.ValidationError
	var conflict *store.ConflictError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid_request", verr.Error()
	case errors.As(err, &conflict):
		msg := conflict.Message
		if msg == "" {
			msg = "conflicting " + strings.ReplaceAll(conflict.Kind, "_", " ")
		}
		return http.StatusConflict, conflict.Kind, msg
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "queue entry not found"
	case errors.Is(err, store.ErrReservationNotFound):
		return http.StatusNotFound, "reservation_not_found", "reservation not found"
	case errors.Is(err, store.ErrRestaurantNotFound):
		return http.StatusNotFound, "restaurant_not_found", "restaurant not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "entry state does not allow this action"
	case errors.Is(err, store.ErrQueueFull):
		return http.StatusConflict, "queue_full", "the waitlist is full"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, store.ErrDelivery):
		return http.StatusBadGateway, "delivery_failed", "failed to send any notification"
	case errors.Is(err, store.ErrPersistence):
		return http.StatusServiceUnavailable, "unavailable", "storage temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type restaurantView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Address        string `json:"address"`
	Phone          string `json:"phone"`
	AvgWaitMinutes int    `json:"avg_wait_minutes"`
}

func viewRestaurant(r models.Restaurant) restaurantView {
	return restaurantView{
		ID:             r.ID,
		Name:           r.Name,
		Address:        r.Address,
		Phone:          r.Phone,
		AvgWaitMinutes: r.AvgWait(),
	}
}
