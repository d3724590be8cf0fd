package httpapi

import (
	"net/http"
	"strings"

	"github.com/valayash/qwaitfront/internal/queue"
)

type createReservationRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"required,max=32"`
	PartySize int    `json:"party_size" validate:"gte=0"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string `json:"time" validate:"required,datetime=15:04"`
	Notes     string `json:"notes" validate:"max=500"`
}

type updateReservationRequest struct {
	Name      *string `json:"name" validate:"omitempty,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	PartySize *int    `json:"party_size" validate:"omitempty,gt=0"`
	Date      *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time      *string `json:"time" validate:"omitempty,datetime=15:04"`
	Notes     *string `json:"notes" validate:"omitempty,max=500"`
}

func (h *Handler) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	res, err := h.reservations.Create(r.Context(), queue.ReservationInput{
		RestaurantID: r.PathValue("id"),
		Name:         req.Name,
		Phone:        req.Phone,
		PartySize:    req.PartySize,
		Date:         req.Date,
		Time:         req.Time,
		Notes:        req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleListReservations(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	list, err := h.reservations.ListByDate(r.Context(), r.PathValue("id"), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.Get(r.Context(), r.PathValue("id"), r.PathValue("reservation_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleUpdateReservation(w http.ResponseWriter, r *http.Request) {
	var req updateReservationRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	res, err := h.reservations.Update(r.Context(), queue.ReservationUpdate{
		RestaurantID:  r.PathValue("id"),
		ReservationID: r.PathValue("reservation_id"),
		Name:          req.Name,
		Phone:         req.Phone,
		PartySize:     req.PartySize,
		Date:          req.Date,
		Time:          req.Time,
		Notes:         req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleDeleteReservation(w http.ResponseWriter, r *http.Request) {
	if err := h.reservations.Delete(r.Context(), r.PathValue("id"), r.PathValue("reservation_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	res, entry, err := h.queue.CheckInReservation(r.Context(), r.PathValue("id"), r.PathValue("reservation_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	placed, err := h.queue.Status(r.Context(), res.RestaurantID, entry.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reservation": res,
		"entry":       placed,
	})
}
