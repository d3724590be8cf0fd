package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/valayash/qwaitfront/internal/queue"
)

type editEntryRequest struct {
	CustomerName *string `json:"customer_name" validate:"omitempty,max=100"`
	PhoneNumber  *string `json:"phone_number" validate:"omitempty,max=32"`
	PeopleCount  *int    `json:"people_count" validate:"omitempty,gt=0"`
	Notes        *string `json:"notes" validate:"omitempty,max=500"`
	QuotedTime   *int    `json:"quoted_time" validate:"omitempty,gte=0"`
}

type notifyRequest struct {
	NotificationType string `json:"notification_type" validate:"omitempty,oneof=sms email both"`
	Message          string `json:"message" validate:"max=480"`
	Subject          string `json:"subject" validate:"max=200"`
	CustomerEmail    string `json:"customer_email" validate:"omitempty,email"`
}

func (h *Handler) handleWaitlist(w http.ResponseWriter, r *http.Request) {
	list, err := h.queue.ListActive(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleEditEntry(w http.ResponseWriter, r *http.Request) {
	var req editEntryRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	entry, err := h.queue.Edit(r.Context(), queue.EditInput{
		RestaurantID: r.PathValue("id"),
		EntryID:      r.PathValue("entry_id"),
		CustomerName: req.CustomerName,
		PhoneNumber:  req.PhoneNumber,
		PeopleCount:  req.PeopleCount,
		Notes:        req.Notes,
		QuotedTime:   req.QuotedTime,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleServe(w http.ResponseWriter, r *http.Request) {
	entry, err := h.queue.MarkServed(r.Context(), r.PathValue("id"), r.PathValue("entry_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	entry, err := h.queue.Cancel(r.Context(), r.PathValue("id"), r.PathValue("entry_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if r.ContentLength != 0 && !h.decodeRequest(w, r, &req) {
		return
	}
	result, err := h.queue.Notify(r.Context(), queue.NotifyInput{
		RestaurantID: r.PathValue("id"),
		EntryID:      r.PathValue("entry_id"),
		Channel:      req.NotificationType,
		Message:      req.Message,
		Subject:      req.Subject,
		Email:        req.CustomerEmail,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.RecentActivity(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleServed(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.ServedHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleParties(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	parties, err := h.queue.Parties(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, parties)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("hours")); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "hours must be a positive integer")
			return
		}
		window = time.Duration(hours) * time.Hour
	}
	stats, err := h.queue.Stats(r.Context(), r.PathValue("id"), window)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
