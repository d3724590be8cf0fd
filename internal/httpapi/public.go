package httpapi

import (
	"net/http"
	"strings"

	"github.com/valayash/qwaitfront/internal/queue"
)

type joinRequest struct {
	CustomerName string `json:"customer_name" validate:"required,max=100"`
	PhoneNumber  string `json:"phone_number" validate:"required,max=32"`
	PeopleCount  int    `json:"people_count" validate:"required,gt=0"`
	Notes        string `json:"notes" validate:"max=500"`
}

type joinResponse struct {
	ID string `json:"id"`
	queue.Placement
}

func (h *Handler) handleJoinInfo(w http.ResponseWriter, r *http.Request) {
	restaurant, err := h.queue.Restaurant(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	count, err := h.queue.CountActive(r.Context(), restaurant.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"restaurant":     viewRestaurant(restaurant),
		"queue_size":     count,
		"estimated_wait": (count + 1) * restaurant.AvgWait(),
		"queue_full":     restaurant.MaxQueueSize > 0 && count >= restaurant.MaxQueueSize,
	})
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	restaurantID := r.PathValue("id")
	entry, err := h.queue.Join(r.Context(), queue.JoinInput{
		RestaurantID: restaurantID,
		CustomerName: req.CustomerName,
		PhoneNumber:  req.PhoneNumber,
		PeopleCount:  req.PeopleCount,
		Notes:        req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	placed, err := h.queue.Status(r.Context(), restaurantID, entry.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, joinResponse{
		ID:        entry.ID,
		Placement: placed,
	})
}

func (h *Handler) handleEntryStatus(w http.ResponseWriter, r *http.Request) {
	placed, err := h.queue.Status(r.Context(), r.PathValue("id"), r.PathValue("entry_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, placed)
}

// handleSelfCancel lets a customer leave the queue with the id they got
// when joining.
func (h *Handler) handleSelfCancel(w http.ResponseWriter, r *http.Request) {
	entryID := r.PathValue("entry_id")
	if !isValidUUID(entryID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "entry_id must be a UUID")
		return
	}
	entry, err := h.queue.Cancel(r.Context(), r.PathValue("id"), entryID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleQRCode(w http.ResponseWriter, r *http.Request) {
	restaurant, err := h.queue.Restaurant(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	png, err := h.qr.JoinPNG(restaurant.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if strings.EqualFold(r.URL.Query().Get("download"), "true") {
		w.Header().Set("Content-Disposition", `attachment; filename="join-queue-`+restaurant.ID+`.png"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
