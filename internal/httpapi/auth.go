package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/valayash/qwaitfront/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// staff guards a route with the restaurant's staff key, sent as a bearer
// token and checked against the stored bcrypt hash.
func (h *Handler) staff(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-Staff-Key"))
		}
		if token == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing staff key")
			return
		}
		restaurant, err := h.queue.Restaurant(r.Context(), r.PathValue("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Unknown restaurants look like bad credentials.
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid staff key")
				return
			}
			h.fail(w, r, err)
			return
		}
		if restaurant.StaffKeyHash == "" || !CheckStaffKey(restaurant.StaffKeyHash, token) {
			h.logger.Info("staff key rejected", zap.String("restaurant_id", restaurant.ID), zap.String("path", r.URL.Path))
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid staff key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashStaffKey returns the bcrypt hash stored for a restaurant's staff key.
func HashStaffKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckStaffKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}
