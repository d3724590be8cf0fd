package store

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid entry state")
	ErrPersistence  = errors.New("persistence failure")
	ErrDelivery     = errors.New("delivery failure")
	ErrQueueFull    = errors.New("queue is full")
	ErrAccessDenied = errors.New("access denied")

	ErrEntryNotFound       = fmt.Errorf("queue entry %w", ErrNotFound)
	ErrReservationNotFound = fmt.Errorf("reservation %w", ErrNotFound)
	ErrRestaurantNotFound  = fmt.Errorf("restaurant %w", ErrNotFound)
)

const (
	ConflictActiveEntry       = "active_entry"
	ConflictReservationSlot   = "reservation_slot"
	ConflictReservationInProg = "reservation_in_progress"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError identifies the resource already holding the contested key so
// callers can redirect to it instead of retrying.
type ConflictError struct {
	Kind       string
	ExistingID string
	Message    string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s conflict with %s", e.Kind, e.ExistingID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() []error { return []error{ErrDelivery, e.Err} }

// IsDomainError reports whether err belongs to the caller-facing taxonomy and
// must be passed through unchanged.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrAccessDenied)
}
