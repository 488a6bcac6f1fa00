package service

import (
	"errors"
	"fmt"

	"laundrypos/backend/internal/store"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrCatalogNotFound = errors.New("catalog entry not found")
	// ErrInsufficientStock is the storage sentinel itself so callers can match
	// either name. Details are carried by *store.InsufficientStockError.
	ErrInsufficientStock   = store.ErrInsufficientStock
	ErrPersistence         = errors.New("persistence failure")
	ErrLoyaltyUpdateFailed = errors.New("loyalty update failed")
)

// PersistenceError is returned when storage fails while recording. The
// transaction id is the one allocated for the attempt; nothing under it was
// committed.
type PersistenceError struct {
	TransactionID string
	Err           error
}

func (e *PersistenceError) Error() string {
	if e.TransactionID == "" {
		return fmt.Sprintf("%v: %v", ErrPersistence, e.Err)
	}
	return fmt.Sprintf("%v (transaction %s): %v", ErrPersistence, e.TransactionID, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
