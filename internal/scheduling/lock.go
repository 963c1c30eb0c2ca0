package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrLockNotAcquired means another request holds one of the slot locks.
	ErrLockNotAcquired = errors.New("slot lock not acquired")
	// ErrLockUnavailable means the lock backend could not be reached.
	ErrLockUnavailable = errors.New("slot lock backend unavailable")
)

// Locker guards critical sections per slot.
type Locker interface {
	WithSlotLocks(ctx context.Context, slotIDs []uuid.UUID, fn func(ctx context.Context) error) error
}

// NopLocker runs fn without taking any lock. Store-level compare-and-swap
// still prevents double booking; the lock only cuts contention.
type NopLocker struct{}

func (NopLocker) WithSlotLocks(ctx context.Context, _ []uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
