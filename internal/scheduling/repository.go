package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSlotNotFound      = fmt.Errorf("slot %w", ErrNotFound)
	ErrBookingNotFound   = fmt.Errorf("booking %w", ErrNotFound)
	ErrInvalidRange      = errors.New("slot end time must be after start time")
	ErrOverlapConflict   = errors.New("slot overlaps an existing open or reserved slot")
	ErrSlotNotOpen       = errors.New("slot is not open")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrClinicianMismatch = errors.New("slot does not belong to clinician")
)

// SlotStore persists bookable time slots per clinician.
type SlotStore interface {
	CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*Slot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)

	// ListOpenSlots returns open slots starting in [from, to), ascending by start.
	ListOpenSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error)

	UpdateSlotStatus(ctx context.Context, id uuid.UUID, to SlotStatus) (*Slot, error)
}

// BookingStore persists bookings and their status lifecycle.
type BookingStore interface {
	CreateBooking(ctx context.Context, nb NewBooking) (*Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListBookingsForPatient(ctx context.Context, patientID uuid.UUID) ([]Booking, error)
	ListBookingsForClinician(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Booking, error)
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, to BookingStatus) (*Booking, error)
}

// Transactor runs fn as a single atomic unit. Store calls made with the
// context handed to fn join the unit; returning an error rolls it back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repository contains all store interactions needed by the service.
type Repository interface {
	SlotStore
	BookingStore
	Transactor
}

// EventLogWriter appends to the durable event log.
type EventLogWriter interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}
