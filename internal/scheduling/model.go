package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotOpen      SlotStatus = "open"
	SlotReserved  SlotStatus = "reserved"
	SlotBlocked   SlotStatus = "blocked"
	SlotCancelled SlotStatus = "cancelled"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// slotTransitions maps a target status to the only status it may be reached from.
var slotTransitions = map[SlotStatus]SlotStatus{
	SlotReserved:  SlotOpen,
	SlotBlocked:   SlotOpen,
	SlotCancelled: SlotOpen,
	SlotOpen:      SlotReserved,
}

// bookingTransitions maps a target status to the statuses it may be reached from.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingConfirmed: {BookingPending},
	BookingCancelled: {BookingPending, BookingConfirmed},
	BookingCompleted: {BookingConfirmed},
}

// SlotPredecessor returns the status a slot must currently have to move to `to`.
func SlotPredecessor(to SlotStatus) (SlotStatus, bool) {
	from, ok := slotTransitions[to]
	return from, ok
}

func CanTransitionSlot(from, to SlotStatus) bool {
	pred, ok := slotTransitions[to]
	return ok && pred == from
}

// BookingPredecessors returns the statuses a booking may have before moving to `to`.
func BookingPredecessors(to BookingStatus) []BookingStatus {
	return bookingTransitions[to]
}

func CanTransitionBooking(from, to BookingStatus) bool {
	for _, pred := range bookingTransitions[to] {
		if pred == from {
			return true
		}
	}
	return false
}

// Active reports whether the booking still holds its slot.
func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingConfirmed
}

// Occupying reports whether a slot in this status takes part in overlap checks.
func (s SlotStatus) Occupying() bool {
	return s == SlotOpen || s == SlotReserved
}

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotOpen, SlotReserved, SlotBlocked, SlotCancelled:
		return true
	}
	return false
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

type Slot struct {
	ID          uuid.UUID
	ClinicianID uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Status      SlotStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Booking struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ClinicianID     uuid.UUID
	SlotID          uuid.UUID
	StartTime       time.Time
	EndTime         time.Time
	Status          BookingStatus
	ReasonForVisit  string
	IsWalkIn        bool
	RescheduledFrom *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewBooking is the input to BookingStore.CreateBooking. Times are copied from the slot.
type NewBooking struct {
	PatientID       uuid.UUID
	ClinicianID     uuid.UUID
	SlotID          uuid.UUID
	Status          BookingStatus
	ReasonForVisit  string
	IsWalkIn        bool
	RescheduledFrom *uuid.UUID
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	SlotID    *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
