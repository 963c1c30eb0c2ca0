package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyCancelled = errors.New("booking is already cancelled")
	ErrSlotBusy         = errors.New("slot is being modified by another request, please retry")
)

const defaultPublishTimeout = 3 * time.Second

// Recorder receives operation outcomes for metrics.
type Recorder interface {
	ObserveOperation(op, outcome string, took time.Duration)
	ObserveAvailabilityDayFailure()
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) ObserveAvailabilityDayFailure()                 {}

type BookRequest struct {
	PatientID      uuid.UUID
	ClinicianID    uuid.UUID
	SlotID         uuid.UUID
	ReasonForVisit string
	WalkIn         bool
}

// Service is the only writer of slot and booking status.
type Service struct {
	repo           Repository
	locker         Locker
	events         EventSink
	log            zerolog.Logger
	metrics        Recorder
	now            func() time.Time
	publishTimeout time.Duration
}

type ServiceOption func(*Service)

func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.metrics = r }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithPublishTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

func NewService(repo Repository, locker Locker, events EventSink, log zerolog.Logger, opts ...ServiceOption) *Service {
	if locker == nil {
		locker = NopLocker{}
	}
	s := &Service{
		repo:           repo,
		locker:         locker,
		events:         events,
		log:            log.With().Str("component", "booking_service").Logger(),
		metrics:        nopRecorder{},
		now:            time.Now,
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Slots

func (s *Service) CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (slot *Slot, err error) {
	defer s.observe("create_slot", time.Now(), &err)

	if !end.After(start) {
		return nil, ErrInvalidRange
	}

	slot, err = s.repo.CreateSlot(ctx, clinicianID, start, end)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, slotEvent(EventSlotCreated, slot, map[string]any{
		"start_time": slot.StartTime,
		"end_time":   slot.EndTime,
	}, s.now()))

	return slot, nil
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.repo.GetSlot(ctx, id)
}

// BlockSlot takes an open slot out of availability administratively.
func (s *Service) BlockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.setSlotStatus(ctx, "block_slot", id, SlotBlocked)
}

func (s *Service) CancelSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.setSlotStatus(ctx, "cancel_slot", id, SlotCancelled)
}

func (s *Service) setSlotStatus(ctx context.Context, op string, id uuid.UUID, to SlotStatus) (slot *Slot, err error) {
	defer s.observe(op, time.Now(), &err)

	current, err := s.repo.GetSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransitionSlot(current.Status, to) {
		return nil, ErrInvalidTransition
	}

	err = s.withSlotLocks(ctx, ErrSlotBusy, []uuid.UUID{id}, func(ctx context.Context) error {
		updated, err := s.repo.UpdateSlotStatus(ctx, id, to)
		if err != nil {
			return err
		}
		slot = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, slotEvent(EventSlotStatusChanged, slot, map[string]any{
		"from": current.Status,
		"to":   slot.Status,
	}, s.now()))

	return slot, nil
}

// Bookings

// Book reserves an open slot for a patient. The booking is created confirmed
// and the slot flipped to reserved in one transaction; a caller that loses a
// race for the slot gets ErrSlotNotOpen and nothing is written.
func (s *Service) Book(ctx context.Context, req BookRequest) (booking *Booking, err error) {
	defer s.observe("book", time.Now(), &err)

	slot, err := s.repo.GetSlot(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	if slot.ClinicianID != req.ClinicianID {
		return nil, ErrClinicianMismatch
	}
	if slot.Status != SlotOpen {
		return nil, ErrSlotNotOpen
	}

	err = s.withSlotLocks(ctx, ErrSlotNotOpen, []uuid.UUID{req.SlotID}, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context) error {
			created, err := s.repo.CreateBooking(ctx, NewBooking{
				PatientID:      req.PatientID,
				ClinicianID:    req.ClinicianID,
				SlotID:         req.SlotID,
				Status:         BookingConfirmed,
				ReasonForVisit: req.ReasonForVisit,
				IsWalkIn:       req.WalkIn,
			})
			if err != nil {
				return err
			}
			if err := s.reserveSlot(ctx, req.SlotID); err != nil {
				return err
			}
			booking = created
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, bookingEvent(EventBookingCreated, booking, map[string]any{
		"start_time": booking.StartTime,
		"end_time":   booking.EndTime,
		"walk_in":    booking.IsWalkIn,
	}, s.now()))

	return booking, nil
}

// Cancel cancels a booking and releases its slot back to open atomically.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID) (booking *Booking, err error) {
	defer s.observe("cancel", time.Now(), &err)

	current, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := checkCancellable(current); err != nil {
		return nil, err
	}

	err = s.withSlotLocks(ctx, ErrSlotBusy, []uuid.UUID{current.SlotID}, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context) error {
			cancelled, err := s.cancelBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			if _, err := s.repo.UpdateSlotStatus(ctx, cancelled.SlotID, SlotOpen); err != nil {
				return fmt.Errorf("release slot %s: %w", cancelled.SlotID, err)
			}
			booking = cancelled
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, bookingEvent(EventBookingCancelled, booking, map[string]any{
		"previous_status": current.Status,
	}, s.now()))

	return booking, nil
}

// Reschedule moves a booking to another open slot. The old booking is
// cancelled and its slot released, and a new confirmed booking reserves the
// new slot, all in one transaction. The returned booking has a new id and
// points back at the original through RescheduledFrom. A nil reason keeps
// the original reason for visit.
func (s *Service) Reschedule(ctx context.Context, bookingID, newSlotID uuid.UUID, reason *string) (booking *Booking, err error) {
	defer s.observe("reschedule", time.Now(), &err)

	current, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := checkCancellable(current); err != nil {
		return nil, err
	}

	newSlot, err := s.repo.GetSlot(ctx, newSlotID)
	if err != nil {
		return nil, err
	}
	if newSlot.Status != SlotOpen {
		return nil, ErrSlotNotOpen
	}

	reasonForVisit := current.ReasonForVisit
	if reason != nil {
		reasonForVisit = *reason
	}

	err = s.withSlotLocks(ctx, ErrSlotNotOpen, []uuid.UUID{current.SlotID, newSlotID}, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context) error {
			cancelled, err := s.cancelBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			if _, err := s.repo.UpdateSlotStatus(ctx, cancelled.SlotID, SlotOpen); err != nil {
				return fmt.Errorf("release slot %s: %w", cancelled.SlotID, err)
			}

			previousID := cancelled.ID
			created, err := s.repo.CreateBooking(ctx, NewBooking{
				PatientID:       cancelled.PatientID,
				ClinicianID:     newSlot.ClinicianID,
				SlotID:          newSlotID,
				Status:          BookingConfirmed,
				ReasonForVisit:  reasonForVisit,
				IsWalkIn:        cancelled.IsWalkIn,
				RescheduledFrom: &previousID,
			})
			if err != nil {
				return err
			}
			if err := s.reserveSlot(ctx, newSlotID); err != nil {
				return err
			}
			booking = created
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, bookingEvent(EventBookingRescheduled, booking, map[string]any{
		"previous_booking_id": current.ID,
		"previous_slot_id":    current.SlotID,
		"start_time":          booking.StartTime,
		"end_time":            booking.EndTime,
	}, s.now()))

	return booking, nil
}

// Complete marks a confirmed booking as attended. The slot stays reserved.
func (s *Service) Complete(ctx context.Context, bookingID uuid.UUID) (booking *Booking, err error) {
	defer s.observe("complete", time.Now(), &err)

	current, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !CanTransitionBooking(current.Status, BookingCompleted) {
		return nil, ErrInvalidTransition
	}

	booking, err = s.repo.UpdateBookingStatus(ctx, bookingID, BookingCompleted)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, bookingEvent(EventBookingCompleted, booking, nil, s.now()))
	return booking, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// PatientBookings lists every booking of a patient, any status, by start time.
func (s *Service) PatientBookings(ctx context.Context, patientID uuid.UUID) ([]Booking, error) {
	bookings, err := s.repo.ListBookingsForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list bookings for patient %s: %w", patientID, err)
	}
	sortBookings(bookings)
	return bookings, nil
}

// ClinicianSchedule lists bookings of a clinician starting in [from, to).
func (s *Service) ClinicianSchedule(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Booking, error) {
	if !to.After(from) {
		return nil, ErrInvalidRange
	}
	bookings, err := s.repo.ListBookingsForClinician(ctx, clinicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list bookings for clinician %s: %w", clinicianID, err)
	}
	sortBookings(bookings)
	return bookings, nil
}

// Helpers

func checkCancellable(b *Booking) error {
	if b.Status == BookingCancelled {
		return ErrAlreadyCancelled
	}
	if !b.Status.Active() {
		return ErrInvalidTransition
	}
	return nil
}

// cancelBooking flips the booking to cancelled. A concurrent cancel that
// won the race surfaces as ErrAlreadyCancelled.
func (s *Service) cancelBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	cancelled, err := s.repo.UpdateBookingStatus(ctx, id, BookingCancelled)
	if err == nil {
		return cancelled, nil
	}
	if errors.Is(err, ErrInvalidTransition) {
		if latest, getErr := s.repo.GetBooking(ctx, id); getErr == nil && latest.Status == BookingCancelled {
			return nil, ErrAlreadyCancelled
		}
	}
	return nil, err
}

func (s *Service) reserveSlot(ctx context.Context, slotID uuid.UUID) error {
	_, err := s.repo.UpdateSlotStatus(ctx, slotID, SlotReserved)
	if errors.Is(err, ErrInvalidTransition) {
		return ErrSlotNotOpen
	}
	return err
}

// withSlotLocks runs fn under the slot locks. Contention is reported as
// busyErr. If the lock backend is down fn runs unlocked, relying on the
// store's compare-and-swap.
func (s *Service) withSlotLocks(ctx context.Context, busyErr error, slotIDs []uuid.UUID, fn func(ctx context.Context) error) error {
	ran := false
	err := s.locker.WithSlotLocks(ctx, slotIDs, func(ctx context.Context) error {
		ran = true
		return fn(ctx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrLockNotAcquired):
		return fmt.Errorf("%w: %w", busyErr, err)
	case !ran && errors.Is(err, ErrLockUnavailable):
		s.log.Warn().Err(err).Msg("slot lock unavailable, continuing without lock")
		return fn(ctx)
	}
	return err
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.events.Publish(pubCtx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Type).Msg("failed to publish scheduling event")
	}
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	s.metrics.ObserveOperation(op, Outcome(*errp), time.Since(start))
}

// Outcome maps an error onto a short label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, ErrOverlapConflict):
		return "overlap_conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSlotNotOpen):
		return "slot_not_open"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, ErrClinicianMismatch):
		return "clinician_mismatch"
	case errors.Is(err, ErrSlotBusy):
		return "slot_busy"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "error"
}
