package scheduling

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memTxKey struct{}

// memRepository is an in-memory Repository. A transaction holds the mutex
// for its whole duration and restores a snapshot when fn fails.
type memRepository struct {
	mu       sync.Mutex
	slots    map[uuid.UUID]Slot
	bookings map[uuid.UUID]Booking
	events   []EventLog

	// failures makes the named operation return the error.
	failures map[string]error
	calls    map[string]int
}

func newMemRepository() *memRepository {
	return &memRepository{
		slots:    make(map[uuid.UUID]Slot),
		bookings: make(map[uuid.UUID]Booking),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (m *memRepository) enter(ctx context.Context, op string) (func(), error) {
	unlock := func() {}
	if ctx.Value(memTxKey{}) == nil {
		m.mu.Lock()
		unlock = m.mu.Unlock
	}
	m.calls[op]++
	if err := m.failures[op]; err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

func (m *memRepository) failOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

func (m *memRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	slots, bookings := maps.Clone(m.slots), maps.Clone(m.bookings)
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.slots, m.bookings = slots, bookings
		return err
	}
	return nil
}

func (m *memRepository) CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*Slot, error) {
	unlock, err := m.enter(ctx, "CreateSlot")
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !end.After(start) {
		return nil, ErrInvalidRange
	}

	candidate := Slot{ID: uuid.New(), ClinicianID: clinicianID, StartTime: start.UTC(), EndTime: end.UTC(), Status: SlotOpen}
	if _, found := FindOverlap(candidate, m.slotList()); found {
		return nil, ErrOverlapConflict
	}

	now := time.Now().UTC()
	candidate.CreatedAt, candidate.UpdatedAt = now, now
	m.slots[candidate.ID] = candidate
	return &candidate, nil
}

func (m *memRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	unlock, err := m.enter(ctx, "GetSlot")
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (m *memRepository) ListOpenSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error) {
	unlock, err := m.enter(ctx, "ListOpenSlots")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []Slot
	for _, s := range m.slots {
		if s.ClinicianID == clinicianID && s.Status == SlotOpen && !s.StartTime.Before(from) && s.StartTime.Before(to) {
			out = append(out, s)
		}
	}
	return DedupSortSlots(out), nil
}

func (m *memRepository) UpdateSlotStatus(ctx context.Context, id uuid.UUID, to SlotStatus) (*Slot, error) {
	unlock, err := m.enter(ctx, "UpdateSlotStatus:"+string(to))
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if !CanTransitionSlot(s.Status, to) {
		return nil, ErrInvalidTransition
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	m.slots[id] = s
	return &s, nil
}

func (m *memRepository) CreateBooking(ctx context.Context, nb NewBooking) (*Booking, error) {
	unlock, err := m.enter(ctx, "CreateBooking")
	if err != nil {
		return nil, err
	}
	defer unlock()

	status := nb.Status
	if status == "" {
		status = BookingPending
	}
	if !status.Active() {
		return nil, ErrInvalidTransition
	}

	slot, ok := m.slots[nb.SlotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if slot.Status != SlotOpen {
		return nil, ErrSlotNotOpen
	}
	if slot.ClinicianID != nb.ClinicianID {
		return nil, ErrClinicianMismatch
	}
	for _, b := range m.bookings {
		if b.SlotID == nb.SlotID && b.Status.Active() {
			return nil, ErrSlotNotOpen
		}
	}

	now := time.Now().UTC()
	b := Booking{
		ID:              uuid.New(),
		PatientID:       nb.PatientID,
		ClinicianID:     nb.ClinicianID,
		SlotID:          nb.SlotID,
		StartTime:       slot.StartTime,
		EndTime:         slot.EndTime,
		Status:          status,
		ReasonForVisit:  nb.ReasonForVisit,
		IsWalkIn:        nb.IsWalkIn,
		RescheduledFrom: nb.RescheduledFrom,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.bookings[b.ID] = b
	return &b, nil
}

func (m *memRepository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	unlock, err := m.enter(ctx, "GetBooking")
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (m *memRepository) ListBookingsForPatient(ctx context.Context, patientID uuid.UUID) ([]Booking, error) {
	unlock, err := m.enter(ctx, "ListBookingsForPatient")
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := []Booking{}
	for _, b := range m.bookings {
		if b.PatientID == patientID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepository) ListBookingsForClinician(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Booking, error) {
	unlock, err := m.enter(ctx, "ListBookingsForClinician")
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := []Booking{}
	for _, b := range m.bookings {
		if b.ClinicianID == clinicianID && !b.StartTime.Before(from) && b.StartTime.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, to BookingStatus) (*Booking, error) {
	unlock, err := m.enter(ctx, "UpdateBookingStatus:"+string(to))
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	if !CanTransitionBooking(b.Status, to) {
		return nil, ErrInvalidTransition
	}
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	m.bookings[id] = b
	return &b, nil
}

func (m *memRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	unlock, err := m.enter(ctx, "InsertEvent")
	if err != nil {
		return err
	}
	defer unlock()

	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepository) slotList() []Slot {
	out := make([]Slot, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s)
	}
	return out
}

// snapshot returns copies of a slot and booking for assertions.
func (m *memRepository) slot(id uuid.UUID) Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[id]
}

func (m *memRepository) booking(id uuid.UUID) Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id]
}

func (m *memRepository) activeBookingsForSlot(slotID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.bookings {
		if b.SlotID == slotID && b.Status.Active() {
			n++
		}
	}
	return n
}

func (m *memRepository) bookingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recordingSink) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// busyLocker behaves as if another request holds every slot lock.
type busyLocker struct{}

func (busyLocker) WithSlotLocks(context.Context, []uuid.UUID, func(ctx context.Context) error) error {
	return ErrLockNotAcquired
}

// downLocker behaves as if the lock backend cannot be reached.
type downLocker struct{}

func (downLocker) WithSlotLocks(context.Context, []uuid.UUID, func(ctx context.Context) error) error {
	return fmt.Errorf("acquire slot lock: %w: %w", ErrLockUnavailable, errors.New("dial tcp: connection refused"))
}

type recordingLocker struct {
	mu    sync.Mutex
	calls [][]uuid.UUID
}

func (r *recordingLocker) WithSlotLocks(ctx context.Context, ids []uuid.UUID, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	r.calls = append(r.calls, append([]uuid.UUID(nil), ids...))
	r.mu.Unlock()
	return fn(ctx)
}

type outcomeRecorder struct {
	mu          sync.Mutex
	outcomes    map[string][]string
	dayFailures int
}

func newOutcomeRecorder() *outcomeRecorder {
	return &outcomeRecorder{outcomes: make(map[string][]string)}
}

func (r *outcomeRecorder) ObserveOperation(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[op] = append(r.outcomes[op], outcome)
}

func (r *outcomeRecorder) ObserveAvailabilityDayFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dayFailures++
}
