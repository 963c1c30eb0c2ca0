package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgCodeUniqueViolation    = "23505"
	pgCodeCheckViolation     = "23514"
	pgCodeExclusionViolation = "23P01"
	pgClassTxRollback        = "40"

	activeBookingIndex = "bookings_one_active_per_slot"
)

// PgxPool is the subset of *pgxpool.Pool the repository needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

type PgRepository struct {
	pool PgxPool
}

func NewPgRepository(pool PgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

// conn returns the transaction carried by ctx, or the pool.
func (r *PgRepository) conn(ctx context.Context) queryable {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

// WithinTx runs fn inside a transaction. A context that already carries a
// transaction joins it instead of opening a new one.
func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// classify maps driver errors onto the package's error taxonomy.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgCodeExclusionViolation:
			return ErrOverlapConflict
		case pgErr.Code == pgCodeUniqueViolation && pgErr.ConstraintName == activeBookingIndex:
			return ErrSlotNotOpen
		case pgErr.Code == pgCodeCheckViolation && pgErr.ConstraintName == "slots_valid_range":
			return ErrInvalidRange
		case strings.HasPrefix(pgErr.Code, pgClassTxRollback):
			// serialization failure, deadlock: safe to retry
			return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Helpers

const slotColumns = `id, clinician_id, start_time, end_time, status, created_at, updated_at`

const bookingColumns = `id, patient_id, clinician_id, slot_id, start_time, end_time, status,
	reason_for_visit, is_walk_in, rescheduled_from, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ClinicianID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, classify("scan slot", err)
	}
	if !s.Status.Valid() {
		return nil, fmt.Errorf("scan slot %s: unknown status %q", s.ID, s.Status)
	}

	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var rescheduledFrom *uuid.UUID

	err := row.Scan(
		&b.ID,
		&b.PatientID,
		&b.ClinicianID,
		&b.SlotID,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.ReasonForVisit,
		&b.IsWalkIn,
		&rescheduledFrom,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, classify("scan booking", err)
	}
	if !b.Status.Valid() {
		return nil, fmt.Errorf("scan booking %s: unknown status %q", b.ID, b.Status)
	}

	b.RescheduledFrom = rescheduledFrom
	return &b, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate slots", err)
	}
	return result, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	result := []Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate bookings", err)
	}
	return result, nil
}

// Slot store

func (r *PgRepository) CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*Slot, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}

	var created *Slot
	err := r.WithinTx(ctx, func(ctx context.Context) error {
		var overlapping bool
		err := r.conn(ctx).QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM slots
				WHERE clinician_id = $1
				  AND status IN ('open', 'reserved')
				  AND start_time < $3
				  AND $2 < end_time
			)
		`, clinicianID, start.UTC(), end.UTC()).Scan(&overlapping)
		if err != nil {
			return classify("check slot overlap", err)
		}
		if overlapping {
			return ErrOverlapConflict
		}

		row := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO slots (id, clinician_id, start_time, end_time, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'open', now(), now())
			RETURNING `+slotColumns,
			uuid.New(), clinicianID, start.UTC(), end.UTC())

		created, err = scanSlot(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE clinician_id = $1
		  AND status = 'open'
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time, id
	`, clinicianID, from.UTC(), to.UTC())
	if err != nil {
		return nil, classify("list open slots", err)
	}

	slots, err := collectSlots(rows)
	if err != nil {
		return nil, err
	}
	return DedupSortSlots(slots), nil
}

// UpdateSlotStatus moves a slot to `to` only if it currently holds the
// single allowed predecessor status. The conditional update is the
// compare-and-swap that serializes concurrent writers.
func (r *PgRepository) UpdateSlotStatus(ctx context.Context, id uuid.UUID, to SlotStatus) (*Slot, error) {
	from, ok := SlotPredecessor(to)
	if !ok {
		return nil, ErrInvalidTransition
	}

	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+slotColumns,
		id, to, from)

	updated, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		if _, getErr := r.GetSlot(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	return updated, err
}

// Booking store

func (r *PgRepository) CreateBooking(ctx context.Context, nb NewBooking) (*Booking, error) {
	status := nb.Status
	if status == "" {
		status = BookingPending
	}
	if !status.Active() {
		return nil, ErrInvalidTransition
	}

	var created *Booking
	err := r.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := scanSlot(r.conn(ctx).QueryRow(ctx, `
			SELECT `+slotColumns+`
			FROM slots
			WHERE id = $1
			FOR UPDATE
		`, nb.SlotID))
		if err != nil {
			return err
		}
		if slot.Status != SlotOpen {
			return ErrSlotNotOpen
		}
		if slot.ClinicianID != nb.ClinicianID {
			return ErrClinicianMismatch
		}

		row := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO bookings (id, patient_id, clinician_id, slot_id, start_time, end_time, status,
				reason_for_visit, is_walk_in, rescheduled_from, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
			RETURNING `+bookingColumns,
			uuid.New(), nb.PatientID, nb.ClinicianID, nb.SlotID, slot.StartTime, slot.EndTime, status,
			nb.ReasonForVisit, nb.IsWalkIn, nb.RescheduledFrom)

		created, err = scanBooking(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) ListBookingsForPatient(ctx context.Context, patientID uuid.UUID) ([]Booking, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1
		ORDER BY start_time, id
	`, patientID)
	if err != nil {
		return nil, classify("list patient bookings", err)
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListBookingsForClinician(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Booking, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE clinician_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time, id
	`, clinicianID, from.UTC(), to.UTC())
	if err != nil {
		return nil, classify("list clinician bookings", err)
	}
	return collectBookings(rows)
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, to BookingStatus) (*Booking, error) {
	preds := BookingPredecessors(to)
	if len(preds) == 0 {
		return nil, ErrInvalidTransition
	}
	from := make([]string, len(preds))
	for i, p := range preds {
		from[i] = string(p)
	}

	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+bookingColumns,
		id, to, from)

	updated, err := scanBooking(row)
	if errors.Is(err, ErrBookingNotFound) {
		if _, getErr := r.GetBooking(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	return updated, err
}

// Event log

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.BookingID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return classify("insert event log", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
