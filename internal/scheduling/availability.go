package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidMonth = errors.New("month must be between 1 and 12")

// MonthStrategy selects how AvailableDatesInMonth queries the store.
type MonthStrategy string

const (
	// StrategyRange issues one query covering the month and buckets by day.
	StrategyRange MonthStrategy = "range"
	// StrategyPerDay issues one query per day, concurrently.
	StrategyPerDay MonthStrategy = "per_day"
)

const defaultDayConcurrency = 8

// OpenSlotLister is the read side of the slot store used for availability.
type OpenSlotLister interface {
	ListOpenSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error)
}

// Availability answers which slots and days are bookable. All day
// boundaries are computed in the clinic's location.
type Availability struct {
	slots       OpenSlotLister
	loc         *time.Location
	now         func() time.Time
	strategy    MonthStrategy
	concurrency int
	log         zerolog.Logger
	metrics     Recorder
}

type AvailabilityOption func(*Availability)

func WithMonthStrategy(strategy MonthStrategy) AvailabilityOption {
	return func(a *Availability) {
		if strategy == StrategyRange || strategy == StrategyPerDay {
			a.strategy = strategy
		}
	}
}

func WithDayConcurrency(n int) AvailabilityOption {
	return func(a *Availability) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

func WithAvailabilityClock(now func() time.Time) AvailabilityOption {
	return func(a *Availability) { a.now = now }
}

func WithAvailabilityRecorder(r Recorder) AvailabilityOption {
	return func(a *Availability) { a.metrics = r }
}

func NewAvailability(slots OpenSlotLister, loc *time.Location, log zerolog.Logger, opts ...AvailabilityOption) *Availability {
	if loc == nil {
		loc = time.UTC
	}
	a := &Availability{
		slots:       slots,
		loc:         loc,
		now:         time.Now,
		strategy:    StrategyRange,
		concurrency: defaultDayConcurrency,
		log:         log.With().Str("component", "availability").Logger(),
		metrics:     nopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Availability) Location() *time.Location {
	return a.loc
}

// Today is the current date in the clinic's location.
func (a *Availability) Today() Date {
	return DateIn(a.now(), a.loc)
}

// AvailableSlots returns the open slots of a clinician starting on date,
// deduplicated and ordered by start time.
func (a *Availability) AvailableSlots(ctx context.Context, clinicianID uuid.UUID, date Date) ([]Slot, error) {
	from, to := date.Bounds(a.loc)

	slots, err := a.slots.ListOpenSlots(ctx, clinicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list open slots on %s: %w", date, err)
	}

	open := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Status == SlotOpen {
			open = append(open, s)
		}
	}
	return DedupSortSlots(open), nil
}

// AvailableDatesInMonth returns, in ascending order, the days of the month
// from today onwards that have at least one open slot.
func (a *Availability) AvailableDatesInMonth(ctx context.Context, clinicianID uuid.UUID, year int, month time.Month) ([]Date, error) {
	if month < time.January || month > time.December {
		return nil, ErrInvalidMonth
	}

	today := a.Today()
	var days []Date
	for _, d := range DaysIn(year, month) {
		if !d.Before(today) {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		return []Date{}, nil
	}

	var (
		has map[Date]bool
		err error
	)
	if a.strategy == StrategyPerDay {
		has, err = a.scanPerDay(ctx, clinicianID, days)
	} else {
		has, err = a.scanRange(ctx, clinicianID, days)
		if err != nil && ctx.Err() == nil {
			a.log.Warn().Err(err).Str("clinician_id", clinicianID.String()).
				Msg("month range query failed, falling back to per-day scan")
			has, err = a.scanPerDay(ctx, clinicianID, days)
		}
	}
	if err != nil {
		return nil, err
	}

	result := make([]Date, 0, len(has))
	for d := range has {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Before(result[j]) })
	return result, nil
}

func (a *Availability) scanRange(ctx context.Context, clinicianID uuid.UUID, days []Date) (map[Date]bool, error) {
	from, _ := days[0].Bounds(a.loc)
	_, to := days[len(days)-1].Bounds(a.loc)

	slots, err := a.slots.ListOpenSlots(ctx, clinicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list open slots for month: %w", err)
	}

	wanted := make(map[Date]struct{}, len(days))
	for _, d := range days {
		wanted[d] = struct{}{}
	}

	has := make(map[Date]bool)
	for _, s := range slots {
		if s.Status != SlotOpen {
			continue
		}
		d := DateIn(s.StartTime, a.loc)
		if _, ok := wanted[d]; ok {
			has[d] = true
		}
	}
	return has, nil
}

// scanPerDay queries each day independently. A failed day counts as having
// no availability; only cancellation of ctx fails the scan.
func (a *Availability) scanPerDay(ctx context.Context, clinicianID uuid.UUID, days []Date) (map[Date]bool, error) {
	var (
		mu  sync.Mutex
		has = make(map[Date]bool)
		g   errgroup.Group
	)
	g.SetLimit(a.concurrency)

	for _, d := range days {
		g.Go(func() error {
			slots, err := a.AvailableSlots(ctx, clinicianID, d)
			if err != nil {
				a.metrics.ObserveAvailabilityDayFailure()
				a.log.Warn().Err(err).
					Str("clinician_id", clinicianID.String()).
					Str("date", d.String()).
					Msg("availability query failed for day")
				return nil
			}
			if len(slots) > 0 {
				mu.Lock()
				has[d] = true
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return has, nil
}
