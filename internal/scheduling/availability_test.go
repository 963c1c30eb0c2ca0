package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLister returns every stored slot of the clinician starting in the
// window, duplicates and non-open entries included.
type stubLister struct {
	mu        sync.Mutex
	slots     []Slot
	failRange error
	failFrom  map[string]error
	calls     int
}

func (s *stubLister) ListOpenSlots(_ context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.failRange != nil && to.Sub(from) > 25*time.Hour {
		return nil, s.failRange
	}
	if err := s.failFrom[from.UTC().Format(time.RFC3339)]; err != nil {
		return nil, err
	}

	var out []Slot
	for _, sl := range s.slots {
		if sl.ClinicianID == clinicianID && !sl.StartTime.Before(from) && sl.StartTime.Before(to) {
			out = append(out, sl)
		}
	}
	return out, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func openSlot(clinicianID uuid.UUID, start time.Time) Slot {
	return Slot{ID: uuid.New(), ClinicianID: clinicianID, StartTime: start, EndTime: start.Add(30 * time.Minute), Status: SlotOpen}
}

func TestAvailability_AvailableSlots(t *testing.T) {
	ctx := context.Background()
	clinician := uuid.New()

	t.Run("deduplicates and orders by start", func(t *testing.T) {
		a := openSlot(clinician, jan10.Add(2*time.Hour))
		b := openSlot(clinician, jan10)
		c := openSlot(clinician, jan10.Add(time.Hour))
		reserved := openSlot(clinician, jan10.Add(30*time.Minute))
		reserved.Status = SlotReserved

		lister := &stubLister{slots: []Slot{a, b, a, reserved, c, b}}
		av := NewAvailability(lister, time.UTC, zerolog.Nop())

		got, err := av.AvailableSlots(ctx, clinician, DateOf(jan10))
		require.NoError(t, err)

		require.Len(t, got, 3)
		assert.Equal(t, []uuid.UUID{b.ID, c.ID, a.ID}, []uuid.UUID{got[0].ID, got[1].ID, got[2].ID})
		seen := map[uuid.UUID]bool{}
		for i, s := range got {
			assert.False(t, seen[s.ID], "duplicate slot %s", s.ID)
			seen[s.ID] = true
			if i > 0 {
				assert.False(t, s.StartTime.Before(got[i-1].StartTime))
			}
		}
	})

	t.Run("excludes other days", func(t *testing.T) {
		lister := &stubLister{slots: []Slot{
			openSlot(clinician, jan10.Add(-10*time.Hour)),
			openSlot(clinician, jan10.Add(15*time.Hour)),
		}}
		av := NewAvailability(lister, time.UTC, zerolog.Nop())

		got, err := av.AvailableSlots(ctx, clinician, DateOf(jan10))
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("day is bounded in the clinic location", func(t *testing.T) {
		loc := time.FixedZone("UTC-5", -5*60*60)
		// 22:00 on the 10th locally, already the 11th in UTC.
		late := openSlot(clinician, time.Date(2024, 1, 11, 3, 0, 0, 0, time.UTC))
		lister := &stubLister{slots: []Slot{late}}
		av := NewAvailability(lister, loc, zerolog.Nop())

		got, err := av.AvailableSlots(ctx, clinician, Date{Year: 2024, Month: time.January, Day: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, late.ID, got[0].ID)

		got, err = av.AvailableSlots(ctx, clinician, Date{Year: 2024, Month: time.January, Day: 11})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("store failure", func(t *testing.T) {
		lister := &stubLister{failFrom: map[string]error{
			jan10.Truncate(24 * time.Hour).Format(time.RFC3339): ErrStoreUnavailable,
		}}
		av := NewAvailability(lister, time.UTC, zerolog.Nop())

		_, err := av.AvailableSlots(ctx, clinician, DateOf(jan10))
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestAvailability_AvailableDatesInMonth(t *testing.T) {
	ctx := context.Background()
	clinician := uuid.New()

	for _, strategy := range []MonthStrategy{StrategyRange, StrategyPerDay} {
		t.Run(string(strategy), func(t *testing.T) {
			newAv := func(lister OpenSlotLister, now time.Time, loc *time.Location) *Availability {
				return NewAvailability(lister, loc, zerolog.Nop(),
					WithMonthStrategy(strategy),
					WithAvailabilityClock(fixedClock(now)),
					WithDayConcurrency(4),
				)
			}

			t.Run("single open day", func(t *testing.T) {
				lister := &stubLister{slots: []Slot{openSlot(clinician, jan10)}}
				av := newAv(lister, time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC), time.UTC)

				got, err := av.AvailableDatesInMonth(ctx, clinician, 2024, time.January)
				require.NoError(t, err)
				assert.Equal(t, []Date{{Year: 2024, Month: time.January, Day: 10}}, got)
			})

			t.Run("excludes days before today", func(t *testing.T) {
				lister := &stubLister{slots: []Slot{
					openSlot(clinician, jan10),
					openSlot(clinician, jan10.Add(10*24*time.Hour)),
					openSlot(clinician, jan10.Add(5*24*time.Hour)),
				}}
				av := newAv(lister, time.Date(2024, 1, 12, 8, 0, 0, 0, time.UTC), time.UTC)

				got, err := av.AvailableDatesInMonth(ctx, clinician, 2024, time.January)
				require.NoError(t, err)
				assert.Equal(t, []Date{
					{Year: 2024, Month: time.January, Day: 15},
					{Year: 2024, Month: time.January, Day: 20},
				}, got)
			})

			t.Run("today counts", func(t *testing.T) {
				lister := &stubLister{slots: []Slot{openSlot(clinician, jan10)}}
				av := newAv(lister, time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC), time.UTC)

				got, err := av.AvailableDatesInMonth(ctx, clinician, 2024, time.January)
				require.NoError(t, err)
				assert.Equal(t, []Date{{Year: 2024, Month: time.January, Day: 10}}, got)
			})

			t.Run("past month is empty", func(t *testing.T) {
				lister := &stubLister{slots: []Slot{openSlot(clinician, jan10)}}
				av := newAv(lister, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.UTC)

				got, err := av.AvailableDatesInMonth(ctx, clinician, 2024, time.January)
				require.NoError(t, err)
				assert.NotNil(t, got)
				assert.Empty(t, got)
				assert.Zero(t, lister.calls)
			})

			t.Run("reserved slots do not make a day available", func(t *testing.T) {
				reserved := openSlot(clinician, jan10)
				reserved.Status = SlotReserved
				lister := &stubLister{slots: []Slot{reserved}}
				av := newAv(lister, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC)

				got, err := av.AvailableDatesInMonth(ctx, clinician, 2024, time.January)
				require.NoError(t, err)
				assert.Empty(t, got)
			})

			t.Run("buckets by the clinic day", func(t *testing.T) {
				loc := time.FixedZone("UTC+9", 9*60*60)
				// 08:00 UTC on the 31st is 17:00 local on the 31st; 16:00 UTC is already Feb 1 locally.
				lister := &stubLister{slots: []Slot{
					openSlot(clinician, time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC)),
					openSlot(clinician, time.Date(2024, 1, 31, 16, 0, 0, 0, time.UTC)),
				}}
				av := newAv(lister, time.Date(2024, 1, 1, 0, 0, 0, 0, loc), loc)

				got, err := av.AvailableDatesInMonth(ctx, clinician, 2024, time.January)
				require.NoError(t, err)
				assert.Equal(t, []Date{{Year: 2024, Month: time.January, Day: 31}}, got)
			})
		})
	}

	t.Run("invalid month", func(t *testing.T) {
		av := NewAvailability(&stubLister{}, time.UTC, zerolog.Nop())
		_, err := av.AvailableDatesInMonth(ctx, clinician, 2024, 13)
		assert.ErrorIs(t, err, ErrInvalidMonth)
	})

	t.Run("range strategy issues one query", func(t *testing.T) {
		lister := &stubLister{slots: []Slot{openSlot(clinician, jan10)}}
		av := NewAvailability(lister, time.UTC, zerolog.Nop(),
			WithAvailabilityClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))

		_, err := av.AvailableDatesInMonth(ctx, clinician, 2024, time.January)
		require.NoError(t, err)
		assert.Equal(t, 1, lister.calls)
	})

	t.Run("per-day strategy tolerates a failed day", func(t *testing.T) {
		recorder := newOutcomeRecorder()
		day12, _ := Date{Year: 2024, Month: time.January, Day: 12}.Bounds(time.UTC)
		lister := &stubLister{
			slots: []Slot{
				openSlot(clinician, jan10),
				openSlot(clinician, time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC)),
			},
			failFrom: map[string]error{day12.Format(time.RFC3339): ErrStoreUnavailable},
		}
		av := NewAvailability(lister, time.UTC, zerolog.Nop(),
			WithMonthStrategy(StrategyPerDay),
			WithAvailabilityRecorder(recorder),
			WithAvailabilityClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))

		got, err := av.AvailableDatesInMonth(ctx, clinician, 2024, time.January)
		require.NoError(t, err)
		assert.Equal(t, []Date{{Year: 2024, Month: time.January, Day: 10}}, got)
		assert.Equal(t, 1, recorder.dayFailures)
		assert.Equal(t, 31, lister.calls)
	})

	t.Run("range failure falls back to per-day", func(t *testing.T) {
		lister := &stubLister{
			slots:     []Slot{openSlot(clinician, jan10)},
			failRange: errors.New("statement timeout"),
		}
		av := NewAvailability(lister, time.UTC, zerolog.Nop(),
			WithAvailabilityClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))

		got, err := av.AvailableDatesInMonth(ctx, clinician, 2024, time.January)
		require.NoError(t, err)
		assert.Equal(t, []Date{{Year: 2024, Month: time.January, Day: 10}}, got)
		assert.Equal(t, 1+31, lister.calls)
	})

	t.Run("cancelled context fails the per-day scan", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		av := NewAvailability(&stubLister{}, time.UTC, zerolog.Nop(),
			WithMonthStrategy(StrategyPerDay),
			WithAvailabilityClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))

		_, err := av.AvailableDatesInMonth(cctx, clinician, 2024, time.January)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestAvailability_Today(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*60*60)
	av := NewAvailability(&stubLister{}, loc, zerolog.Nop(),
		WithAvailabilityClock(fixedClock(time.Date(2024, 1, 10, 5, 0, 0, 0, time.UTC))))

	assert.Equal(t, Date{Year: 2024, Month: time.January, Day: 9}, av.Today())
	assert.Equal(t, loc, av.Location())
}
