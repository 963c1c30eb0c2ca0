package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestOverlaps(t *testing.T) {
	at := func(min int) time.Time { return jan10.Add(time.Duration(min) * time.Minute) }

	tests := []struct {
		name                   string
		aStart, aEnd, bStart, bEnd int
		want                   bool
	}{
		{"identical", 0, 30, 0, 30, true},
		{"partial", 0, 30, 15, 45, true},
		{"contained", 0, 60, 15, 30, true},
		{"touching end to start", 0, 30, 30, 60, false},
		{"touching start to end", 30, 60, 0, 30, false},
		{"disjoint", 0, 30, 45, 60, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(at(tt.aStart), at(tt.aEnd), at(tt.bStart), at(tt.bEnd)))
		})
	}
}

func TestFindOverlap(t *testing.T) {
	clinician := uuid.New()
	existing := openSlot(clinician, jan10)

	candidate := openSlot(clinician, jan10.Add(15*time.Minute))
	got, found := FindOverlap(candidate, []Slot{existing})
	assert.True(t, found)
	assert.Equal(t, existing.ID, got.ID)

	t.Run("ignores other clinicians", func(t *testing.T) {
		other := openSlot(uuid.New(), jan10)
		_, found := FindOverlap(candidate, []Slot{other})
		assert.False(t, found)
	})

	t.Run("ignores blocked and cancelled slots", func(t *testing.T) {
		blocked, cancelled := existing, existing
		blocked.Status, cancelled.Status = SlotBlocked, SlotCancelled
		_, found := FindOverlap(candidate, []Slot{blocked, cancelled})
		assert.False(t, found)
	})

	t.Run("reserved slots occupy", func(t *testing.T) {
		reserved := existing
		reserved.Status = SlotReserved
		_, found := FindOverlap(candidate, []Slot{reserved})
		assert.True(t, found)
	})

	t.Run("ignores itself", func(t *testing.T) {
		_, found := FindOverlap(existing, []Slot{existing})
		assert.False(t, found)
	})
}

func TestDedupSortSlots(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		got := DedupSortSlots(nil)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("first occurrence wins", func(t *testing.T) {
		first := openSlot(uuid.New(), jan10)
		dup := first
		dup.Status = SlotReserved

		got := DedupSortSlots([]Slot{first, dup})
		assert.Len(t, got, 1)
		assert.Equal(t, SlotOpen, got[0].Status)
	})

	t.Run("equal starts are ordered by id", func(t *testing.T) {
		a := openSlot(uuid.New(), jan10)
		b := openSlot(uuid.New(), jan10)
		a.ID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
		b.ID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

		got := DedupSortSlots([]Slot{a, b})
		assert.Equal(t, b.ID, got[0].ID)
		assert.Equal(t, a.ID, got[1].ID)
	})
}
