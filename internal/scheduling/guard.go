package scheduling

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Overlaps compares half-open intervals [aStart, aEnd) and [bStart, bEnd).
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// FindOverlap returns the first occupying slot of the same clinician that
// intersects the candidate interval.
func FindOverlap(candidate Slot, existing []Slot) (Slot, bool) {
	for _, s := range existing {
		if s.ID == candidate.ID || s.ClinicianID != candidate.ClinicianID {
			continue
		}
		if !s.Status.Occupying() {
			continue
		}
		if Overlaps(candidate.StartTime, candidate.EndTime, s.StartTime, s.EndTime) {
			return s, true
		}
	}
	return Slot{}, false
}

// DedupSortSlots drops repeated ids (first occurrence wins) and orders the
// result ascending by start time. Ties are broken by id so output is stable.
func DedupSortSlots(slots []Slot) []Slot {
	if len(slots) == 0 {
		return []Slot{}
	}

	seen := make(map[uuid.UUID]struct{}, len(slots))
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

func sortBookings(bookings []Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		if !bookings[i].StartTime.Equal(bookings[j].StartTime) {
			return bookings[i].StartTime.Before(bookings[j].StartTime)
		}
		return bytes.Compare(bookings[i].ID[:], bookings[j].ID[:]) < 0
	})
}
