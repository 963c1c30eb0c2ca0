package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/teembama/clinic-scheduling/internal/scheduling"
)

type CreateSlotRequest struct {
	ClinicianID string    `json:"clinician_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

type CreateBookingRequest struct {
	PatientID      string  `json:"patient_id"`
	ClinicianID    string  `json:"clinician_id"`
	SlotID         string  `json:"slot_id"`
	ReasonForVisit *string `json:"reason_for_visit,omitempty"`
	IsWalkIn       bool    `json:"is_walk_in"`
}

type RescheduleBookingRequest struct {
	NewSlotID      string  `json:"new_slot_id"`
	ReasonForVisit *string `json:"reason_for_visit,omitempty"`
}

type AvailableSlotResponse struct {
	SlotID    uuid.UUID `json:"slot_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type SlotResponse struct {
	SlotID      uuid.UUID `json:"slot_id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Status      string    `json:"status"`
}

type BookingResponse struct {
	BookingID       uuid.UUID  `json:"booking_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ClinicianID     uuid.UUID  `json:"clinician_id"`
	SlotID          uuid.UUID  `json:"slot_id"`
	Status          string     `json:"status"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	ReasonForVisit  string     `json:"reason_for_visit,omitempty"`
	IsWalkIn        bool       `json:"is_walk_in"`
	RescheduledFrom *uuid.UUID `json:"rescheduled_from,omitempty"`
}

type CancelBookingResponse struct {
	BookingID uuid.UUID `json:"booking_id"`
	Status    string    `json:"status"`
}

type AvailabilityResponse struct {
	ClinicianID uuid.UUID         `json:"clinician_id"`
	Year        int               `json:"year"`
	Month       int               `json:"month"`
	Timezone    string            `json:"timezone"`
	Dates       []scheduling.Date `json:"dates"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s *scheduling.Slot) SlotResponse {
	return SlotResponse{
		SlotID:      s.ID,
		ClinicianID: s.ClinicianID,
		StartTime:   s.StartTime.UTC(),
		EndTime:     s.EndTime.UTC(),
		Status:      string(s.Status),
	}
}

func toBookingResponse(b *scheduling.Booking) BookingResponse {
	return BookingResponse{
		BookingID:       b.ID,
		PatientID:       b.PatientID,
		ClinicianID:     b.ClinicianID,
		SlotID:          b.SlotID,
		Status:          string(b.Status),
		StartTime:       b.StartTime.UTC(),
		EndTime:         b.EndTime.UTC(),
		ReasonForVisit:  b.ReasonForVisit,
		IsWalkIn:        b.IsWalkIn,
		RescheduledFrom: b.RescheduledFrom,
	}
}

func toBookingResponses(bookings []scheduling.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, toBookingResponse(&bookings[i]))
	}
	return out
}
