package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teembama/clinic-scheduling/internal/scheduling"
)

// BookingService is the write side consumed by the HTTP layer.
type BookingService interface {
	CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*scheduling.Slot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*scheduling.Slot, error)
	BlockSlot(ctx context.Context, id uuid.UUID) (*scheduling.Slot, error)
	CancelSlot(ctx context.Context, id uuid.UUID) (*scheduling.Slot, error)

	Book(ctx context.Context, req scheduling.BookRequest) (*scheduling.Booking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID) (*scheduling.Booking, error)
	Reschedule(ctx context.Context, bookingID, newSlotID uuid.UUID, reason *string) (*scheduling.Booking, error)
	Complete(ctx context.Context, bookingID uuid.UUID) (*scheduling.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*scheduling.Booking, error)

	PatientBookings(ctx context.Context, patientID uuid.UUID) ([]scheduling.Booking, error)
	ClinicianSchedule(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]scheduling.Booking, error)
}

type AvailabilityService interface {
	AvailableSlots(ctx context.Context, clinicianID uuid.UUID, date scheduling.Date) ([]scheduling.Slot, error)
	AvailableDatesInMonth(ctx context.Context, clinicianID uuid.UUID, year int, month time.Month) ([]scheduling.Date, error)
	Location() *time.Location
}

// Availability

func availableSlotsHandler(av AvailabilityService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, err := urlUUID(r, "clinicianID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinician_id", err.Error())
			return
		}

		date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := av.AvailableSlots(r.Context(), clinicianID, date)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		resp := make([]AvailableSlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, AvailableSlotResponse{
				SlotID:    s.ID,
				StartTime: s.StartTime.UTC(),
				EndTime:   s.EndTime.UTC(),
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func availableDatesHandler(av AvailabilityService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, err := urlUUID(r, "clinicianID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinician_id", err.Error())
			return
		}

		year, err := strconv.Atoi(r.URL.Query().Get("year"))
		if err != nil || year < 1 {
			writeError(w, http.StatusBadRequest, "invalid_year", "year must be a positive integer")
			return
		}
		month, err := strconv.Atoi(r.URL.Query().Get("month"))
		if err != nil || month < 1 || month > 12 {
			writeError(w, http.StatusBadRequest, "invalid_month", "month must be between 1 and 12")
			return
		}

		dates, err := av.AvailableDatesInMonth(r.Context(), clinicianID, year, time.Month(month))
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ClinicianID: clinicianID,
			Year:        year,
			Month:       month,
			Timezone:    av.Location().String(),
			Dates:       dates,
		})
	}
}

func clinicianScheduleHandler(svc BookingService, loc *time.Location, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, err := urlUUID(r, "clinicianID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinician_id", err.Error())
			return
		}

		start, err := scheduling.ParseDate(r.URL.Query().Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be YYYY-MM-DD")
			return
		}
		end, err := scheduling.ParseDate(r.URL.Query().Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be YYYY-MM-DD")
			return
		}
		if end.Before(start) {
			writeError(w, http.StatusBadRequest, "invalid_range", "end must not be before start")
			return
		}

		// end date is inclusive
		from, _ := start.Bounds(loc)
		_, to := end.Bounds(loc)

		bookings, err := svc.ClinicianSchedule(r.Context(), clinicianID, from, to)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponses(bookings))
	}
}

// Slots

func createSlotHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		clinicianID, err := parseUUID(req.ClinicianID, "clinician_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinician_id", err.Error())
			return
		}
		if req.StartTime.IsZero() || req.EndTime.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_range", "start_time and end_time are required")
			return
		}

		slot, err := svc.CreateSlot(r.Context(), clinicianID, req.StartTime, req.EndTime)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func getSlotHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlUUID(r, "slotID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", err.Error())
			return
		}

		slot, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func slotStatusHandler(update func(ctx context.Context, id uuid.UUID) (*scheduling.Slot, error), log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlUUID(r, "slotID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", err.Error())
			return
		}

		slot, err := update(r.Context(), id)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

// Bookings

func createBookingHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		patientID, err := parseUUID(req.PatientID, "patient_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", err.Error())
			return
		}
		clinicianID, err := parseUUID(req.ClinicianID, "clinician_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinician_id", err.Error())
			return
		}
		slotID, err := parseUUID(req.SlotID, "slot_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", err.Error())
			return
		}

		bookReq := scheduling.BookRequest{
			PatientID:   patientID,
			ClinicianID: clinicianID,
			SlotID:      slotID,
			WalkIn:      req.IsWalkIn,
		}
		if req.ReasonForVisit != nil {
			bookReq.ReasonForVisit = *req.ReasonForVisit
		}

		booking, err := svc.Book(r.Context(), bookReq)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(booking))
	}
}

func getBookingHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlUUID(r, "bookingID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", err.Error())
			return
		}

		booking, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(booking))
	}
}

func cancelBookingHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlUUID(r, "bookingID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", err.Error())
			return
		}

		booking, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, CancelBookingResponse{
			BookingID: booking.ID,
			Status:    string(booking.Status),
		})
	}
}

func rescheduleBookingHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlUUID(r, "bookingID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", err.Error())
			return
		}

		var req RescheduleBookingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		newSlotID, err := parseUUID(req.NewSlotID, "new_slot_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", err.Error())
			return
		}

		booking, err := svc.Reschedule(r.Context(), id, newSlotID, req.ReasonForVisit)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(booking))
	}
}

func completeBookingHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlUUID(r, "bookingID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", err.Error())
			return
		}

		booking, err := svc.Complete(r.Context(), id)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(booking))
	}
}

func patientBookingsHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := urlUUID(r, "patientID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", err.Error())
			return
		}

		bookings, err := svc.PatientBookings(r.Context(), patientID)
		if err != nil {
			handleServiceError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponses(bookings))
	}
}
