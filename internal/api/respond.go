package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teembama/clinic-scheduling/internal/scheduling"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decodeJSON rejects unknown fields and trailing data so loosely shaped
// payloads never reach the service.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a valid UUID", field)
	}
	return id, nil
}

func urlUUID(r *http.Request, param string) (uuid.UUID, error) {
	return parseUUID(chi.URLParam(r, param), param)
}

func handleServiceError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, scheduling.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, scheduling.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, scheduling.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, scheduling.ErrInvalidMonth):
		writeError(w, http.StatusBadRequest, "invalid_month", err.Error())
	case errors.Is(err, scheduling.ErrClinicianMismatch):
		writeError(w, http.StatusBadRequest, "clinician_mismatch", err.Error())
	case errors.Is(err, scheduling.ErrOverlapConflict):
		writeError(w, http.StatusConflict, "overlap_conflict", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotOpen):
		writeError(w, http.StatusConflict, "slot_not_open", "slot is no longer available, please pick another time")
	case errors.Is(err, scheduling.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, scheduling.ErrSlotBusy):
		writeError(w, http.StatusConflict, "slot_busy", err.Error())
	case errors.Is(err, scheduling.ErrStoreUnavailable):
		log.Error().Err(err).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "scheduling store is temporarily unavailable, please retry")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out, check the booking before retrying")
	default:
		log.Error().Err(err).Msg("unhandled scheduling error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
