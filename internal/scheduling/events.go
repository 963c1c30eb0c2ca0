package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingCreated     = "BOOKING_CREATED"
	EventBookingCancelled   = "BOOKING_CANCELLED"
	EventBookingRescheduled = "BOOKING_RESCHEDULED"
	EventBookingCompleted   = "BOOKING_COMPLETED"
	EventSlotCreated        = "SLOT_CREATED"
	EventSlotStatusChanged  = "SLOT_STATUS_CHANGED"
)

// Event is emitted after a committed state change.
type Event struct {
	Type        string         `json:"type"`
	BookingID   *uuid.UUID     `json:"booking_id,omitempty"`
	SlotID      *uuid.UUID     `json:"slot_id,omitempty"`
	PatientID   *uuid.UUID     `json:"patient_id,omitempty"`
	ClinicianID *uuid.UUID     `json:"clinician_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// EventSink receives domain events. Delivery is best effort: an error is
// logged by the caller and never undoes the committed change.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventLogSink appends events to the durable event log table.
type EventLogSink struct {
	writer EventLogWriter
}

func NewEventLogSink(writer EventLogWriter) *EventLogSink {
	return &EventLogSink{writer: writer}
}

func (s *EventLogSink) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload for %s: %w", ev.Type, err)
	}

	return s.writer.InsertEvent(ctx, EventLog{
		EventType: ev.Type,
		BookingID: ev.BookingID,
		SlotID:    ev.SlotID,
		Payload:   data,
		CreatedAt: ev.OccurredAt,
	})
}

func bookingEvent(eventType string, b *Booking, payload map[string]any, now time.Time) Event {
	bookingID, slotID, patientID, clinicianID := b.ID, b.SlotID, b.PatientID, b.ClinicianID
	return Event{
		Type:        eventType,
		BookingID:   &bookingID,
		SlotID:      &slotID,
		PatientID:   &patientID,
		ClinicianID: &clinicianID,
		Payload:     payload,
		OccurredAt:  now,
	}
}

func slotEvent(eventType string, s *Slot, payload map[string]any, now time.Time) Event {
	slotID, clinicianID := s.ID, s.ClinicianID
	return Event{
		Type:        eventType,
		SlotID:      &slotID,
		ClinicianID: &clinicianID,
		Payload:     payload,
		OccurredAt:  now,
	}
}
