package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Bookings       BookingService
	Availability   AvailabilityService
	Health         *HealthHandler
	Metrics        http.Handler
	Recorder       HTTPRecorder
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	log := cfg.Logger
	loc := cfg.Availability.Location()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log, cfg.Recorder))
	r.Use(middleware.Recoverer)

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		r.Route("/clinicians/{clinicianID}", func(r chi.Router) {
			r.Get("/slots", availableSlotsHandler(cfg.Availability, log))
			r.Get("/availability", availableDatesHandler(cfg.Availability, log))
			r.Get("/schedule", clinicianScheduleHandler(cfg.Bookings, loc, log))
		})

		r.Post("/slots", createSlotHandler(cfg.Bookings, log))
		r.Route("/slots/{slotID}", func(r chi.Router) {
			r.Get("/", getSlotHandler(cfg.Bookings, log))
			r.Post("/block", slotStatusHandler(cfg.Bookings.BlockSlot, log))
			r.Post("/cancel", slotStatusHandler(cfg.Bookings.CancelSlot, log))
		})

		r.Post("/bookings", createBookingHandler(cfg.Bookings, log))
		r.Route("/bookings/{bookingID}", func(r chi.Router) {
			r.Get("/", getBookingHandler(cfg.Bookings, log))
			r.Post("/cancel", cancelBookingHandler(cfg.Bookings, log))
			r.Post("/reschedule", rescheduleBookingHandler(cfg.Bookings, log))
			r.Post("/complete", completeBookingHandler(cfg.Bookings, log))
		})

		r.Get("/patients/{patientID}/bookings", patientBookingsHandler(cfg.Bookings, log))
	})

	return r
}
