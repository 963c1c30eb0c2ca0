package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teembama/clinic-scheduling/internal/api"
	"github.com/teembama/clinic-scheduling/internal/config"
	"github.com/teembama/clinic-scheduling/internal/metrics"
	"github.com/teembama/clinic-scheduling/internal/scheduling"
)

var (
	_ api.BookingService      = (*scheduling.Service)(nil)
	_ api.AvailabilityService = (*scheduling.Availability)(nil)
	_ api.HTTPRecorder        = (*metrics.Metrics)(nil)
	_ scheduling.Recorder     = (*metrics.Metrics)(nil)
)

func TestNewHTTPServer(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := newHTTPServer(config.Config{HTTPPort: "9090"}, handler)

	assert.Equal(t, ":9090", srv.Addr)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
