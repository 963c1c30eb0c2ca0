package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	m := New()
	m.ObserveOperation("book", "success", 20*time.Millisecond)
	m.ObserveOperation("book", "slot_not_open", time.Millisecond)
	m.ObserveAvailabilityDayFailure()
	m.ObserveHTTPRequest(http.MethodPost, "/bookings", http.StatusCreated, 30*time.Millisecond)

	out := scrape(t, m)

	assert.Contains(t, out, `scheduling_operations_total{operation="book",outcome="success"} 1`)
	assert.Contains(t, out, `scheduling_operations_total{operation="book",outcome="slot_not_open"} 1`)
	assert.Contains(t, out, `scheduling_operation_duration_seconds_count{operation="book"} 2`)
	assert.Contains(t, out, `scheduling_availability_day_failures_total 1`)
	assert.Contains(t, out, `scheduling_http_requests_total{method="POST",route="/bookings",status_code="201"} 1`)
	assert.Contains(t, out, "go_goroutines")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveAvailabilityDayFailure()

	assert.Contains(t, scrape(t, a), "scheduling_availability_day_failures_total 1")
	assert.Contains(t, scrape(t, b), "scheduling_availability_day_failures_total 0")
}
