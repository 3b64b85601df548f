package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/firmsync/firmsync/internal/models"
)

func TestMetricsRecordingAndHandler(t *testing.T) {
	m := NewMetrics("test")

	m.ObserveRun(&models.Report{
		Entity:  models.EntityExchanges,
		State:   models.RunReporting,
		Created: 10,
		Updated: 5,
		Failed:  1,
		Pages:   2,
	}, 3*time.Second)
	m.RecordTokenRefresh("success")
	m.SetTokenExpiry(30 * time.Minute)
	m.RecordRateLimitHit("exchanges")
	m.RecordRequestLatency("/health", "GET", "200", 0.01)
	m.RecordError("timeout", "/health", "GET")
	m.RecordHTTPRequest("/health", "GET", "200")
	m.IncHTTPRequestsInFlight()
	m.DecHTTPRequestsInFlight()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, name := range []string{
		"test_sync_runs_total",
		"test_sync_run_duration_seconds",
		"test_records_synced_total",
		"test_pages_fetched_total",
		"test_token_refreshes_total",
		"test_token_expiry_seconds",
		"test_rate_limit_hits_total",
		"test_request_latency_seconds",
		"test_errors_total",
		"test_http_requests_total",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected exposition to contain %s", name)
		}
	}
}
