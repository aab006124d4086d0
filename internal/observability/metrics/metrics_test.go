package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsTokenLifecycle(t *testing.T) {
	recorder := New()

	recorder.ObserveTokenIssued()
	recorder.ObserveTokenIssued()
	recorder.ObserveTokenConsumed("granted")
	recorder.ObserveTokenConsumed(" Rejected ")
	recorder.ObserveTokenConsumed("")

	if got := testutil.ToFloat64(recorder.tokensIssued); got != 2 {
		t.Fatalf("expected 2 issued tokens, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.tokenConsumes.WithLabelValues("granted")); got != 1 {
		t.Fatalf("expected 1 granted, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.tokenConsumes.WithLabelValues("rejected")); got != 1 {
		t.Fatalf("expected normalized rejected label, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.tokenConsumes.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("expected empty result to map to unknown, got %v", got)
	}
}

func TestRecorderCountsStaticOutcomes(t *testing.T) {
	recorder := New()
	recorder.ObserveStatic("ok")
	recorder.ObserveStatic("forbidden")
	recorder.ObserveStatic("forbidden")

	if got := testutil.ToFloat64(recorder.staticResponses.WithLabelValues("forbidden")); got != 2 {
		t.Fatalf("expected 2 forbidden, got %v", got)
	}
}

func TestTrackOutstandingReportsAtScrape(t *testing.T) {
	recorder := New()
	outstanding := 3
	if err := recorder.TrackOutstanding(func() int { return outstanding }); err != nil {
		t.Fatalf("register gauge: %v", err)
	}
	outstanding = 7

	expected := `
# HELP ipshow_tokens_outstanding Issued tokens that have not been consumed or purged.
# TYPE ipshow_tokens_outstanding gauge
ipshow_tokens_outstanding 7
`
	if err := testutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected), "ipshow_tokens_outstanding"); err != nil {
		t.Fatalf("unexpected gauge output: %v", err)
	}
	if err := recorder.TrackOutstanding(nil); err != nil {
		t.Fatalf("nil counter should be ignored: %v", err)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "api", http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	expected := `ipshow_http_requests_total{method="GET",route="api",status="200"} 1`
	if !strings.Contains(body, expected) {
		t.Fatalf("expected exposition to contain %q, got %q", expected, body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors to be registered")
	}
}
