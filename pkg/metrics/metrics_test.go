package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func TestHandler(t *testing.T) {
	c := promauto.NewCounter(prometheus.CounterOpts{
		Name: "resulta_metrics_handler_test_total",
		Help: "Counter for the handler test",
	})
	c.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "resulta_metrics_handler_test_total 1") {
		t.Errorf("test counter missing from output:\n%s", body)
	}
}

func TestHandler_CountsScrapes(t *testing.T) {
	h := Handler()
	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	}

	// A second handler reuses the already registered scrape counters.
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `promhttp_metric_handler_requests_total{code="200"}`) {
		t.Errorf("scrape counter missing from output:\n%s", rec.Body.String())
	}
}
