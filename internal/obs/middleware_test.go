package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/noah-isme/cart-pricebreaks/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("pricebreaks", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart-transform/run", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/cart-transform/run"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}
	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/api/v1/cart-transform/run", "204"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}
	if samples := testutil.CollectAndCount(metrics.ReqDur); samples == 0 {
		t.Fatalf("expected histogram sample")
	}
	if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
		t.Fatalf("expected no in-flight requests, got %v", val)
	}
}

func TestHTTPMetricsReuseRegistered(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("pricebreaks", nil, registry)
	second := obs.NewHTTPMetrics("pricebreaks", nil, registry)
	if first.ReqTotal != second.ReqTotal {
		t.Fatalf("expected second registration to reuse the existing counter")
	}
}

func TestPricingMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewPricingMetrics("pricebreaks", registry)
	metrics.ObserveLine("updated")
	metrics.ObserveLine("updated")
	metrics.ObserveLine("malformed")
	metrics.ObserveRun(2, 300*time.Microsecond)

	if got := testutil.ToFloat64(metrics.LinesTotal.WithLabelValues("updated")); got != 2 {
		t.Fatalf("expected 2 updated lines, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.OperationsTotal); got != 2 {
		t.Fatalf("expected 2 operations, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RunsTotal); got != 1 {
		t.Fatalf("expected 1 run, got %v", got)
	}

	var nilMetrics *obs.PricingMetrics
	nilMetrics.ObserveLine("updated")
	nilMetrics.ObserveRun(1, time.Millisecond)
}

func TestRequestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLoggerTo(&buf, "json", "info")
	handler := obs.RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["message"] != "http_request" {
		t.Fatalf("unexpected message %v", entry["message"])
	}
	if entry["status"] != float64(http.StatusAccepted) {
		t.Fatalf("unexpected status %v", entry["status"])
	}
	if entry["route"] != "/health/live" {
		t.Fatalf("unexpected route %v", entry["route"])
	}
}

func TestNewLoggerLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLoggerTo(&buf, "json", "bogus")
	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered at fallback info level, got %q", buf.String())
	}
	logger.Info().Msg("shown")
	if buf.Len() == 0 {
		t.Fatalf("expected info line")
	}
}
