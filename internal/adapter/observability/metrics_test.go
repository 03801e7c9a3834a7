package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPMetricsMiddleware_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) }))
	mw.ServeHTTP(rec, r)
	if rec.Result().StatusCode != 204 {
		t.Fatalf("want 204")
	}
}

func TestScanJobMetricsHelpers(t *testing.T) {
	EnqueueScanJob("manual")
	StartProcessingScanJob()
	CompleteScanJob("manual")
	StartProcessingScanJob()
	FailScanJob("scheduled_active")
}

func TestObserveDriftEvent(t *testing.T) {
	ObserveDriftEvent("sentiment_shift", "critical", 0.82)
	ObserveDriftEvent("communication_style_change", "warning", 1.5) // out of [0,1], must not panic the histogram
}

func TestObserveStreamEntry(t *testing.T) {
	ObserveStreamEntry("behavior.created", "acked")
	ObserveStreamEntry("behavior.created", "failed")
	ObserveDeadLettered()
}
