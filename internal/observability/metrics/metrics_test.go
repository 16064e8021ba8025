package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsNormalizedPath(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/papers/1706.03762", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/papers/{arxiv_id}", "404"))
	if got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}
}

func TestRecordRAGObservationCountsNoContext(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordRAGObservation("ask", "hybrid", 0, time.Second)
	m.RecordRAGObservation("ask", "hybrid", 3, time.Second)

	if got := testutil.ToFloat64(m.ragRequestsTotal.WithLabelValues("api", "ask", "hybrid")); got != 2 {
		t.Fatalf("expected 2 rag requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.ragNoContextTotal.WithLabelValues("api", "ask")); got != 1 {
		t.Fatalf("expected 1 no-context request, got %v", got)
	}
}

func TestOutboundObserverExportsBreakerState(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.ObserveRetry("ollama.embed")
	m.ObserveBreakerState("ollama.embed", "open")

	if got := testutil.ToFloat64(m.retriesTotal.WithLabelValues("worker", "ollama.embed")); got != 1 {
		t.Fatalf("expected one retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("worker", "ollama.embed")); got != 2 {
		t.Fatalf("expected open state gauge 2, got %v", got)
	}
}

func TestWorkerHandlerExposesChunkCounters(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartPaper()
	m.FinishPaper(time.Millisecond, 4, 1, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `arxiv_rag_worker_chunks_total{outcome="skipped",service="worker"} 1`) {
		t.Fatalf("expected skipped chunk counter in output:\n%s", body)
	}
}
