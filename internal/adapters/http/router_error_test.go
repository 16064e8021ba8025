package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestSearchMapsEmptyQueryTo400(t *testing.T) {
	handler := newTestHandler(testConfig(), &searcherFake{err: domain.NewError(domain.ErrEmptyInput, "search", "query is empty")}, nil)

	res := postJSON(t, handler, "/v1/search", map[string]any{"query": "  "})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAskMapsUpstreamModelErrorTo502WithoutLeakingDetails(t *testing.T) {
	cause := domain.WrapError(domain.ErrUpstreamModel, "generate answer", errors.New("dial tcp 10.0.0.7:11434: connection refused"))
	handler := newTestHandler(testConfig(), nil, &answerFake{err: cause})

	res := postJSON(t, handler, "/v1/rag/ask", map[string]any{"query": "transformers"})
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "10.0.0.7") {
		t.Fatalf("internal address leaked: %s", res.Body.String())
	}
}

func TestAskMapsTemporaryTo503(t *testing.T) {
	cause := domain.WrapError(domain.ErrUpstreamModel, "ollama.chat", domain.WrapError(domain.ErrTemporary, "ollama.chat", errors.New("503")))
	handler := newTestHandler(testConfig(), nil, &answerFake{err: cause})

	res := postJSON(t, handler, "/v1/rag/ask", map[string]any{"query": "q"})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestUnknownModeIs400(t *testing.T) {
	searcher := &searcherFake{}
	handler := newTestHandler(testConfig(), searcher, nil)

	res := postJSON(t, handler, "/v1/search", map[string]any{"query": "q", "mode": "fuzzy"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if searcher.last.Query != "" {
		t.Fatalf("search must not run for an invalid mode")
	}
}

func TestMalformedBodyIs400(t *testing.T) {
	handler := newTestHandler(testConfig(), nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader("{"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetPaperReturns404ForNotFound(t *testing.T) {
	handler := newTestHandler(testConfig(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/papers/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestStreamReportsUpstreamFailureAsErrorEvent(t *testing.T) {
	answers := &answerFake{events: []domain.StreamEvent{
		{Text: "partial"},
		{Err: domain.WrapError(domain.ErrUpstreamModel, "stream answer", errors.New("eof"))},
	}}
	handler := newTestHandler(testConfig(), nil, answers)

	res := postJSON(t, handler, "/v1/rag/stream", map[string]any{"query": "q"})
	body := res.Body.String()
	if !strings.Contains(body, "event: error\n") || !strings.Contains(body, `"status":502`) {
		t.Fatalf("expected error event, got %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("expected stream terminator, got %q", body)
	}
}

func TestStreamValidationErrorIsPlainJSON(t *testing.T) {
	answers := &answerFake{streamErr: domain.NewError(domain.ErrEmptyInput, "stream answer", "query is empty")}
	handler := newTestHandler(testConfig(), nil, answers)

	res := postJSON(t, handler, "/v1/rag/stream", map[string]any{"query": ""})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json error, got content type %q", ct)
	}
}
