package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/arxiv-rag/internal/config"
	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/core/ports"
)

const (
	maxRequestBodyBytes = 1 << 20
	backpressureWait    = 250 * time.Millisecond
)

// MetricsRecorder is the subset of the Prometheus metrics the router reports to.
type MetricsRecorder interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
	RecordSearch(mode string, results int, err error)
	RecordRAGObservation(endpoint, mode string, sourceCount int, duration time.Duration)
	RecordStreamFragment()
	RecordRateLimited()
	RecordBackpressure()
}

type Router struct {
	searcher ports.PaperSearcher
	answers  ports.AnswerService
	papers   ports.PaperReader
	metrics  MetricsRecorder

	defaultMode    domain.SearchMode
	requestTimeout time.Duration
	apiKey         string
	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int
}

func NewRouter(
	cfg config.Config,
	searcher ports.PaperSearcher,
	answers ports.AnswerService,
	papers ports.PaperReader,
) *Router {
	mode, err := domain.ParseSearchMode(cfg.RAGSearchMode)
	if err != nil {
		mode = domain.SearchModeHybrid
	}
	return &Router{
		searcher:       searcher,
		answers:        answers,
		papers:         papers,
		metrics:        noopMetrics{},
		defaultMode:    mode,
		requestTimeout: time.Duration(cfg.RAGRequestTimeoutSeconds) * time.Second,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		rateLimitRPS:   cfg.APIRateLimitRPS,
		rateLimitBurst: cfg.APIRateLimitBurst,
		maxInFlight:    cfg.APIMaxInFlight,
	}
}

func (rt *Router) WithMetrics(m MetricsRecorder) *Router {
	if m != nil {
		rt.metrics = m
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("GET /metrics", rt.metrics.Handler())
	mux.HandleFunc("POST /v1/search", rt.search)
	mux.HandleFunc("POST /v1/rag/ask", rt.ask)
	mux.HandleFunc("POST /v1/rag/stream", rt.stream)
	mux.HandleFunc("GET /v1/papers/{arxiv_id...}", rt.getPaper)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.maxInFlight, backpressureWait, rt.metrics.RecordBackpressure)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst, rt.metrics.RecordRateLimited)
	handler = authMiddleware(handler, rt.apiKey)
	handler = rt.metrics.Middleware(handler)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchRequestBody struct {
	Query          string   `json:"query"`
	Mode           string   `json:"mode"`
	TopK           int      `json:"top_k"`
	Category       string   `json:"category"`
	KeywordWeight  *float64 `json:"keyword_weight"`
	SemanticWeight *float64 `json:"semantic_weight"`
	MinSimilarity  *float64 `json:"min_similarity"`
}

type searchResponse struct {
	Query   string                `json:"query"`
	Mode    domain.SearchMode     `json:"mode"`
	Count   int                   `json:"count"`
	Results []domain.SearchResult `json:"results"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if !rt.decodeBody(w, r, &body) {
		return
	}
	mode, err := rt.parseMode(body.Mode)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	ctx, cancel := rt.withRequestTimeout(r.Context())
	defer cancel()

	results, err := rt.searcher.Search(ctx, domain.SearchRequest{
		Query:          body.Query,
		Mode:           mode,
		TopK:           body.TopK,
		Category:       body.Category,
		KeywordWeight:  body.KeywordWeight,
		SemanticWeight: body.SemanticWeight,
		MinSimilarity:  body.MinSimilarity,
	})
	rt.metrics.RecordSearch(string(mode), len(results), err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:   body.Query,
		Mode:    mode,
		Count:   len(results),
		Results: results,
	})
}

type answerRequestBody struct {
	Query          string   `json:"query"`
	Mode           string   `json:"mode"`
	TopK           int      `json:"top_k"`
	KeywordWeight  *float64 `json:"keyword_weight"`
	SemanticWeight *float64 `json:"semantic_weight"`
}

func (rt *Router) answerRequest(w http.ResponseWriter, r *http.Request) (domain.AnswerRequest, bool) {
	var body answerRequestBody
	if !rt.decodeBody(w, r, &body) {
		return domain.AnswerRequest{}, false
	}
	mode, err := rt.parseMode(body.Mode)
	if err != nil {
		rt.writeError(w, r, err)
		return domain.AnswerRequest{}, false
	}
	return domain.AnswerRequest{
		Query:          body.Query,
		Mode:           mode,
		TopK:           body.TopK,
		KeywordWeight:  body.KeywordWeight,
		SemanticWeight: body.SemanticWeight,
	}, true
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.answerRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := rt.withRequestTimeout(r.Context())
	defer cancel()

	start := time.Now()
	answer, err := rt.answers.GenerateAnswer(ctx, req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.metrics.RecordRAGObservation("ask", string(answer.Mode), len(answer.Sources), time.Since(start))
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) stream(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.answerRequest(w, r)
	if !ok {
		return
	}

	// Retrieval carries its own deadline inside StreamAnswer and generation is bounded by
	// the model timeout, so the body is not cut by the request timeout.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := rt.answers.StreamAnswer(ctx, req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	for event := range events {
		if event.Err != nil {
			status := mapErrorToHTTPStatus(event.Err)
			slog.Error("rag_stream_failed", "request_id", requestIDFromContext(r.Context()), "status", status, "error", event.Err)
			_ = sse.errorEvent(status, publicErrorMessage(status, event.Err))
			continue
		}
		if err := sse.data(map[string]string{"text": event.Text}); err != nil {
			slog.Warn("rag_stream_client_gone", "request_id", requestIDFromContext(r.Context()), "error", err)
			return
		}
		rt.metrics.RecordStreamFragment()
	}
	_ = sse.done()
}

func (rt *Router) getPaper(w http.ResponseWriter, r *http.Request) {
	arxivID := strings.TrimSpace(r.PathValue("arxiv_id"))
	if arxivID == "" {
		rt.writeError(w, r, domain.NewError(domain.ErrEmptyInput, "get paper", "arxiv id is required"))
		return
	}

	paper, err := rt.papers.GetByArxivID(r.Context(), arxivID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

func (rt *Router) parseMode(raw string) (domain.SearchMode, error) {
	if strings.TrimSpace(raw) == "" {
		return rt.defaultMode, nil
	}
	return domain.ParseSearchMode(raw)
}

func (rt *Router) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if rt.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, rt.requestTimeout)
}

func (rt *Router) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		message := "invalid json"
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			message = "request body too large"
		case errors.Is(err, io.EOF):
			message = "request body is required"
		}
		writeJSONError(w, r, http.StatusBadRequest, message)
		return false
	}
	return true
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSONError(w, r, status, publicErrorMessage(status, err))
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type noopMetrics struct{}

func (noopMetrics) Middleware(next http.Handler) http.Handler { return next }
func (noopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}
func (noopMetrics) RecordSearch(string, int, error) {}
func (noopMetrics) RecordRAGObservation(string, string, int, time.Duration) {}
func (noopMetrics) RecordStreamFragment() {}
func (noopMetrics) RecordRateLimited() {}
func (noopMetrics) RecordBackpressure() {}
