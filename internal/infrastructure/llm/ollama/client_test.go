package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/infrastructure/resilience"
)

func TestCompleteSendsChatRequest(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"  grounded answer [1] "},"done":true}`))
	}))
	defer server.Close()

	model := NewChatModel(New(server.URL, "llama3.1:8b", "nomic-embed-text"))
	text, err := model.Complete(context.Background(), domain.CompletionRequest{
		SystemPrompt: "system",
		UserPrompt:   "question?",
		MaxTokens:    1000,
		Temperature:  0.7,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "grounded answer [1]" {
		t.Fatalf("unexpected answer %q", text)
	}
	if captured.Model != "llama3.1:8b" || captured.Stream {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" || captured.Messages[1].Content != "question?" {
		t.Fatalf("unexpected messages: %+v", captured.Messages)
	}
	if captured.Options.NumPredict != 1000 || captured.Options.Temperature != 0.7 {
		t.Fatalf("unexpected options: %+v", captured.Options)
	}
}

func TestCompleteStreamForwardsFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, part := range []string{"Attention", " is", " all you need"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer server.Close()

	model := NewChatModel(New(server.URL, "gen", "embed"))
	var fragments []string
	err := model.CompleteStream(context.Background(), domain.CompletionRequest{UserPrompt: "q"}, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteStream() error = %v", err)
	}
	if strings.Join(fragments, "") != "Attention is all you need" || len(fragments) != 3 {
		t.Fatalf("unexpected fragments %q", fragments)
	}
}

func TestCompleteStreamStopsWhenConsumerFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, `{"message":{"content":"part-%d"},"done":false}`+"\n", i)
		}
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer server.Close()

	errStop := errors.New("consumer gone")
	calls := 0
	err := NewChatModel(New(server.URL, "gen", "embed")).CompleteStream(context.Background(), domain.CompletionRequest{UserPrompt: "q"}, func(string) error {
		calls++
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("expected consumer error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected reading to stop after first fragment, got %d calls", calls)
	}
}

func TestCompleteStreamReportsTruncatedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
	}))
	defer server.Close()

	err := NewChatModel(New(server.URL, "gen", "embed")).CompleteStream(context.Background(), domain.CompletionRequest{UserPrompt: "q"}, func(string) error { return nil })
	if !domain.IsKind(err, domain.ErrUpstreamModel) {
		t.Fatalf("expected upstream model error, got %v", err)
	}
}

func TestCompleteStreamRetriesOpeningOnServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, `{"message":{"content":"ok"},"done":true}`)
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	model := NewChatModel(NewWithOptions(server.URL, "gen", "embed", Options{Executor: exec}))

	var got string
	err := model.CompleteStream(context.Background(), domain.CompletionRequest{UserPrompt: "q"}, func(fragment string) error {
		got += fragment
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteStream() error = %v", err)
	}
	if got != "ok" || attempts.Load() != 2 {
		t.Fatalf("expected retry then success, got %q after %d attempts", got, attempts.Load())
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed"))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrUpstreamModel) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected upstream+temporary kinds, got %v", err)
	}
}

func TestEmbedRejectsMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed"))
	_, err := embedder.EmbedQuery(context.Background(), "hello")
	if !domain.IsKind(err, domain.ErrUpstreamModel) {
		t.Fatalf("expected upstream model error, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("malformed payload must not be temporary: %v", err)
	}
}

func TestEmbedQueryReturnsVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["model"] != "nomic-embed-text" {
			t.Errorf("unexpected model %v", payload["model"])
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "nomic-embed-text"))
	vector, err := embedder.EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vector) != 3 || embedder.ModelName() != "nomic-embed-text" {
		t.Fatalf("unexpected vector %v", vector)
	}
}
