package usecase

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

func assertNear(t *testing.T, want, got float64) {
	t.Helper()
	if math.Abs(want-got) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCosineSimilarityBasics(t *testing.T) {
	cases := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 2}, []float32{-1, -2}, -1},
	}
	for _, tc := range cases {
		sim, err := CosineSimilarity(tc.a, tc.b)
		if err != nil {
			t.Fatalf("CosineSimilarity(%v, %v) error = %v", tc.a, tc.b, err)
		}
		assertNear(t, tc.want, sim)
	}
}

func TestCosineSimilarityZeroMagnitude(t *testing.T) {
	sim, err := CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("CosineSimilarity() error = %v", err)
	}
	if sim != 0 {
		t.Fatalf("expected 0 for zero vector, got %v", sim)
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2}); !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestCosineSimilaritySymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		dim := 1 + rng.Intn(32)
		a, b := randomVector(rng, dim), randomVector(rng, dim)

		ab, err := CosineSimilarity(a, b)
		if err != nil {
			t.Fatalf("CosineSimilarity(a, b) error = %v", err)
		}
		ba, err := CosineSimilarity(b, a)
		if err != nil {
			t.Fatalf("CosineSimilarity(b, a) error = %v", err)
		}
		if ab != ba {
			t.Fatalf("expected symmetric similarity, got %v and %v", ab, ba)
		}
		if ab < -1 || ab > 1 {
			t.Fatalf("similarity out of range: %v", ab)
		}
	}
}

func TestFindSimilarThresholdGate(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	query := randomVector(rng, 8)
	candidates := make([]domain.EmbeddedChunk, 0, 100)
	for i := 0; i < 100; i++ {
		candidates = append(candidates, domain.EmbeddedChunk{ChunkID: int64(i + 1), Vector: randomVector(rng, 8)})
	}

	for _, minSimilarity := range []float64{-1, -0.2, 0, 0.1, 0.3, 0.6, 0.95} {
		matches, err := FindSimilar(query, candidates, 100, minSimilarity)
		if err != nil {
			t.Fatalf("FindSimilar(min=%v) error = %v", minSimilarity, err)
		}
		for i, match := range matches {
			if match.Similarity < minSimilarity {
				t.Fatalf("match %d below threshold %v: %v", i, minSimilarity, match.Similarity)
			}
			if i > 0 && match.Similarity > matches[i-1].Similarity {
				t.Fatalf("matches not sorted descending at %d", i)
			}
		}
	}
}

func TestFindSimilarDefaultsAndTruncation(t *testing.T) {
	query := []float32{1, 0}
	candidates := make([]domain.EmbeddedChunk, 0, 8)
	for i := 0; i < 8; i++ {
		candidates = append(candidates, domain.EmbeddedChunk{ChunkID: int64(i + 1), Vector: []float32{1, float32(i) * 0.1}})
	}

	matches, err := FindSimilar(query, candidates, 0, DefaultMinSimilarity)
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}
	if len(matches) != DefaultFindTopK {
		t.Fatalf("expected %d matches, got %d", DefaultFindTopK, len(matches))
	}
	if matches[0].Chunk.ChunkID != 1 {
		t.Fatalf("expected chunk 1 first, got %d", matches[0].Chunk.ChunkID)
	}
}

func TestFindSimilarFailsOnAnyMismatch(t *testing.T) {
	candidates := []domain.EmbeddedChunk{
		{ChunkID: 1, Vector: []float32{1, 0}},
		{ChunkID: 2, Vector: []float32{1, 0, 0}},
	}
	if _, err := FindSimilar([]float32{1, 0}, candidates, 5, 0); !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	model := &embeddingModelFake{fallback: []float32{1}}
	gw := NewEmbeddingGateway(model, EmbeddingOptions{})

	_, err := gw.Embed(context.Background(), "   ")
	if !domain.IsKind(err, domain.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if model.calls.Load() != 0 {
		t.Fatalf("model must not be called for empty text")
	}
}

func TestEmbedWrapsUpstreamFailures(t *testing.T) {
	model := &embeddingModelFake{failOn: map[string]error{"boom": errors.New("connection refused")}}
	gw := NewEmbeddingGateway(model, EmbeddingOptions{})

	for _, text := range []string{"boom", "no vector"} {
		if _, err := gw.Embed(context.Background(), text); !domain.IsKind(err, domain.ErrUpstreamModel) {
			t.Fatalf("Embed(%q): expected ErrUpstreamModel, got %v", text, err)
		}
	}
}

func TestEmbedCachesQueryVectors(t *testing.T) {
	model := &embeddingModelFake{fallback: []float32{0.5, 0.5}}
	gw := NewEmbeddingGateway(model, EmbeddingOptions{CacheSize: 4})

	first, err := gw.Embed(context.Background(), "attention")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	first[0] = 99

	second, err := gw.Embed(context.Background(), "attention")
	if err != nil {
		t.Fatalf("Embed() second call error = %v", err)
	}
	if !slices.Equal(second, []float32{0.5, 0.5}) {
		t.Fatalf("cached vector was mutated by caller: %v", second)
	}
	if model.calls.Load() != 1 {
		t.Fatalf("expected one model call, got %d", model.calls.Load())
	}
}

func TestEmbedBatchKeepsOrderAndReportsFailures(t *testing.T) {
	model := &embeddingModelFake{
		vectors: map[string][]float32{
			"a": {1, 0},
			"c": {0, 1},
		},
		failOn: map[string]error{"b": errors.New("model overloaded")},
	}
	gw := NewEmbeddingGateway(model, EmbeddingOptions{BatchSize: 2})

	vectors, err := gw.EmbedBatch(context.Background(), []string{"a", "b", "c", ""})
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected *BatchError, got %v", err)
	}
	if got := batchErr.FailedIndices(); !slices.Equal(got, []int{1, 3}) {
		t.Fatalf("unexpected failed indices %v", got)
	}
	if !domain.IsKind(err, domain.ErrUpstreamModel) || !domain.IsKind(err, domain.ErrEmptyInput) {
		t.Fatalf("expected upstream and empty-input kinds, got %v", err)
	}

	if len(vectors) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(vectors))
	}
	if !slices.Equal(vectors[0], []float32{1, 0}) || !slices.Equal(vectors[2], []float32{0, 1}) {
		t.Fatalf("unexpected vectors %v", vectors)
	}
	if vectors[1] != nil || vectors[3] != nil {
		t.Fatalf("failed slots must stay nil: %v", vectors)
	}
}

func TestEmbedBatchBoundsConcurrency(t *testing.T) {
	model := &embeddingModelFake{fallback: []float32{1}, delay: 5 * time.Millisecond}
	gw := NewEmbeddingGateway(model, EmbeddingOptions{BatchSize: 3})

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = "chunk"
	}
	vectors, err := gw.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vectors) != 10 || model.calls.Load() != 10 {
		t.Fatalf("expected 10 vectors from 10 calls, got %d vectors, %d calls", len(vectors), model.calls.Load())
	}
	if model.maxInFlight.Load() > 3 {
		t.Fatalf("expected at most 3 concurrent calls, got %d", model.maxInFlight.Load())
	}
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	out := make([]float32, dim)
	for i := range out {
		out[i] = float32(rng.NormFloat64())
	}
	if dim > 0 && math.Abs(float64(out[0])) < 1e-6 {
		out[0] = 1
	}
	return out
}
