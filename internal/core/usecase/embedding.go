package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/core/ports"
)

const (
	DefaultEmbedBatchSize = 10
	DefaultFindTopK       = 5
	DefaultMinSimilarity  = 0.3
)

type EmbeddingOptions struct {
	// BatchSize bounds the number of concurrent outbound embedding calls.
	BatchSize int
	// CacheSize is the number of query embeddings kept in memory; 0 disables the cache.
	CacheSize int
}

// EmbeddingGateway wraps the external embedding model with input validation,
// bounded batch fan-out and a query-vector cache.
type EmbeddingGateway struct {
	model     ports.EmbeddingModel
	batchSize int
	cache     *lru.Cache[string, []float32]
}

func NewEmbeddingGateway(model ports.EmbeddingModel, opts EmbeddingOptions) *EmbeddingGateway {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}

	gw := &EmbeddingGateway{
		model:     model,
		batchSize: batchSize,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []float32](opts.CacheSize)
		if err == nil {
			gw.cache = cache
		}
	}
	return gw
}

// Embed converts a single text into a vector.
func (g *EmbeddingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewError(domain.ErrEmptyInput, "embed", "text is empty")
	}

	key := g.model.ModelName() + "\x00" + text
	if g.cache != nil {
		if cached, ok := g.cache.Get(key); ok {
			return cloneVector(cached), nil
		}
	}

	vector, err := g.embedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		g.cache.Add(key, cloneVector(vector))
	}
	return vector, nil
}

// EmbedBatch embeds texts in fixed-size batches. Batches run one after another;
// the calls inside a batch run concurrently. Items that fail keep a nil slot and
// are reported through a *BatchError.
func (g *EmbeddingGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	failures := make(map[int]error)

	for start := 0; start < len(texts); start += g.batchSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := min(start+g.batchSize, len(texts))

		var group errgroup.Group
		group.SetLimit(g.batchSize)
		for i := start; i < end; i++ {
			group.Go(func() error {
				var (
					vector []float32
					err    error
				)
				if strings.TrimSpace(texts[i]) == "" {
					err = domain.NewError(domain.ErrEmptyInput, "embed batch item", "text is empty")
				} else {
					vector, err = g.embedOne(ctx, texts[i])
				}

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures[i] = err
					return nil
				}
				out[i] = vector
				return nil
			})
		}
		_ = group.Wait()
	}

	if len(failures) > 0 {
		return out, &BatchError{Failures: failures}
	}
	return out, nil
}

func (g *EmbeddingGateway) embedOne(ctx context.Context, text string) ([]float32, error) {
	vector, err := g.model.EmbedQuery(ctx, text)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embed: %w", err)
		}
		if domain.IsKind(err, domain.ErrUpstreamModel) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrUpstreamModel, "embed", err)
	}
	if len(vector) == 0 {
		return nil, domain.NewError(domain.ErrUpstreamModel, "embed", "model returned an empty vector")
	}
	return vector, nil
}

// BatchError reports the items of an EmbedBatch call that could not be embedded, by input index.
type BatchError struct {
	Failures map[int]error
}

func (e *BatchError) Error() string {
	indices := e.FailedIndices()
	if len(indices) == 0 {
		return "embed batch: no failures"
	}
	first := indices[0]
	return fmt.Sprintf("embed batch: %d item(s) failed, first at index %d: %v", len(indices), first, e.Failures[first])
}

func (e *BatchError) Unwrap() []error {
	indices := e.FailedIndices()
	out := make([]error, 0, len(indices))
	for _, idx := range indices {
		out = append(out, e.Failures[idx])
	}
	return out
}

func (e *BatchError) FailedIndices() []int {
	indices := make([]int, 0, len(e.Failures))
	for idx := range e.Failures {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Vectors of different length are a data-integrity fault; a zero-magnitude vector scores 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, domain.NewError(domain.ErrDimensionMismatch, "cosine similarity", fmt.Sprintf("%d != %d", len(a), len(b)))
	}

	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim)), nil
}

// FindSimilar scores every candidate against query, drops candidates below
// minSimilarity, and returns the topK best matches in descending order.
func FindSimilar(query []float32, candidates []domain.EmbeddedChunk, topK int, minSimilarity float64) ([]domain.ChunkMatch, error) {
	if topK <= 0 {
		topK = DefaultFindTopK
	}

	matches := make([]domain.ChunkMatch, 0, len(candidates))
	for _, candidate := range candidates {
		sim, err := CosineSimilarity(query, candidate.Vector)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", candidate.ChunkID, err)
		}
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, domain.ChunkMatch{Chunk: candidate, Similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Chunk.ChunkID < matches[j].Chunk.ChunkID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
