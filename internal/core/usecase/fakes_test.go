package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

type embeddingModelFake struct {
	vectors  map[string][]float32
	fallback []float32
	failOn   map[string]error
	delay    time.Duration

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *embeddingModelFake) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := f.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vector)
	}
	return out, nil
}

func (f *embeddingModelFake) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxInFlight.Load()
		if current <= seen || f.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.failOn[text]; ok {
		return nil, err
	}
	if vector, ok := f.vectors[text]; ok {
		return vector, nil
	}
	return f.fallback, nil
}

func (f *embeddingModelFake) ModelName() string { return "fake-embed" }

type paperStoreFake struct {
	mu sync.Mutex

	papers    map[string]*domain.Paper
	textHits  []domain.Paper
	chunkRows []domain.ChunkRow

	searchErr error
	listErr   error
	upsertErr map[string]error

	lastSubstring string
	lastLimit     int
	nextID        int64

	replaced map[int64][]domain.Chunk
	vectors  map[int64][][]float32
}

func newPaperStoreFake() *paperStoreFake {
	return &paperStoreFake{
		papers:    make(map[string]*domain.Paper),
		upsertErr: make(map[string]error),
		replaced:  make(map[int64][]domain.Chunk),
		vectors:   make(map[int64][][]float32),
	}
}

func (f *paperStoreFake) SearchByText(_ context.Context, substring string, limit int) ([]domain.Paper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSubstring = substring
	f.lastLimit = limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	hits := f.textHits
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *paperStoreFake) ListChunksWithEmbeddings(context.Context) ([]domain.ChunkRow, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.chunkRows, nil
}

func (f *paperStoreFake) GetByArxivID(_ context.Context, arxivID string) (*domain.Paper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	paper, ok := f.papers[arxivID]
	if !ok {
		return nil, domain.NewError(domain.ErrPaperNotFound, "get paper", arxivID)
	}
	copied := *paper
	return &copied, nil
}

func (f *paperStoreFake) UpsertPaper(_ context.Context, paper *domain.Paper) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.upsertErr[paper.ArxivID]; err != nil {
		return err
	}
	if existing, ok := f.papers[paper.ArxivID]; ok {
		paper.ID = existing.ID
	} else {
		f.nextID++
		paper.ID = f.nextID
	}
	copied := *paper
	f.papers[paper.ArxivID] = &copied
	return nil
}

func (f *paperStoreFake) ReplaceChunks(_ context.Context, paperID int64, chunks []domain.Chunk, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced[paperID] = chunks
	f.vectors[paperID] = vectors
	return nil
}

type languageModelFake struct {
	answer    string
	fragments []string
	err       error
	streamErr error

	lastRequest domain.CompletionRequest
	calls       int
	blockUntil  chan struct{}
}

func (f *languageModelFake) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	f.calls++
	f.lastRequest = req
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *languageModelFake) CompleteStream(ctx context.Context, req domain.CompletionRequest, onFragment func(string) error) error {
	f.calls++
	f.lastRequest = req
	for _, fragment := range f.fragments {
		if err := onFragment(fragment); err != nil {
			return err
		}
	}
	if f.blockUntil != nil {
		select {
		case <-f.blockUntil:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.streamErr
}

type queueFake struct {
	published []string
	failOn    map[string]error
}

func (f *queueFake) PublishPaperIngested(_ context.Context, arxivID string) error {
	if err := f.failOn[arxivID]; err != nil {
		return err
	}
	f.published = append(f.published, arxivID)
	return nil
}

func (f *queueFake) SubscribePaperIngested(context.Context, func(context.Context, string) error) error {
	return errors.New("not supported in tests")
}

type searcherFake struct {
	results  []domain.SearchResult
	err      error
	requests []domain.SearchRequest
	// block makes Search wait for its context to end.
	block bool
}

func (f *searcherFake) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	f.requests = append(f.requests, req)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type chunkerFake struct {
	chunks []string
}

func (f chunkerFake) Split(string) []string { return f.chunks }

func chunkRow(chunkID int64, paper domain.Paper, vector []float32) domain.ChunkRow {
	return domain.ChunkRow{
		ChunkID:       chunkID,
		PaperID:       paper.ID,
		Content:       paper.Abstract,
		EmbeddingBlob: domain.EncodeVector(vector),
		Paper:         paper,
	}
}

func ptr(v float64) *float64 { return &v }
