package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/core/ports"
)

const DefaultIndexWorkers = 4

// IndexPapersUseCase chunks stored abstracts, embeds the chunks and replaces the
// paper's persisted chunk set.
type IndexPapersUseCase struct {
	store      ports.PaperStore
	chunker    ports.Chunker
	embeddings *EmbeddingGateway
	workers    int
}

func NewIndexPapersUseCase(
	store ports.PaperStore,
	chunker ports.Chunker,
	embeddings *EmbeddingGateway,
	workers int,
) *IndexPapersUseCase {
	if workers <= 0 {
		workers = DefaultIndexWorkers
	}
	return &IndexPapersUseCase{
		store:      store,
		chunker:    chunker,
		embeddings: embeddings,
		workers:    workers,
	}
}

// IndexByArxivID regenerates chunks and embeddings for one paper. Chunks whose
// embedding failed are logged and left out; the remaining chunks are still stored.
func (uc *IndexPapersUseCase) IndexByArxivID(ctx context.Context, arxivID string) (domain.IndexReport, error) {
	arxivID = strings.TrimSpace(arxivID)
	report := domain.IndexReport{ArxivID: arxivID}
	if arxivID == "" {
		return report, domain.NewError(domain.ErrEmptyInput, "index paper", "arxiv id is empty")
	}

	paper, err := uc.store.GetByArxivID(ctx, arxivID)
	if err != nil {
		return report, fmt.Errorf("load paper: %w", err)
	}

	texts := uc.chunker.Split(paper.Abstract)
	report.ChunksTotal = len(texts)
	if len(texts) == 0 {
		if err := uc.store.ReplaceChunks(ctx, paper.ID, nil, nil); err != nil {
			return report, fmt.Errorf("clear chunks: %w", err)
		}
		return report, nil
	}

	vectors, err := uc.embeddings.EmbedBatch(ctx, texts)
	var batchErr *BatchError
	if err != nil && !errors.As(err, &batchErr) {
		return report, fmt.Errorf("embed chunks: %w", err)
	}

	chunks := make([]domain.Chunk, 0, len(texts))
	kept := make([][]float32, 0, len(texts))
	dimension := 0
	for idx, text := range texts {
		vector := vectors[idx]
		if vector == nil {
			var cause error
			if batchErr != nil {
				cause = batchErr.Failures[idx]
			}
			slog.Warn("chunk_embedding_skipped",
				"arxiv_id", arxivID,
				"chunk_index", idx,
				"error", cause,
			)
			report.ChunksSkipped++
			continue
		}
		if dimension == 0 {
			dimension = len(vector)
		} else if len(vector) != dimension {
			return report, domain.NewError(domain.ErrDimensionMismatch, "index paper",
				fmt.Sprintf("chunk %d has %d dimensions, expected %d", idx, len(vector), dimension))
		}

		chunks = append(chunks, domain.Chunk{
			PaperID: paper.ID,
			Index:   idx,
			Content: text,
		})
		kept = append(kept, vector)
	}

	if err := uc.store.ReplaceChunks(ctx, paper.ID, chunks, kept); err != nil {
		return report, fmt.Errorf("replace chunks: %w", err)
	}
	report.ChunksEmbedded = len(chunks)
	return report, nil
}

type BulkIndexReport struct {
	Papers []domain.IndexReport
	Failed map[string]error
}

// IndexAll indexes many papers on a bounded worker pool. A failing paper does not stop the others.
func (uc *IndexPapersUseCase) IndexAll(ctx context.Context, arxivIDs []string) (BulkIndexReport, error) {
	report := BulkIndexReport{Failed: make(map[string]error)}
	if len(arxivIDs) == 0 {
		return report, nil
	}

	pool, err := ants.NewPool(uc.workers)
	if err != nil {
		return report, fmt.Errorf("create index pool: %w", err)
	}
	defer pool.Release()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, arxivID := range arxivIDs {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			paperReport, err := uc.IndexByArxivID(ctx, arxivID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[arxivID] = err
				slog.Error("paper_index_failed", "arxiv_id", arxivID, "error", err)
				return
			}
			report.Papers = append(report.Papers, paperReport)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			report.Failed[arxivID] = submitErr
			mu.Unlock()
		}
	}
	wg.Wait()

	return report, ctx.Err()
}
