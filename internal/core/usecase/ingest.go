package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/core/ports"
)

const arxivAbsURLPrefix = "https://arxiv.org/abs/"

// IngestPapersUseCase stores paper metadata and schedules each stored paper for indexing.
type IngestPapersUseCase struct {
	store ports.PaperStore
	queue ports.MessageQueue
	now   func() time.Time
}

// NewIngestPapersUseCase accepts a nil queue; papers are then stored without an indexing event.
func NewIngestPapersUseCase(store ports.PaperStore, queue ports.MessageQueue) *IngestPapersUseCase {
	return &IngestPapersUseCase{
		store: store,
		queue: queue,
		now:   time.Now,
	}
}

// Ingest is best-effort per paper: invalid or failing papers are counted in the report
// and the rest of the batch continues. Only context cancellation aborts the call.
func (uc *IngestPapersUseCase) Ingest(ctx context.Context, papers []domain.Paper) (domain.IngestReport, error) {
	report := domain.IngestReport{Received: len(papers)}

	for i := range papers {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		paper := normalizePaper(papers[i], uc.now().UTC())
		if err := validatePaper(paper); err != nil {
			uc.recordFailure(&report, i, paper.ArxivID, err)
			continue
		}

		if err := uc.store.UpsertPaper(ctx, &paper); err != nil {
			uc.recordFailure(&report, i, paper.ArxivID, fmt.Errorf("upsert paper: %w", err))
			continue
		}
		report.Stored++
		report.StoredIDs = append(report.StoredIDs, paper.ArxivID)

		if uc.queue == nil {
			continue
		}
		if err := uc.queue.PublishPaperIngested(ctx, paper.ArxivID); err != nil {
			uc.recordFailure(&report, i, paper.ArxivID, fmt.Errorf("publish indexing event: %w", err))
			continue
		}
		report.Published++
	}

	return report, nil
}

func (uc *IngestPapersUseCase) recordFailure(report *domain.IngestReport, index int, arxivID string, err error) {
	report.Failed++
	report.Errors = append(report.Errors, fmt.Sprintf("paper %d (%s): %v", index, arxivID, err))
	slog.Warn("paper_ingest_failed", "index", index, "arxiv_id", arxivID, "error", err)
}

func normalizePaper(paper domain.Paper, now time.Time) domain.Paper {
	paper.ArxivID = strings.TrimSpace(paper.ArxivID)
	paper.Title = strings.Join(strings.Fields(paper.Title), " ")
	paper.Abstract = strings.TrimSpace(paper.Abstract)
	paper.Category = strings.TrimSpace(paper.Category)
	paper.URL = strings.TrimSpace(paper.URL)
	if paper.URL == "" && paper.ArxivID != "" {
		paper.URL = arxivAbsURLPrefix + paper.ArxivID
	}

	authors := make([]string, 0, len(paper.Authors))
	for _, author := range paper.Authors {
		if author = strings.TrimSpace(author); author != "" {
			authors = append(authors, author)
		}
	}
	paper.Authors = authors

	if paper.CreatedAt.IsZero() {
		paper.CreatedAt = now
	}
	paper.UpdatedAt = now
	return paper
}

func validatePaper(paper domain.Paper) error {
	if paper.ArxivID == "" {
		return domain.NewError(domain.ErrInvalidInput, "validate paper", "arxiv_id is required")
	}
	if paper.Title == "" {
		return domain.NewError(domain.ErrInvalidInput, "validate paper", "title is required")
	}
	return nil
}
