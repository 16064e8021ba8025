package ports

import (
	"context"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

// PaperSearcher is the inbound contract for keyword, semantic and hybrid search.
type PaperSearcher interface {
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error)
}

// AnswerService is the inbound contract for grounded answer generation.
type AnswerService interface {
	GenerateAnswer(ctx context.Context, req domain.AnswerRequest) (*domain.RAGAnswer, error)
	StreamAnswer(ctx context.Context, req domain.AnswerRequest) (<-chan domain.StreamEvent, error)
}

// PaperReader is the inbound read model for paper metadata.
type PaperReader interface {
	GetByArxivID(ctx context.Context, arxivID string) (*domain.Paper, error)
}

// PaperIngestor stores paper metadata and schedules indexing.
type PaperIngestor interface {
	Ingest(ctx context.Context, papers []domain.Paper) (domain.IngestReport, error)
}

// PaperIndexer chunks and embeds stored papers.
type PaperIndexer interface {
	IndexByArxivID(ctx context.Context, arxivID string) (domain.IndexReport, error)
}
