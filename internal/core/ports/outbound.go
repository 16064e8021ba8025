package ports

import (
	"context"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

// PaperStore persists papers, chunks and chunk embeddings.
type PaperStore interface {
	SearchByText(ctx context.Context, substring string, limit int) ([]domain.Paper, error)
	ListChunksWithEmbeddings(ctx context.Context) ([]domain.ChunkRow, error)
	GetByArxivID(ctx context.Context, arxivID string) (*domain.Paper, error)
	UpsertPaper(ctx context.Context, paper *domain.Paper) error
	ReplaceChunks(ctx context.Context, paperID int64, chunks []domain.Chunk, vectors [][]float32) error
}

// EmbeddingModel builds vectors for chunk and query text.
type EmbeddingModel interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// LanguageModel produces completions, whole or fragment by fragment.
type LanguageModel interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
	CompleteStream(ctx context.Context, req domain.CompletionRequest, onFragment func(string) error) error
}

// Chunker splits text into retrievable chunks.
type Chunker interface {
	Split(text string) []string
}

// MessageQueue publishes/consumes paper indexing events.
type MessageQueue interface {
	PublishPaperIngested(ctx context.Context, arxivID string) error
	SubscribePaperIngested(ctx context.Context, handler func(context.Context, string) error) error
}
