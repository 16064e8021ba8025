package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/core/ports"
)

type SemanticSearch struct {
	embeddings *EmbeddingGateway
	store      ports.PaperStore
}

func NewSemanticSearch(embeddings *EmbeddingGateway, store ports.PaperStore) *SemanticSearch {
	return &SemanticSearch{embeddings: embeddings, store: store}
}

// Search ranks papers by the summed cosine similarity of their matching chunks.
// The whole chunk table is scanned on every call.
func (s *SemanticSearch) Search(ctx context.Context, query string, topK int, minSimilarity float64) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewError(domain.ErrEmptyInput, "semantic search", "query is empty")
	}
	if topK <= 0 {
		topK = DefaultFindTopK
	}

	queryVector, err := s.embeddings.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	rows, err := s.store.ListChunksWithEmbeddings(ctx)
	if err != nil {
		if domain.IsKind(err, domain.ErrStoreAccess) {
			return nil, fmt.Errorf("semantic search: %w", err)
		}
		return nil, domain.WrapError(domain.ErrStoreAccess, "semantic search", err)
	}
	if len(rows) == 0 {
		return []domain.SearchResult{}, nil
	}

	candidates := make([]domain.EmbeddedChunk, 0, len(rows))
	for _, row := range rows {
		vector, err := domain.DecodeVector(row.EmbeddingBlob)
		if err != nil {
			slog.Warn("chunk_embedding_decode_skipped",
				"chunk_id", row.ChunkID,
				"paper_id", row.PaperID,
				"error", err,
			)
			continue
		}
		candidates = append(candidates, domain.EmbeddedChunk{
			ChunkID: row.ChunkID,
			PaperID: row.PaperID,
			Content: row.Content,
			Vector:  vector,
			Paper:   row.Paper,
		})
	}
	if len(candidates) == 0 {
		return []domain.SearchResult{}, nil
	}

	// Every chunk above the threshold counts toward its paper; topK applies to papers.
	matches, err := FindSimilar(queryVector, candidates, len(candidates), minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	return aggregateChunkMatches(matches, topK), nil
}

// aggregateChunkMatches sums chunk similarities per paper, so a paper with several
// relevant passages outranks one with a single strong hit.
func aggregateChunkMatches(matches []domain.ChunkMatch, topK int) []domain.SearchResult {
	byPaper := make(map[int64]*domain.SearchResult, len(matches))
	order := make([]int64, 0, len(matches))
	for _, match := range matches {
		paperID := match.Chunk.PaperID
		result, ok := byPaper[paperID]
		if !ok {
			result = &domain.SearchResult{
				Paper: match.Chunk.Paper,
				Mode:  domain.SearchModeSemantic,
			}
			byPaper[paperID] = result
			order = append(order, paperID)
		}
		result.Score += match.Similarity
	}

	out := make([]domain.SearchResult, 0, len(order))
	for _, paperID := range order {
		out = append(out, *byPaper[paperID])
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Paper.ArxivID < out[j].Paper.ArxivID
	})

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
