package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

type SearchDefaults struct {
	TopK           int
	KeywordLimit   int
	KeywordWeight  float64
	SemanticWeight float64
	MinSimilarity  float64
}

func DefaultSearchDefaults() SearchDefaults {
	return SearchDefaults{
		TopK:           DefaultFindTopK,
		KeywordLimit:   DefaultKeywordLimit,
		KeywordWeight:  0.5,
		SemanticWeight: 0.5,
		MinSimilarity:  DefaultMinSimilarity,
	}
}

type hybridSearcher interface {
	Search(ctx context.Context, query string, topK int, keywordWeight, semanticWeight float64) ([]domain.SearchResult, error)
}

// SearchService is the caller-facing search entry point shared by every adapter.
type SearchService struct {
	keyword  keywordSearcher
	semantic semanticSearcher
	hybrid   hybridSearcher
	defaults SearchDefaults
}

func NewSearchService(keyword keywordSearcher, semantic semanticSearcher, hybrid hybridSearcher, defaults SearchDefaults) *SearchService {
	if defaults.TopK <= 0 {
		defaults.TopK = DefaultFindTopK
	}
	if defaults.KeywordLimit <= 0 {
		defaults.KeywordLimit = DefaultKeywordLimit
	}
	return &SearchService{
		keyword:  keyword,
		semantic: semantic,
		hybrid:   hybrid,
		defaults: defaults,
	}
}

func (s *SearchService) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.NewError(domain.ErrEmptyInput, "search", "query is empty")
	}
	if req.TopK < 0 {
		return nil, domain.NewError(domain.ErrInvalidInput, "search", fmt.Sprintf("top_k must be positive, got %d", req.TopK))
	}

	mode := req.Mode
	if mode == "" {
		mode = domain.SearchModeHybrid
	}

	switch mode {
	case domain.SearchModeKeyword:
		limit := req.TopK
		if limit == 0 {
			limit = s.defaults.KeywordLimit
		}
		return s.keyword.Search(ctx, req.Query, limit, req.Category)
	case domain.SearchModeSemantic:
		minSimilarity := floatOr(req.MinSimilarity, s.defaults.MinSimilarity)
		if minSimilarity < -1 || minSimilarity > 1 {
			return nil, domain.NewError(domain.ErrInvalidInput, "search", fmt.Sprintf("min_similarity must be within [-1, 1], got %v", minSimilarity))
		}
		return s.semantic.Search(ctx, req.Query, s.topK(req), minSimilarity)
	case domain.SearchModeHybrid:
		return s.hybrid.Search(ctx, req.Query, s.topK(req),
			floatOr(req.KeywordWeight, s.defaults.KeywordWeight),
			floatOr(req.SemanticWeight, s.defaults.SemanticWeight),
		)
	default:
		return nil, domain.NewError(domain.ErrInvalidInput, "search", fmt.Sprintf("unknown mode %q", mode))
	}
}

func (s *SearchService) topK(req domain.SearchRequest) int {
	if req.TopK > 0 {
		return req.TopK
	}
	return s.defaults.TopK
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
