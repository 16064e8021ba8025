package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

const DefaultRRFK = 60

type keywordSearcher interface {
	Search(ctx context.Context, query string, limit int, category string) ([]domain.SearchResult, error)
}

type semanticSearcher interface {
	Search(ctx context.Context, query string, topK int, minSimilarity float64) ([]domain.SearchResult, error)
}

type HybridOptions struct {
	RRFK          int
	MinSimilarity float64
}

// HybridSearch merges keyword and semantic rankings with weighted reciprocal rank fusion.
type HybridSearch struct {
	keyword  keywordSearcher
	semantic semanticSearcher
	rrfK     int
	minSim   float64
}

func NewHybridSearch(keyword keywordSearcher, semantic semanticSearcher, opts HybridOptions) *HybridSearch {
	rrfK := opts.RRFK
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	return &HybridSearch{
		keyword:  keyword,
		semantic: semantic,
		rrfK:     rrfK,
		minSim:   opts.MinSimilarity,
	}
}

// Search runs both retrievals concurrently for 2*topK candidates each and fuses them
// once both have finished. Weights are not required to sum to 1.
func (s *HybridSearch) Search(ctx context.Context, query string, topK int, keywordWeight, semanticWeight float64) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewError(domain.ErrEmptyInput, "hybrid search", "query is empty")
	}
	if keywordWeight < 0 || semanticWeight < 0 {
		return nil, domain.NewError(domain.ErrInvalidInput, "hybrid search",
			fmt.Sprintf("weights must be non-negative, got keyword=%v semantic=%v", keywordWeight, semanticWeight))
	}
	if topK <= 0 {
		topK = DefaultFindTopK
	}
	candidates := topK * 2

	var keywordResults, semanticResults []domain.SearchResult
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		results, err := s.keyword.Search(groupCtx, query, candidates, "")
		if err != nil {
			return err
		}
		keywordResults = results
		return nil
	})
	group.Go(func() error {
		results, err := s.semantic.Search(groupCtx, query, candidates, s.minSim)
		if err != nil {
			return err
		}
		semanticResults = results
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	fused := fuseRRF(keywordResults, semanticResults, keywordWeight, semanticWeight, s.rrfK)
	return trimResults(fused, topK), nil
}

type fusedPaper struct {
	result        domain.SearchResult
	score         float64
	keywordScore  float64
	semanticScore float64
}

// fuseRRF awards weight/(k+rank+1) to every paper per list it appears in. Ranks come from
// list order, so the magnitude of the underlying scores never matters; the normalized
// per-list scores are carried along for display only.
func fuseRRF(keyword, semantic []domain.SearchResult, keywordWeight, semanticWeight float64, rrfK int) []domain.SearchResult {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}

	acc := make(map[string]*fusedPaper, len(keyword)+len(semantic))
	addList := func(list string, results []domain.SearchResult, weight float64, assign func(*fusedPaper, float64)) {
		normalized := normalizeScores(results)
		for rank, result := range results {
			key := paperKey(result.Paper, list, rank)
			entry, ok := acc[key]
			if !ok {
				entry = &fusedPaper{result: result}
				acc[key] = entry
			}
			entry.score += weight / float64(rrfK+rank+1)
			assign(entry, normalized[rank])
		}
	}

	addList("keyword", keyword, keywordWeight, func(e *fusedPaper, v float64) { e.keywordScore = v })
	addList("semantic", semantic, semanticWeight, func(e *fusedPaper, v float64) { e.semanticScore = v })

	out := make([]domain.SearchResult, 0, len(acc))
	for _, entry := range acc {
		result := entry.result
		result.Score = entry.score
		result.Mode = domain.SearchModeHybrid
		result.KeywordScore = entry.keywordScore
		result.SemanticScore = entry.semanticScore
		out = append(out, result)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Paper.ArxivID < out[j].Paper.ArxivID
	})
	return out
}

// normalizeScores divides every score by the list maximum. A non-positive maximum yields zeros.
func normalizeScores(results []domain.SearchResult) []float64 {
	out := make([]float64, len(results))
	if len(results) == 0 {
		return out
	}

	maxScore := results[0].Score
	for _, result := range results[1:] {
		if result.Score > maxScore {
			maxScore = result.Score
		}
	}
	if maxScore <= 0 {
		return out
	}
	for i, result := range results {
		out[i] = result.Score / maxScore
	}
	return out
}

func paperKey(paper domain.Paper, list string, index int) string {
	if paper.ArxivID != "" {
		return paper.ArxivID
	}
	if paper.ID != 0 {
		return fmt.Sprintf("id:%d", paper.ID)
	}
	return fmt.Sprintf("unknown_%s_%d", list, index)
}

func trimResults(results []domain.SearchResult, limit int) []domain.SearchResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}
