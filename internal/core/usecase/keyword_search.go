package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/core/ports"
)

const DefaultKeywordLimit = 10

type KeywordScoring string

const (
	// KeywordScoringFlat gives every matching paper the same score, leaving store (recency) order.
	KeywordScoringFlat KeywordScoring = "flat"
	// KeywordScoringTF ranks matches by saturated term frequency with a title boost.
	KeywordScoringTF KeywordScoring = "tf"
)

const (
	flatKeywordScore  = 0.5
	keywordScoreFloor = 0.05
	titleTermBoost    = 2.0
	termSaturationK   = 1.2
)

func ParseKeywordScoring(raw string) (KeywordScoring, error) {
	switch scoring := KeywordScoring(strings.ToLower(strings.TrimSpace(raw))); scoring {
	case "":
		return KeywordScoringTF, nil
	case KeywordScoringFlat, KeywordScoringTF:
		return scoring, nil
	default:
		return "", domain.NewError(domain.ErrInvalidInput, "parse keyword scoring", fmt.Sprintf("unknown scoring %q", raw))
	}
}

type KeywordSearch struct {
	store   ports.PaperStore
	scoring KeywordScoring
}

func NewKeywordSearch(store ports.PaperStore, scoring KeywordScoring) *KeywordSearch {
	if scoring == "" {
		scoring = KeywordScoringTF
	}
	return &KeywordSearch{store: store, scoring: scoring}
}

// Search returns papers whose title or abstract contains query, at most limit of them.
// A non-empty category keeps only papers of that category; it is applied after retrieval,
// so fewer than limit results may come back.
func (s *KeywordSearch) Search(ctx context.Context, query string, limit int, category string) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.NewError(domain.ErrEmptyInput, "keyword search", "query is empty")
	}
	if limit <= 0 {
		limit = DefaultKeywordLimit
	}

	papers, err := s.store.SearchByText(ctx, query, limit)
	if err != nil {
		if domain.IsKind(err, domain.ErrStoreAccess) {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		return nil, domain.WrapError(domain.ErrStoreAccess, "keyword search", err)
	}

	category = strings.TrimSpace(category)
	results := make([]domain.SearchResult, 0, len(papers))
	queryTerms := uniqueTerms(query)
	for _, paper := range papers {
		if category != "" && !strings.EqualFold(paper.Category, category) {
			continue
		}
		score := flatKeywordScore
		if s.scoring == KeywordScoringTF {
			score = termFrequencyScore(queryTerms, paper)
		}
		results = append(results, domain.SearchResult{
			Paper: paper,
			Score: score,
			Mode:  domain.SearchModeKeyword,
		})
	}

	if s.scoring == KeywordScoringTF {
		// stable: equal scores keep the store's recency order
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Score > results[j].Score
		})
	}
	return results, nil
}

// termFrequencyScore is a saturated, title-boosted term frequency normalized to (0, 1].
// A paper the store matched by raw substring but with no whole-token hit keeps a small floor score.
func termFrequencyScore(queryTerms []string, paper domain.Paper) float64 {
	if len(queryTerms) == 0 {
		return keywordScoreFloor
	}

	titleCounts := termCounts(paper.Title)
	abstractCounts := termCounts(paper.Abstract)

	var sum float64
	for _, term := range queryTerms {
		tf := titleTermBoost*float64(titleCounts[term]) + float64(abstractCounts[term])
		if tf <= 0 {
			continue
		}
		sum += tf * (termSaturationK + 1) / (tf + termSaturationK)
	}

	score := sum / (float64(len(queryTerms)) * (termSaturationK + 1))
	if score < keywordScoreFloor {
		return keywordScoreFloor
	}
	if score > 1 {
		return 1
	}
	return score
}

func termCounts(s string) map[string]int {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]int, len(tokens))
	for _, token := range tokens {
		out[token]++
	}
	return out
}

func uniqueTerms(s string) []string {
	tokens := splitAlphaNumLower(s)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
