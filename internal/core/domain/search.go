package domain

import (
	"fmt"
	"strings"
	"time"
)

type SearchMode string

const (
	SearchModeKeyword  SearchMode = "keyword"
	SearchModeSemantic SearchMode = "semantic"
	SearchModeHybrid   SearchMode = "hybrid"
)

// ParseSearchMode accepts the three mode names; an empty value means hybrid.
func ParseSearchMode(raw string) (SearchMode, error) {
	switch mode := SearchMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return SearchModeHybrid, nil
	case SearchModeKeyword, SearchModeSemantic, SearchModeHybrid:
		return mode, nil
	default:
		return "", NewError(ErrInvalidInput, "parse search mode", fmt.Sprintf("unknown mode %q", raw))
	}
}

type SearchResult struct {
	Paper Paper      `json:"paper"`
	Score float64    `json:"score"`
	Mode  SearchMode `json:"mode"`

	// Normalized per-list scores, set by hybrid fusion only.
	KeywordScore  float64 `json:"keyword_score,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
}

// SearchRequest is the caller-facing search contract. Zero values take service defaults.
type SearchRequest struct {
	Query          string
	Mode           SearchMode
	TopK           int
	Category       string
	KeywordWeight  *float64
	SemanticWeight *float64
	MinSimilarity  *float64
}

type AnswerRequest struct {
	Query          string
	Mode           SearchMode
	TopK           int
	KeywordWeight  *float64
	SemanticWeight *float64
}

func (r AnswerRequest) SearchRequest() SearchRequest {
	return SearchRequest{
		Query:          r.Query,
		Mode:           r.Mode,
		TopK:           r.TopK,
		KeywordWeight:  r.KeywordWeight,
		SemanticWeight: r.SemanticWeight,
	}
}

type SourceRef struct {
	ArxivID string   `json:"arxiv_id"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	URL     string   `json:"url,omitempty"`
}

type RAGAnswer struct {
	Answer      string      `json:"answer"`
	Sources     []SourceRef `json:"sources"`
	Mode        SearchMode  `json:"mode"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// StreamEvent carries one streamed answer fragment, or a terminal error.
type StreamEvent struct {
	Text string
	Err  error
}

const NoResultsAnswer = "I couldn't find any relevant papers in the corpus to answer your question. Try rephrasing it or using different keywords."
