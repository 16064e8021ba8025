package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

const (
	abstractSnippetRunes = 300
	publishedDateLayout  = "2006-01-02"
)

const answerSystemPrompt = `You are an expert research assistant specializing in academic papers from arXiv.
Answer the user's question using only the numbered papers provided in the context.
Cite the papers you rely on with their bracketed numbers, for example [1] or [2][3].
If the context does not contain enough information to answer, say so plainly.
Be concise but thorough, and prefer precise technical language.`

var citationMarker = regexp.MustCompile(`\[\d+\]`)

func buildAnswerPrompt(question string, results []domain.SearchResult) string {
	return fmt.Sprintf(`Context:
%s
Question: %s

Answer with citations:`, buildContextBlock(results), strings.TrimSpace(question))
}

// buildContextBlock renders one numbered entry per result, in rank order.
func buildContextBlock(results []domain.SearchResult) string {
	var b strings.Builder
	for idx, result := range results {
		paper := result.Paper
		fmt.Fprintf(&b, "[%d] %s\n", idx+1, paper.Title)
		fmt.Fprintf(&b, "Authors: %s\n", formatAuthors(paper.Authors))
		fmt.Fprintf(&b, "Published: %s\n", formatPublished(paper))
		fmt.Fprintf(&b, "Abstract: %s\n", abstractSnippet(paper.Abstract))
		fmt.Fprintf(&b, "Relevance: %.1f%%\n\n", result.Score*100)
	}
	return b.String()
}

func abstractSnippet(abstract string) string {
	abstract = strings.TrimSpace(abstract)
	if utf8.RuneCountInString(abstract) <= abstractSnippetRunes {
		return abstract
	}
	runes := []rune(abstract)
	return string(runes[:abstractSnippetRunes]) + "..."
}

func formatAuthors(authors []string) string {
	if len(authors) == 0 {
		return "Unknown"
	}
	return strings.Join(authors, ", ")
}

func formatPublished(paper domain.Paper) string {
	if paper.PublishedAt.IsZero() {
		return "unknown"
	}
	return paper.PublishedAt.Format(publishedDateLayout)
}

// formatSources renders the Sources section: one line per result, in rank order.
func formatSources(results []domain.SearchResult) string {
	var b strings.Builder
	b.WriteString("Sources:\n")
	for idx, result := range results {
		paper := result.Paper
		fmt.Fprintf(&b, "[%d] %s, \"%s\", %s (%s)\n",
			idx+1,
			citationAuthor(paper.Authors),
			paper.Title,
			paper.ArxivID,
			formatPublished(paper),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func citationAuthor(authors []string) string {
	switch len(authors) {
	case 0:
		return "Unknown"
	case 1:
		return authors[0]
	default:
		return authors[0] + " et al."
	}
}

// ensureCitations appends the Sources section unless the model already cited with [n] markers.
func ensureCitations(answer string, results []domain.SearchResult) string {
	answer = strings.TrimSpace(answer)
	if citationMarker.MatchString(answer) {
		return answer
	}
	if answer == "" {
		return formatSources(results)
	}
	return answer + "\n\n" + formatSources(results)
}

func toSourceRefs(results []domain.SearchResult) []domain.SourceRef {
	out := make([]domain.SourceRef, 0, len(results))
	for _, result := range results {
		authors := result.Paper.Authors
		if authors == nil {
			authors = []string{}
		}
		out = append(out, domain.SourceRef{
			ArxivID: result.Paper.ArxivID,
			Title:   result.Paper.Title,
			Authors: authors,
			URL:     result.Paper.URL,
		})
	}
	return out
}
