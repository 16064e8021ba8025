package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

const maxToolTopK = 50

func searchPapersTool() mcp.Tool {
	return mcp.NewTool("search_papers",
		mcp.WithDescription("Search the arXiv paper corpus by keyword, embedding similarity, or both fused with reciprocal rank fusion"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query in natural language or keywords")),
		mcp.WithString("mode", mcp.Description("Retrieval mode"), mcp.Enum("keyword", "semantic", "hybrid")),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of papers to return (1-50, 0 or omitted uses the default)")),
		mcp.WithString("category", mcp.Description("arXiv category filter, keyword mode only (e.g. cs.AI)")),
	)
}

func askPapersTool() mcp.Tool {
	return mcp.NewTool("ask_papers",
		mcp.WithDescription("Answer a research question from retrieved arXiv papers, citing sources as [n]"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Research question")),
		mcp.WithString("mode", mcp.Description("Retrieval mode"), mcp.Enum("keyword", "semantic", "hybrid")),
		mcp.WithNumber("top_k", mcp.Description("Number of papers used as context (1-50)")),
	)
}

type toolArgs struct {
	query    string
	mode     domain.SearchMode
	topK     int
	category string
}

func (s *Server) parseArgs(request mcp.CallToolRequest) (toolArgs, error) {
	args := request.GetArguments()

	query := strings.TrimSpace(getString(args, "query", ""))
	if query == "" {
		return toolArgs{}, fmt.Errorf("query parameter is required and cannot be empty")
	}

	mode := s.defaultMode
	if raw := getString(args, "mode", ""); raw != "" {
		parsed, err := domain.ParseSearchMode(raw)
		if err != nil {
			return toolArgs{}, fmt.Errorf("invalid mode %q: allowed keyword, semantic, hybrid", raw)
		}
		mode = parsed
	}

	topK := getInt(args, "top_k", s.defaultTopK)
	if topK < 0 || topK > maxToolTopK {
		return toolArgs{}, fmt.Errorf("top_k must be between 0 and %d (0 uses the default)", maxToolTopK)
	}

	return toolArgs{
		query:    query,
		mode:     mode,
		topK:     topK,
		category: getString(args, "category", ""),
	}, nil
}

func (s *Server) handleSearchPapers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := s.parseArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := s.searcher.Search(ctx, domain.SearchRequest{
		Query:    args.query,
		Mode:     args.mode,
		TopK:     args.topK,
		Category: args.category,
	})
	if err != nil {
		return toolError("search_papers", err), nil
	}

	papers := make([]map[string]any, 0, len(results))
	for i, result := range results {
		entry := map[string]any{
			"rank":     i + 1,
			"arxiv_id": result.Paper.ArxivID,
			"title":    result.Paper.Title,
			"authors":  result.Paper.Authors,
			"score":    result.Score,
			"abstract": result.Paper.Abstract,
		}
		if !result.Paper.PublishedAt.IsZero() {
			entry["published"] = result.Paper.PublishedAt.Format("2006-01-02")
		}
		if result.Paper.URL != "" {
			entry["url"] = result.Paper.URL
		}
		papers = append(papers, entry)
	}

	return mcp.NewToolResultText(formatJSON(map[string]any{
		"query":   args.query,
		"mode":    args.mode,
		"count":   len(papers),
		"results": papers,
	})), nil
}

func (s *Server) handleAskPapers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := s.parseArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	answer, err := s.answers.GenerateAnswer(ctx, domain.AnswerRequest{
		Query: args.query,
		Mode:  args.mode,
		TopK:  args.topK,
	})
	if err != nil {
		return toolError("ask_papers", err), nil
	}
	return mcp.NewToolResultText(answer.Answer), nil
}

// toolError reports failures inside the tool result so the calling model can see them.
func toolError(tool string, err error) *mcp.CallToolResult {
	switch {
	case domain.IsKind(err, domain.ErrEmptyInput), domain.IsKind(err, domain.ErrInvalidInput):
		return mcp.NewToolResultError(err.Error())
	default:
		slog.Error("mcp_tool_failed", "tool", tool, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("%s failed, try again later", tool))
	}
}

func formatJSON(data map[string]any) string {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(out)
}

func getString(args map[string]any, key, fallback string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return fallback
}

func getInt(args map[string]any, key string, fallback int) int {
	switch val := args[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	default:
		return fallback
	}
}
