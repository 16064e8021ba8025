package mcpadapter

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/core/ports"
)

const (
	ServerName    = "arxiv-rag"
	ServerVersion = "1.0.0"
)

// Server exposes paper search and grounded answers as MCP tools.
type Server struct {
	mcp         *server.MCPServer
	searcher    ports.PaperSearcher
	answers     ports.AnswerService
	defaultMode domain.SearchMode
	defaultTopK int
}

func NewServer(searcher ports.PaperSearcher, answers ports.AnswerService, defaultMode domain.SearchMode, defaultTopK int) *Server {
	if defaultMode == "" {
		defaultMode = domain.SearchModeHybrid
	}
	s := &Server{
		mcp:         server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		searcher:    searcher,
		answers:     answers,
		defaultMode: defaultMode,
		defaultTopK: defaultTopK,
	}
	s.mcp.AddTool(searchPapersTool(), s.handleSearchPapers)
	s.mcp.AddTool(askPapersTool(), s.handleAskPapers)
	return s
}

// ServeStdio blocks until stdin closes or the process is signalled.
func (s *Server) ServeStdio(_ context.Context) error {
	return server.ServeStdio(s.mcp)
}
