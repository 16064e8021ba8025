package cli

import (
	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/arxiv-rag/internal/adapters/mcp"
	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

func newMCPCommand(factory Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve search_papers and ask_papers as MCP tools over stdio",
		Long: `Starts a Model Context Protocol server on stdin/stdout. Logs go to stderr.

Example client configuration:
  {
    "mcpServers": {
      "arxiv": {"command": "/path/to/paperctl", "args": ["mcp"]}
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := openServices(cmd, factory, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			mode, err := domain.ParseSearchMode(svc.Config.RAGSearchMode)
			if err != nil {
				return err
			}
			return mcpadapter.NewServer(svc.Searcher, svc.Answers, mode, svc.Config.RAGTopK).ServeStdio(cmd.Context())
		},
	}
}
