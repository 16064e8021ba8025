package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/arxiv-rag/internal/config"
	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/core/ports"
	"github.com/kirillkom/arxiv-rag/internal/core/usecase"
)

// BulkIndexer indexes many stored papers at once.
type BulkIndexer interface {
	IndexAll(ctx context.Context, arxivIDs []string) (usecase.BulkIndexReport, error)
}

// Services are the use cases a command needs. Close releases connections.
type Services struct {
	Config   config.Config
	Searcher ports.PaperSearcher
	Answers  ports.AnswerService
	Ingestor ports.PaperIngestor
	Indexer  BulkIndexer
	Close    func()
}

// Factory builds Services on demand so that help and flag errors never touch the network.
// withQueue is false when the command indexes papers itself.
type Factory func(ctx context.Context, withQueue bool) (*Services, error)

func NewRootCommand(factory Factory) *cobra.Command {
	root := &cobra.Command{
		Use:   "paperctl",
		Short: "Search and question an arXiv paper corpus",
		Long: `paperctl ingests arXiv paper manifests, searches them by keyword,
embedding similarity or both, and answers questions with cited sources.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newIngestCommand(factory),
		newIndexCommand(factory),
		newSearchCommand(factory),
		newAskCommand(factory),
		newMCPCommand(factory),
	)
	return root
}

func openServices(cmd *cobra.Command, factory Factory, withQueue bool) (*Services, error) {
	if factory == nil {
		return nil, errors.New("services are not configured")
	}
	svc, err := factory(cmd.Context(), withQueue)
	if err != nil {
		return nil, fmt.Errorf("start services: %w", err)
	}
	if svc.Close == nil {
		svc.Close = func() {}
	}
	return svc, nil
}

func parseModeFlag(raw string, fallback string) (domain.SearchMode, error) {
	if raw == "" {
		raw = fallback
	}
	return domain.ParseSearchMode(raw)
}
