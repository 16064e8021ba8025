package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/arxiv-rag/internal/adapters/cli"
	"github.com/kirillkom/arxiv-rag/internal/bootstrap"
	"github.com/kirillkom/arxiv-rag/internal/config"
	"github.com/kirillkom/arxiv-rag/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout belongs to command output and the MCP transport.
	slog.SetDefault(logging.NewStderrLogger("paperctl", os.Getenv("LOG_LEVEL")))

	if err := cli.NewRootCommand(newServices).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newServices(ctx context.Context, withQueue bool) (*cli.Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logging.NewStderrLogger("paperctl", cfg.LogLevel))

	var opts []bootstrap.Option
	if !withQueue {
		opts = append(opts, bootstrap.WithoutQueue())
	}
	app, err := bootstrap.New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &cli.Services{
		Config:   cfg,
		Searcher: app.SearchUC,
		Answers:  app.AnswerUC,
		Ingestor: app.IngestUC,
		Indexer:  app.IndexUC,
		Close:    app.Close,
	}, nil
}
