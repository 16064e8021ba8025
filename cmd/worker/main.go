package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/arxiv-rag/internal/bootstrap"
	"github.com/kirillkom/arxiv-rag/internal/config"
	"github.com/kirillkom/arxiv-rag/internal/observability/logging"
	"github.com/kirillkom/arxiv-rag/internal/observability/metrics"
)

const paperIndexTimeout = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg,
		bootstrap.WithObserver(workerMetrics),
		bootstrap.WithQueueLagObserver(workerMetrics.ObserveQueueLag),
	)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "metrics_addr", metricsServer.Addr)
	err = app.Queue.SubscribePaperIngested(ctx, func(handlerCtx context.Context, arxivID string) error {
		indexCtx, cancel := context.WithTimeout(handlerCtx, paperIndexTimeout)
		defer cancel()

		workerMetrics.StartPaper()
		started := time.Now()
		report, err := app.IndexUC.IndexByArxivID(indexCtx, arxivID)
		workerMetrics.FinishPaper(time.Since(started), report.ChunksEmbedded, report.ChunksSkipped, err)
		if err != nil {
			return err
		}
		slog.Info("paper_indexed",
			"arxiv_id", arxivID,
			"chunks_embedded", report.ChunksEmbedded,
			"chunks_skipped", report.ChunksSkipped,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return nil
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}
}
