package cli

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kirillkom/arxiv-rag/internal/infrastructure/manifest"
)

func newIngestCommand(factory Factory) *cobra.Command {
	var (
		manifestPath string
		index        bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load papers from a JSONL manifest",
		Long: `Reads a paper manifest (JSON Lines, or a {"papers": [...]} export) and stores
every valid paper. Without --index an indexing event is published per paper for
the worker; with --index chunks and embeddings are built in this process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := os.Open(manifestPath)
			if err != nil {
				return fmt.Errorf("open manifest: %w", err)
			}
			defer file.Close()

			result, readErr := manifest.Read(file)
			out := cmd.OutOrStdout()
			for _, skipped := range result.Skipped {
				fmt.Fprintf(out, "skipped %v\n", skipped)
			}
			if readErr != nil {
				return readErr
			}
			if len(result.Papers) == 0 {
				fmt.Fprintln(out, "No papers found in manifest.")
				return nil
			}

			svc, err := openServices(cmd, factory, !index)
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := svc.Ingestor.Ingest(cmd.Context(), result.Papers)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			fmt.Fprintf(out, "Ingested %d/%d papers (%d queued for indexing, %d failed)\n",
				report.Stored, report.Received, report.Published, report.Failed)
			for _, msg := range report.Errors {
				fmt.Fprintf(out, "  %s\n", msg)
			}

			if !index || len(report.StoredIDs) == 0 {
				return nil
			}
			return runIndex(cmd, svc, report.StoredIDs)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "path to the paper manifest")
	cmd.Flags().BoolVar(&index, "index", false, "chunk and embed the stored papers immediately")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func newIndexCommand(factory Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "index ARXIV_ID...",
		Short: "Rebuild chunks and embeddings for stored papers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd, factory, false)
			if err != nil {
				return err
			}
			defer svc.Close()
			return runIndex(cmd, svc, args)
		},
	}
}

func runIndex(cmd *cobra.Command, svc *Services, arxivIDs []string) error {
	report, err := svc.Indexer.IndexAll(cmd.Context(), arxivIDs)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	out := cmd.OutOrStdout()
	embedded, skipped := 0, 0
	for _, paper := range report.Papers {
		embedded += paper.ChunksEmbedded
		skipped += paper.ChunksSkipped
	}
	fmt.Fprintf(out, "Indexed %d papers: %d chunks embedded, %d skipped\n", len(report.Papers), embedded, skipped)
	for _, id := range slices.Sorted(maps.Keys(report.Failed)) {
		fmt.Fprintf(out, "  %s: %v\n", id, report.Failed[id])
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d papers failed to index", len(report.Failed))
	}
	return nil
}
