package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

func newSearchCommand(factory Factory) *cobra.Command {
	var (
		mode     string
		topK     int
		category string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search papers",
		Long: `Searches the corpus by keyword, semantic similarity, or a hybrid of both
fused with reciprocal rank fusion.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd, factory, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			searchMode, err := parseModeFlag(mode, svc.Config.RAGSearchMode)
			if err != nil {
				return err
			}
			results, err := svc.Searcher.Search(cmd.Context(), domain.SearchRequest{
				Query:    args[0],
				Mode:     searchMode,
				TopK:     topK,
				Category: category,
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(results, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal results: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			if len(results) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			for i, result := range results {
				fmt.Fprintf(out, "[%d] %s (%.4f)\n", i+1, result.Paper.Title, result.Score)
				meta := []string{result.Paper.ArxivID}
				if len(result.Paper.Authors) > 0 {
					meta = append(meta, strings.Join(result.Paper.Authors, ", "))
				}
				if !result.Paper.PublishedAt.IsZero() {
					meta = append(meta, result.Paper.PublishedAt.Format("2006-01-02"))
				}
				fmt.Fprintf(out, "    %s\n", strings.Join(meta, " | "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "retrieval mode: keyword, semantic or hybrid")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "maximum number of papers (0 = configured default)")
	cmd.Flags().StringVar(&category, "category", "", "arXiv category filter (keyword mode)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}
