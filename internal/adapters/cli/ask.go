package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

func newAskCommand(factory Factory) *cobra.Command {
	var (
		mode   string
		topK   int
		stream bool
	)

	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question from retrieved papers with citations",
		Args:  cobra.ExactArgs(1),
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
			req := domain.AnswerRequest{Query: args[0], Mode: searchMode, TopK: topK}
			out := cmd.OutOrStdout()

			if !stream {
				answer, err := svc.Answers.GenerateAnswer(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("ask failed: %w", err)
				}
				fmt.Fprintln(out, answer.Answer)
				return nil
			}

			events, err := svc.Answers.StreamAnswer(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("ask failed: %w", err)
			}
			for event := range events {
				if event.Err != nil {
					fmt.Fprintln(out)
					return fmt.Errorf("stream interrupted: %w", event.Err)
				}
				fmt.Fprint(out, event.Text)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "retrieval mode: keyword, semantic or hybrid")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of papers used as context (0 = configured default)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	return cmd
}
