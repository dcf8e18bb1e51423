package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"career-agent-go/internal/indexer"
	"career-agent-go/internal/types"
)

func newValidateCorpusCmd() *cobra.Command {
	var corpusPath string
	cmd := &cobra.Command{
		Use:   "validate-corpus",
		Short: "Validate a corpus JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := indexer.LoadCorpusFile(corpusPath)
			if err != nil {
				var ve *indexer.CorpusValidationError
				if errors.As(err, &ve) {
					for _, fe := range ve.Errors {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", fe.Field, fe.Message)
					}
				}
				return err
			}
			jobs, courses := 0, 0
			for _, d := range docs {
				if d.Kind == types.CorpusKindJob {
					jobs++
				} else {
					courses++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "corpus OK: %d items (%d jobs, %d courses)\n", len(docs), jobs, courses)
			return nil
		},
	}
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "Path to corpus JSON file (required)")
	_ = cmd.MarkFlagRequired("corpus")
	return cmd
}
