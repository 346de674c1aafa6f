package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/wordindex"
)

func newWordIndexCmd(a *app) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "wordindex FILELIST",
		Short: "Number every distinct word in order of first appearance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := readFileList(cmd, args[0])
			if err != nil {
				return err
			}
			ctx, run, finish := a.startRun(cmd.Context(), "wordindex")
			defer finish()

			ix, _, err := wordindex.Build(ctx, run, a.source(), paths)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Total words: %d\nUnique words: %d\n", ix.Total(), ix.Unique())
			if err := ix.WriteFile(outPath); err != nil {
				return err
			}
			run.Logger.Info("word index written", "path", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "index.json", "where to write the JSON index")
	return cmd
}
