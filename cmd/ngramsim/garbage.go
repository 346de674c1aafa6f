package main

import (
	"bufio"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/tokenizer"
)

func newGarbageCmd(a *app) *cobra.Command {
	var flaggedOnly bool
	cmd := &cobra.Command{
		Use:   "garbage FILELIST",
		Short: "Report the common-trigram ratio of each document",
		Long: "Prints one line per document: index, time, common trigrams, total trigrams,\n" +
			"ratio and path. Prose scores well above pipeline.garbageThreshold; OCR noise\n" +
			"and markup score below it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := readFileList(cmd, args[0])
			if err != nil {
				return err
			}
			ctx, run, finish := a.startRun(cmd.Context(), "garbage")
			defer finish()
			log := run.Component("garbage")

			source := a.source()
			threshold := a.cfg.Pipeline.GarbageThreshold
			w := bufio.NewWriter(cmd.OutOrStdout())
			defer w.Flush()
			flagged := 0
			for i, path := range paths {
				if err := ctx.Err(); err != nil {
					return err
				}
				doc, err := source.Load(ctx, path)
				if err != nil {
					log.Error("document skipped", "path", path, "error", err)
					run.Metrics.DocsFailedTotal.WithLabelValues("garbage").Inc()
					continue
				}
				stats := tokenizer.CountTrigrams(doc.Text)
				isGarbage := tokenizer.IsGarbage(stats.Ratio(), threshold)
				if isGarbage {
					flagged++
					run.Metrics.GarbageDocsTotal.Inc()
				} else if flaggedOnly {
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%g\t%s\n",
					i+1, time.Now().Format("15:04:05.000"), stats.Common, stats.Total, stats.Ratio(), path)
			}
			log.Info("garbage scan complete", "documents", len(paths), "flagged", flagged, "threshold", threshold)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flaggedOnly, "flagged", false, "only print documents under the garbage threshold")
	return cmd
}
