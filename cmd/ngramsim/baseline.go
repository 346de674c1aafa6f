package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/baseline"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/output"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/pipeline"
)

func newBaselineCmd(a *app) *cobra.Command {
	var (
		restrict    string
		refs        bool
		format      string
		outPath     string
		description string
		workers     int
		strategy    string
	)
	cmd := &cobra.Command{
		Use:   "baseline FILELIST",
		Short: "Count n-grams across a file list and write the aggregate",
		Long: "Reads one document path per line from FILELIST (or stdin when FILELIST is -),\n" +
			"counts their n-grams and writes the aggregate as text, JSON or a binary dump.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if refs {
				cfg.Ngram.TrackRefs = true
			}
			if workers > 0 {
				cfg.Pipeline.Workers = workers
			}
			if strategy != "" {
				cfg.Pipeline.Strategy = strategy
			}
			if outPath == "" {
				outPath = cfg.Output.Path
			}
			switch {
			case cmd.Flags().Changed("format"):
			case cmd.Flags().Changed("output"):
				format = output.FormatFromPath(outPath)
			default:
				format = cfg.Output.Format
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			paths, err := readFileList(cmd, args[0])
			if err != nil {
				return err
			}
			ctx, run, finish := a.startRun(cmd.Context(), "baseline")
			defer finish()

			source := a.source()
			p := pipeline.New(run, cfg, source)
			if restrict != "" {
				doc, err := source.Load(ctx, restrict)
				if err != nil {
					return fmt.Errorf("loading restriction text: %w", err)
				}
				p.Restrict(doc.Text)
			}

			trie, h, err := baseline.Build(ctx, p, pipeline.Descriptors(paths))
			if err != nil {
				return err
			}
			if description != "" {
				h.Description = description
			}
			meta := output.Meta{
				Description: h.Description,
				BookCount:   h.BookCount,
				MaxN:        h.MaxN,
				Elapsed:     run.Elapsed(),
				Index:       h.Index,
			}
			if err := output.WriteFile(outPath, format, trie, meta); err != nil {
				return err
			}
			run.Logger.Info("baseline written",
				"path", outPath,
				"format", format,
				"books", h.BookCount,
				"ngrams", trie.Size(),
				"restricted", restrict != "",
			)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&restrict, "restrict", "", "only count n-grams that occur in this document")
	f.BoolVar(&refs, "refs", false, "record which documents contain each n-gram")
	f.StringVar(&format, "format", "txt", "output format: txt, json or ngd")
	f.StringVarP(&outPath, "output", "o", "", "output path (default from config)")
	f.StringVar(&description, "description", "", "description stored in the output header")
	f.IntVar(&workers, "workers", 0, "ingestion workers (default from config)")
	f.StringVar(&strategy, "strategy", "", "merge strategy: private or shared")
	return cmd
}
