package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/baseline"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/report"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/runctx"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/resilience"
)

func newCompareCmd(a *app) *cobra.Command {
	var (
		baselinePath string
		limit        int
		bookCount    int
		verbose      bool
		top          int
		workers      int
		includeSelf  bool
		reportPath   string
		forgetScores bool
	)
	cmd := &cobra.Command{
		Use:   "compare FILELIST",
		Short: "Score every ordered pair of documents against a baseline",
		Long: "Loads the baseline, then scores each document in FILELIST (or stdin when\n" +
			"FILELIST is -) against every other one. One tab-separated record is written\n" +
			"per pair, plus any sinks enabled in the report config.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if baselinePath != "" {
				cfg.Baseline.Path = baselinePath
			}
			if cmd.Flags().Changed("limit-baseline") {
				cfg.Baseline.Limit = limit
			}
			if bookCount > 0 {
				cfg.Baseline.BookCount = bookCount
			}
			if verbose {
				cfg.Compare.Verbose = true
			}
			if top > 0 {
				cfg.Compare.TopK = top
			}
			if workers > 0 {
				cfg.Compare.Workers = workers
			}
			if includeSelf {
				cfg.Compare.SkipSelf = false
			}
			if reportPath != "" {
				cfg.Report.Path = reportPath
			}
			if cfg.Baseline.Path == "" {
				return fmt.Errorf("no baseline given: use --baseline or set baseline.path")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			keys, err := readFileList(cmd, args[0])
			if err != nil {
				return err
			}
			ctx, run, finish := a.startRun(cmd.Context(), "compare")
			defer finish()

			trie, h, err := baseline.Load(ctx, run, cfg.Baseline.Path, baseline.Options{Limit: cfg.Baseline.Limit})
			if err != nil {
				return err
			}
			b, err := similarity.NewBaseline(trie, resolveBookCount(cfg.Baseline.BookCount, h.BookCount, len(keys)))
			if err != nil {
				return err
			}
			cache, err := corpus.NewCache(run, a.source(), cfg.Ngram.MaxN, cfg.Cache)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cfg.Report.Path != "" {
				f, err := os.Create(cfg.Report.Path)
				if err != nil {
					return fmt.Errorf("creating report file: %w", err)
				}
				defer f.Close()
				out = f
			}
			sink, closeAll, err := openSinks(ctx, run, cfg, a.checker, out)
			if err != nil {
				return err
			}

			var opts []similarity.ComparerOption
			if cfg.Report.ScoreCache {
				rc, err := redis.NewClient(cfg.Redis)
				if err != nil {
					_ = closeAll(ctx)
					return err
				}
				defer rc.Close()
				a.checker.Register("redis", rc.Ping)
				scope := memoScope(cfg.Baseline.Path, cfg.Baseline.Limit, b.BookCount, trie.Size())
				memo := report.NewScoreCache(rc, scope, cfg.Redis.ScoreTTL, run.Logger)
				if forgetScores {
					if _, err := memo.Forget(ctx); err != nil {
						_ = closeAll(ctx)
						return err
					}
				}
				opts = append(opts, similarity.WithMemo(memo))
			}

			if a.checker.Len() > 0 {
				if err := a.checker.Preflight(ctx, 10*time.Second); err != nil {
					_ = closeAll(ctx)
					return err
				}
			}

			summary, err := similarity.NewComparer(run, cache, b, cfg.Compare, cfg.Ngram.MaxN, sink, opts...).Compare(ctx, keys)
			closeErr := closeAll(ctx)
			if err != nil {
				return errors.Join(err, closeErr)
			}
			if closeErr != nil {
				return closeErr
			}
			if cfg.Compare.TopK > 0 {
				printTop(cmd.ErrOrStderr(), summary.Top)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&baselinePath, "baseline", "b", "", "baseline dump (.txt, .bz2, .gz, .zst or .ngd)")
	f.IntVar(&limit, "limit-baseline", 0, "load at most this many baseline records (0 for all)")
	f.IntVar(&bookCount, "book-count", 0, "documents behind the baseline (default from its header)")
	f.BoolVarP(&verbose, "verbose", "v", false, "log every n-gram contribution at debug level")
	f.IntVar(&top, "top", 0, "print the best K matches for each document")
	f.IntVar(&workers, "workers", 0, "comparison workers (default from config)")
	f.BoolVar(&includeSelf, "include-self", false, "also score each document against itself")
	f.StringVarP(&reportPath, "output", "o", "", "write the report here instead of stdout")
	f.BoolVar(&forgetScores, "forget-scores", false, "drop memoised scores for this baseline before comparing")
	return cmd
}

// resolveBookCount prefers an explicit count, then the baseline header, then
// the number of documents being compared.
func resolveBookCount(configured, header, documents int) int {
	switch {
	case configured > 0:
		return configured
	case header > 0:
		return header
	default:
		return documents
	}
}

// memoScope names the baseline a memoised score was computed against. A
// different limit, book count or loaded size is a different baseline.
func memoScope(path string, limit, bookCount, ngrams int) string {
	return fmt.Sprintf("%s@%d/limit=%d/ngrams=%d", path, bookCount, limit, ngrams)
}

// openSinks builds the report fan-out: always the TSV stream, plus Postgres
// and Kafka when enabled. External sinks sit behind an async queue so a slow
// backend does not hold up the comparison workers.
func openSinks(ctx context.Context, run *runctx.Run, cfg *config.Config, checker *health.Checker, out io.Writer) (similarity.Sink, func(context.Context) error, error) {
	tsv := report.NewTSVSink(out)
	var external report.MultiSink
	var closers []func() error

	retry := report.WithRetry(resilience.RetryConfig{MaxAttempts: 3})
	breaker := report.WithBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second})

	if cfg.Report.Postgres {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := report.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		checker.Register("postgres", db.Ping)
		external = append(external, report.NewPostgresSink(db, run.ID, cfg.Postgres.BatchSize, run.Metrics, run.Logger, retry, breaker))
	}
	if cfg.Report.Kafka {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.ReportsTopic)
		closers = append(closers, producer.Close)
		brokers := cfg.Kafka.Brokers
		checker.Register("kafka", func(ctx context.Context) error { return kafka.Ping(ctx, brokers) })
		external = append(external, report.NewKafkaSink(producer, run.ID, 100, run.Metrics, run.Logger, retry, breaker))
	}

	sinks := report.MultiSink{tsv}
	if len(external) > 0 {
		sinks = append(sinks, report.NewAsyncSink(external, cfg.Report.BufferSize, 5*time.Second, run.Logger))
	}
	closeAll := func(ctx context.Context) error {
		errs := []error{sinks.Close(ctx)}
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return sinks, closeAll, nil
}

func printTop(w io.Writer, top map[string][]similarity.Record) {
	for _, id := range slices.Sorted(maps.Keys(top)) {
		fmt.Fprintf(w, "%s\n", id)
		for i, rec := range top[id] {
			fmt.Fprintf(w, "  %d. %s\t%g\n", i+1, rec.Y.ID, rec.Score)
		}
	}
}
