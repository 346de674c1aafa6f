package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/runctx"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/pkg/metrics"
)

// app holds the global flags and the configuration they resolve to.
type app struct {
	configPath string
	logLevel   string
	chdir      string
	maxN       int

	cfg     *config.Config
	checker *health.Checker
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ngramsim",
		Short:         "Build n-gram baselines and score document similarity against them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.chdir, "chdir", "", "resolve document paths relative to `DIR`")
	flags.IntVarP(&a.maxN, "max-n", "n", 0, "highest n-gram order to count")

	root.AddCommand(
		newBaselineCmd(a),
		newCompareCmd(a),
		newGarbageCmd(a),
		newWordIndexCmd(a),
	)
	return root
}

// setup loads the config, applies flag overrides and configures logging.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.chdir != "" {
		cfg.Corpus.Root = a.chdir
	}
	if a.maxN != 0 {
		cfg.Ngram.MaxN = a.maxN
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	a.cfg = cfg
	a.checker = health.NewChecker()
	return nil
}

// startRun creates the run state for a command. With metrics enabled the
// collectors are registered globally and served for the command's lifetime.
func (a *app) startRun(ctx context.Context, name string) (context.Context, *runctx.Run, func()) {
	var m *metrics.Metrics
	shutdown := func(context.Context) error { return nil }
	if a.cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdown = metrics.StartServer(a.cfg.Metrics.Port, a.checker.Handler())
	}
	ctx, run := runctx.New(ctx, name, m)
	run.Logger.Info("run started", "max_n", a.cfg.Ngram.MaxN, "corpus_root", a.cfg.Corpus.Root)
	return ctx, run, func() {
		run.Finish()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}
}

func (a *app) source() corpus.FileSource {
	return corpus.FileSource{Root: a.cfg.Corpus.Root}
}

// readFileList reads document paths from the named list, or from stdin
// when name is "-".
func readFileList(cmd *cobra.Command, name string) ([]string, error) {
	var r io.Reader
	if name == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("opening file list: %w", err)
		}
		defer f.Close()
		r = f
	}
	paths, err := pipeline.ReadPaths(r)
	if err != nil {
		return nil, fmt.Errorf("reading file list: %w", err)
	}
	return paths, nil
}
