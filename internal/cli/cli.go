// Package cli implements the command-line interface for aadhaar-index.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eunmann/aadhaar-index/internal/config"
	"github.com/eunmann/aadhaar-index/internal/logctx"
	"github.com/eunmann/aadhaar-index/pkg/humanfmt"
	"github.com/eunmann/aadhaar-index/pkg/ingest"
	"github.com/eunmann/aadhaar-index/pkg/logging"
	"github.com/eunmann/aadhaar-index/pkg/s3fetch"
	"github.com/eunmann/aadhaar-index/pkg/searchindex"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	return run(args, os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "version" {
		fmt.Fprintf(stdout, "aadhaar-index %s\n", Version)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fs := newFlagSet(cfg, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runIngest(ctx, cfg)
}

// newFlagSet binds flags to cfg. Environment and .env values become the
// flag defaults so that flags take precedence.
func newFlagSet(cfg *config.Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("aadhaar-index", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory or s3://bucket/prefix holding enrollment CSV files")
	fs.StringVar(&cfg.IndexURL, "index-url", cfg.IndexURL, "Elasticsearch URL, or bleve://DIR for a local index")
	fs.StringVar(&cfg.IndexName, "index", cfg.IndexName, "target index name")
	fs.StringVar(&cfg.TypeTag, "type", cfg.TypeTag, "document type tag")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "flush threshold; a batch is sent once it exceeds this size")
	fs.DurationVar(&cfg.ReadyTimeout, "ready-timeout", cfg.ReadyTimeout, "max wait for a newly created index to become ready")
	fs.IntVar(&cfg.BulkRetries, "bulk-retries", cfg.BulkRetries, "retries for a failed bulk request")
	fs.DurationVar(&cfg.BulkRetryBackoff, "bulk-retry-backoff", cfg.BulkRetryBackoff, "initial delay between bulk retries")
	fs.StringVar(&cfg.ArchiveDir, "archive-dir", cfg.ArchiveDir, "write a Parquet snapshot per file into this directory")
	fs.StringVar(&cfg.StagingDir, "staging-dir", cfg.StagingDir, "local directory for files staged from S3 (default: temp dir)")
	fs.IntVar(&cfg.StageConcurrency, "stage-concurrency", cfg.StageConcurrency, "concurrent S3 downloads")
	fs.BoolVar(&cfg.KeepStaged, "keep-staged", cfg.KeepStaged, "keep files staged from S3 after the run")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	fs.BoolVar(&cfg.HumanLog, "human", cfg.HumanLog, "human-readable console logs")

	fs.Usage = func() {
		fmt.Fprintf(output, "usage: aadhaar-index [flags]\n       aadhaar-index version\n\nflags:\n")
		fs.PrintDefaults()
	}
	return fs
}

func runIngest(ctx context.Context, cfg *config.Config) error {
	logging.Init(cfg.Debug, cfg.HumanLog)
	ctx, runID := logctx.WithRunID(ctx, *logging.L())
	log := logctx.FromContext(ctx)

	log.Info().
		Str("version", Version).
		Object("config", cfg).
		Msg("starting ingest")

	dataDir := cfg.DataDir
	if s3fetch.IsS3URI(dataDir) {
		client, err := s3fetch.NewClient(ctx)
		if err != nil {
			return err
		}
		fetcher := s3fetch.NewFetcher(client, s3fetch.FetchConfig{
			URI:         cfg.DataDir,
			DownloadDir: cfg.StagingDir,
			Concurrency: cfg.StageConcurrency,
			KeepFiles:   cfg.KeepStaged,
		})
		res, err := fetcher.Fetch(ctx)
		defer func() {
			if err := fetcher.Cleanup(); err != nil {
				log.Warn().Err(err).Msg("failed to remove staging directory")
			}
		}()
		if err != nil {
			return fmt.Errorf("stage %s: %w", cfg.DataDir, err)
		}
		dataDir = res.Dir
	}

	backend, err := searchindex.Open(cfg.IndexURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close index backend")
		}
	}()

	p := ingest.NewPipeline(ingest.Config{
		DataDir:          dataDir,
		IndexName:        cfg.IndexName,
		TypeTag:          cfg.TypeTag,
		BatchSize:        cfg.BatchSize,
		BulkRetries:      cfg.BulkRetries,
		BulkRetryBackoff: cfg.BulkRetryBackoff,
		Provision: searchindex.ProvisionOptions{
			ReadyTimeout:      cfg.ReadyTimeout,
			ReadyPollInterval: 500 * time.Millisecond,
		},
		ArchiveDir: cfg.ArchiveDir,
	}, backend)

	res, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	if res.FilesFailed > 0 {
		log.Warn().
			Int("files_failed", res.FilesFailed).
			Str("documents", humanfmt.Count(res.Documents)).
			Msg("ingest finished with failed files")
	}
	return nil
}
