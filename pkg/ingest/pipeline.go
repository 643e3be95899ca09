// Package ingest drives enrollment files from a data directory into the
// search index: provision once, then per file read, transform, batch and
// submit.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/eunmann/aadhaar-index/internal/logctx"
	"github.com/eunmann/aadhaar-index/pkg/archive"
	"github.com/eunmann/aadhaar-index/pkg/enroll"
	"github.com/eunmann/aadhaar-index/pkg/fileutil"
	"github.com/eunmann/aadhaar-index/pkg/logging"
	"github.com/eunmann/aadhaar-index/pkg/searchindex"
	"github.com/eunmann/aadhaar-index/pkg/source"
)

// Config configures a Pipeline.
type Config struct {
	// DataDir holds the input files. Only its direct children are read.
	DataDir string
	// IndexName is the target index.
	IndexName string
	// TypeTag is stamped on every document and names the mapping.
	TypeTag string
	// BatchSize is the flush threshold. Default: 1000.
	BatchSize int
	// BulkRetries is how often a failed bulk request is retried. Default: 0.
	BulkRetries int
	// BulkRetryBackoff is the first retry delay, doubled per attempt. Default: 1s.
	BulkRetryBackoff time.Duration
	// Provision controls the readiness wait after creating the index.
	Provision searchindex.ProvisionOptions
	// ArchiveDir enables Parquet snapshots when set.
	ArchiveDir string
}

// Pipeline runs one ingestion pass over a data directory.
type Pipeline struct {
	config  Config
	backend searchindex.Backend
}

// Result summarizes a run.
type Result struct {
	FilesProcessed int
	FilesSkipped   int
	FilesFailed    int
	Rows           int64
	Documents      int64
	Flushes        int
	Elapsed        time.Duration
	Files          []FileResult
}

// FileResult is the outcome of one input file. Err is set for skipped and
// failed files.
type FileResult struct {
	Name      string
	Date      time.Time
	Rows      int64
	Documents int64
	Flushes   int
	// Unsubmitted counts documents still buffered when the file stopped.
	Unsubmitted int
	Skipped     bool
	Err         error
}

// NewPipeline creates a pipeline writing to backend.
func NewPipeline(config Config, backend searchindex.Backend) *Pipeline {
	if config.BatchSize < 1 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BulkRetryBackoff <= 0 {
		config.BulkRetryBackoff = time.Second
	}
	return &Pipeline{config: config, backend: backend}
}

// Run provisions the index and ingests every selected file in name order.
// Skipped and failed files do not stop the run; provisioning failure,
// an unreadable data directory and cancellation do. On cancellation the
// partial Result is returned with the error.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	log := logctx.FromContext(ctx)

	created, err := searchindex.EnsureIndex(ctx, p.backend, p.config.IndexName,
		searchindex.EnrollmentMapping(p.config.TypeTag), p.config.Provision)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexProvision, err)
	}
	logging.StageComplete(log, "provision", time.Since(start)).
		Str("index", p.config.IndexName).
		Bool("created", created).
		Log("index ready")

	names, err := source.SelectFiles(p.config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("select files: %w", err)
	}
	log.Info().
		Str("data_dir", p.config.DataDir).
		Int("files", len(names)).
		Int("batch_size", p.config.BatchSize).
		Msg("files selected")

	if p.config.ArchiveDir != "" {
		if err := fileutil.CleanupTmpFiles(p.config.ArchiveDir); err != nil {
			log.Warn().Err(err).Str("archive_dir", p.config.ArchiveDir).Msg("could not clean archive dir")
		}
	}

	res := &Result{Files: make([]FileResult, 0, len(names))}
	pt := logging.NewProgressTracker(int64(len(names)))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("ingest interrupted: %w", err)
		}

		fr := p.processFile(ctx, name, pt)
		res.Files = append(res.Files, fr)
		res.Rows += fr.Rows
		res.Documents += fr.Documents
		res.Flushes += fr.Flushes
		switch {
		case fr.Skipped:
			res.FilesSkipped++
		case fr.Err != nil:
			res.FilesFailed++
		default:
			res.FilesProcessed++
		}

		if fr.Err != nil && ctx.Err() != nil {
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("ingest interrupted: %w", ctx.Err())
		}
	}

	res.Elapsed = time.Since(start)
	logging.RunComplete(log, res.Elapsed).
		Int("files_processed", res.FilesProcessed).
		Int("files_skipped", res.FilesSkipped).
		Int("files_failed", res.FilesFailed).
		Count("rows", res.Rows).
		Count("documents", res.Documents).
		Int("flushes", res.Flushes).
		Rate("docs", res.Documents).
		Log("ingest complete")

	return res, nil
}

// processFile ingests one file and never returns an error; the outcome is
// recorded on the FileResult and in the log.
func (p *Pipeline) processFile(ctx context.Context, name string, pt *logging.ProgressTracker) FileResult {
	ctx = logctx.WithFile(ctx, name)
	log := logctx.FromContext(ctx)
	fr := FileResult{Name: name}

	date, err := source.ExtractDate(name)
	if err != nil {
		pt.RecordSkip()
		fr.Skipped = true
		fr.Err = err
		log.Warn().Err(err).Str("error_kind", kindDateParse).Msg("skipping file")
		return fr
	}
	fr.Date = date

	logging.FileStarted(log, date.Format("2006-01-02"), pt)
	start := time.Now()

	row, err := p.ingestFile(ctx, name, &fr)
	if err != nil {
		pt.RecordFailure()
		fr.Err = err
		log.Error().
			Err(err).
			Str("error_kind", errorKind(err)).
			Int("row", row).
			Int64("documents", fr.Documents).
			Int("unsubmitted_docs", fr.Unsubmitted).
			Msg("file abandoned")
		return fr
	}

	elapsed := time.Since(start)
	pt.RecordCompletion(elapsed)
	logging.FileComplete(log, elapsed).
		Str("record_date", date.Format("2006-01-02")).
		Count("rows", fr.Rows).
		Count("documents", fr.Documents).
		Int("flushes", fr.Flushes).
		Rate("docs", fr.Documents).
		Progress(pt).
		Log("file completed")
	return fr
}

// ingestFile streams rows into a fresh Batcher. It returns the position of
// the row being handled when an error stopped it; row 0 is the header.
func (p *Pipeline) ingestFile(ctx context.Context, name string, fr *FileResult) (row int, err error) {
	r, err := source.Open(filepath.Join(p.config.DataDir, name))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	defer r.Close()

	var sink Sink = &indexSink{
		backend: p.backend,
		index:   p.config.IndexName,
		retries: p.config.BulkRetries,
		backoff: p.config.BulkRetryBackoff,
	}

	var aw *archive.Writer
	if p.config.ArchiveDir != "" {
		aw, err = archive.Create(p.config.ArchiveDir, source.Stem(name))
		if err != nil {
			return 0, &archiveError{err: err}
		}
		sink = teeSink{primary: sink, secondary: aw}
		// Whatever reached the index is archived, even if the file fails later.
		defer func() {
			if err != nil && aw.Rows() == 0 {
				aw.Abort()
				return
			}
			if cerr := aw.Close(); cerr != nil && err == nil {
				err = &archiveError{err: cerr}
			}
		}()
	}

	batcher := NewBatcher(sink, p.config.BatchSize)
	defer func() {
		fr.Documents = batcher.Submitted()
		fr.Flushes = batcher.Flushes()
		fr.Unsubmitted = batcher.Len()
	}()

	for row = 0; ; row++ {
		if err := ctx.Err(); err != nil {
			return row, err
		}

		fields, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return row, fmt.Errorf("%w: %w", ErrFileRead, err)
		}

		doc, ok := enroll.Transform(row, fields, fr.Date, p.config.TypeTag)
		if !ok {
			continue
		}
		fr.Rows++

		if err := batcher.Add(ctx, doc); err != nil {
			return row, fmt.Errorf("line %d: %w", r.Line(), err)
		}
	}

	if err := batcher.Flush(ctx); err != nil {
		return row, err
	}
	return row, nil
}
