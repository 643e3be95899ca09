package s3fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/eunmann/aadhaar-index/pkg/fileutil"
	"github.com/eunmann/aadhaar-index/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// FetchConfig configures staging of an S3 data directory.
type FetchConfig struct {
	// URI is the s3://bucket/prefix holding the enrollment files.
	URI string
	// DownloadDir is the local staging directory. Empty creates a temp dir.
	DownloadDir string
	// Concurrency is the number of objects downloaded at once. Default: 4.
	Concurrency int
	// KeepFiles leaves the staging directory in place after Cleanup.
	KeepFiles bool
	// Downloader tunes per-object range downloads.
	Downloader DownloaderConfig
}

// FetchResult describes a staged data directory.
type FetchResult struct {
	// Dir is the local directory to ingest.
	Dir string
	// LocalFiles are the staged paths, in listing order.
	LocalFiles []string
	// Bytes is the total downloaded size.
	Bytes int64
}

// Fetcher downloads the enrollment files under an S3 prefix.
type Fetcher struct {
	client *Client
	dl     *Downloader
	cfg    FetchConfig
	dir    string
	// ownDir is set when Fetch created dir; otherwise only staged files
	// are removed.
	ownDir bool
	staged []string
}

// NewFetcher creates a Fetcher.
func NewFetcher(client *Client, cfg FetchConfig) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Fetcher{
		client: client,
		dl:     NewDownloader(client.api, cfg.Downloader),
		cfg:    cfg,
	}
}

// Fetch lists the prefix and downloads every enrollment file into the
// staging directory. Local names are the keys' base names.
func (f *Fetcher) Fetch(ctx context.Context) (*FetchResult, error) {
	start := time.Now()
	log := logging.WithPhase("stage")

	bucket, prefix, err := ParseS3URI(f.cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("parse data URI: %w", err)
	}

	objects, err := f.client.ListCSVKeys(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	dir := f.cfg.DownloadDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "aadhaar-stage-*")
		if err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
		f.ownDir = true
	} else {
		f.ownDir = !fileutil.Exists(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
	}
	f.dir = dir

	log.Info().
		Str("uri", f.cfg.URI).
		Str("staging_dir", dir).
		Int("objects", len(objects)).
		Msg("staging data directory")

	localFiles := make([]string, len(objects))
	var total atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)

	for i, obj := range objects {
		g.Go(func() error {
			localPath := filepath.Join(dir, sanitizeFilename(obj.Key))
			res, err := f.dl.DownloadToFile(gctx, bucket, obj.Key, localPath)
			if err != nil {
				return err
			}
			localFiles[i] = localPath
			total.Add(res.BytesDownloaded)
			log.Debug().
				Str("key", obj.Key).
				Int64("bytes", res.BytesDownloaded).
				Dur("elapsed", res.Duration).
				Msg("object staged")
			return nil
		})
	}

	err = g.Wait()
	for _, p := range localFiles {
		if p != "" {
			f.staged = append(f.staged, p)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("stage objects: %w", err)
	}

	result := &FetchResult{Dir: dir, LocalFiles: localFiles, Bytes: total.Load()}
	logging.StageComplete(log, "stage", time.Since(start)).
		Int("files", len(localFiles)).
		Bytes("bytes", result.Bytes).
		Log("data directory staged")
	return result, nil
}

// Cleanup removes what Fetch staged unless KeepFiles is set. A staging
// directory that existed before Fetch is kept and only the staged files
// are removed from it.
func (f *Fetcher) Cleanup() error {
	if f.cfg.KeepFiles || f.dir == "" {
		return nil
	}
	if f.ownDir {
		return os.RemoveAll(f.dir)
	}

	var errs []error
	for _, p := range f.staged {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	f.staged = nil
	return errors.Join(errs...)
}

// sanitizeFilename converts an S3 key to a safe local filename.
func sanitizeFilename(key string) string {
	return filepath.Base(key)
}
