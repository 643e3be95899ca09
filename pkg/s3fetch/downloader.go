package s3fetch

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/eunmann/aadhaar-index/pkg/fileutil"
)

// DownloaderConfig configures the S3 download manager.
type DownloaderConfig struct {
	// Concurrency is the number of concurrent range requests per object.
	// Default: NumCPU clamped to [2, 8].
	Concurrency int

	// PartSize is the size of each range request in bytes. Default: 8MB.
	PartSize int64
}

// DefaultDownloaderConfig returns defaults sized for the current machine.
// Enrollment files are tens of megabytes, so a few parts per object suffice.
func DefaultDownloaderConfig() DownloaderConfig {
	concurrency := runtime.NumCPU()
	if concurrency < 2 {
		concurrency = 2
	}
	if concurrency > 8 {
		concurrency = 8
	}
	return DownloaderConfig{
		Concurrency: concurrency,
		PartSize:    8 * 1024 * 1024,
	}
}

// Downloader wraps the S3 download manager.
type Downloader struct {
	manager *manager.Downloader
	config  DownloaderConfig
}

// NewDownloader creates a Downloader over api.
func NewDownloader(api manager.DownloadAPIClient, cfg DownloaderConfig) *Downloader {
	def := DefaultDownloaderConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}

	mgr := manager.NewDownloader(api, func(d *manager.Downloader) {
		d.Concurrency = cfg.Concurrency
		d.PartSize = cfg.PartSize
	})
	return &Downloader{manager: mgr, config: cfg}
}

// DownloadResult describes one completed download.
type DownloadResult struct {
	Path            string
	BytesDownloaded int64
	Duration        time.Duration
}

// DownloadToFile downloads bucket/key to destPath through a temporary
// sibling, so destPath is either complete or absent.
func (d *Downloader) DownloadToFile(ctx context.Context, bucket, key, destPath string) (*DownloadResult, error) {
	start := time.Now()
	var n int64

	err := fileutil.WriteTmpThenMove(destPath, func(tmpPath string) error {
		f, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("create destination file: %w", err)
		}
		defer f.Close()

		n, err = d.manager.Download(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &DownloadResult{
		Path:            destPath,
		BytesDownloaded: n,
		Duration:        time.Since(start),
	}, nil
}

// Config returns the downloader configuration.
func (d *Downloader) Config() DownloaderConfig {
	return d.config
}
