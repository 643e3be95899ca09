// Package config loads aadhaar-index settings from the environment, an
// optional .env file and compiled defaults. Command-line flags are applied
// on top by the cli package before Validate is called.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all run settings.
type Config struct {
	// DataDir is a local directory or an s3://bucket/prefix URI.
	DataDir string `env:"AADHAAR_DATA_DIR" default:"./data"`

	// IndexURL selects the backend: http(s) for Elasticsearch, bleve://DIR
	// or a plain path for a local Bleve index. ES_URL is accepted for
	// compatibility with older deployments.
	IndexURL string `env:"AADHAAR_INDEX_URL" envAlt:"ES_URL" default:"http://localhost:9200"`

	// IndexName is the target index.
	IndexName string `env:"AADHAAR_INDEX" envAlt:"ES_INDEX" default:"aadhaar"`

	// TypeTag is stamped on every document.
	TypeTag string `env:"AADHAAR_TYPE" envAlt:"ES_TYPE" default:"UID"`

	// BatchSize is the flush threshold; a batch holds BatchSize+1 documents.
	BatchSize int `env:"AADHAAR_BATCH_SIZE" default:"1000"`

	// ReadyTimeout bounds the wait for a newly created index.
	ReadyTimeout time.Duration `env:"AADHAAR_READY_TIMEOUT" default:"30s"`

	// BulkRetries is how often a failed bulk request is retried.
	BulkRetries int `env:"AADHAAR_BULK_RETRIES" default:"0"`

	// BulkRetryBackoff is the first retry delay, doubled per attempt.
	BulkRetryBackoff time.Duration `env:"AADHAAR_BULK_RETRY_BACKOFF" default:"1s"`

	// ArchiveDir enables Parquet snapshots when set.
	ArchiveDir string `env:"AADHAAR_ARCHIVE_DIR"`

	// StagingDir receives files staged from S3. Empty uses a temp dir.
	StagingDir string `env:"AADHAAR_STAGING_DIR"`

	// StageConcurrency is the number of S3 objects downloaded at once.
	StageConcurrency int `env:"AADHAAR_STAGE_CONCURRENCY" default:"4"`

	// KeepStaged leaves staged files on disk. Flag only.
	KeepStaged bool

	Debug    bool `env:"AADHAAR_DEBUG" default:"false"`
	HumanLog bool `env:"AADHAAR_LOG_HUMAN" default:"false"`
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, "data dir is required")
	}
	if strings.TrimSpace(c.IndexURL) == "" {
		errs = append(errs, "index URL is required")
	}
	if strings.TrimSpace(c.IndexName) == "" {
		errs = append(errs, "index name is required")
	}
	if strings.TrimSpace(c.TypeTag) == "" {
		errs = append(errs, "type tag is required")
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("batch size (%d) must be at least 1", c.BatchSize))
	}
	if c.ReadyTimeout <= 0 {
		errs = append(errs, "ready timeout must be positive")
	}
	if c.BulkRetries < 0 {
		errs = append(errs, "bulk retries must be non-negative")
	}
	if c.BulkRetries > 0 && c.BulkRetryBackoff <= 0 {
		errs = append(errs, "bulk retry backoff must be positive when retries are enabled")
	}
	if c.StageConcurrency < 1 {
		errs = append(errs, "stage concurrency must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(errs, "\n  - "))
	}
	return nil
}

// MarshalZerologObject logs the configuration with credentials removed
// from the index URL.
func (c *Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("data_dir", c.DataDir).
		Str("index_url", redactURL(c.IndexURL)).
		Str("index", c.IndexName).
		Str("type", c.TypeTag).
		Int("batch_size", c.BatchSize).
		Dur("ready_timeout", c.ReadyTimeout).
		Int("bulk_retries", c.BulkRetries).
		Str("archive_dir", c.ArchiveDir)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
