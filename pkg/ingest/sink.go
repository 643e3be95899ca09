package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/eunmann/aadhaar-index/internal/logctx"
	"github.com/eunmann/aadhaar-index/pkg/enroll"
	"github.com/eunmann/aadhaar-index/pkg/searchindex"
)

// Sink receives flushed batches. Implementations must not retain docs after
// Submit returns; the Batcher reuses the slice.
type Sink interface {
	Submit(ctx context.Context, docs []enroll.Document) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, docs []enroll.Document) error

// Submit calls f.
func (f SinkFunc) Submit(ctx context.Context, docs []enroll.Document) error {
	return f(ctx, docs)
}

// indexSink bulk-loads batches into one index, retrying failed requests.
// Retries are safe because documents are upserted by ID.
type indexSink struct {
	backend searchindex.Backend
	index   string
	retries int
	backoff time.Duration
}

func (s *indexSink) Submit(ctx context.Context, docs []enroll.Document) error {
	backoff := s.backoff
	for attempt := 0; ; attempt++ {
		err := s.backend.BulkIndex(ctx, s.index, docs)
		if err == nil {
			return nil
		}
		if attempt >= s.retries || ctx.Err() != nil {
			return err
		}

		log := logctx.FromContext(ctx)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", s.retries).
			Dur("backoff", backoff).
			Msg("bulk request failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
}

// teeSink forwards a batch to secondary only after primary accepted it.
type teeSink struct {
	primary   Sink
	secondary Sink
}

func (t teeSink) Submit(ctx context.Context, docs []enroll.Document) error {
	if err := t.primary.Submit(ctx, docs); err != nil {
		return err
	}
	if err := t.secondary.Submit(ctx, docs); err != nil {
		return &archiveError{err: err}
	}
	return nil
}

// archiveError marks a failure of the archive copy after the index write
// succeeded.
type archiveError struct{ err error }

func (e *archiveError) Error() string { return "archive batch: " + e.err.Error() }
func (e *archiveError) Unwrap() error { return e.err }
