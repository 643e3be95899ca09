package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/aadhaar-index/internal/logctx"
	"github.com/eunmann/aadhaar-index/pkg/enroll"
	"github.com/eunmann/aadhaar-index/pkg/logging"
	"github.com/eunmann/aadhaar-index/pkg/searchindex"
)

// DefaultBatchSize is the flush threshold used when none is configured.
const DefaultBatchSize = 1000

// Batcher buffers documents and submits them to a Sink. A flush happens
// once the buffer holds more than threshold documents, so each full batch
// carries threshold+1 documents. A Batcher belongs to one file and is not
// safe for concurrent use.
type Batcher struct {
	sink      Sink
	threshold int
	buf       []enroll.Document

	flushes   int
	submitted int64
}

// NewBatcher creates a Batcher. A threshold below 1 selects DefaultBatchSize.
func NewBatcher(sink Sink, threshold int) *Batcher {
	if threshold < 1 {
		threshold = DefaultBatchSize
	}
	return &Batcher{
		sink:      sink,
		threshold: threshold,
		buf:       make([]enroll.Document, 0, threshold+1),
	}
}

// Add buffers doc and flushes if the buffer is now over the threshold.
func (b *Batcher) Add(ctx context.Context, doc enroll.Document) error {
	b.buf = append(b.buf, doc)
	if len(b.buf) > b.threshold {
		return b.Flush(ctx)
	}
	return nil
}

// Flush submits the buffered documents as one batch. An empty buffer makes
// no call. The buffer is cleared only when the index accepted the batch; on
// failure it still holds the rejected documents.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}

	ctx = logctx.WithInt(ctx, "batch", b.flushes+1)
	log := logctx.FromContext(ctx)
	n := len(b.buf)
	start := time.Now()

	err := b.sink.Submit(ctx, b.buf)
	var aerr *archiveError
	if err != nil && !errors.As(err, &aerr) {
		ev := log.Error().
			Err(err).
			Str("error_kind", kindBulkSubmit).
			Int("batch_docs", n).
			Str("first_id", b.buf[0].ID).
			Str("last_id", b.buf[n-1].ID)
		var berr *searchindex.BulkError
		if errors.As(err, &berr) {
			ev = ev.Int("rejected_docs", berr.Failed)
		}
		ev.Msg("batch not indexed")
		return fmt.Errorf("%w: batch of %d documents: %w", ErrBulkSubmit, n, err)
	}

	b.flushes++
	b.submitted += int64(n)
	b.buf = b.buf[:0]

	logging.BatchComplete(log, time.Since(start)).
		Count("documents", int64(n)).
		Rate("docs", int64(n)).
		LogDebug("batch submitted")

	return err
}

// Len returns the number of buffered documents.
func (b *Batcher) Len() int {
	return len(b.buf)
}

// Flushes returns the number of batches the index accepted.
func (b *Batcher) Flushes() int {
	return b.flushes
}

// Submitted returns the number of documents the index accepted.
func (b *Batcher) Submitted() int64 {
	return b.submitted
}
