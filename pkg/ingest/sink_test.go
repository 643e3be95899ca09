package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eunmann/aadhaar-index/pkg/enroll"
)

func TestIndexSinkRetriesThenSucceeds(t *testing.T) {
	mb := newMemBackend()
	mb.failBulk = 2
	s := &indexSink{backend: mb, index: "aadhaar", retries: 3, backoff: time.Millisecond}

	ctx, buf := captureLog(context.Background())
	if err := s.Submit(ctx, []enroll.Document{docN(0)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if mb.bulkCalls != 3 {
		t.Errorf("bulk calls = %d, want 3", mb.bulkCalls)
	}
	if len(mb.docs) != 1 {
		t.Errorf("docs = %d, want 1", len(mb.docs))
	}
	out := buf.String()
	if strings.Count(out, "bulk request failed, retrying") != 2 {
		t.Errorf("want two retry warnings, got:\n%s", out)
	}
	if !strings.Contains(out, `"max_retries":3`) {
		t.Errorf("retry warning missing max_retries:\n%s", out)
	}
}

func TestIndexSinkGivesUp(t *testing.T) {
	mb := newMemBackend()
	mb.failBulk = 10
	s := &indexSink{backend: mb, index: "aadhaar", retries: 2, backoff: time.Millisecond}

	err := s.Submit(context.Background(), []enroll.Document{docN(0)})
	if !errors.Is(err, errBulkDown) {
		t.Fatalf("err = %v, want errBulkDown", err)
	}
	if mb.bulkCalls != 3 {
		t.Errorf("bulk calls = %d, want 3 (1 + 2 retries)", mb.bulkCalls)
	}
}

func TestIndexSinkNoRetryByDefault(t *testing.T) {
	mb := newMemBackend()
	mb.failBulk = 1
	s := &indexSink{backend: mb, index: "aadhaar", backoff: time.Millisecond}

	if err := s.Submit(context.Background(), []enroll.Document{docN(0)}); err == nil {
		t.Fatal("expected error")
	}
	if mb.bulkCalls != 1 {
		t.Errorf("bulk calls = %d, want 1", mb.bulkCalls)
	}
}

func TestIndexSinkCancelDuringBackoff(t *testing.T) {
	mb := newMemBackend()
	mb.failBulk = 10
	s := &indexSink{backend: mb, index: "aadhaar", retries: 5, backoff: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Submit(ctx, []enroll.Document{docN(0)})
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, errBulkDown) {
		t.Errorf("err = %v, want both bulk and deadline errors", err)
	}
}

func TestTeeSink(t *testing.T) {
	primary := &recordingSink{}
	secondary := &recordingSink{}
	tee := teeSink{primary: primary, secondary: secondary}
	docs := []enroll.Document{docN(0), docN(1)}

	if err := tee.Submit(context.Background(), docs); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if primary.total() != 2 || secondary.total() != 2 {
		t.Errorf("primary/secondary = %d/%d, want 2/2", primary.total(), secondary.total())
	}
}

func TestTeeSinkPrimaryFailureSkipsSecondary(t *testing.T) {
	primary := &recordingSink{err: errors.New("rejected")}
	secondary := &recordingSink{}
	tee := teeSink{primary: primary, secondary: secondary}

	err := tee.Submit(context.Background(), []enroll.Document{docN(0)})
	if err == nil {
		t.Fatal("expected error")
	}
	var aerr *archiveError
	if errors.As(err, &aerr) {
		t.Error("primary failure reported as archive failure")
	}
	if secondary.total() != 0 {
		t.Error("secondary received a batch the primary rejected")
	}
}

func TestTeeSinkSecondaryFailure(t *testing.T) {
	boom := errors.New("disk full")
	tee := teeSink{primary: &recordingSink{}, secondary: &recordingSink{err: boom}}
	b := NewBatcher(tee, 1)
	ctx := context.Background()

	_ = b.Add(ctx, docN(0))
	err := b.Add(ctx, docN(1))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want archive error", err)
	}
	if errors.Is(err, ErrBulkSubmit) {
		t.Error("archive failure must not be reported as a bulk failure")
	}
	if errorKind(err) != kindArchive {
		t.Errorf("errorKind = %s, want %s", errorKind(err), kindArchive)
	}
	// The index accepted the batch, so it counts as submitted.
	if b.Submitted() != 2 {
		t.Errorf("Submitted = %d, want 2", b.Submitted())
	}
}
