package logging

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eunmann/aadhaar-index/pkg/humanfmt"
	"github.com/rs/zerolog"
)

// ProgressTracker counts input files through a run and estimates the time
// left from the most recent file durations. It is safe for concurrent use.
type ProgressTracker struct {
	total     int64
	completed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	startTime time.Time

	mu        sync.Mutex
	recent    []time.Duration
	maxRecent int
}

// NewProgressTracker creates a tracker for total files.
func NewProgressTracker(total int64) *ProgressTracker {
	return &ProgressTracker{
		total:     total,
		startTime: time.Now(),
		recent:    make([]time.Duration, 0, 8),
		maxRecent: 8,
	}
}

// RecordCompletion records a file that was fully indexed in d.
func (pt *ProgressTracker) RecordCompletion(d time.Duration) {
	pt.completed.Add(1)

	pt.mu.Lock()
	if len(pt.recent) >= pt.maxRecent {
		pt.recent = pt.recent[1:]
	}
	pt.recent = append(pt.recent, d)
	pt.mu.Unlock()
}

// RecordSkip records a file that was never opened.
func (pt *ProgressTracker) RecordSkip() {
	pt.skipped.Add(1)
}

// RecordFailure records a file abandoned part way through.
func (pt *ProgressTracker) RecordFailure() {
	pt.failed.Add(1)
}

// Done returns completed + skipped + failed.
func (pt *ProgressTracker) Done() int64 {
	return pt.completed.Load() + pt.skipped.Load() + pt.failed.Load()
}

// Total returns the number of files the run selected.
func (pt *ProgressTracker) Total() int64 {
	return pt.total
}

// ProgressPct returns the share of files handled, 0-100.
func (pt *ProgressTracker) ProgressPct() float64 {
	if pt.total == 0 {
		return 100.0
	}
	return float64(pt.Done()) * 100.0 / float64(pt.total)
}

// Remaining returns how many files are still to be handled.
func (pt *ProgressTracker) Remaining() int64 {
	return pt.total - pt.Done()
}

// ETA averages the recent file durations over the remaining files.
// It returns 0 until one file has completed.
func (pt *ProgressTracker) ETA() time.Duration {
	remaining := pt.Remaining()
	if remaining <= 0 {
		return 0
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()
	if len(pt.recent) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range pt.recent {
		sum += d
	}
	return sum / time.Duration(len(pt.recent)) * time.Duration(remaining)
}

// Elapsed returns time since tracking started.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.startTime)
}

// CompletionEvent builds a log line with the event/phase/duration_ms
// fields shared by every completion the pipeline reports.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]any
}

// NewCompletionEvent creates a completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]any),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Bool adds a bool field.
func (ce *CompletionEvent) Bool(key string, val bool) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Count adds a count with an optional human-readable companion.
func (ce *CompletionEvent) Count(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Count(n)
	}
	return ce
}

// Bytes adds a byte size with an optional human-readable companion.
func (ce *CompletionEvent) Bytes(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Bytes(n)
	}
	return ce
}

// Rate adds <unit>_per_sec computed from n over the event's duration.
func (ce *CompletionEvent) Rate(unit string, n int64) *CompletionEvent {
	if ce.elapsed <= 0 {
		return ce
	}
	ce.fields[unit+"_per_sec"] = humanfmt.PerSecond(n, ce.elapsed)
	if IsPrettyMode() {
		ce.fields["rate_h"] = humanfmt.Rate(n, ce.elapsed, unit)
	}
	return ce
}

// Progress adds files done/total, the percentage and an ETA when known.
func (ce *CompletionEvent) Progress(pt *ProgressTracker) *CompletionEvent {
	ce.fields["files_done"] = pt.Done()
	ce.fields["files_total"] = pt.Total()
	ce.fields["progress_pct"] = pt.ProgressPct()
	if eta := pt.ETA(); eta > 0 {
		ce.fields["eta_ms"] = eta.Milliseconds()
		if IsPrettyMode() {
			ce.fields["eta_h"] = humanfmt.Duration(eta)
		}
	}
	return ce
}

// Log emits the event at info level.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	if e == nil {
		return
	}
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())
	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}

	// Sorted so console output is stable between runs.
	keys := make([]string, 0, len(ce.fields))
	for k := range ce.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e = e.Interface(k, ce.fields[k])
	}
	e.Msg(msg)
}

// FileComplete starts a file_completed event.
func FileComplete(log zerolog.Logger, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "file_completed", "ingest", elapsed)
}

// BatchComplete starts a batch_completed event for one bulk submission.
func BatchComplete(log zerolog.Logger, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "batch_completed", "ingest", elapsed)
}

// RunComplete starts the run_completed summary event.
func RunComplete(log zerolog.Logger, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "run_completed", "ingest", elapsed)
}

// StageComplete starts a phase_completed event for a setup stage such as
// provisioning or S3 staging.
func StageComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "phase_completed", phase, elapsed)
}

// FileStarted logs the start of one input file. It carries no duration.
func FileStarted(log zerolog.Logger, date string, pt *ProgressTracker) {
	log.Info().
		Str("event", "file_started").
		Str("phase", "ingest").
		Str("record_date", date).
		Int64("files_done", pt.Done()).
		Int64("files_total", pt.Total()).
		Msg("file started")
}
