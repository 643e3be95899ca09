// Package source selects enrollment CSV files and reads their rows.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/eunmann/aadhaar-index/pkg/enroll"
	"github.com/klauspost/compress/gzip"
)

// Reader yields the rows of one enrollment file, header included.
type Reader interface {
	// Next returns the next row. Returns io.EOF when done.
	// The returned slice is only valid until the following call.
	Next() (enroll.Row, error)
	// Line returns the input line of the row last returned by Next.
	Line() int
	// Close releases resources.
	Close() error
}

type csvReader struct {
	csvr    *csv.Reader
	line    int
	closers []io.Closer
}

// NewReader creates a Reader over raw, already decompressed CSV data.
func NewReader(r io.Reader) Reader {
	return &csvReader{csvr: newEnrollmentCSV(r)}
}

// Open opens an enrollment file for reading. Names ending in .gz are
// decompressed transparently.
func Open(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r, err := NewStreamReader(f, path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NewStreamReader wraps a stream, handling gzip decompression based on name.
// The stream is closed by the returned Reader, or immediately on error.
func NewStreamReader(rc io.ReadCloser, name string) (Reader, error) {
	var data io.Reader = rc
	closers := []io.Closer{rc}

	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		gzr, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		closers = append(closers, gzr)
		data = gzr
	}

	return &csvReader{
		csvr:    newEnrollmentCSV(data),
		closers: closers,
	}, nil
}

// newEnrollmentCSV configures a csv.Reader for the published enrollment
// dumps, which have ragged rows and stray quotes in agency names.
func newEnrollmentCSV(r io.Reader) *csv.Reader {
	csvr := csv.NewReader(r)
	csvr.ReuseRecord = true
	csvr.FieldsPerRecord = -1
	csvr.LazyQuotes = true
	return csvr
}

func (r *csvReader) Next() (enroll.Row, error) {
	fields, err := r.csvr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read CSV row: %w", err)
	}
	r.line, _ = r.csvr.FieldPos(0)
	return enroll.Row(fields), nil
}

func (r *csvReader) Line() int {
	return r.line
}

func (r *csvReader) Close() error {
	var firstErr error
	// Close in reverse order (gzip reader before underlying file)
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
