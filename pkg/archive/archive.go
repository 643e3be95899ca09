// Package archive writes a Parquet snapshot of the documents submitted for
// each input file, so an index can be rebuilt without re-reading the CSVs.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eunmann/aadhaar-index/pkg/enroll"
	"github.com/eunmann/aadhaar-index/pkg/fileutil"
	"github.com/parquet-go/parquet-go"
)

// Ext is the extension of archive files.
const Ext = ".parquet"

// dateLayout is how record dates are stored in the date column.
const dateLayout = "2006-01-02"

// Record is the Parquet row layout of one archived document.
type Record struct {
	ID   string `parquet:"id"`
	Type string `parquet:"type,dict"`
	Date string `parquet:"date,dict"`

	Registrar   string `parquet:"registrar,dict"`
	Agency      string `parquet:"agency,dict"`
	State       string `parquet:"state,dict"`
	District    string `parquet:"district,dict"`
	Subdistrict string `parquet:"subdistrict,dict"`
	Pincode     string `parquet:"pincode,dict"`
	Gender      string `parquet:"gender,dict"`

	Age       int64 `parquet:"age"`
	Generated int64 `parquet:"generated"`
	Rejected  int64 `parquet:"rejected"`
	Email     int64 `parquet:"email"`
	Mobile    int64 `parquet:"mobile"`
}

// FromDocument converts a document to its archived form.
func FromDocument(d enroll.Document) Record {
	return Record{
		ID:          d.ID,
		Type:        d.Type,
		Date:        d.Date.Format(dateLayout),
		Registrar:   d.Registrar,
		Agency:      d.Agency,
		State:       d.State,
		District:    d.District,
		Subdistrict: d.Subdistrict,
		Pincode:     d.Pincode,
		Gender:      d.Gender,
		Age:         d.Age,
		Generated:   d.Generated,
		Rejected:    d.Rejected,
		Email:       d.Email,
		Mobile:      d.Mobile,
	}
}

// Writer streams documents into <dir>/<stem>.parquet. The file only appears
// under its final name once Close succeeds.
type Writer struct {
	path string
	f    *os.File
	pw   *parquet.GenericWriter[Record]
	buf  []Record
	rows int64
}

// Create starts an archive for the input file with the given stem.
func Create(dir, stem string) (*Writer, error) {
	path := filepath.Join(dir, stem+Ext)
	f, err := fileutil.CreateTmp(path)
	if err != nil {
		return nil, fmt.Errorf("create archive %s: %w", path, err)
	}
	return &Writer{
		path: path,
		f:    f,
		pw:   parquet.NewGenericWriter[Record](f, parquet.Compression(&parquet.Zstd)),
	}, nil
}

// Submit appends one batch. It satisfies the ingest sink contract.
func (w *Writer) Submit(_ context.Context, docs []enroll.Document) error {
	w.buf = w.buf[:0]
	for _, d := range docs {
		w.buf = append(w.buf, FromDocument(d))
	}
	n, err := w.pw.Write(w.buf)
	w.rows += int64(n)
	if err != nil {
		return fmt.Errorf("write archive rows: %w", err)
	}
	return nil
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int64 {
	return w.rows
}

// Path returns the final archive path.
func (w *Writer) Path() string {
	return w.path
}

// Close finishes the Parquet footer and moves the file into place.
func (w *Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		fileutil.Discard(w.f)
		return fmt.Errorf("finish archive %s: %w", w.path, err)
	}
	if err := fileutil.Commit(w.f, w.path); err != nil {
		return fmt.Errorf("commit archive %s: %w", w.path, err)
	}
	return nil
}

// Abort drops the archive without publishing it.
func (w *Writer) Abort() {
	fileutil.Discard(w.f)
}

// ReadFile loads every record of an archive.
func ReadFile(path string) ([]Record, error) {
	recs, err := parquet.ReadFile[Record](path)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}
	return recs, nil
}
