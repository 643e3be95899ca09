package ingest

import "errors"

// Sentinel errors for ingestion failures. Callers classify them with errors.Is.
var (
	// ErrIndexProvision means the index could not be created or never became
	// ready. It is fatal to a run.
	ErrIndexProvision = errors.New("index provisioning failed")

	// ErrBulkSubmit means a batch was rejected by the index. The file being
	// processed is abandoned.
	ErrBulkSubmit = errors.New("bulk submit failed")

	// ErrFileRead means an input file could not be opened or parsed. The file
	// is abandoned.
	ErrFileRead = errors.New("read input file")
)

// Error kinds logged with a failed or skipped file.
const (
	kindDateParse  = "date_parse"
	kindBulkSubmit = "bulk_submit"
	kindFileRead   = "file_read"
	kindArchive    = "archive"
)

func errorKind(err error) string {
	var aerr *archiveError
	switch {
	case errors.As(err, &aerr):
		return kindArchive
	case errors.Is(err, ErrBulkSubmit):
		return kindBulkSubmit
	case errors.Is(err, ErrFileRead):
		return kindFileRead
	default:
		return "other"
	}
}
