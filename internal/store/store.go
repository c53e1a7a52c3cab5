package store

// Store persists finished fit results.
// Implementations must be safe for concurrent use.
//
// Load and Delete return an error matching ErrNotFound for unknown jobs.
type Store interface {
	// SaveResult atomically writes the record for its job, replacing any
	// earlier one.
	SaveResult(rec *Record) error

	// LoadResult returns the record of a job.
	LoadResult(jobID string) (*Record, error)

	// ListResults returns summaries of every stored record.
	ListResults() ([]RecordInfo, error)

	// DeleteResult removes the job directory: result.json and trace.jsonl.
	DeleteResult(jobID string) error
}

// ErrNotFound matches any NotFoundError with errors.Is.
var ErrNotFound = &NotFoundError{}

// NotFoundError reports a job with no stored result.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "result not found: " + e.JobID
	}
	return "result not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
