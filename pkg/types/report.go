package types

import "time"

// FileStatus is the outcome of ingesting a single file.
type FileStatus string

const (
	StatusProcessed FileStatus = "processed"
	StatusDuplicate FileStatus = "duplicate"
	StatusSkipped   FileStatus = "skipped"
	StatusFailed    FileStatus = "failed"
)

// FileResult is the per-item result the ingestion loop produces instead of
// swallowing errors.
type FileResult struct {
	Path            string     `json:"path"`
	Status          FileStatus `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	Err             error      `json:"-"`
	TotalChunks     int        `json:"total_chunks"`
	NewChunks       int        `json:"new_chunks"`
	DuplicateChunks int        `json:"duplicate_chunks"`
}

// FileError is a report entry for a file that failed or was skipped.
type FileError struct {
	FileName string `json:"file_name"`
	Reason   string `json:"reason"`
}

// IngestionReport summarizes a single ingestion run.
type IngestionReport struct {
	RunID           string        `json:"run_id"`
	TotalFiles      int           `json:"total_files"`
	ProcessedFiles  int           `json:"processed_files"`
	FailedFiles     int           `json:"failed_files"`
	SkippedFiles    int           `json:"skipped_files"`
	TotalChunks     int           `json:"total_chunks"`
	NewChunks       int           `json:"new_chunks"`
	DuplicateChunks int           `json:"duplicate_chunks"`
	Errors          []FileError   `json:"errors"`
	Results         []FileResult  `json:"results"`
	Duration        time.Duration `json:"duration"`
	Cancelled       bool          `json:"cancelled"`
}

// Record folds a file result into the report totals.
func (r *IngestionReport) Record(res FileResult) {
	r.Results = append(r.Results, res)
	r.TotalChunks += res.TotalChunks
	r.NewChunks += res.NewChunks
	r.DuplicateChunks += res.DuplicateChunks

	switch res.Status {
	case StatusProcessed:
		r.ProcessedFiles++
	case StatusDuplicate, StatusSkipped:
		r.SkippedFiles++
	case StatusFailed:
		r.FailedFiles++
	}
	if res.Status == StatusSkipped || res.Status == StatusFailed {
		r.Errors = append(r.Errors, FileError{FileName: res.Path, Reason: res.Reason})
	}
}

// DedupRecord marks a document content hash as indexed.
type DedupRecord struct {
	ContentHash string
	SourceFile  string
	SourcePath  string
	ChunkCount  int
	IndexedAt   time.Time
}
