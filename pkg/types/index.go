package types

import "time"

// IndexRequest selects the files to index.
type IndexRequest struct {
	Paths        []string `json:"paths"`
	Recursive    bool     `json:"recursive"`
	IncludeGlobs []string `json:"include_globs,omitempty"`
	ExcludeGlobs []string `json:"exclude_globs,omitempty"`
	Force        bool     `json:"force,omitempty"` // Reindex files whose mtime is unchanged
}

// IndexResult summarizes an indexing run.
type IndexResult struct {
	FilesIndexed  int           `json:"files_indexed"`
	Chunks        int           `json:"chunks"`
	FilesSkipped  int           `json:"files_skipped"`
	FilesFailed   int           `json:"files_failed"`
	FilesRemoved  int           `json:"files_removed"`
	IndexVersion  string        `json:"index_version"`
	Changed       bool          `json:"changed"`
	Duration      time.Duration `json:"duration"`
	ErrorMessages []string      `json:"errors,omitempty"`
}

// IndexStats describes the current index.
type IndexStats struct {
	TotalFiles   int       `json:"total_files"`
	TotalChunks  int       `json:"total_chunks"`
	IndexSize    int64     `json:"index_size"` // Bytes on disk
	LastUpdated  time.Time `json:"last_updated"`
	IndexVersion string    `json:"index_version"`
}
