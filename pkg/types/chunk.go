package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// MaxChunkTerms caps the number of terms kept per chunk.
const MaxChunkTerms = 2000

// Chunk is a contiguous line range of a source file, the unit of retrieval.
type Chunk struct {
	// Identification
	ID       string `json:"chunk_id"`
	FilePath string `json:"file_path"` // Repository-relative, slash separated

	// Location (1-based, inclusive)
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Content
	Content     string   `json:"content"`
	ContentHash string   `json:"content_hash"` // Hex SHA-256 of Content
	Terms       []string `json:"terms"`        // Lowercased tokens, capped at MaxChunkTerms
	TokenCount  int      `json:"token_count"`  // Token count before capping (BM25 doc length)

	// Source file modification time at index time
	MTime time.Time `json:"mtime"`
}

// ChunkID derives the stable chunk identifier from path, line range and
// source mtime. Any change to one of them yields a new id.
func ChunkID(filePath string, startLine, endLine int, mtime time.Time) string {
	key := fmt.Sprintf("%s|%d|%d|%d", filePath, startLine, endLine, mtime.UnixNano())
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:12])
}

// ContentDigest returns the hex SHA-256 of content.
func ContentDigest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ComputeContentHash fills ContentHash from Content.
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = ContentDigest(c.Content)
}

// Header renders the "path:start-end" location label.
func (c *Chunk) Header() string {
	return fmt.Sprintf("%s:%d-%d", c.FilePath, c.StartLine, c.EndLine)
}

// Validate checks structural invariants of the chunk.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return ErrInvalidChunkID
	}
	if c.FilePath == "" {
		return errors.New("file path is required")
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	if c.Content == "" {
		return ErrEmptyContent
	}
	if c.ContentHash == "" {
		return errors.New("content hash must be computed")
	}
	return nil
}
