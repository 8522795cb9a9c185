package types

import "errors"

// Domain errors shared across packages
var (
	ErrInvalidChunkID   = errors.New("invalid chunk ID")
	ErrEmptyContent     = errors.New("content cannot be empty")
	ErrEmptyQuery       = errors.New("query cannot be empty")
	ErrInvalidStrategy  = errors.New("strategy must be \"mmr\" or \"topk\"")
	ErrInvalidNamespace = errors.New("unknown cache namespace")
	ErrIndexing         = errors.New("indexing already in progress")
)
