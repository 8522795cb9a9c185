// Package types provides shared type definitions for the codectx engine.
//
// The types here cross package boundaries: the indexer produces Chunk
// values, the searcher returns SearchResult values, the packer assembles a
// ContextPack, and the MCP and CLI layers serialize all of them as JSON.
//
// # Chunks
//
// A Chunk is an overlapping line window of a source file. Its ID is
// derived from the file path, line range and source mtime, so reindexing
// a modified file naturally produces new ids:
//
//	id := types.ChunkID("internal/auth/token.go", 1, 80, info.ModTime())
//
// # Requests
//
// SearchRequest and PackRequest use pointer fields for optional flags so
// callers can distinguish "unset" from "false":
//
//	req := types.SearchRequest{
//	    Query:  "parse token",
//	    Limit:  10,
//	    UseMMR: types.BoolPtr(false),
//	}
package types
