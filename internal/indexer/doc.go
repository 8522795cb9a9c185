// Package indexer maintains the in-memory inverted index and keeps it in
// sync with the files of a repository.
//
// # Index
//
// Index holds an immutable state behind an atomic pointer. Readers call
// Snapshot and work on a consistent view without locking. Writers serialize
// on a mutex, build the next state from the full chunk set (postings,
// document lengths, average length and version are all derived), persist
// it and swap it in.
//
//	snap := idx.Snapshot()
//	scores := snap.BM25(chunker.Tokenize("parse token"), 1.5, 0.75)
//
// # Scoring
//
// BM25 uses idf = ln((N - df + 0.5)/(df + 0.5) + 1) with N = max(1, chunks)
// and returns sparse scores for chunks that contain a query term.
//
// # Index Version
//
// ComputeIndexVersion hashes the sorted (chunk id, path, start, end,
// content hash) tuples. Any change to retrievable content changes it; a
// no-op reindex does not.
//
// # Incremental Indexing
//
// Indexer discovers files with doublestar include/exclude globs relative to
// the repository root, skips files whose mtime is unchanged, and chunks the
// rest on a bounded worker pool (errgroup plus a semaphore channel).
// Reindexing a file replaces all of its chunks. Files that disappeared are
// pruned together with their mtime entry.
//
//	ix, _ := indexer.New(indexer.NewIndex(), indexer.Config{Root: root, Store: db})
//	stats, err := ix.IndexPaths(ctx, types.IndexRequest{Paths: []string{"."}, Recursive: true})
package indexer
