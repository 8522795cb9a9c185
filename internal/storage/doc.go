// Package storage provides SQLite-based persistence for the search index
// and the token usage ledger.
//
// # Database Schema
//
// Tables:
//   - chunks: chunk text, range, content hash, mtime and terms
//   - postings: term -> chunk id -> term frequency
//   - doc_len: chunk id -> token count
//   - file_mtime: file path -> modification time (unix nanos)
//   - meta: last_updated and index_version
//   - usage: one row per search or context pack call
//   - schema_version: applied migrations, compared with semver
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage(filepath.Join(indexDir, "index.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	data, err := db.LoadIndex(ctx)
//
// # Writes
//
// Every index mutation is one ChangeSet applied in a single transaction.
// Chunks of removed and replaced files are deleted first, then the new
// chunks with their postings and lengths are inserted. A gofrs/flock lock
// next to the database serializes writers across processes.
//
// # Recovery
//
// A database that fails to open, fails PRAGMA quick_check or cannot be
// migrated is renamed to index.db.corrupt-<nanos> and replaced by an empty
// one. The caller then rebuilds from source.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with
// -tags sqlite_cgo switches to github.com/mattn/go-sqlite3.
package storage
