package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/dshills/codectx-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrLocked is returned when another process holds the writer lock
	ErrLocked = errors.New("index database is locked by another writer")
)

const lockRetryDelay = 25 * time.Millisecond

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// Option configures a SQLiteStorage.
type Option func(*SQLiteStorage)

// WithLogger sets the logger used for recovery messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStorage) {
		if l != nil {
			s.logger = l
		}
	}
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// openChecked opens dbPath, verifies its integrity and applies migrations.
func openChecked(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		_ = db.Close()
		return nil, fmt.Errorf("integrity check failed: %s", result)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance. An existing
// database that cannot be opened or migrated is moved aside and replaced by
// an empty one.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	s := &SQLiteStorage{
		path:   dbPath,
		lock:   flock.New(dbPath + ".lock"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	ctx := context.Background()
	db, err := openChecked(ctx, dbPath)
	if err != nil {
		if _, statErr := os.Stat(dbPath); statErr != nil {
			return nil, err
		}
		aside, qerr := quarantine(dbPath)
		if qerr != nil {
			return nil, fmt.Errorf("%w (quarantine failed: %v)", err, qerr)
		}
		s.logger.Warn("index database unreadable, starting empty",
			"path", dbPath, "moved_to", aside, "error", err)

		db, err = openChecked(ctx, dbPath)
		if err != nil {
			return nil, err
		}
	}

	s.db = db
	return s, nil
}

// quarantine renames a broken database and drops its WAL side files.
func quarantine(dbPath string) (string, error) {
	aside := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().UnixNano())
	if err := os.Rename(dbPath, aside); err != nil {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	return aside, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Size returns the on-disk size of the database including its WAL.
func (s *SQLiteStorage) Size() int64 {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Index operations

// LoadIndex reads the persisted index. An empty database yields empty data.
func (s *SQLiteStorage) LoadIndex(ctx context.Context) (*IndexData, error) {
	data := &IndexData{FileMTimes: make(map[string]time.Time)}

	chunks, err := s.loadChunks(ctx, s.db)
	if err != nil {
		return nil, err
	}
	data.Chunks = chunks

	rows, err := s.db.QueryContext(ctx, "SELECT file_path, mtime FROM file_mtime")
	if err != nil {
		return nil, fmt.Errorf("failed to load file mtimes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var path string
		var mtime int64
		if err := rows.Scan(&path, &mtime); err != nil {
			return nil, err
		}
		data.FileMTimes[path] = time.Unix(0, mtime)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if v, err := s.getMeta(ctx, s.db, MetaIndexVersion); err == nil {
		data.IndexVersion = v
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if v, err := s.getMeta(ctx, s.db, MetaLastUpdated); err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
			data.LastUpdated = t
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return data, nil
}

func (s *SQLiteStorage) loadChunks(ctx context.Context, q querier) ([]types.Chunk, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT chunk_id, file_path, start_line, end_line, content, content_hash, mtime, terms, token_count
		FROM chunks
		ORDER BY file_path, start_line, chunk_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		var mtime int64
		var terms string
		if err := rows.Scan(&c.ID, &c.FilePath, &c.StartLine, &c.EndLine, &c.Content,
			&c.ContentHash, &mtime, &terms, &c.TokenCount); err != nil {
			return nil, err
		}
		c.MTime = time.Unix(0, mtime)
		if err := json.Unmarshal([]byte(terms), &c.Terms); err != nil {
			return nil, fmt.Errorf("chunk %s: invalid terms: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Apply writes cs in a single transaction while holding the cross-process
// writer lock.
func (s *SQLiteStorage) Apply(ctx context.Context, cs *ChangeSet) error {
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire writer lock: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer func() { _ = s.lock.Unlock() }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, path := range cs.RemovedFiles {
		if err := deleteFileChunks(ctx, tx, path); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM file_mtime WHERE file_path = ?", path); err != nil {
			return fmt.Errorf("failed to delete mtime for %s: %w", path, err)
		}
	}

	replaced := make([]string, 0, len(cs.ReplacedFiles))
	for path := range cs.ReplacedFiles {
		replaced = append(replaced, path)
	}
	sort.Strings(replaced)
	for _, path := range replaced {
		if err := deleteFileChunks(ctx, tx, path); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_mtime (file_path, mtime) VALUES (?, ?)
			ON CONFLICT(file_path) DO UPDATE SET mtime = excluded.mtime
		`, path, cs.ReplacedFiles[path].UnixNano()); err != nil {
			return fmt.Errorf("failed to store mtime for %s: %w", path, err)
		}
	}

	if err := insertChunks(ctx, tx, cs.Chunks); err != nil {
		return err
	}

	if err := setMeta(ctx, tx, MetaIndexVersion, cs.IndexVersion); err != nil {
		return err
	}
	if err := setMeta(ctx, tx, MetaLastUpdated, cs.LastUpdated.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func deleteFileChunks(ctx context.Context, q querier, path string) error {
	for _, stmt := range []string{
		"DELETE FROM postings WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE file_path = ?)",
		"DELETE FROM doc_len WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE file_path = ?)",
		"DELETE FROM chunks WHERE file_path = ?",
	} {
		if _, err := q.ExecContext(ctx, stmt, path); err != nil {
			return fmt.Errorf("failed to delete chunks for %s: %w", path, err)
		}
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(chunk_id, file_path, start_line, end_line, content, content_hash, mtime, terms, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer func() { _ = chunkStmt.Close() }()

	postingStmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO postings (term, chunk_id, tf) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare posting insert: %w", err)
	}
	defer func() { _ = postingStmt.Close() }()

	lenStmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO doc_len (chunk_id, token_count) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare doc_len insert: %w", err)
	}
	defer func() { _ = lenStmt.Close() }()

	for i := range chunks {
		c := &chunks[i]
		terms, err := json.Marshal(c.Terms)
		if err != nil {
			return err
		}
		if _, err := chunkStmt.ExecContext(ctx, c.ID, c.FilePath, c.StartLine, c.EndLine, c.Content,
			c.ContentHash, c.MTime.UnixNano(), string(terms), c.TokenCount); err != nil {
			return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
		}

		tf := make(map[string]int, len(c.Terms))
		for _, t := range c.Terms {
			tf[t]++
		}
		for term, n := range tf {
			if _, err := postingStmt.ExecContext(ctx, term, c.ID, n); err != nil {
				return fmt.Errorf("failed to store posting %s/%s: %w", term, c.ID, err)
			}
		}
		if _, err := lenStmt.ExecContext(ctx, c.ID, c.TokenCount); err != nil {
			return fmt.Errorf("failed to store doc length %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) getMeta(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

func setMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// Postings returns the stored term frequencies for term, keyed by chunk id.
func (s *SQLiteStorage) Postings(ctx context.Context, term string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT chunk_id, tf FROM postings WHERE term = ?", strings.ToLower(term))
	if err != nil {
		return nil, fmt.Errorf("failed to query postings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var tf int
		if err := rows.Scan(&id, &tf); err != nil {
			return nil, err
		}
		out[id] = tf
	}
	return out, rows.Err()
}

// Usage operations

// RecordUsage appends rec to the usage ledger.
func (s *SQLiteStorage) RecordUsage(ctx context.Context, rec UsageRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage (ts, operation, query, tokens_sent, tokens_saved, cache_hit)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ts.Unix(), rec.Operation, rec.Query, rec.TokensSent, rec.TokensSaved, rec.CacheHit)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageSummary aggregates the ledger per operation. Zero bounds are open.
func (s *SQLiteStorage) UsageSummary(ctx context.Context, since, until time.Time) ([]UsageAggregate, error) {
	var where []string
	var args []interface{}
	if !since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, since.Unix())
	}
	if !until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, until.Unix())
	}

	query := `SELECT operation, COUNT(*), COALESCE(SUM(tokens_sent), 0), COALESCE(SUM(tokens_saved), 0),
		COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0) FROM usage`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY operation ORDER BY operation"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []UsageAggregate
	for rows.Next() {
		var agg UsageAggregate
		if err := rows.Scan(&agg.Operation, &agg.Calls, &agg.TokensSent, &agg.TokensSaved, &agg.CacheHits); err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}
