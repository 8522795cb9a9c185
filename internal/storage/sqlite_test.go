package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codectx-mcp/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func testChunk(path string, start, end int, content string, mtime time.Time) types.Chunk {
	c := types.Chunk{
		ID:         types.ChunkID(path, start, end, mtime),
		FilePath:   path,
		StartLine:  start,
		EndLine:    end,
		Content:    content,
		Terms:      []string{"parse", "token", "parse"},
		TokenCount: 3,
		MTime:      mtime,
	}
	c.ComputeContentHash()
	return c
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
	assert.Greater(t, storage.Size(), int64(0))

	v, err := currentVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestLoadIndex_Empty(t *testing.T) {
	storage := setupTestDB(t)

	data, err := storage.LoadIndex(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data.Chunks)
	assert.Empty(t, data.FileMTimes)
	assert.Empty(t, data.IndexVersion)
	assert.True(t, data.LastUpdated.IsZero())
}

func TestApplyAndLoad(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	mtime := time.Unix(1700000000, 123)
	a1 := testChunk("a.go", 1, 10, "func parse() {}", mtime)
	a2 := testChunk("a.go", 11, 20, "func token() {}", mtime)
	b1 := testChunk("b.go", 1, 5, "package b", mtime)
	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	err := storage.Apply(ctx, &ChangeSet{
		ReplacedFiles: map[string]time.Time{"a.go": mtime, "b.go": mtime},
		Chunks:        []types.Chunk{a1, a2, b1},
		IndexVersion:  "v1",
		LastUpdated:   updated,
	})
	require.NoError(t, err)

	data, err := storage.LoadIndex(ctx)
	require.NoError(t, err)
	require.Len(t, data.Chunks, 3)
	assert.Equal(t, a1.ID, data.Chunks[0].ID)
	assert.Equal(t, a1.Terms, data.Chunks[0].Terms)
	assert.Equal(t, a1.ContentHash, data.Chunks[0].ContentHash)
	assert.Equal(t, mtime.UnixNano(), data.Chunks[0].MTime.UnixNano())
	assert.Equal(t, "v1", data.IndexVersion)
	assert.True(t, updated.Equal(data.LastUpdated))
	assert.Len(t, data.FileMTimes, 2)

	postings, err := storage.Postings(ctx, "parse")
	require.NoError(t, err)
	assert.Equal(t, 2, postings[a1.ID])
}

func TestApply_ReplacesAndRemovesFiles(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	old := time.Unix(1700000000, 0)
	require.NoError(t, storage.Apply(ctx, &ChangeSet{
		ReplacedFiles: map[string]time.Time{"a.go": old, "b.go": old},
		Chunks: []types.Chunk{
			testChunk("a.go", 1, 10, "old a", old),
			testChunk("b.go", 1, 10, "old b", old),
		},
		IndexVersion: "v1",
		LastUpdated:  old,
	}))

	newer := old.Add(time.Hour)
	fresh := testChunk("a.go", 1, 12, "new a", newer)
	require.NoError(t, storage.Apply(ctx, &ChangeSet{
		RemovedFiles:  []string{"b.go"},
		ReplacedFiles: map[string]time.Time{"a.go": newer},
		Chunks:        []types.Chunk{fresh},
		IndexVersion:  "v2",
		LastUpdated:   newer,
	}))

	data, err := storage.LoadIndex(ctx)
	require.NoError(t, err)
	require.Len(t, data.Chunks, 1)
	assert.Equal(t, fresh.ID, data.Chunks[0].ID)
	assert.NotContains(t, data.FileMTimes, "b.go")
	assert.Equal(t, newer.UnixNano(), data.FileMTimes["a.go"].UnixNano())
	assert.Equal(t, "v2", data.IndexVersion)

	postings, err := storage.Postings(ctx, "token")
	require.NoError(t, err)
	assert.Len(t, postings, 1, "postings of removed chunks are deleted")
}

func TestChangeSetIsEmpty(t *testing.T) {
	assert.True(t, (&ChangeSet{IndexVersion: "x"}).IsEmpty())
	assert.False(t, (&ChangeSet{RemovedFiles: []string{"a"}}).IsEmpty())
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	storage, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	mtime := time.Unix(1700000000, 0)
	require.NoError(t, storage.Apply(ctx, &ChangeSet{
		ReplacedFiles: map[string]time.Time{"a.go": mtime},
		Chunks:        []types.Chunk{testChunk("a.go", 1, 2, "x", mtime)},
		IndexVersion:  "v1",
		LastUpdated:   mtime,
	}))
	require.NoError(t, storage.Close())

	storage, err = NewSQLiteStorage(path)
	require.NoError(t, err)
	defer storage.Close()

	data, err := storage.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Len(t, data.Chunks, 1)
}

func TestCorruptDatabaseIsRecreated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("garbage!"), 512), 0o644))

	storage, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer storage.Close()

	data, err := storage.LoadIndex(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data.Chunks)

	matches, err := filepath.Glob(filepath.Join(dir, "index.db.corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestUsageLedger(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	records := []UsageRecord{
		{Timestamp: base, Operation: "search", Query: "parse", TokensSent: 100, TokensSaved: 0},
		{Timestamp: base.Add(time.Minute), Operation: "context_pack", Query: "parse", TokensSent: 300, TokensSaved: 700},
		{Timestamp: base.Add(2 * time.Minute), Operation: "context_pack", Query: "parse", TokensSent: 0, TokensSaved: 300, CacheHit: true},
	}
	for _, r := range records {
		require.NoError(t, storage.RecordUsage(ctx, r))
	}

	all, err := storage.UsageSummary(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, UsageAggregate{Operation: "context_pack", Calls: 2, TokensSent: 300, TokensSaved: 1000, CacheHits: 1}, all[0])
	assert.Equal(t, "search", all[1].Operation)

	recent, err := storage.UsageSummary(ctx, base.Add(90*time.Second), time.Time{})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 1, recent[0].Calls)
}

func TestMigrations(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err := currentVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	v, err = currentVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	// Idempotent
	require.NoError(t, ApplyMigrations(ctx, storage.db))
}
