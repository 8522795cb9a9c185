package semantic

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorStore_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "embeddings")
	s, err := NewVectorStore(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir())

	vec := []float32{0.5, -0.25, 1}
	require.NoError(t, s.Save(VectorMeta{ChunkID: "abc", ContentHash: "h1", ModelName: "m", ContentLength: 10}, vec))

	got, ok := s.Load("abc", "h1", "m")
	require.True(t, ok)
	assert.Equal(t, vec, got)

	_, ok = s.Load("abc", "h2", "m")
	assert.False(t, ok, "content hash mismatch")
	_, ok = s.Load("abc", "h1", "other")
	assert.False(t, ok, "model mismatch")
	_, ok = s.Load("missing", "h1", "m")
	assert.False(t, ok)

	raw, err := os.ReadFile(filepath.Join(dir, "abc.f32"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0x3f, 0, 0, 0x80, 0xbe, 0, 0, 0x80, 0x3f}, raw, "little-endian float32")

	var meta VectorMeta
	raw, err = os.ReadFile(filepath.Join(dir, "abc_meta.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, 3, meta.Dimension)
	assert.Equal(t, 10, meta.ContentLength)
}

func TestVectorStore_CorruptFilesAreMisses(t *testing.T) {
	dir := t.TempDir()
	s, err := NewVectorStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(VectorMeta{ChunkID: "a", ContentHash: "h", ModelName: "m"}, []float32{1, 2}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.f32"), []byte{1, 2, 3}, 0o644))
	_, ok := s.Load("a", "h", "m")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_meta.json"), []byte("{"), 0o644))
	_, ok = s.Load("a", "h", "m")
	assert.False(t, ok)

	assert.Error(t, s.Save(VectorMeta{}, []float32{1}))
}

func TestVectorStore_DeleteAndPrune(t *testing.T) {
	s, err := NewVectorStore(t.TempDir())
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(VectorMeta{ChunkID: id, ContentHash: "h", ModelName: "m"}, []float32{1}))
	}

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"), "deleting twice is fine")

	removed, err := s.Prune(func(id string) bool { return id == "b" })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err := s.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}
