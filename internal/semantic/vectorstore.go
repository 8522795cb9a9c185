package semantic

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	vectorExt = ".f32"
	metaExt   = "_meta.json"
)

// VectorMeta describes a stored chunk embedding.
type VectorMeta struct {
	ChunkID       string `json:"chunk_id"`
	ContentHash   string `json:"content_hash"`
	ModelName     string `json:"model_name"`
	ContentLength int    `json:"content_length"`
	Truncated     bool   `json:"truncated"`
	Dimension     int    `json:"dimension"`
}

// VectorStore keeps one embedding per chunk on disk: the raw vector as
// little-endian float32 in <id>.f32 and its metadata in <id>_meta.json.
type VectorStore struct {
	dir string
}

// NewVectorStore opens (creating if needed) a store rooted at dir.
func NewVectorStore(dir string) (*VectorStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create embeddings dir: %w", err)
	}
	return &VectorStore{dir: dir}, nil
}

// Dir returns the store directory.
func (s *VectorStore) Dir() string { return s.dir }

func (s *VectorStore) vectorPath(chunkID string) string {
	return filepath.Join(s.dir, chunkID+vectorExt)
}

func (s *VectorStore) metaPath(chunkID string) string {
	return filepath.Join(s.dir, chunkID+metaExt)
}

// Load returns the stored vector for chunkID when its metadata matches
// contentHash and model. Missing or unreadable entries are misses.
func (s *VectorStore) Load(chunkID, contentHash, model string) ([]float32, bool) {
	raw, err := os.ReadFile(s.metaPath(chunkID))
	if err != nil {
		return nil, false
	}
	var meta VectorMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, false
	}
	if meta.ContentHash != contentHash || meta.ModelName != model {
		return nil, false
	}

	data, err := os.ReadFile(s.vectorPath(chunkID))
	if err != nil || len(data)%4 != 0 || len(data)/4 != meta.Dimension {
		return nil, false
	}
	vec := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, vec); err != nil {
		return nil, false
	}
	return vec, true
}

// Save writes vec and meta. The vector file is written first so that a
// metadata file always refers to a complete vector.
func (s *VectorStore) Save(meta VectorMeta, vec []float32) error {
	if meta.ChunkID == "" {
		return errors.New("chunk id is required")
	}
	meta.Dimension = len(vec)

	var buf bytes.Buffer
	buf.Grow(len(vec) * 4)
	if err := binary.Write(&buf, binary.LittleEndian, vec); err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}
	if err := writeAtomic(s.vectorPath(meta.ChunkID), buf.Bytes()); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.metaPath(meta.ChunkID), raw)
}

// Delete removes the entry for chunkID. Missing files are ignored.
func (s *VectorStore) Delete(chunkID string) error {
	var errs []error
	for _, p := range []string{s.metaPath(chunkID), s.vectorPath(chunkID)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IDs lists the chunk ids that have a stored vector.
func (s *VectorStore) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, vectorExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, vectorExt))
	}
	return ids, nil
}

// Prune deletes every stored vector whose chunk id is not in keep and
// returns how many were removed.
func (s *VectorStore) Prune(keep func(chunkID string) bool) (int, error) {
	ids, err := s.IDs()
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, id := range ids {
		if keep(id) {
			continue
		}
		if err := s.Delete(id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
