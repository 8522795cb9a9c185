package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const fileFormatVersion = 1

// record is one persisted entry.
type record struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expires_at"`
}

type cacheFile struct {
	Version   int      `json:"version"`
	Namespace string   `json:"namespace"`
	Entries   []record `json:"entries"`
}

// persister stores a namespace as a JSON file. Writes go to a temp file
// that is renamed into place while holding a lock shared by all namespaces
// in the directory.
type persister struct {
	path string
	lock *flock.Flock
}

func newPersister(path string) *persister {
	return &persister{
		path: path,
		lock: flock.New(filepath.Join(filepath.Dir(path), ".lock")),
	}
}

func (p *persister) write(namespace string, records []record) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(cacheFile{Version: fileFormatVersion, Namespace: namespace, Entries: records})
	if err != nil {
		return err
	}

	if err := p.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock cache dir: %w", err)
	}
	defer func() { _ = p.lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (p *persister) read() ([]record, error) {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return nil, err
	}
	if err := p.lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock cache dir: %w", err)
	}
	defer func() { _ = p.lock.Unlock() }()

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed cache file: %w", err)
	}
	if f.Version != fileFormatVersion {
		return nil, fmt.Errorf("unsupported cache file version %d", f.Version)
	}
	return f.Entries, nil
}
