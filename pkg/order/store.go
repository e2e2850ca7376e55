package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileDocument is the on-disk shape of the JSON store.
type fileDocument struct {
	Orders []*Order `json:"orders"`
}

// FileStore persists the ledger as one JSON document, rewritten atomically
// on every mutation (write to a temp file, fsync, rename). With fresh=true
// the document is wiped at open, which is the default deployment mode:
// dashboards must tolerate an empty ledger after a restart.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// OpenFileStore opens (and with fresh, resets) the JSON store at path.
func OpenFileStore(path string, fresh bool) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("order: store path is required")
	}
	s := &FileStore{path: path}
	if fresh {
		if err := s.write(fileDocument{Orders: []*Order{}}); err != nil {
			return nil, fmt.Errorf("order: reset store: %w", err)
		}
	}
	return s, nil
}

// Load reads the full record set. A missing file is an empty ledger.
func (s *FileStore) Load(_ context.Context) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc.Orders, nil
}

// Save rewrites the whole document.
func (s *FileStore) Save(_ context.Context, orders []*Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(fileDocument{Orders: orders})
}

// Close is a no-op; every Save leaves a complete document behind.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) write(doc fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}
