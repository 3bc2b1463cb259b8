package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rankeval/rankeval/internal/config"
	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// Storage is a key/document backend.
type Storage interface {
	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the document under key, or a NOT_FOUND error.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the keys starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// New creates the backend selected by cfg.
func New(cfg config.StoreConfig) (Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "file", "":
		return NewFileStorage(cfg.Dir), nil
	case "redis":
		return NewRedisStorage(cfg.RedisURL, cfg.Prefix, cfg.TTL)
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown store type: %s", cfg.Type))
	}
}

// MemoryStorage keeps documents in memory.
type MemoryStorage struct {
	docs map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		docs: make(map[string][]byte),
	}
}

func (m *MemoryStorage) Put(_ context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return errors.ValidationError(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.docs[key]
	if !exists {
		return nil, errors.NotFoundError(fmt.Sprintf("result %s", key))
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStorage) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.docs))
	for key := range m.docs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, key)
	return nil
}

func (m *MemoryStorage) Close() error { return nil }

// FileStorage keeps each document in a JSON file; key segments become
// directories below the base path.
type FileStorage struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileStorage creates a new file-based storage.
func NewFileStorage(basePath string) *FileStorage {
	return &FileStorage{
		basePath: basePath,
	}
}

func (f *FileStorage) docPath(key string) string {
	return filepath.Join(f.basePath, filepath.FromSlash(key)+".json")
}

func (f *FileStorage) Put(_ context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return errors.ValidationError(err.Error())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.docPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.StorageError("create result directory", err)
	}

	// Write to a temp file and rename it into place.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.StorageError("write result file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.StorageError("write result file", err)
	}
	return nil
}

func (f *FileStorage) Get(_ context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, errors.ValidationError(err.Error())
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.docPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError(fmt.Sprintf("result %s", key))
		}
		return nil, errors.StorageError("read result file", err)
	}
	return data, nil
}

func (f *FileStorage) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, err := os.Stat(f.basePath); os.IsNotExist(err) {
		return []string{}, nil
	}

	keys := make([]string, 0)
	err := filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(f.basePath, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if strings.HasPrefix(key, prefix) && ValidateKey(key) == nil {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.StorageError("list result files", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileStorage) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return errors.ValidationError(err.Error())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.docPath(key)); err != nil && !os.IsNotExist(err) {
		return errors.StorageError("delete result file", err)
	}
	return nil
}

func (f *FileStorage) Close() error { return nil }
