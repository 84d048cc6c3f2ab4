package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/virtmail/mailstore/store"
)

// FileStore is an in-memory blob store keyed by content hash. Useful for
// tests and single-process deployments.
type FileStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ store.FileStore = (*FileStore)(nil)

// NewFileStore creates an empty in-memory blob store.
func NewFileStore() *FileStore {
	return &FileStore{blobs: make(map[string][]byte)}
}

// Put stores the blob. An existing key is overwritten with identical
// bytes, so overwrites are harmless.
func (f *FileStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	return nil
}

// Get returns a reader for the blob.
func (f *FileStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.RLock()
	data, ok := f.blobs[key]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, store.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the blob.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blobs[key]; !ok {
		return fmt.Errorf("blob %s: %w", key, store.ErrNotFound)
	}
	delete(f.blobs, key)
	return nil
}

// Exists reports whether a blob with the key is stored.
func (f *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.blobs[key]
	return ok, nil
}
