// Package cached provides a local-disk caching wrapper for blob stores.
// Blobs are content addressed, so a cached entry never goes stale; the
// TTL only bounds disk usage.
package cached

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/virtmail/mailstore/store"
)

// Store wraps a store.FileStore with local file caching on reads.
type Store struct {
	backend  store.FileStore
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	logger   *slog.Logger
	stop     chan struct{}

	mu        sync.RWMutex
	cacheSize int64
}

var _ store.FileStore = (*Store)(nil)

// New creates a caching wrapper around the given backend.
func New(backend store.FileStore, opts ...Option) (*Store, error) {
	o := &options{
		cacheDir: os.TempDir(),
		maxSize:  1 << 30,
		ttl:      24 * time.Hour,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	cacheDir := filepath.Join(o.cacheDir, "mailstore-blobs")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Store{
		backend:  backend,
		cacheDir: cacheDir,
		maxSize:  o.maxSize,
		ttl:      o.ttl,
		logger:   o.logger,
		stop:     make(chan struct{}),
	}

	s.calculateCacheSize()

	if o.ttl > 0 {
		go s.cleanupLoop()
	}

	return s, nil
}

// Put writes the blob to the backend. Caching happens on Get.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return s.backend.Put(ctx, key, r, size, contentType)
}

// Get returns a reader for the blob, serving from the local cache when
// possible.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	cachePath := s.cachePath(key)

	if info, err := os.Stat(cachePath); err == nil {
		if s.ttl <= 0 || time.Since(info.ModTime()) < s.ttl {
			f, err := os.Open(cachePath)
			if err == nil {
				s.logger.Debug("blob cache hit", "key", key)
				now := time.Now()
				_ = os.Chtimes(cachePath, now, now)
				return f, nil
			}
		} else {
			os.Remove(cachePath)
			s.updateCacheSize(-info.Size())
		}
	}

	s.logger.Debug("blob cache miss", "key", key)
	reader, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	return s.cacheAndRead(reader, cachePath)
}

// Delete removes the blob from the backend and the cache.
func (s *Store) Delete(ctx context.Context, key string) error {
	cachePath := s.cachePath(key)
	if info, err := os.Stat(cachePath); err == nil {
		os.Remove(cachePath)
		s.updateCacheSize(-info.Size())
	}
	return s.backend.Delete(ctx, key)
}

// Exists reports whether the blob is stored. A cached copy counts.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := os.Stat(s.cachePath(key)); err == nil {
		return true, nil
	}
	return s.backend.Exists(ctx, key)
}

// Close stops the background cleanup loop.
func (s *Store) Close() error {
	close(s.stop)
	return nil
}

// ClearCache removes all cached files.
func (s *Store) ClearCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(s.cacheDir, entry.Name()))
		}
	}

	s.cacheSize = 0
	s.logger.Info("blob cache cleared")
	return nil
}

// cachePath maps a content-hash key to a cache file. Keys are hex
// strings, so they are safe as filenames.
func (s *Store) cachePath(key string) string {
	return filepath.Join(s.cacheDir, key)
}

// cacheAndRead tees the backend reader into a temp file that becomes the
// cache entry on a clean close.
func (s *Store) cacheAndRead(source io.ReadCloser, cachePath string) (io.ReadCloser, error) {
	tmpFile, err := os.CreateTemp(s.cacheDir, "tmp-*")
	if err != nil {
		s.logger.Warn("failed to create temp file for caching", "error", err)
		return source, nil
	}

	return &cachingReader{
		source:    source,
		tmpFile:   tmpFile,
		cachePath: cachePath,
		store:     s,
	}, nil
}

// cachingReader reads from source while writing to the cache temp file.
type cachingReader struct {
	source    io.ReadCloser
	tmpFile   *os.File
	cachePath string
	store     *Store
	size      int64
	closed    bool
}

func (r *cachingReader) Read(p []byte) (n int, err error) {
	n, err = r.source.Read(p)
	if n > 0 {
		if _, writeErr := r.tmpFile.Write(p[:n]); writeErr != nil {
			r.store.logger.Warn("failed to write to blob cache", "error", writeErr)
		}
		r.size += int64(n)
	}
	return n, err
}

func (r *cachingReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	sourceErr := r.source.Close()

	if err := r.tmpFile.Close(); err != nil {
		os.Remove(r.tmpFile.Name())
		return sourceErr
	}

	if r.store.hasSpace(r.size) {
		if err := os.Rename(r.tmpFile.Name(), r.cachePath); err != nil {
			os.Remove(r.tmpFile.Name())
			r.store.logger.Warn("failed to move temp file to cache", "error", err)
		} else {
			r.store.updateCacheSize(r.size)
			r.store.logger.Debug("cached blob", "path", r.cachePath, "size", r.size)
		}
	} else {
		os.Remove(r.tmpFile.Name())
		r.store.logger.Debug("blob cache full, not caching", "size", r.size)
	}

	return sourceErr
}

// hasSpace checks if there is room for a file of the given size.
func (s *Store) hasSpace(size int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cacheSize+size <= s.maxSize
}

func (s *Store) updateCacheSize(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheSize += delta
	if s.cacheSize < 0 {
		s.cacheSize = 0
	}
}

// calculateCacheSize scans the cache directory for the initial size.
func (s *Store) calculateCacheSize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var size int64
	if err := filepath.Walk(s.cacheDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	}); err != nil {
		s.logger.Warn("failed to calculate blob cache size", "error", err)
	}
	s.cacheSize = size
}

// cleanupLoop periodically removes entries past the TTL.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *Store) cleanupExpired() {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		s.logger.Warn("failed to read cache dir for cleanup", "error", err)
		return
	}

	now := time.Now()
	var removed int
	var freedBytes int64

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(s.cacheDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if now.Sub(info.ModTime()) > s.ttl {
			if err := os.Remove(path); err == nil {
				removed++
				freedBytes += info.Size()
			}
		}
	}

	if removed > 0 {
		s.updateCacheSize(-freedBytes)
		s.logger.Info("blob cache cleanup", "removed", removed, "freed_bytes", freedBytes)
	}
}
