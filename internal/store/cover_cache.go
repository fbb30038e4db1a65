// Package store keeps downloaded preview covers on disk behind an LRU cache.
package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const coverFilePrefix = "preview_cover_"

// CoverCache maps video identifiers to cover files in dir. Evicted entries
// have their file deleted, so at most size cover files exist at a time.
type CoverCache struct {
	dir    string
	lru    *lru.Cache[string, string]
	logger *zap.Logger
	mutex  sync.Mutex
}

// NewCoverCache creates a cache holding up to size covers in dir.
func NewCoverCache(dir string, size int, logger *zap.Logger) (*CoverCache, error) {
	if size <= 0 {
		size = 1
	}
	if dir == "" {
		dir = os.TempDir()
	}

	c := &CoverCache{dir: dir, logger: logger}
	cache, err := lru.NewWithEvict[string, string](size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create cover cache: %w", err)
	}
	c.lru = cache
	return c, nil
}

// Get returns the cover file for key if it is cached and still on disk.
func (c *CoverCache) Get(key string) (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.get(key)
}

// GetOrFetch returns the cached cover for key, or calls fetch to write it
// to a fresh file first. A failed fetch leaves nothing behind.
func (c *CoverCache) GetOrFetch(
	ctx context.Context,
	key string,
	fetch func(ctx context.Context, dst string) error,
) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if path, ok := c.get(key); ok {
		return path, nil
	}

	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create cover directory: %w", err)
	}

	id := uuid.New()
	path := filepath.Join(c.dir, coverFilePrefix+hex.EncodeToString(id[:])+".jpg")
	if err := fetch(ctx, path); err != nil {
		c.removeFile(path)
		return "", err
	}

	c.lru.Add(key, path)
	c.logger.Debug("Cached preview cover", zap.String("key", key), zap.String("path", path))
	return path, nil
}

// Len returns the number of cached covers.
func (c *CoverCache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry and deletes its file.
func (c *CoverCache) Purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lru.Purge()
}

// Close deletes all cover files. It is safe to call more than once.
func (c *CoverCache) Close() error {
	c.Purge()
	return nil
}

func (c *CoverCache) get(key string) (string, bool) {
	path, ok := c.lru.Get(key)
	if !ok {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		c.lru.Remove(key)
		return "", false
	}
	return path, true
}

func (c *CoverCache) onEvict(key, path string) {
	c.logger.Debug("Evicting preview cover", zap.String("key", key), zap.String("path", path))
	c.removeFile(path)
}

func (c *CoverCache) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("Failed to remove cover file", zap.String("path", path), zap.Error(err))
	}
}
