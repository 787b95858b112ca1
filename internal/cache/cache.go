// Package cache stores artifacts on local disk under {root}/{hash}.
//
// Entries are written once through a temp file and an atomic rename, so a
// reader never sees a partial file and concurrent writers of the same hash
// cannot corrupt each other.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kilupskalvis/geoconv/internal/artifact"
)

// ErrArtifactNotFound is returned when a hash is not present.
var ErrArtifactNotFound = errors.New("artifact not found")

// ErrHashMismatch is returned when bytes do not hash to the key they are stored under.
var ErrHashMismatch = errors.New("artifact hash mismatch")

// CacheWriteError wraps a failure to persist an artifact.
type CacheWriteError struct {
	Hash string
	Err  error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write %s: %v", e.Hash, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// CacheReadError wraps a disk failure while reading an artifact.
type CacheReadError struct {
	Hash string
	Err  error
}

func (e *CacheReadError) Error() string {
	return fmt.Sprintf("cache read %s: %v", e.Hash, e.Err)
}

func (e *CacheReadError) Unwrap() error { return e.Err }

// Cache is a directory of artifacts keyed by hash. It is safe for
// concurrent use by multiple goroutines and processes.
type Cache struct {
	root string

	mkdirOnce sync.Once
	mkdirErr  error

	memo *lru.Cache[string, []byte]
}

// Option configures a Cache.
type Option func(*Cache) error

// WithMemo keeps up to n recently used artifacts in memory.
func WithMemo(n int) Option {
	return func(c *Cache) error {
		if n <= 0 {
			return nil
		}
		m, err := lru.New[string, []byte](n)
		if err != nil {
			return fmt.Errorf("create memo: %w", err)
		}
		c.memo = m
		return nil
	}
}

// New returns a cache rooted at root. The directory is created on first write.
func New(root string, opts ...Option) (*Cache, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	c := &Cache{root: root}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// Path returns the file path for a hash, whether or not it exists.
func (c *Cache) Path(hash string) string {
	return filepath.Join(c.root, hash)
}

// Put stores data under hash and returns its path. If the hash is already
// present the write is skipped.
func (c *Cache) Put(hash string, data []byte) (string, error) {
	if !artifact.ValidHash(hash) {
		return "", &CacheWriteError{Hash: hash, Err: fmt.Errorf("invalid hash %q", hash)}
	}
	if got := artifact.Hash(data); got != hash {
		return "", &CacheWriteError{Hash: hash, Err: fmt.Errorf("got %s: %w", got, ErrHashMismatch)}
	}

	path := c.Path(hash)
	if _, err := os.Stat(path); err == nil {
		c.remember(hash, data)
		return path, nil
	}

	if err := c.ensureRoot(); err != nil {
		return "", &CacheWriteError{Hash: hash, Err: err}
	}

	tmp, err := os.CreateTemp(c.root, ".tmp-"+hash[:8]+"-*")
	if err != nil {
		return "", &CacheWriteError{Hash: hash, Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", &CacheWriteError{Hash: hash, Err: fmt.Errorf("write: %w", err)}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", &CacheWriteError{Hash: hash, Err: fmt.Errorf("sync: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", &CacheWriteError{Hash: hash, Err: fmt.Errorf("close temp file: %w", err)}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", &CacheWriteError{Hash: hash, Err: fmt.Errorf("rename: %w", err)}
	}

	c.remember(hash, data)
	return path, nil
}

// Get returns the bytes stored under hash.
func (c *Cache) Get(hash string) ([]byte, error) {
	if !artifact.ValidHash(hash) {
		return nil, fmt.Errorf("%s: %w", hash, ErrArtifactNotFound)
	}
	if c.memo != nil {
		if data, ok := c.memo.Get(hash); ok {
			return data, nil
		}
	}

	data, err := os.ReadFile(c.Path(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", hash, ErrArtifactNotFound)
		}
		return nil, &CacheReadError{Hash: hash, Err: err}
	}

	c.remember(hash, data)
	return data, nil
}

// Contains reports whether hash is present without reading it.
func (c *Cache) Contains(hash string) bool {
	if !artifact.ValidHash(hash) {
		return false
	}
	if c.memo != nil && c.memo.Contains(hash) {
		return true
	}
	_, err := os.Stat(c.Path(hash))
	return err == nil
}

// List returns all stored hashes in sorted order.
func (c *Cache) List() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}

	var hashes []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if artifact.ValidHash(e.Name()) {
			hashes = append(hashes, e.Name())
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Stats summarizes the cache contents.
type Stats struct {
	Artifacts int
	Bytes     int64
}

// Size returns the number of artifacts and their total size.
func (c *Cache) Size() (Stats, error) {
	hashes, err := c.List()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, h := range hashes {
		info, err := os.Stat(c.Path(h))
		if err != nil {
			continue
		}
		st.Artifacts++
		st.Bytes += info.Size()
	}
	return st, nil
}

func (c *Cache) ensureRoot() error {
	c.mkdirOnce.Do(func() {
		if err := os.MkdirAll(c.root, 0755); err != nil {
			c.mkdirErr = fmt.Errorf("create cache root: %w", err)
		}
	})
	return c.mkdirErr
}

func (c *Cache) remember(hash string, data []byte) {
	if c.memo != nil {
		c.memo.Add(hash, data)
	}
}
