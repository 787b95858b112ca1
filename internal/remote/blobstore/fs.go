package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kilupskalvis/geoconv/internal/artifact"
)

// FSStore keeps artifacts on the local filesystem as <root>/<hash[:2]>/<hash>,
// the same layout S3Store uses for its keys.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(hash string) string {
	return filepath.Join(s.root, shard(hash), hash)
}

func (s *FSStore) Has(_ context.Context, hash string) (bool, error) {
	if !artifact.ValidHash(hash) {
		return false, nil
	}
	_, err := os.Stat(s.path(hash))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat artifact %s: %w", hash, err)
	}
}

func (s *FSStore) ModTime(_ context.Context, hash string) (time.Time, error) {
	if !artifact.ValidHash(hash) {
		return time.Time{}, ErrBlobNotFound
	}
	info, err := os.Stat(s.path(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, ErrBlobNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("stat artifact %s: %w", hash, err)
	}
	return info.ModTime(), nil
}

func (s *FSStore) Get(_ context.Context, hash string) (io.ReadCloser, error) {
	if !artifact.ValidHash(hash) {
		return nil, ErrBlobNotFound
	}
	f, err := os.Open(s.path(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", hash, err)
	}
	return f, nil
}

// Put streams r into a temp file next to its final location, hashing as it
// goes, and renames it into place once the hash matches.
func (s *FSStore) Put(ctx context.Context, hash string, r io.Reader) error {
	if err := checkHash(hash); err != nil {
		return err
	}
	if ok, err := s.Has(ctx, hash); err != nil || ok {
		return err
	}

	dir := filepath.Join(s.root, shard(hash))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		return fmt.Errorf("write artifact %s: %w", hash, err)
	}
	if err := verify(hash, hex.EncodeToString(h.Sum(nil))); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync artifact %s: %w", hash, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact %s: %w", hash, err)
	}
	if err := os.Rename(tmp.Name(), s.path(hash)); err != nil {
		return fmt.Errorf("commit artifact %s: %w", hash, err)
	}
	committed = true
	return nil
}

func (s *FSStore) Delete(_ context.Context, hash string) error {
	if !artifact.ValidHash(hash) {
		return nil
	}
	if err := os.Remove(s.path(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete artifact %s: %w", hash, err)
	}
	return nil
}

func (s *FSStore) TotalCount(ctx context.Context) (int, error) {
	hashes, err := s.ListHashes(ctx)
	return len(hashes), err
}

// ListHashes returns every stored hash in sorted order. In-flight uploads
// and stray files are ignored.
func (s *FSStore) ListHashes(ctx context.Context) ([]string, error) {
	shards, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	var hashes []string
	for _, sh := range shards {
		if !sh.IsDir() || len(sh.Name()) != 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(filepath.Join(s.root, sh.Name()))
		if err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.Type().IsRegular() && artifact.ValidHash(name) && shard(name) == sh.Name() {
				hashes = append(hashes, name)
			}
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}
