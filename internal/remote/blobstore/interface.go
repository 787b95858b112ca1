// Package blobstore holds the published artifacts of a workspace, keyed by
// their content hash.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kilupskalvis/geoconv/internal/artifact"
)

var (
	ErrBlobNotFound = errors.New("artifact not found")
	ErrHashMismatch = errors.New("artifact hash mismatch")
)

// BlobStore stores the artifacts of one workspace. Artifacts are immutable:
// a Put of a hash that is already present is accepted without rewriting it.
type BlobStore interface {
	Has(ctx context.Context, hash string) (bool, error)

	// Get returns ErrBlobNotFound for an absent or malformed hash.
	Get(ctx context.Context, hash string) (io.ReadCloser, error)

	// Put stores the bytes read from r under hash. The data must hash to
	// hash or ErrHashMismatch is returned and nothing is stored.
	Put(ctx context.Context, hash string, r io.Reader) error

	// Delete is a no-op for absent artifacts.
	Delete(ctx context.Context, hash string) error

	TotalCount(ctx context.Context) (int, error)
	ListHashes(ctx context.Context) ([]string, error)
}

// Stater is implemented by stores that can report when an artifact was
// written.
type Stater interface {
	// ModTime returns ErrBlobNotFound for an absent artifact.
	ModTime(ctx context.Context, hash string) (time.Time, error)
}

// shard is the two-character fan-out directory of hash.
func shard(hash string) string {
	return hash[:2]
}

func checkHash(hash string) error {
	if !artifact.ValidHash(hash) {
		return fmt.Errorf("invalid artifact hash: %q", hash)
	}
	return nil
}

func verify(want, got string) error {
	if got != want {
		return fmt.Errorf("expected %s, got %s: %w", want, got, ErrHashMismatch)
	}
	return nil
}
