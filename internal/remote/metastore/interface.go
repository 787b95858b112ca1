// Package metastore provides the server-side object metadata storage abstraction.
package metastore

import (
	"context"
	"errors"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// MetaStore defines the contract for the object metadata of one workspace.
type MetaStore interface {
	// PutObject stores obj at path. A new path creates a new object id; an
	// existing path is versioned or replaced according to mode.
	PutObject(ctx context.Context, path string, obj schema.Object, mode remote.IfExists) (*models.ObjectMetadata, error)

	// GetObject returns one version of an object; an empty version selects
	// the latest. Returns ErrNotFound if either is missing.
	GetObject(ctx context.Context, id, version string) (*remote.ObjectResponse, error)

	// ListObjects returns the latest version of every object whose path
	// starts with prefix, ordered by path.
	ListObjects(ctx context.Context, prefix string) ([]models.ObjectMetadata, error)

	// ReferencedHashes returns every artifact hash referenced by any stored version.
	ReferencedHashes(ctx context.Context) (map[string]bool, error)

	// Counts returns the number of objects and stored versions.
	Counts(ctx context.Context) (objects, versions int, err error)

	// Close releases resources.
	Close() error
}
