// Package retrieve fetches remote objects and materializes them into
// in-memory geometry through the local artifact cache.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kilupskalvis/geoconv/internal/artifact"
	"github.com/kilupskalvis/geoconv/internal/cache"
	"github.com/kilupskalvis/geoconv/internal/geo"
	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

// DefaultWorkers bounds concurrent downloads and object fetches.
const DefaultWorkers = 4

// ArtifactStore is the local side of retrieval, typically *cache.Cache.
type ArtifactStore interface {
	Contains(hash string) bool
	Get(hash string) ([]byte, error)
	Put(hash string, data []byte) (string, error)
}

// Retriever downloads objects and their artifacts from one workspace.
type Retriever struct {
	client  remote.ObjectService
	store   ArtifactStore
	logger  *slog.Logger
	workers int
	flight  singleflight.Group
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithWorkers sets the download concurrency.
func WithWorkers(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Retriever.
func New(client remote.ObjectService, store ArtifactStore, opts ...Option) *Retriever {
	r := &Retriever{
		client:  client,
		store:   store,
		logger:  slog.Default(),
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchMetadata returns the stored object for ref. A missing object is
// reported as remote.ErrObjectNotFound.
func (r *Retriever) FetchMetadata(ctx context.Context, ref models.ObjectRef) (*remote.ObjectResponse, error) {
	if ref.ObjectID == "" {
		return nil, errors.New("object id is required")
	}
	resp, err := r.client.GetObject(ctx, ref.ObjectID, ref.VersionID)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Materialize downloads every artifact obj references that is not cached
// yet and decodes obj into geometry. An artifact missing remotely fails
// with cache.ErrArtifactNotFound.
func (r *Retriever) Materialize(ctx context.Context, obj schema.Object) (geo.Element, error) {
	if err := r.ensure(ctx, obj.Hashes()); err != nil {
		return nil, fmt.Errorf("object %s: %w", obj.Name(), err)
	}
	el, err := schema.Decode(obj, r.store)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", obj.Name(), err)
	}
	return el, nil
}

// ensure makes every hash present in the local store. A download may be
// shared with other objects, so it runs detached from this object's
// cancellation; the caller stops waiting when its own context ends.
func (r *Retriever) ensure(ctx context.Context, hashes []string) error {
	shared := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, h := range hashes {
		if r.store.Contains(h) {
			continue
		}
		g.Go(func() error {
			ch := r.flight.DoChan(h, func() (any, error) {
				return nil, r.download(shared, h)
			})
			select {
			case res := <-ch:
				return res.Err
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

func (r *Retriever) download(ctx context.Context, hash string) error {
	if r.store.Contains(hash) {
		return nil
	}
	data, err := r.client.DownloadArtifact(ctx, hash)
	if err != nil {
		if errors.Is(err, remote.ErrArtifactNotFound) {
			return fmt.Errorf("artifact %s: %w", hash, cache.ErrArtifactNotFound)
		}
		return fmt.Errorf("download artifact %s: %w", hash, err)
	}
	if got := artifact.Hash(data); got != hash {
		return fmt.Errorf("artifact %s: downloaded content hashes to %s: %w", hash, got, cache.ErrHashMismatch)
	}
	if _, err := r.store.Put(hash, data); err != nil {
		return err
	}
	r.logger.Debug("artifact downloaded", "hash", hash, "bytes", len(data))
	return nil
}

// Fetched is the outcome for one requested object.
type Fetched struct {
	Ref      models.ObjectRef
	Metadata *models.ObjectMetadata
	Object   schema.Object
	Element  geo.Element
	Err      error
}

// Fetch retrieves and materializes refs concurrently. Results are in input
// order; a failure affects only its own entry.
func (r *Retriever) Fetch(ctx context.Context, refs []models.ObjectRef) []Fetched {
	out := make([]Fetched, len(refs))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, ref := range refs {
		out[i].Ref = ref
		g.Go(func() error {
			resp, err := r.FetchMetadata(ctx, ref)
			if err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Metadata = &resp.Metadata
			out[i].Object = resp.Object
			out[i].Element, out[i].Err = r.Materialize(ctx, resp.Object)
			return nil
		})
	}
	g.Wait()

	for _, f := range out {
		if f.Err != nil {
			r.logger.Warn("object fetch failed", "object", f.Ref.String(), "error", f.Err)
		}
	}
	return out
}
