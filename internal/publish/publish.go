// Package publish uploads staged artifacts and creates the remote objects
// that reference them.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

// DefaultWorkers bounds concurrent uploads and object creates.
const DefaultWorkers = 4

// checkBatch caps the number of hashes sent in one existence check.
const checkBatch = 500

// ArtifactSource reads staged artifact bytes, typically the local cache.
type ArtifactSource interface {
	Get(hash string) ([]byte, error)
}

// UploadError reports an artifact that could not be uploaded. Every object
// referencing the artifact fails with it.
type UploadError struct {
	Hash string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload artifact %s: %v", e.Hash, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Options controls one publish run.
type Options struct {
	// UploadPath is the folder objects are published under.
	UploadPath string
	// Overwrite replaces existing objects at the same path instead of
	// adding a new version.
	Overwrite bool
}

// Result is the outcome for one input object. Exactly one of Metadata and
// Err is set.
type Result struct {
	Object   schema.Object
	Metadata *models.ObjectMetadata
	Err      error
}

// Stats summarizes the artifact traffic of a publish run.
type Stats struct {
	Referenced int
	Uploaded   int
	Reused     int
	Failed     int
}

// Publisher runs the publish protocol against one workspace.
type Publisher struct {
	client  remote.ObjectService
	source  ArtifactSource
	logger  *slog.Logger
	workers int
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithWorkers sets the upload and create concurrency.
func WithWorkers(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Publisher. client should already retry transient failures,
// e.g. a remote.RetryClient.
func New(client remote.ObjectService, source ArtifactSource, opts ...Option) *Publisher {
	p := &Publisher{
		client:  client,
		source:  source,
		logger:  slog.Default(),
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// upload tracks one missing artifact. done is closed once err is final.
type upload struct {
	done chan struct{}
	err  error
}

// Publish makes every artifact referenced by objects present remotely and
// then creates the objects. Results are returned in input order. An object
// whose artifacts could not all be uploaded fails alone; objects that do not
// reference the failed artifact still publish. The returned error is set
// only when the run could not start, e.g. the existence check failed.
func (p *Publisher) Publish(ctx context.Context, objects []schema.Object, opts Options) ([]Result, Stats, error) {
	var stats Stats
	results := make([]Result, len(objects))
	for i, obj := range objects {
		results[i].Object = obj
	}
	if len(objects) == 0 {
		return results, stats, nil
	}

	hashes := unionHashes(objects)
	stats.Referenced = len(hashes)

	missing, err := p.missing(ctx, hashes)
	if err != nil {
		return nil, stats, err
	}
	stats.Reused = len(hashes) - len(missing)

	uploads := make(map[string]*upload, len(missing))
	for _, h := range missing {
		uploads[h] = &upload{done: make(chan struct{})}
	}

	var uploaders errgroup.Group
	uploaders.SetLimit(p.workers)
	for _, h := range missing {
		u := uploads[h]
		uploaders.Go(func() error {
			defer close(u.done)
			u.err = p.upload(ctx, h)
			return nil
		})
	}

	mode := remote.IfExistsVersion
	if opts.Overwrite {
		mode = remote.IfExistsReplace
	}

	var creators errgroup.Group
	creators.SetLimit(p.workers)
	for i := range objects {
		creators.Go(func() error {
			meta, err := p.create(ctx, objects[i], uploads, opts.UploadPath, mode)
			results[i].Metadata, results[i].Err = meta, err
			return nil
		})
	}

	uploaders.Wait()
	creators.Wait()

	for _, u := range uploads {
		if u.err != nil {
			stats.Failed++
		} else {
			stats.Uploaded++
		}
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	p.logger.Info("publish complete",
		"objects", len(objects),
		"failed_objects", failed,
		"artifacts", stats.Referenced,
		"uploaded", stats.Uploaded,
		"reused", stats.Reused,
		"failed_uploads", stats.Failed,
	)
	return results, stats, nil
}

func unionHashes(objects []schema.Object) []string {
	seen := make(map[string]bool)
	var hashes []string
	for _, obj := range objects {
		for _, h := range obj.Hashes() {
			if !seen[h] {
				seen[h] = true
				hashes = append(hashes, h)
			}
		}
	}
	return hashes
}

// missing returns the hashes the remote does not store yet, in input order.
func (p *Publisher) missing(ctx context.Context, hashes []string) ([]string, error) {
	absent := make(map[string]bool)
	for start := 0; start < len(hashes); start += checkBatch {
		end := min(start+checkBatch, len(hashes))
		resp, err := p.client.CheckArtifacts(ctx, hashes[start:end])
		if err != nil {
			return nil, fmt.Errorf("check remote artifacts: %w", err)
		}
		for _, h := range resp.Missing {
			absent[h] = true
		}
	}
	var out []string
	for _, h := range hashes {
		if absent[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (p *Publisher) upload(ctx context.Context, hash string) error {
	data, err := p.source.Get(hash)
	if err != nil {
		p.logger.Warn("artifact not staged", "hash", hash, "error", err)
		return &UploadError{Hash: hash, Err: err}
	}
	if err := p.client.UploadArtifact(ctx, hash, data); err != nil {
		p.logger.Warn("artifact upload failed", "hash", hash, "error", err)
		return &UploadError{Hash: hash, Err: err}
	}
	p.logger.Debug("artifact uploaded", "hash", hash, "bytes", len(data))
	return nil
}

// create waits until every artifact obj references is remote, then creates
// the object.
func (p *Publisher) create(ctx context.Context, obj schema.Object, uploads map[string]*upload, uploadPath string, mode remote.IfExists) (*models.ObjectMetadata, error) {
	name := obj.Name()
	if name == "" {
		return nil, errors.New("object has no name")
	}

	for _, h := range obj.Hashes() {
		u, ok := uploads[h]
		if !ok {
			continue
		}
		select {
		case <-u.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if u.err != nil {
			return nil, fmt.Errorf("object %s: %w", name, u.err)
		}
	}

	path := models.ObjectPath(uploadPath, name)
	meta, err := p.client.CreateObject(ctx, path, obj, mode)
	if err != nil {
		p.logger.Warn("object create failed", "object", name, "path", path, "error", err)
		return nil, err
	}
	p.logger.Debug("object published", "object", name, "object_id", meta.ObjectID, "version_id", meta.VersionID)
	return meta, nil
}

// Err joins the errors of failed results, or returns nil when every object
// was published.
func Err(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}
