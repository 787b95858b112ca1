package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/geoconv/internal/remote"
	"github.com/kilupskalvis/geoconv/internal/remote/blobstore"
	"github.com/kilupskalvis/geoconv/internal/remote/metastore"
)

const gcWorkers = 8

// GCOptions tunes a collection run.
type GCOptions struct {
	// Grace spares unreferenced artifacts written within this window. A
	// publish uploads its artifacts before it stores the object that
	// references them.
	Grace time.Duration

	// DryRun reports what would be deleted without deleting it.
	DryRun bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// GarbageCollect deletes the artifacts of a workspace that no stored object
// version references. Failed deletes are logged and counted as kept.
func GarbageCollect(ctx context.Context, meta metastore.MetaStore, blobs blobstore.BlobStore, opts GCOptions, logger *slog.Logger) (*remote.GCResult, error) {
	referenced, err := meta.ReferencedHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("get referenced hashes: %w", err)
	}
	stored, err := blobs.ListHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list artifact hashes: %w", err)
	}

	result := &remote.GCResult{ArtifactsScanned: len(stored), DryRun: opts.DryRun}
	var orphans []string
	for _, hash := range stored {
		if referenced[hash] {
			result.ArtifactsKept++
			continue
		}
		orphans = append(orphans, hash)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	cutoff := now().Add(-opts.Grace)
	stater, canStat := blobs.(blobstore.Stater)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gcWorkers)
	for _, hash := range orphans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if opts.Grace > 0 && canStat {
				mod, err := stater.ModTime(gctx, hash)
				if err == nil && mod.After(cutoff) {
					mu.Lock()
					result.ArtifactsRecent++
					result.ArtifactsKept++
					mu.Unlock()
					return nil
				}
			}
			if !opts.DryRun {
				if err := blobs.Delete(gctx, hash); err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					logger.Warn("gc: failed to delete artifact", "hash", hash, "error", err)
					mu.Lock()
					result.ArtifactsKept++
					mu.Unlock()
					return nil
				}
			}
			logger.Debug("gc: unreferenced artifact", "hash", hash, "dry_run", opts.DryRun)
			mu.Lock()
			result.ArtifactsDeleted++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("gc complete",
		"scanned", result.ArtifactsScanned,
		"kept", result.ArtifactsKept,
		"recent", result.ArtifactsRecent,
		"deleted", result.ArtifactsDeleted,
		"dry_run", opts.DryRun,
	)
	return result, nil
}
