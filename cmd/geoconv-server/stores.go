package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote/blobstore"
	"github.com/kilupskalvis/geoconv/internal/remote/metastore"
)

// blobFactory opens the artifact store of one workspace; dir is the
// workspace's data directory.
type blobFactory func(org, ws, dir string) (blobstore.BlobStore, error)

func fsBlobs(_, _, dir string) (blobstore.BlobStore, error) {
	return blobstore.NewFSStore(filepath.Join(dir, "artifacts"))
}

func s3Blobs(client blobstore.S3API, bucket string) blobFactory {
	return func(org, ws, _ string) (blobstore.BlobStore, error) {
		return blobstore.NewS3Store(client, bucket, org+"/"+ws+"/"), nil
	}
}

// diskWorkspaceOpener keeps one bbolt metastore per workspace under
// <root>/<org>/<ws>, opening them lazily. Workspaces are created on first
// use.
type diskWorkspaceOpener struct {
	root     string
	newBlobs blobFactory
	mu       sync.RWMutex
	stores   map[string]*workspaceEntry
	logger   *slog.Logger
}

type workspaceEntry struct {
	meta  metastore.MetaStore
	blobs blobstore.BlobStore
}

func newDiskWorkspaceOpener(root string, logger *slog.Logger) *diskWorkspaceOpener {
	return &diskWorkspaceOpener{
		root:     root,
		newBlobs: fsBlobs,
		stores:   make(map[string]*workspaceEntry),
		logger:   logger,
	}
}

func (d *diskWorkspaceOpener) Open(org, ws string) (metastore.MetaStore, blobstore.BlobStore, error) {
	key := models.WorkspaceKey(org, ws)

	d.mu.RLock()
	entry, ok := d.stores[key]
	d.mu.RUnlock()
	if ok {
		return entry.meta, entry.blobs, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after write lock
	if entry, ok := d.stores[key]; ok {
		return entry.meta, entry.blobs, nil
	}

	// Validate names to prevent path traversal
	if !models.ValidSegment(org) || !models.ValidSegment(ws) {
		return nil, nil, fmt.Errorf("invalid workspace: %q", key)
	}

	dir := filepath.Join(d.root, org, ws)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create workspace %s: %w", key, err)
	}

	meta, err := metastore.NewBboltStore(filepath.Join(dir, "meta.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open metastore for %s: %w", key, err)
	}

	blobs, err := d.newBlobs(org, ws, dir)
	if err != nil {
		meta.Close()
		return nil, nil, fmt.Errorf("open blobstore for %s: %w", key, err)
	}

	d.stores[key] = &workspaceEntry{meta: meta, blobs: blobs}
	d.logger.Info("opened workspace", "workspace", key)

	return meta, blobs, nil
}

// List returns "org/ws" for every workspace directory.
func (d *diskWorkspaceOpener) List() ([]string, error) {
	orgs, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	var out []string
	for _, org := range orgs {
		if !org.IsDir() {
			continue
		}
		wss, err := os.ReadDir(filepath.Join(d.root, org.Name()))
		if err != nil {
			return nil, fmt.Errorf("list workspaces: %w", err)
		}
		for _, ws := range wss {
			if ws.IsDir() {
				out = append(out, models.WorkspaceKey(org.Name(), ws.Name()))
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *diskWorkspaceOpener) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, entry := range d.stores {
		if err := entry.meta.Close(); err != nil {
			d.logger.Error("close metastore", "workspace", key, "error", err)
		}
	}
	d.stores = make(map[string]*workspaceEntry)
}
