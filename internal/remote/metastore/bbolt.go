package metastore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	bolt "go.etcd.io/bbolt"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

var (
	bucketObjects  = []byte("objects")
	bucketVersions = []byte("versions")
	bucketPaths    = []byte("paths")
)

// objectRecord is the per-object entry keyed by object id.
type objectRecord struct {
	ObjectID      string `json:"object_id"`
	Path          string `json:"path"`
	LatestVersion int    `json:"latest_version"`
}

// versionRecord is one stored version keyed by "<object id>:<%08d version>".
type versionRecord struct {
	Metadata    models.ObjectMetadata `json:"metadata"`
	ContentHash string                `json:"content_hash"`
	Hashes      []string              `json:"hashes"`
	Object      json.RawMessage       `json:"object"`
}

// BboltStore implements MetaStore using bbolt.
type BboltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBboltStore opens or creates a bbolt database at the given path.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create meta directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open meta database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketObjects, bucketVersions, bucketPaths} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BboltStore{db: db, now: time.Now}, nil
}

// Close releases the bbolt database.
func (s *BboltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func versionKey(id string, version int) []byte {
	return []byte(fmt.Sprintf("%s:%08d", id, version))
}

// ContentHash returns the sha256 of the canonical (RFC 8785) JSON form of
// obj, ignoring the server-assigned uuid.
func ContentHash(obj schema.Object) (string, error) {
	doc := obj.Clone()
	delete(doc, "uuid")
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize object: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// PutObject stores a new version of the object at path.
func (s *BboltStore) PutObject(_ context.Context, path string, obj schema.Object, mode remote.IfExists) (*models.ObjectMetadata, error) {
	if path == "" {
		return nil, fmt.Errorf("object path is required")
	}
	contentHash, err := ContentHash(obj)
	if err != nil {
		return nil, err
	}

	var meta *models.ObjectMetadata
	err = s.db.Update(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		versions := tx.Bucket(bucketVersions)
		paths := tx.Bucket(bucketPaths)

		var rec objectRecord
		if id := paths.Get([]byte(path)); id != nil {
			data := objects.Get(id)
			if data == nil {
				return fmt.Errorf("path %s points at missing object %s", path, id)
			}
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("unmarshal object: %w", err)
			}

			latest, err := getVersion(versions, rec.ObjectID, rec.LatestVersion)
			if err != nil {
				return err
			}
			if mode != remote.IfExistsReplace && latest.ContentHash == contentHash {
				meta = &latest.Metadata
				return nil
			}
			if mode == remote.IfExistsReplace {
				if err := deleteVersions(versions, rec.ObjectID); err != nil {
					return err
				}
			}
		} else {
			rec = objectRecord{ObjectID: uuid.NewString(), Path: path}
			if err := paths.Put([]byte(path), []byte(rec.ObjectID)); err != nil {
				return fmt.Errorf("store path: %w", err)
			}
		}

		rec.LatestVersion++
		stored := obj.Clone()
		stored["uuid"] = rec.ObjectID
		body, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshal object: %w", err)
		}

		v := versionRecord{
			Metadata: models.ObjectMetadata{
				ObjectID:   rec.ObjectID,
				VersionID:  strconv.Itoa(rec.LatestVersion),
				SchemaName: obj.Schema(),
				Path:       path,
				Name:       obj.Name(),
				CreatedAt:  s.now().UTC(),
			},
			ContentHash: contentHash,
			Hashes:      obj.Hashes(),
			Object:      body,
		}
		vdata, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal version: %w", err)
		}
		if err := versions.Put(versionKey(rec.ObjectID, rec.LatestVersion), vdata); err != nil {
			return fmt.Errorf("store version: %w", err)
		}

		rdata, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal object: %w", err)
		}
		if err := objects.Put([]byte(rec.ObjectID), rdata); err != nil {
			return fmt.Errorf("store object: %w", err)
		}
		meta = &v.Metadata
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func getVersion(b *bolt.Bucket, id string, version int) (*versionRecord, error) {
	data := b.Get(versionKey(id, version))
	if data == nil {
		return nil, ErrNotFound
	}
	var v versionRecord
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal version: %w", err)
	}
	return &v, nil
}

func deleteVersions(b *bolt.Bucket, id string) error {
	prefix := id + ":"
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return fmt.Errorf("delete version: %w", err)
		}
	}
	return nil
}

// GetObject retrieves an object version. Returns ErrNotFound if missing.
func (s *BboltStore) GetObject(_ context.Context, id, version string) (*remote.ObjectResponse, error) {
	var resp *remote.ObjectResponse
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketObjects).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var rec objectRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal object: %w", err)
		}

		n := rec.LatestVersion
		if version != "" {
			var err error
			if n, err = strconv.Atoi(version); err != nil || n < 1 {
				return ErrNotFound
			}
		}
		v, err := getVersion(tx.Bucket(bucketVersions), id, n)
		if err != nil {
			return err
		}
		obj, err := schema.ParseObject(v.Object)
		if err != nil {
			return err
		}
		resp = &remote.ObjectResponse{Metadata: v.Metadata, Object: obj}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ListObjects returns the latest version metadata of objects under prefix.
func (s *BboltStore) ListObjects(_ context.Context, prefix string) ([]models.ObjectMetadata, error) {
	list := []models.ObjectMetadata{}
	err := s.db.View(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		versions := tx.Bucket(bucketVersions)
		c := tx.Bucket(bucketPaths).Cursor()
		for k, id := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, id = c.Next() {
			var rec objectRecord
			if err := json.Unmarshal(objects.Get(id), &rec); err != nil {
				return fmt.Errorf("unmarshal object %s: %w", id, err)
			}
			v, err := getVersion(versions, rec.ObjectID, rec.LatestVersion)
			if err != nil {
				return err
			}
			list = append(list, v.Metadata)
		}
		return nil
	})
	return list, err
}

// ReferencedHashes collects the artifact hashes of every stored version.
func (s *BboltStore) ReferencedHashes(_ context.Context) (map[string]bool, error) {
	hashes := make(map[string]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVersions).ForEach(func(_, data []byte) error {
			var v versionRecord
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("unmarshal version: %w", err)
			}
			for _, h := range v.Hashes {
				hashes[h] = true
			}
			return nil
		})
	})
	return hashes, err
}

// Counts returns the number of objects and stored versions.
func (s *BboltStore) Counts(_ context.Context) (objects, versions int, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		objects = tx.Bucket(bucketObjects).Stats().KeyN
		versions = tx.Bucket(bucketVersions).Stats().KeyN
		return nil
	})
	return objects, versions, err
}
