package models

import (
	"path"
	"strings"
	"time"
)

// ObjectMetadata is the identity the remote service assigns to a published
// object version.
type ObjectMetadata struct {
	ObjectID   string    `json:"object_id"`
	VersionID  string    `json:"version_id"`
	SchemaName string    `json:"schema_name"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// UploadPath returns the folder the object was published under.
func (m *ObjectMetadata) UploadPath() string {
	dir := path.Dir(m.Path)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// ObjectRef identifies an object, optionally pinned to a version. An empty
// VersionID means the latest version.
type ObjectRef struct {
	ObjectID  string `json:"object_id"`
	VersionID string `json:"version_id,omitempty"`
}

func (r ObjectRef) String() string {
	if r.VersionID == "" {
		return r.ObjectID
	}
	return r.ObjectID + "@" + r.VersionID
}

// ParseObjectRef parses "id" or "id@version".
func ParseObjectRef(s string) ObjectRef {
	id, version, _ := strings.Cut(s, "@")
	return ObjectRef{ObjectID: id, VersionID: version}
}

// ObjectPath joins an upload path and an object name into the remote path
// "<upload_path>/<name>.json".
func ObjectPath(uploadPath, name string) string {
	file := name + ".json"
	uploadPath = strings.Trim(uploadPath, "/")
	if uploadPath == "" {
		return file
	}
	return uploadPath + "/" + file
}
