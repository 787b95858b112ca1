// Package remote defines the object service protocol and its HTTP client.
package remote

import (
	"fmt"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

// IfExists selects what the service does when an object already exists at
// the requested path.
type IfExists string

const (
	// IfExistsVersion appends a new version under the existing object id.
	// Publishing content identical to the latest version returns that
	// version unchanged.
	IfExistsVersion IfExists = "version"
	// IfExistsReplace drops previous versions and stores a single new one.
	IfExistsReplace IfExists = "replace"
)

// ParseIfExists validates a query value; empty means IfExistsVersion.
func ParseIfExists(s string) (IfExists, error) {
	switch IfExists(s) {
	case "", IfExistsVersion:
		return IfExistsVersion, nil
	case IfExistsReplace:
		return IfExistsReplace, nil
	}
	return "", fmt.Errorf("if_exists must be %q or %q", IfExistsVersion, IfExistsReplace)
}

// ArtifactCheckRequest asks the service which artifacts it already stores.
type ArtifactCheckRequest struct {
	Hashes []string `json:"hashes"`
}

// ArtifactCheckResponse partitions the requested hashes.
type ArtifactCheckResponse struct {
	Have    []string `json:"have"`
	Missing []string `json:"missing"`
}

// CreateObjectRequest publishes an object document at a path.
type CreateObjectRequest struct {
	Path   string        `json:"path"`
	Object schema.Object `json:"object"`
}

// ObjectResponse is a stored object version with its metadata.
type ObjectResponse struct {
	Metadata models.ObjectMetadata `json:"metadata"`
	Object   schema.Object         `json:"object"`
}

// ObjectList is the response of the object listing endpoint.
type ObjectList struct {
	Objects []models.ObjectMetadata `json:"objects"`
}

// WorkspaceInfo contains summary information about a workspace.
type WorkspaceInfo struct {
	ObjectCount   int `json:"object_count"`
	VersionCount  int `json:"version_count"`
	ArtifactCount int `json:"artifact_count"`
}

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// Error codes the server uses for conditions clients act on.
const (
	CodeObjectNotFound   = "object_not_found"
	CodeArtifactNotFound = "artifact_not_found"
	CodeMissingArtifacts = "missing_artifacts"
	CodeHashMismatch     = "hash_mismatch"
	CodeInvalidObject    = "invalid_object"
	CodeTooLarge         = "too_large"
)
