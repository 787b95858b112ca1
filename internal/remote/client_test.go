package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

const testHash = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func newTestClient(t *testing.T, h http.Handler, opts ...ClientOption) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(models.WorkspaceContext{
		OrgID:       "acme",
		WorkspaceID: "survey",
		HubURL:      srv.URL + "/",
		Credentials: models.StaticToken("secret"),
	}, opts...)
	require.NoError(t, err)
	return c
}

func TestNewHTTPClient_InvalidWorkspace(t *testing.T) {
	_, err := NewHTTPClient(models.WorkspaceContext{HubURL: "http://hub", OrgID: "a/b", WorkspaceID: "ws"})
	assert.Error(t, err)

	_, err = NewHTTPClient(models.WorkspaceContext{HubURL: "not a url", OrgID: "a", WorkspaceID: "ws"})
	assert.Error(t, err)
}

func TestHTTPClient_CheckArtifacts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orgs/acme/workspaces/survey/artifacts/check", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req ArtifactCheckRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{testHash, "other"}, req.Hashes)
		json.NewEncoder(w).Encode(ArtifactCheckResponse{Have: []string{testHash}, Missing: []string{"other"}})
	})

	c := newTestClient(t, mux)
	resp, err := c.CheckArtifacts(context.Background(), []string{testHash, "other"})
	require.NoError(t, err)
	assert.Equal(t, []string{testHash}, resp.Have)
	assert.Equal(t, []string{"other"}, resp.Missing)
}

func TestHTTPClient_UploadDownloadArtifact(t *testing.T) {
	var stored []byte
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/orgs/acme/workspaces/survey/artifacts/{hash}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testHash, r.PathValue("hash"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		stored, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /api/v1/orgs/acme/workspaces/survey/artifacts/{hash}", func(w http.ResponseWriter, r *http.Request) {
		w.Write(stored)
	})

	c := newTestClient(t, mux)
	require.NoError(t, c.UploadArtifact(context.Background(), testHash, []byte("abc")))
	data, err := c.DownloadArtifact(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestHTTPClient_ArtifactNotFound(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{Error: CodeArtifactNotFound, Message: "no such artifact"})
	})

	c := newTestClient(t, h)
	_, err := c.DownloadArtifact(context.Background(), testHash)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
	assert.NotErrorIs(t, err, ErrObjectNotFound)
}

func TestHTTPClient_CreateObject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orgs/acme/workspaces/survey/objects", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "replace", r.URL.Query().Get("if_exists"))
		var req CreateObjectRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "site/mesh.json", req.Path)
		assert.Equal(t, "mesh", req.Object.Name())
		json.NewEncoder(w).Encode(models.ObjectMetadata{
			ObjectID:   "0b6f1c1e-0000-4000-8000-000000000001",
			VersionID:  "1",
			SchemaName: req.Object.Schema(),
			Path:       req.Path,
			Name:       req.Object.Name(),
			CreatedAt:  time.Unix(0, 0).UTC(),
		})
	})

	c := newTestClient(t, mux)
	obj := schema.Object{"schema": schema.TriangleMeshSchema, "name": "mesh"}
	meta, err := c.CreateObject(context.Background(), "site/mesh.json", obj, IfExistsReplace)
	require.NoError(t, err)
	assert.Equal(t, "1", meta.VersionID)
	assert.Equal(t, schema.TriangleMeshSchema, meta.SchemaName)
	assert.Equal(t, "site", meta.UploadPath())
}

func TestHTTPClient_CreateObjectMissingArtifacts(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:   CodeMissingArtifacts,
			Message: "object references artifacts that are not stored",
			Detail:  map[string]string{"missing": testHash},
		})
	})

	c := newTestClient(t, h)
	_, err := c.CreateObject(context.Background(), "a.json", schema.Object{"name": "a"}, "")
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeMissingArtifacts, re.Code)
	assert.Equal(t, testHash, re.Detail["missing"])
	assert.False(t, isTransient(err))
}

func TestHTTPClient_GetObject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/orgs/acme/workspaces/survey/objects/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "known" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(ErrorResponse{Error: CodeObjectNotFound, Message: "object not found"})
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("version"))
		json.NewEncoder(w).Encode(ObjectResponse{
			Metadata: models.ObjectMetadata{ObjectID: "known", VersionID: "2"},
			Object:   schema.Object{"name": "grid"},
		})
	})

	c := newTestClient(t, mux)
	resp, err := c.GetObject(context.Background(), "known", "2")
	require.NoError(t, err)
	assert.Equal(t, "grid", resp.Object.Name())

	_, err = c.GetObject(context.Background(), "missing", "2")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestHTTPClient_ListObjectsAndInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/orgs/acme/workspaces/survey/objects", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "site/", r.URL.Query().Get("prefix"))
		json.NewEncoder(w).Encode(ObjectList{Objects: []models.ObjectMetadata{{ObjectID: "a"}, {ObjectID: "b"}}})
	})
	mux.HandleFunc("GET /api/v1/orgs/acme/workspaces/survey/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(WorkspaceInfo{ObjectCount: 2, VersionCount: 3, ArtifactCount: 7})
	})

	c := newTestClient(t, mux)
	objs, err := c.ListObjects(context.Background(), "site/")
	require.NoError(t, err)
	assert.Len(t, objs, 2)

	info, err := c.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, info.ArtifactCount)
}

func TestHTTPClient_RateLimit(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(WorkspaceInfo{})
	})

	c := newTestClient(t, h, WithRateLimit(1000, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetInfo(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(0), calls.Load())

	_, err = c.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_UnstructuredError(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	c := newTestClient(t, h)
	err := c.UploadArtifact(context.Background(), testHash, []byte("abc"))
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "unknown", re.Code)
	assert.True(t, isTransient(err))
}
