package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/geoconv/internal/artifact"
	"github.com/kilupskalvis/geoconv/internal/geo"
	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote"
	"github.com/kilupskalvis/geoconv/internal/remote/blobstore"
	"github.com/kilupskalvis/geoconv/internal/remote/metastore"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

// testWorkspaceOpener implements WorkspaceOpener on temp directories.
type testWorkspaceOpener struct {
	t    *testing.T
	mu   sync.Mutex
	root string
	open map[string]*testWorkspace
}

type testWorkspace struct {
	meta  *metastore.BboltStore
	blobs *blobstore.FSStore
}

func newTestWorkspaceOpener(t *testing.T) *testWorkspaceOpener {
	return &testWorkspaceOpener{t: t, root: t.TempDir(), open: make(map[string]*testWorkspace)}
}

func (o *testWorkspaceOpener) Open(org, ws string) (metastore.MetaStore, blobstore.BlobStore, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := models.WorkspaceKey(org, ws)
	if w, ok := o.open[key]; ok {
		return w.meta, w.blobs, nil
	}
	dir := filepath.Join(o.root, org, ws)
	meta, err := metastore.NewBboltStore(filepath.Join(dir, "meta.db"))
	if err != nil {
		return nil, nil, err
	}
	o.t.Cleanup(func() { meta.Close() })
	blobs, err := blobstore.NewFSStore(filepath.Join(dir, "artifacts"))
	if err != nil {
		return nil, nil, err
	}
	o.open[key] = &testWorkspace{meta: meta, blobs: blobs}
	return meta, blobs, nil
}

func (o *testWorkspaceOpener) List() ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var keys []string
	for k := range o.open {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// testTokenStore implements TokenStore for tests.
type testTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*TokenInfo
}

func (t *testTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens[hash], nil
}

func (t *testTokenStore) UpdateLastUsed(id string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for hash, tok := range t.tokens {
		if tok.ID == id {
			updated := *tok
			updated.LastUsedAt = &at
			t.tokens[hash] = &updated
		}
	}
	return nil
}

func (t *testTokenStore) ListTokens() ([]*TokenInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tokens := make([]*TokenInfo, 0, len(t.tokens))
	for _, tok := range t.tokens {
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (t *testTokenStore) DeleteToken(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for hash, tok := range t.tokens {
		if tok.ID == id {
			delete(t.tokens, hash)
			return nil
		}
	}
	return fmt.Errorf("token '%s' not found", id)
}

func (t *testTokenStore) CreateToken(desc string, workspaces []string, permission string) (string, *TokenInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rawToken := "test-created-token"
	tokenHash := HashToken(rawToken)
	info := &TokenInfo{
		ID:         "tok-new",
		TokenHash:  tokenHash,
		Desc:       desc,
		Workspaces: workspaces,
		Permission: permission,
	}
	t.tokens[tokenHash] = info
	return rawToken, info, nil
}

func (t *testTokenStore) add(raw, id string, workspaces []string, permission string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[HashToken(raw)] = &TokenInfo{ID: id, TokenHash: HashToken(raw), Workspaces: workspaces, Permission: permission}
}

const (
	testToken  = "test-token-123"
	adminToken = "admin-secret"
)

type testServer struct {
	*httptest.Server
	workspaces *testWorkspaceOpener
	tokens     *testTokenStore
}

func newTestServer(t *testing.T, mutate ...func(*ServerConfig)) *testServer {
	t.Helper()

	workspaces := newTestWorkspaceOpener(t)
	tokens := &testTokenStore{tokens: make(map[string]*TokenInfo)}
	tokens.add(testToken, "tok-1", []string{"*"}, "rw")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := DefaultServerConfig()
	cfg.AdminToken = adminToken
	cfg.Registry = prometheus.NewRegistry()
	for _, m := range mutate {
		m(cfg)
	}

	handler, cleanup, err := Handler(workspaces, tokens, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, workspaces: workspaces, tokens: tokens}
}

func (s *testServer) client(t *testing.T, token, org, ws string) *remote.HTTPClient {
	t.Helper()
	c, err := remote.NewHTTPClient(models.WorkspaceContext{
		OrgID:       org,
		WorkspaceID: ws,
		HubURL:      s.URL,
		Credentials: models.StaticToken(token),
	})
	require.NoError(t, err)
	return c
}

// artifactSet collects the artifacts a builder stages.
type artifactSet struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (a *artifactSet) Put(hash string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[hash] = data
	return hash, nil
}

func buildMesh(t *testing.T, name string, values []float64) (schema.Object, *artifactSet) {
	t.Helper()
	set := &artifactSet{data: make(map[string][]byte)}
	mesh := &geo.TriangleMesh{
		Name:               name,
		Vertices:           [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 1}},
		Faces:              [][]uint64{{0, 1, 2}, {1, 3, 2}},
		TriangleAttributes: []geo.Attribute{geo.ContinuousAttribute("thickness", values)},
	}
	obj, err := schema.NewBuilder(set).Build(mesh, schema.Options{CRS: geo.EPSG(32633)})
	require.NoError(t, err)
	return obj, set
}

func uploadAll(t *testing.T, c *remote.HTTPClient, set *artifactSet) {
	t.Helper()
	for hash, data := range set.data {
		require.NoError(t, c.UploadArtifact(context.Background(), hash, data))
	}
}

func TestHandler_PublishFlow(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := srv.client(t, testToken, "acme", "survey")

	obj, set := buildMesh(t, "surface", []float64{1.0, 2.0})
	hashes := obj.Hashes()
	require.Len(t, hashes, 3)

	check, err := c.CheckArtifacts(ctx, hashes)
	require.NoError(t, err)
	assert.Empty(t, check.Have)
	assert.ElementsMatch(t, hashes, check.Missing)

	uploadAll(t, c, set)

	check, err = c.CheckArtifacts(ctx, hashes)
	require.NoError(t, err)
	assert.ElementsMatch(t, hashes, check.Have)
	assert.Empty(t, check.Missing)

	meta, err := c.CreateObject(ctx, "site/surface.json", obj, remote.IfExistsVersion)
	require.NoError(t, err)
	assert.Equal(t, "1", meta.VersionID)
	assert.Equal(t, schema.TriangleMeshSchema, meta.SchemaName)
	assert.Equal(t, "site", meta.UploadPath())

	got, err := c.GetObject(ctx, meta.ObjectID, "")
	require.NoError(t, err)
	assert.Equal(t, meta.ObjectID, got.Object["uuid"])
	assert.Equal(t, hashes, got.Object.Hashes())

	data, err := c.DownloadArtifact(ctx, hashes[0])
	require.NoError(t, err)
	assert.Equal(t, set.data[hashes[0]], data)

	list, err := c.ListObjects(ctx, "site/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, meta.ObjectID, list[0].ObjectID)

	info, err := c.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, &remote.WorkspaceInfo{ObjectCount: 1, VersionCount: 1, ArtifactCount: 3}, info)
}

func TestHandler_RepublishIdentical(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := srv.client(t, testToken, "acme", "survey")

	obj, set := buildMesh(t, "surface", []float64{1.0, 2.0})
	uploadAll(t, c, set)

	first, err := c.CreateObject(ctx, "surface.json", obj, remote.IfExistsVersion)
	require.NoError(t, err)
	again, err := c.CreateObject(ctx, "surface.json", obj, remote.IfExistsVersion)
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, again.VersionID)

	changed, set2 := buildMesh(t, "surface", []float64{3.0, 4.0})
	uploadAll(t, c, set2)
	second, err := c.CreateObject(ctx, "surface.json", changed, remote.IfExistsVersion)
	require.NoError(t, err)
	assert.Equal(t, first.ObjectID, second.ObjectID)
	assert.Equal(t, "2", second.VersionID)

	replaced, err := c.CreateObject(ctx, "surface.json", obj, remote.IfExistsReplace)
	require.NoError(t, err)
	assert.Equal(t, "3", replaced.VersionID)
	_, err = c.GetObject(ctx, first.ObjectID, "1")
	assert.ErrorIs(t, err, remote.ErrObjectNotFound)
}

func TestHandler_CreateObject_MissingArtifacts(t *testing.T) {
	srv := newTestServer(t)
	c := srv.client(t, testToken, "acme", "survey")

	obj, _ := buildMesh(t, "surface", []float64{1.0, 2.0})
	_, err := c.CreateObject(context.Background(), "surface.json", obj, remote.IfExistsVersion)
	require.Error(t, err)

	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnprocessableEntity, re.Status)
	assert.Equal(t, remote.CodeMissingArtifacts, re.Code)
	assert.ElementsMatch(t, obj.Hashes(), strings.Split(re.Detail["missing"], ","))
}

func TestHandler_CreateObject_Invalid(t *testing.T) {
	srv := newTestServer(t)
	c := srv.client(t, testToken, "acme", "survey")

	obj := schema.Object{"schema": schema.TriangleMeshSchema, "name": ""}
	_, err := c.CreateObject(context.Background(), "surface.json", obj, remote.IfExistsVersion)
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, remote.CodeInvalidObject, re.Code)

	obj = schema.Object{"schema": "unknown/1.0", "name": "x"}
	_, err = c.CreateObject(context.Background(), "x.json", obj, remote.IfExistsVersion)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, remote.CodeInvalidObject, re.Code)
}

func TestHandler_CreateObject_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/api/v1/orgs/acme/workspaces/survey/objects"

	tests := []struct {
		name  string
		query string
		body  string
	}{
		{"bad mode", "?if_exists=merge", `{"path":"a.json","object":{}}`},
		{"escaping path", "", `{"path":"../a.json","object":{"schema":"x"}}`},
		{"absolute path", "", `{"path":"/a.json","object":{"schema":"x"}}`},
		{"no object", "", `{"path":"a.json"}`},
		{"not json", "", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, base+tt.query, strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+testToken)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHandler_Artifacts(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := srv.client(t, testToken, "acme", "survey")

	data := []byte("GEOA payload")
	hash := artifact.Hash(data)

	_, err := c.DownloadArtifact(ctx, hash)
	assert.ErrorIs(t, err, remote.ErrArtifactNotFound)

	err = c.UploadArtifact(ctx, hash, []byte("other payload"))
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, remote.CodeHashMismatch, re.Code)

	require.NoError(t, c.UploadArtifact(ctx, hash, data))
	require.NoError(t, c.UploadArtifact(ctx, hash, data))

	err = c.UploadArtifact(ctx, "nothex", data)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.Status)
}

func TestHandler_ArtifactTooLarge(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, func(cfg *ServerConfig) { cfg.MaxArtifactSize = 8 })
	c := srv.client(t, testToken, "acme", "survey")

	big := []byte("sixteen byte art")
	err := c.UploadArtifact(ctx, artifact.Hash(big), big)
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusRequestEntityTooLarge, re.Status)
	assert.Equal(t, remote.CodeTooLarge, re.Code)

	// Without a Content-Length the limit applies while streaming.
	url := fmt.Sprintf("%s/api/v1/orgs/acme/workspaces/survey/artifacts/%s", srv.URL, artifact.Hash(big))
	req, _ := http.NewRequest(http.MethodPut, url, struct{ io.Reader }{bytes.NewReader(big)})
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	var body remote.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, remote.CodeTooLarge, body.Error)

	_, err = c.DownloadArtifact(ctx, artifact.Hash(big))
	assert.ErrorIs(t, err, remote.ErrArtifactNotFound)

	small := []byte("8 bytes!")
	require.NoError(t, c.UploadArtifact(ctx, artifact.Hash(small), small))
}

func TestHandler_WorkspacesIsolated(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	a := srv.client(t, testToken, "acme", "north")
	b := srv.client(t, testToken, "acme", "south")

	data := []byte("isolated")
	hash := artifact.Hash(data)
	require.NoError(t, a.UploadArtifact(ctx, hash, data))

	check, err := b.CheckArtifacts(ctx, []string{hash})
	require.NoError(t, err)
	assert.Equal(t, []string{hash}, check.Missing)
}

func TestHandler_Auth(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	srv.tokens.add("scoped", "tok-scoped", []string{"acme/survey"}, "rw")
	srv.tokens.add("org-wide", "tok-org", []string{"acme/*"}, "ro")

	var re *remote.RemoteError

	_, err := srv.client(t, "", "acme", "survey").GetInfo(ctx)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnauthorized, re.Status)

	_, err = srv.client(t, "wrong", "acme", "survey").GetInfo(ctx)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnauthorized, re.Status)

	_, err = srv.client(t, "scoped", "acme", "survey").GetInfo(ctx)
	assert.NoError(t, err)

	_, err = srv.client(t, "scoped", "acme", "other").GetInfo(ctx)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusForbidden, re.Status)

	roClient := srv.client(t, "org-wide", "acme", "other")
	_, err = roClient.GetInfo(ctx)
	assert.NoError(t, err)
	data := []byte("x")
	err = roClient.UploadArtifact(ctx, artifact.Hash(data), data)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusForbidden, re.Status)
}

func TestHandler_RateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *ServerConfig) { cfg.RequestsPerMinute = 2 })
	c := srv.client(t, testToken, "acme", "survey")

	for i := 0; i < 2; i++ {
		_, err := c.GetInfo(context.Background())
		require.NoError(t, err)
	}
	_, err := c.GetInfo(context.Background())
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusTooManyRequests, re.Status)
}

func TestHandler_Health(t *testing.T) {
	srv := newTestServer(t)

	for _, p := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + p)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", string(body))
	}
}

func TestHandler_Metrics(t *testing.T) {
	srv := newTestServer(t)
	c := srv.client(t, testToken, "acme", "survey")

	data := []byte("metered")
	require.NoError(t, c.UploadArtifact(context.Background(), artifact.Hash(data), data))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Contains(t, string(body), "geoconv_server_requests_total")
	assert.Contains(t, string(body), "geoconv_server_artifacts_stored_total 1")
	assert.Contains(t, string(body), fmt.Sprintf("geoconv_server_artifact_bytes_total %d", len(data)))
}

func TestHandler_RequestID(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAdmin_Tokens(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	admin := remote.NewAdminClient(srv.URL, adminToken)

	created, err := admin.CreateToken(ctx, "ci", []string{"acme/survey"}, "rw")
	require.NoError(t, err)
	assert.Equal(t, "test-created-token", created.Token)
	assert.Equal(t, []string{"acme/survey"}, created.Workspaces)

	_, err = srv.client(t, created.Token, "acme", "survey").GetInfo(ctx)
	require.NoError(t, err)

	list, err := admin.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, admin.DeleteToken(ctx, "tok-new"))
	assert.Error(t, admin.DeleteToken(ctx, "tok-new"))

	_, err = remote.NewAdminClient(srv.URL, "wrong").ListTokens(ctx)
	assert.Error(t, err)
}

func TestAdmin_CreateToken_Validation(t *testing.T) {
	srv := newTestServer(t)

	for _, body := range []string{
		`{"workspaces":["*"],"permission":"admin"}`,
		`{"permission":"rw"}`,
		`{"workspaces":["acme"],"permission":"rw"}`,
		`{"workspaces":["../etc"],"permission":"ro"}`,
	} {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/tokens", bytes.NewBufferString(body))
		req.Header.Set("Authorization", "Bearer "+adminToken)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestAdmin_WorkspacesAndGC(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, func(cfg *ServerConfig) { cfg.GCGrace = 0 })
	c := srv.client(t, testToken, "acme", "survey")

	obj, set := buildMesh(t, "surface", []float64{1.0, 2.0})
	uploadAll(t, c, set)
	_, err := c.CreateObject(ctx, "surface.json", obj, remote.IfExistsVersion)
	require.NoError(t, err)

	orphan := []byte("orphan")
	require.NoError(t, c.UploadArtifact(ctx, artifact.Hash(orphan), orphan))

	admin := remote.NewAdminClient(srv.URL, adminToken)
	workspaces, err := admin.ListWorkspaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/survey"}, workspaces)

	result, err := admin.GarbageCollect(ctx, "acme", "survey", true)
	require.NoError(t, err)
	assert.Equal(t, &remote.GCResult{ArtifactsScanned: 4, ArtifactsDeleted: 1, ArtifactsKept: 3, DryRun: true}, result)
	_, err = c.DownloadArtifact(ctx, artifact.Hash(orphan))
	require.NoError(t, err)

	result, err = admin.GarbageCollect(ctx, "acme", "survey", false)
	require.NoError(t, err)
	assert.Equal(t, &remote.GCResult{ArtifactsScanned: 4, ArtifactsDeleted: 1, ArtifactsKept: 3}, result)

	_, err = c.DownloadArtifact(ctx, artifact.Hash(orphan))
	assert.ErrorIs(t, err, remote.ErrArtifactNotFound)
}

func TestAdmin_GCGraceSparesFreshUploads(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := srv.client(t, testToken, "acme", "survey")

	orphan := []byte("in flight")
	require.NoError(t, c.UploadArtifact(ctx, artifact.Hash(orphan), orphan))

	admin := remote.NewAdminClient(srv.URL, adminToken)
	result, err := admin.GarbageCollect(ctx, "acme", "survey", false)
	require.NoError(t, err)
	assert.Equal(t, &remote.GCResult{ArtifactsScanned: 1, ArtifactsKept: 1, ArtifactsRecent: 1}, result)
}

func TestValidObjectPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.json", true},
		{"site/2024/a.json", true},
		{"", false},
		{"/a.json", false},
		{"../a.json", false},
		{"a/../b.json", false},
		{"a//b.json", false},
		{`a\b.json`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validObjectPath(tt.path), tt.path)
	}
}

func TestValidScope(t *testing.T) {
	for _, ok := range []string{"*", "acme/*", "acme/survey"} {
		assert.True(t, validScope(ok), ok)
	}
	for _, bad := range []string{"", "acme", "*/survey", "acme/", "a/b/c", "../x"} {
		assert.False(t, validScope(bad), bad)
	}
}

func TestWorkspaceAllowed(t *testing.T) {
	assert.True(t, workspaceAllowed([]string{"*"}, "acme", "survey"))
	assert.True(t, workspaceAllowed([]string{"acme/survey"}, "acme", "survey"))
	assert.True(t, workspaceAllowed([]string{"acme/*"}, "acme", "survey"))
	assert.False(t, workspaceAllowed([]string{"acme/other"}, "acme", "survey"))
	assert.False(t, workspaceAllowed([]string{"other/*"}, "acme", "survey"))
	assert.False(t, workspaceAllowed(nil, "acme", "survey"))
}

func TestHandler_ErrorBody(t *testing.T) {
	srv := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/orgs/acme/workspaces/survey/objects/nope", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body remote.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, remote.CodeObjectNotFound, body.Error)
	assert.NotEmpty(t, body.Message)
}
