package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/geoconv/internal/cache"
	"github.com/kilupskalvis/geoconv/internal/geo"
	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

// mockService is an in-memory remote.ObjectService that records calls.
type mockService struct {
	mu        sync.Mutex
	artifacts map[string][]byte
	uploads   map[string]int
	creates   []string
	modes     []remote.IfExists
	objects   map[string]*models.ObjectMetadata

	checkErr    error
	failUploads map[string]error
	createDelay func(path string) time.Duration
	uploadDelay func(hash string) time.Duration
}

func newMockService() *mockService {
	return &mockService{
		artifacts:   make(map[string][]byte),
		uploads:     make(map[string]int),
		objects:     make(map[string]*models.ObjectMetadata),
		failUploads: make(map[string]error),
	}
}

func (m *mockService) CheckArtifacts(_ context.Context, hashes []string) (*remote.ArtifactCheckResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkErr != nil {
		return nil, m.checkErr
	}
	resp := &remote.ArtifactCheckResponse{}
	for _, h := range hashes {
		if _, ok := m.artifacts[h]; ok {
			resp.Have = append(resp.Have, h)
		} else {
			resp.Missing = append(resp.Missing, h)
		}
	}
	return resp, nil
}

func (m *mockService) UploadArtifact(ctx context.Context, hash string, data []byte) error {
	if m.uploadDelay != nil {
		select {
		case <-time.After(m.uploadDelay(hash)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[hash]++
	if err := m.failUploads[hash]; err != nil {
		return err
	}
	m.artifacts[hash] = data
	return nil
}

func (m *mockService) DownloadArtifact(_ context.Context, hash string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.artifacts[hash]
	if !ok {
		return nil, remote.ErrArtifactNotFound
	}
	return data, nil
}

func (m *mockService) CreateObject(_ context.Context, path string, obj schema.Object, mode remote.IfExists) (*models.ObjectMetadata, error) {
	if m.createDelay != nil {
		time.Sleep(m.createDelay(path))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range obj.Hashes() {
		if _, ok := m.artifacts[h]; !ok {
			return nil, fmt.Errorf("object %s references missing artifact %s", path, h)
		}
	}
	m.creates = append(m.creates, path)
	m.modes = append(m.modes, mode)
	meta, ok := m.objects[path]
	if !ok {
		meta = &models.ObjectMetadata{ObjectID: "obj-" + strconv.Itoa(len(m.objects)+1), Path: path, Name: obj.Name()}
		m.objects[path] = meta
	}
	v, _ := strconv.Atoi(meta.VersionID)
	next := *meta
	next.VersionID = strconv.Itoa(v + 1)
	m.objects[path] = &next
	return &next, nil
}

func (m *mockService) GetObject(context.Context, string, string) (*remote.ObjectResponse, error) {
	return nil, remote.ErrObjectNotFound
}

func (m *mockService) ListObjects(context.Context, string) ([]models.ObjectMetadata, error) {
	return nil, nil
}

func (m *mockService) GetInfo(context.Context) (*remote.WorkspaceInfo, error) {
	return &remote.WorkspaceInfo{}, nil
}

func (m *mockService) uploadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.uploads {
		n += c
	}
	return n
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	return c
}

func buildMesh(t *testing.T, c *cache.Cache, name string, values []float64) schema.Object {
	t.Helper()
	mesh := &geo.TriangleMesh{
		Name:               name,
		Vertices:           [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 1}},
		Faces:              [][]uint64{{0, 1, 2}, {1, 3, 2}},
		TriangleAttributes: []geo.Attribute{geo.ContinuousAttribute("thickness", values)},
	}
	obj, err := schema.NewBuilder(c).Build(mesh, schema.Options{CRS: geo.EPSG(32633)})
	require.NoError(t, err)
	return obj
}

func attributeHash(t *testing.T, obj schema.Object) string {
	t.Helper()
	attrs := obj["triangles"].(map[string]any)["indices"].(map[string]any)["attributes"].([]any)
	require.Len(t, attrs, 1)
	return attrs[0].(map[string]any)["values"].(map[string]any)["data"].(string)
}

func TestPublish_MeshScenario(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	svc := newMockService()
	p := New(svc, c)

	obj := buildMesh(t, c, "surface", []float64{1.0, 2.0})
	require.Len(t, obj.Hashes(), 3)
	h := attributeHash(t, obj)

	results, stats, err := p.Publish(ctx, []schema.Object{obj}, Options{UploadPath: "site"})
	require.NoError(t, err)
	require.NoError(t, Err(results))
	assert.Equal(t, Stats{Referenced: 3, Uploaded: 3}, stats)
	assert.Equal(t, "site/surface.json", results[0].Metadata.Path)
	assert.Equal(t, "1", results[0].Metadata.VersionID)

	results, stats, err = p.Publish(ctx, []schema.Object{obj}, Options{UploadPath: "site"})
	require.NoError(t, err)
	require.NoError(t, Err(results))
	assert.Equal(t, Stats{Referenced: 3, Reused: 3}, stats)

	assert.Equal(t, 1, svc.uploads[h])
	assert.Equal(t, 3, svc.uploadCalls())
}

func TestPublish_SharedArtifactsUploadedOnce(t *testing.T) {
	c := newTestCache(t)
	svc := newMockService()

	a := buildMesh(t, c, "a", []float64{1, 2})
	b := buildMesh(t, c, "b", []float64{3, 4})

	results, stats, err := New(svc, c).Publish(context.Background(), []schema.Object{a, b}, Options{})
	require.NoError(t, err)
	require.NoError(t, Err(results))

	// Vertices and indices are shared, attributes differ.
	assert.Equal(t, 4, stats.Referenced)
	assert.Equal(t, 4, svc.uploadCalls())
	for h, n := range svc.uploads {
		assert.Equal(t, 1, n, h)
	}
}

func TestPublish_OrderPreserved(t *testing.T) {
	c := newTestCache(t)
	svc := newMockService()

	var objects []schema.Object
	for i := 0; i < 6; i++ {
		objects = append(objects, buildMesh(t, c, fmt.Sprintf("mesh-%d", i), []float64{float64(i), float64(i + 1)}))
	}
	// Earlier objects complete last.
	svc.createDelay = func(path string) time.Duration {
		var i int
		fmt.Sscanf(path, "mesh-%d.json", &i)
		return time.Duration(6-i) * 15 * time.Millisecond
	}
	svc.uploadDelay = func(hash string) time.Duration {
		return time.Duration(hash[0]%5) * 5 * time.Millisecond
	}

	results, _, err := New(svc, c, WithWorkers(6)).Publish(context.Background(), objects, Options{})
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, fmt.Sprintf("mesh-%d.json", i), r.Metadata.Path)
		assert.Equal(t, objects[i].Name(), r.Object.Name())
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.NotEqual(t, "mesh-0.json", svc.creates[0])
}

func TestPublish_FailedUploadIsolated(t *testing.T) {
	c := newTestCache(t)
	svc := newMockService()

	a := buildMesh(t, c, "a", []float64{1, 2})
	b := buildMesh(t, c, "b", []float64{3, 4})
	failing := attributeHash(t, a)
	uploadErr := errors.New("connection reset")
	svc.failUploads[failing] = uploadErr

	results, stats, err := New(svc, c).Publish(context.Background(), []schema.Object{a, b}, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Error(t, results[0].Err)
	assert.Nil(t, results[0].Metadata)
	var ue *UploadError
	require.ErrorAs(t, results[0].Err, &ue)
	assert.Equal(t, failing, ue.Hash)
	assert.ErrorIs(t, results[0].Err, uploadErr)

	require.NoError(t, results[1].Err)
	assert.Equal(t, "b.json", results[1].Metadata.Path)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, stats.Uploaded)
	assert.Error(t, Err(results))
}

func TestPublish_ResumesAfterFailure(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	svc := newMockService()

	obj := buildMesh(t, c, "surface", []float64{1, 2})
	h := attributeHash(t, obj)
	svc.failUploads[h] = errors.New("timeout")

	results, _, err := New(svc, c).Publish(ctx, []schema.Object{obj}, Options{})
	require.NoError(t, err)
	require.Error(t, results[0].Err)

	delete(svc.failUploads, h)
	results, stats, err := New(svc, c).Publish(ctx, []schema.Object{obj}, Options{})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Equal(t, Stats{Referenced: 3, Uploaded: 1, Reused: 2}, stats)
	assert.Equal(t, 2, svc.uploads[h])
}

func TestPublish_ArtifactNotStaged(t *testing.T) {
	c := newTestCache(t)
	svc := newMockService()

	obj := buildMesh(t, c, "surface", []float64{1, 2})
	empty := newTestCache(t)

	results, _, err := New(svc, empty).Publish(context.Background(), []schema.Object{obj}, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, cache.ErrArtifactNotFound)
	assert.Equal(t, 0, svc.uploadCalls())
	assert.Empty(t, svc.creates)
}

func TestPublish_CheckFailureAborts(t *testing.T) {
	c := newTestCache(t)
	svc := newMockService()
	svc.checkErr = errors.New("hub unavailable")

	_, _, err := New(svc, c).Publish(context.Background(), []schema.Object{buildMesh(t, c, "s", []float64{1, 2})}, Options{})
	assert.ErrorIs(t, err, svc.checkErr)
	assert.Empty(t, svc.creates)
}

func TestPublish_OverwriteMode(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	svc := newMockService()
	obj := buildMesh(t, c, "surface", []float64{1, 2})

	_, _, err := New(svc, c).Publish(ctx, []schema.Object{obj}, Options{})
	require.NoError(t, err)
	_, _, err = New(svc, c).Publish(ctx, []schema.Object{obj}, Options{Overwrite: true})
	require.NoError(t, err)

	assert.Equal(t, []remote.IfExists{remote.IfExistsVersion, remote.IfExistsReplace}, svc.modes)
}

func TestPublish_Empty(t *testing.T) {
	results, stats, err := New(newMockService(), newTestCache(t)).Publish(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, Stats{}, stats)
}

func TestPublish_UnnamedObject(t *testing.T) {
	svc := newMockService()
	results, _, err := New(svc, newTestCache(t)).Publish(context.Background(), []schema.Object{{"schema": "x"}}, Options{})
	require.NoError(t, err)
	assert.Error(t, results[0].Err)
	assert.Empty(t, svc.creates)
}

func TestPublish_Cancelled(t *testing.T) {
	c := newTestCache(t)
	svc := newMockService()
	svc.uploadDelay = func(string) time.Duration { return time.Minute }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results, _, err := New(svc, c).Publish(ctx, []schema.Object{buildMesh(t, c, "s", []float64{1, 2})}, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Empty(t, svc.creates)

	// The cache is intact for a later resume.
	for _, h := range results[0].Object.Hashes() {
		assert.True(t, c.Contains(h))
	}
}
