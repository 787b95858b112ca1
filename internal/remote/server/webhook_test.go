package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote"
)

func TestNewWebhookNotifier_NilConfig(t *testing.T) {
	wn := NewWebhookNotifier(nil, slog.Default())
	assert.Nil(t, wn)
}

func TestNewWebhookNotifier_EmptyURLs(t *testing.T) {
	wn := NewWebhookNotifier(&WebhookConfig{URLs: nil}, slog.Default())
	assert.Nil(t, wn)
}

func TestWebhookNotifier_NotifyPublish_NilReceiver(t *testing.T) {
	// Should not panic
	var wn *WebhookNotifier
	wn.NotifyPublish("acme/survey", &models.ObjectMetadata{ObjectID: "id"}, remote.IfExistsVersion)
	wn.NotifyGC("acme/survey", &remote.GCResult{ArtifactsDeleted: 1})
	wn.Close(time.Second)
}

func TestWebhookNotifier_NotifyPublish(t *testing.T) {
	received := make(chan WebhookEvent, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event WebhookEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- event
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, slog.Default())
	require.NotNil(t, wn)

	wn.NotifyPublish("acme/survey", &models.ObjectMetadata{
		ObjectID:   "obj-1",
		VersionID:  "2",
		Path:       "site/surface.json",
		SchemaName: "/objects/triangle-mesh/2.0.0/triangle-mesh.schema.json",
	}, remote.IfExistsReplace)
	t.Cleanup(func() { wn.Close(time.Second) })

	select {
	case event := <-received:
		assert.Equal(t, "publish", event.Event)
		assert.Equal(t, "acme/survey", event.Workspace)
		assert.Equal(t, "obj-1", event.ObjectID)
		assert.Equal(t, "2", event.VersionID)
		assert.Equal(t, "site/surface.json", event.Path)
		assert.Equal(t, "replace", event.Mode)
		assert.NotEmpty(t, event.Timestamp)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestWebhookNotifier_MultipleURLs(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		wg.Done()
	})
	ts1 := httptest.NewServer(handler)
	defer ts1.Close()
	ts2 := httptest.NewServer(handler)
	defer ts2.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts1.URL, ts2.URL}}, slog.Default())
	require.NotNil(t, wn)

	wn.NotifyPublish("acme/survey", &models.ObjectMetadata{ObjectID: "obj"}, remote.IfExistsVersion)
	t.Cleanup(func() { wn.Close(time.Second) })

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all webhooks delivered")
	}
}

func TestWebhookNotifier_Post_4xxNoRetry(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, slog.Default())
	require.NotNil(t, wn)

	t.Cleanup(func() { wn.Close(time.Second) })

	err := wn.post(context.Background(), ts.URL, []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookNotifier_Post_5xxRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, slog.Default())
	require.NotNil(t, wn)
	wn.backoff = time.Millisecond
	t.Cleanup(func() { wn.Close(time.Second) })

	require.NoError(t, wn.post(context.Background(), ts.URL, []byte(`{}`)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_GCEventAndOrder(t *testing.T) {
	received := make(chan WebhookEvent, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event WebhookEvent
		if json.NewDecoder(r.Body).Decode(&event) == nil {
			received <- event
		}
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, slog.Default())
	require.NotNil(t, wn)

	wn.NotifyGC("acme/survey", &remote.GCResult{ArtifactsDeleted: 0})
	wn.NotifyPublish("acme/survey", &models.ObjectMetadata{ObjectID: "a"}, remote.IfExistsVersion)
	wn.NotifyGC("acme/survey", &remote.GCResult{ArtifactsScanned: 5, ArtifactsDeleted: 3})
	wn.Close(5 * time.Second)

	require.Len(t, received, 2)
	first, second := <-received, <-received
	assert.Equal(t, EventPublish, first.Event)
	assert.Equal(t, EventGC, second.Event)
	assert.Equal(t, 3, second.Deleted)

	// Events after Close are dropped.
	wn.NotifyPublish("acme/survey", &models.ObjectMetadata{ObjectID: "b"}, remote.IfExistsVersion)
	assert.Empty(t, received)
}

func TestWebhookNotifier_QueueFull(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}, QueueSize: 1}, slog.Default())
	require.NotNil(t, wn)

	for i := 0; i < 10; i++ {
		wn.NotifyPublish("acme/survey", &models.ObjectMetadata{ObjectID: "x"}, remote.IfExistsVersion)
	}
	close(release)
	wn.Close(5 * time.Second)

	// One in flight plus one queued; the rest were dropped.
	assert.LessOrEqual(t, calls.Load(), int32(2))
}
