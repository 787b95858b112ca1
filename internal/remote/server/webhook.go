package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote"
)

const (
	EventPublish = "publish"
	EventGC      = "gc"
)

// WebhookEvent is the JSON body posted to every webhook URL. Object fields
// are set for publish events, Deleted for gc events.
type WebhookEvent struct {
	Event      string `json:"event"`
	Workspace  string `json:"workspace"`
	Timestamp  string `json:"timestamp"`
	ObjectID   string `json:"object_id,omitempty"`
	VersionID  string `json:"version_id,omitempty"`
	Path       string `json:"path,omitempty"`
	SchemaName string `json:"schema_name,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Deleted    int    `json:"artifacts_deleted,omitempty"`
}

type WebhookConfig struct {
	URLs []string
	// QueueSize bounds the events waiting for delivery; further events are
	// dropped. Zero means 256.
	QueueSize int
}

// WebhookNotifier delivers events in order from a single background
// worker so a slow receiver never blocks a request.
type WebhookNotifier struct {
	urls    []string
	client  *http.Client
	logger  *slog.Logger
	backoff time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan *WebhookEvent
	wg     sync.WaitGroup
	ctx    context.Context
	stop   context.CancelFunc
}

// NewWebhookNotifier returns nil when no URLs are configured; a nil
// notifier accepts and discards every event.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	ctx, stop := context.WithCancel(context.Background())
	wn := &WebhookNotifier{
		urls:    cfg.URLs,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		backoff: time.Second,
		queue:   make(chan *WebhookEvent, size),
		ctx:     ctx,
		stop:    stop,
	}
	wn.wg.Add(1)
	go wn.run()
	return wn
}

// NotifyPublish queues a publish event for a stored object version.
func (wn *WebhookNotifier) NotifyPublish(workspace string, meta *models.ObjectMetadata, mode remote.IfExists) {
	if wn == nil || meta == nil {
		return
	}
	wn.enqueue(&WebhookEvent{
		Event:      EventPublish,
		Workspace:  workspace,
		ObjectID:   meta.ObjectID,
		VersionID:  meta.VersionID,
		Path:       meta.Path,
		SchemaName: meta.SchemaName,
		Mode:       string(mode),
	})
}

// NotifyGC queues a gc event when a collection removed artifacts.
func (wn *WebhookNotifier) NotifyGC(workspace string, res *remote.GCResult) {
	if wn == nil || res == nil || res.ArtifactsDeleted == 0 {
		return
	}
	wn.enqueue(&WebhookEvent{Event: EventGC, Workspace: workspace, Deleted: res.ArtifactsDeleted})
}

func (wn *WebhookNotifier) enqueue(ev *WebhookEvent) {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	wn.mu.Lock()
	defer wn.mu.Unlock()
	if wn.closed {
		wn.logger.Warn("webhook: notifier closed, event dropped", "event", ev.Event)
		return
	}
	select {
	case wn.queue <- ev:
	default:
		wn.logger.Warn("webhook: queue full, event dropped", "event", ev.Event, "workspace", ev.Workspace)
	}
}

// Close delivers the queued events and stops the worker. Deliveries still
// retrying after timeout are abandoned.
func (wn *WebhookNotifier) Close(timeout time.Duration) {
	if wn == nil {
		return
	}
	wn.mu.Lock()
	if wn.closed {
		wn.mu.Unlock()
		return
	}
	wn.closed = true
	close(wn.queue)
	wn.mu.Unlock()

	done := make(chan struct{})
	go func() { wn.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(timeout):
		wn.stop()
		<-done
	}
	wn.stop()
}

func (wn *WebhookNotifier) run() {
	defer wn.wg.Done()
	for ev := range wn.queue {
		data, err := json.Marshal(ev)
		if err != nil {
			wn.logger.Error("webhook: marshal event", "error", err)
			continue
		}
		for _, url := range wn.urls {
			if err := wn.post(wn.ctx, url, data); err != nil {
				wn.logger.Warn("webhook: delivery failed", "url", url, "event", ev.Event, "error", err)
			} else {
				wn.logger.Debug("webhook: delivered", "url", url, "event", ev.Event)
			}
		}
	}
}

// post delivers one body, retrying connection errors and 5xx responses
// twice with linear backoff.
func (wn *WebhookNotifier) post(ctx context.Context, url string, data []byte) error {
	const attempts = 3

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * wn.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "geoconv-server")

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode < 500:
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return lastErr
}
