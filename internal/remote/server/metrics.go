package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the server reports.
type Metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	artifactsStored  prometheus.Counter
	artifactBytes    prometheus.Counter
	objectsPublished *prometheus.CounterVec
}

// NewMetrics registers the server collectors with reg. Collectors that are
// already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoconv",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by method and status.",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geoconv",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		artifactsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geoconv",
			Subsystem: "server",
			Name:      "artifacts_stored_total",
			Help:      "Artifacts accepted by the upload endpoint.",
		}),
		artifactBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geoconv",
			Subsystem: "server",
			Name:      "artifact_bytes_total",
			Help:      "Artifact payload bytes accepted by the upload endpoint.",
		}),
		objectsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoconv",
			Subsystem: "server",
			Name:      "objects_published_total",
			Help:      "Object versions returned by the publish endpoint, by if_exists mode.",
		}, []string{"mode"}),
	}

	var err error
	if m.requests, err = registerCounterVec(reg, m.requests); err != nil {
		return nil, err
	}
	if m.objectsPublished, err = registerCounterVec(reg, m.objectsPublished); err != nil {
		return nil, err
	}
	if m.artifactsStored, err = registerCounter(reg, m.artifactsStored); err != nil {
		return nil, err
	}
	if m.artifactBytes, err = registerCounter(reg, m.artifactBytes); err != nil {
		return nil, err
	}
	if err := reg.Register(m.requestDuration); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register request histogram: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("register request histogram: %w", err)
		}
		m.requestDuration = existing
	}
	return m, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register counter: %w", err)
	}
	return c, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register counter: %w", err)
	}
	return c, nil
}

func (m *Metrics) observeRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) artifactStored(size int64) {
	if m == nil {
		return
	}
	m.artifactsStored.Inc()
	m.artifactBytes.Add(float64(size))
}

func (m *Metrics) objectPublished(mode string) {
	if m == nil {
		return
	}
	m.objectsPublished.WithLabelValues(mode).Inc()
}
