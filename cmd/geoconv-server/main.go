// Command geoconv-server runs the geoconv object service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kilupskalvis/geoconv/internal/remote/blobstore"
	"github.com/kilupskalvis/geoconv/internal/remote/server"
)

func main() {
	listen := flag.String("listen", envOrDefault("GEOCONV_LISTEN", "0.0.0.0:8730"), "Listen address")
	dataDir := flag.String("data-dir", envOrDefault("GEOCONV_DATA_DIR", "/var/lib/geoconv-server"), "Data directory")
	adminToken := flag.String("admin-token", os.Getenv("GEOCONV_ADMIN_TOKEN"), "Admin API token")
	logLevel := flag.String("log-level", envOrDefault("GEOCONV_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("GEOCONV_LOG_FORMAT", "json"), "Log format (json, text)")
	tlsCert := flag.String("tls-cert", os.Getenv("GEOCONV_TLS_CERT"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("GEOCONV_TLS_KEY"), "TLS key file")
	webhookURLs := flag.String("webhook-urls", os.Getenv("GEOCONV_WEBHOOK_URLS"), "Comma-separated webhook URLs to notify on publish")
	blobBackend := flag.String("blob-backend", envOrDefault("GEOCONV_BLOB_BACKEND", "fs"), "Artifact storage backend (fs, s3)")
	s3Bucket := flag.String("s3-bucket", os.Getenv("GEOCONV_S3_BUCKET"), "S3 bucket for artifacts")
	s3Region := flag.String("s3-region", envOrDefault("GEOCONV_S3_REGION", "us-east-1"), "S3 region")
	s3Endpoint := flag.String("s3-endpoint", os.Getenv("GEOCONV_S3_ENDPOINT"), "Custom S3 endpoint (MinIO, LocalStack)")
	rateLimit := flag.Int("rate-limit", 600, "Requests per minute per token")
	gcGrace := flag.Duration("gc-grace", time.Hour, "Unreferenced artifacts younger than this survive garbage collection")
	flag.Parse()

	logger := newLogger(*logLevel, *logFormat)

	workspacesDir := filepath.Join(*dataDir, "workspaces")
	if err := os.MkdirAll(workspacesDir, 0755); err != nil {
		logger.Error("failed to create workspaces directory", "error", err, "path", workspacesDir)
		os.Exit(1)
	}

	tokens := newFileTokenStore(filepath.Join(*dataDir, "tokens.json"), logger)
	if err := tokens.Load(); err != nil {
		logger.Error("failed to load tokens", "error", err)
		os.Exit(1)
	}

	opener := newDiskWorkspaceOpener(workspacesDir, logger)
	switch *blobBackend {
	case "fs":
	case "s3":
		if *s3Bucket == "" {
			logger.Error("s3 backend requires -s3-bucket")
			os.Exit(1)
		}
		client, err := blobstore.NewS3Client(context.Background(), blobstore.S3Config{
			Bucket:   *s3Bucket,
			Region:   *s3Region,
			Endpoint: *s3Endpoint,
		})
		if err != nil {
			logger.Error("failed to create S3 client", "error", err)
			os.Exit(1)
		}
		opener.newBlobs = s3Blobs(client, *s3Bucket)
		logger.Info("artifacts stored in S3", "bucket", *s3Bucket, "region", *s3Region)
	default:
		logger.Error("unknown blob backend", "backend", *blobBackend)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg := server.DefaultServerConfig()
	cfg.AdminToken = *adminToken
	cfg.RequestsPerMinute = *rateLimit
	cfg.GCGrace = *gcGrace
	cfg.Registry = registry

	if urls := splitList(*webhookURLs); len(urls) > 0 {
		cfg.Webhooks = server.NewWebhookNotifier(&server.WebhookConfig{URLs: urls}, logger)
		logger.Info("webhooks configured", "count", len(urls))
	}

	h, handlerCleanup, err := server.Handler(opener, tokens, cfg, logger)
	if err != nil {
		logger.Error("failed to build handler", "error", err)
		os.Exit(1)
	}
	defer handlerCleanup()

	srv := &http.Server{
		Addr:              *listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting geoconv-server", "listen", *listen, "data_dir", *dataDir, "blob_backend", *blobBackend)
		var err error
		if *tlsCert != "" && *tlsKey != "" {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	opener.CloseAll()
	logger.Info("server stopped")
}

func newLogger(level, format string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: l}
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
