package server

import (
	"cmp"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilupskalvis/geoconv/internal/artifact"
	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote"
	"github.com/kilupskalvis/geoconv/internal/remote/blobstore"
	"github.com/kilupskalvis/geoconv/internal/remote/metastore"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

// WorkspaceOpener returns the MetaStore and BlobStore of a workspace,
// creating it on first use.
type WorkspaceOpener interface {
	Open(org, ws string) (metastore.MetaStore, blobstore.BlobStore, error)
	List() ([]string, error)
}

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody    int64         // bytes, for JSON endpoints
	MaxArtifactSize   int64         // bytes, for artifact uploads
	RequestsPerMinute int           // per-token rate limit
	GCGrace           time.Duration // unreferenced artifacts younger than this survive gc
	AdminToken        string        // for admin endpoints
	Webhooks          *WebhookNotifier
	Validator         *schema.Validator
	Registry          *prometheus.Registry // serves /metrics when set
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody:    64 * 1024 * 1024,  // 64MB
		MaxArtifactSize:   512 * 1024 * 1024, // 512MB
		RequestsPerMinute: 600,
		GCGrace:           time.Hour,
	}
}

type workspaceHandler struct {
	cfg     *ServerConfig
	metrics *Metrics
	logger  *slog.Logger
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(workspaces WorkspaceOpener, tokens TokenStore, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func(), error) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Validator == nil {
		v, err := schema.NewValidator()
		if err != nil {
			return nil, nil, fmt.Errorf("load object schemas: %w", err)
		}
		cfg.Validator = v
	}

	var metrics *Metrics
	if cfg.Registry != nil {
		m, err := NewMetrics(cfg.Registry)
		if err != nil {
			return nil, nil, err
		}
		metrics = m
	}

	h := &workspaceHandler{cfg: cfg, metrics: metrics, logger: logger}
	rl := newRateLimiter(cfg.RequestsPerMinute)
	usage := newTokenUsage(tokens, usageFlushInterval, logger)
	auth := authMiddleware(tokens, usage)

	// applyMiddleware runs the first item outermost.
	// Execution order: auth -> requireWorkspace -> rl -> handler
	withAuth := func(fn workspaceHandlerFunc) http.Handler {
		return applyMiddleware(h.resolve(workspaces, fn), auth, requireWorkspace, rl.middleware)
	}
	// Execution order: auth -> requireWorkspace -> requireWrite -> rl -> handler
	withAuthWrite := func(fn workspaceHandlerFunc) http.Handler {
		return applyMiddleware(h.resolve(workspaces, fn), auth, requireWorkspace, requireWrite, rl.middleware)
	}

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := tokens.ListTokens(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: token store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	// Admin endpoints
	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /admin/tokens", makeAdminCreateTokenHandler(tokens, logger))
		adminMux.HandleFunc("DELETE /admin/tokens/{id}", makeAdminDeleteTokenHandler(tokens, logger))
		adminMux.HandleFunc("GET /admin/tokens", makeAdminListTokensHandler(tokens, logger))
		adminMux.HandleFunc("GET /admin/workspaces", makeAdminListWorkspacesHandler(workspaces, logger))
		adminMux.HandleFunc("POST /admin/orgs/{org}/workspaces/{ws}/gc", makeAdminGCHandler(workspaces, cfg.GCGrace, cfg.Webhooks, logger))
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	const base = "/api/v1/orgs/{org}/workspaces/{ws}"

	// Artifacts
	mux.Handle("POST "+base+"/artifacts/check", withAuth(h.handleCheckArtifacts))
	mux.Handle("GET "+base+"/artifacts/{hash}", withAuth(h.handleGetArtifact))
	mux.Handle("PUT "+base+"/artifacts/{hash}", withAuthWrite(h.handlePutArtifact))

	// Objects
	mux.Handle("POST "+base+"/objects", withAuthWrite(h.handleCreateObject))
	mux.Handle("GET "+base+"/objects", withAuth(h.handleListObjects))
	mux.Handle("GET "+base+"/objects/{id}", withAuth(h.handleGetObject))

	// Info
	mux.Handle("GET "+base+"/info", withAuth(h.handleWorkspaceInfo))

	// Apply global middleware
	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger, metrics),
		requestIDMiddleware,
	)

	cleanup := func() {
		rl.Stop()
		usage.Stop()
		cfg.Webhooks.Close(10 * time.Second)
	}

	return handler, cleanup, nil
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type workspaceHandlerFunc func(w http.ResponseWriter, r *http.Request, meta metastore.MetaStore, blobs blobstore.BlobStore)

// resolve opens the workspace named in the path and calls fn with its stores.
func (h *workspaceHandler) resolve(workspaces WorkspaceOpener, fn workspaceHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ws := r.PathValue("org"), r.PathValue("ws")
		meta, blobs, err := workspaces.Open(org, ws)
		if err != nil {
			h.logger.Error("open workspace", "error", err, "workspace", models.WorkspaceKey(org, ws))
			writeError(w, http.StatusInternalServerError, "internal_error", "workspace unavailable")
			return
		}
		fn(w, r, meta, blobs)
	}
}

// --- Artifact Handlers ---

func (h *workspaceHandler) handleCheckArtifacts(w http.ResponseWriter, r *http.Request, _ metastore.MetaStore, blobs blobstore.BlobStore) {
	var req remote.ArtifactCheckRequest
	if err := readJSON(r, h.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	resp := &remote.ArtifactCheckResponse{Have: []string{}, Missing: []string{}}
	for _, hash := range req.Hashes {
		exists, err := blobs.Has(r.Context(), hash)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if exists {
			resp.Have = append(resp.Have, hash)
		} else {
			resp.Missing = append(resp.Missing, hash)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *workspaceHandler) handleGetArtifact(w http.ResponseWriter, r *http.Request, _ metastore.MetaStore, blobs blobstore.BlobStore) {
	hash := r.PathValue("hash")
	reader, err := blobs.Get(r.Context(), hash)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			writeError(w, http.StatusNotFound, remote.CodeArtifactNotFound, "artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, reader)
}

func (h *workspaceHandler) handlePutArtifact(w http.ResponseWriter, r *http.Request, _ metastore.MetaStore, blobs blobstore.BlobStore) {
	hash := r.PathValue("hash")
	if !artifact.ValidHash(hash) {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid artifact hash %q", hash))
		return
	}

	limit := h.cfg.MaxArtifactSize
	if r.ContentLength > limit {
		writeError(w, http.StatusRequestEntityTooLarge, remote.CodeTooLarge,
			fmt.Sprintf("artifact is %d bytes, limit is %d", r.ContentLength, limit))
		return
	}

	counter := &countingReader{r: http.MaxBytesReader(w, r.Body, limit)}
	if err := blobs.Put(r.Context(), hash, counter); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, remote.CodeTooLarge,
				fmt.Sprintf("artifact exceeds %d bytes", tooLarge.Limit))
			return
		}
		if errors.Is(err, blobstore.ErrHashMismatch) {
			writeError(w, http.StatusUnprocessableEntity, remote.CodeHashMismatch, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	h.metrics.artifactStored(counter.n)

	w.WriteHeader(http.StatusCreated)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// --- Object Handlers ---

// validObjectPath reports whether p is a clean relative slash path.
func validObjectPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	if path.Clean(p) != p {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

func (h *workspaceHandler) handleCreateObject(w http.ResponseWriter, r *http.Request, meta metastore.MetaStore, blobs blobstore.BlobStore) {
	mode, err := remote.ParseIfExists(r.URL.Query().Get("if_exists"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var req remote.CreateObjectRequest
	if err := readJSON(r, h.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !validObjectPath(req.Path) {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid object path %q", req.Path))
		return
	}
	if req.Object == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "object is required")
		return
	}

	if err := h.cfg.Validator.Validate(req.Object); err != nil {
		writeError(w, http.StatusUnprocessableEntity, remote.CodeInvalidObject, err.Error())
		return
	}

	var missing []string
	for _, hash := range req.Object.Hashes() {
		exists, err := blobs.Has(r.Context(), hash)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if !exists {
			missing = append(missing, hash)
		}
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, &remote.ErrorResponse{
			Error:   remote.CodeMissingArtifacts,
			Message: fmt.Sprintf("object references %d artifacts that are not stored", len(missing)),
			Detail:  map[string]string{"missing": strings.Join(missing, ",")},
		})
		return
	}

	stored, err := meta.PutObject(r.Context(), req.Path, req.Object, mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	h.metrics.objectPublished(string(mode))

	h.cfg.Webhooks.NotifyPublish(models.WorkspaceKey(r.PathValue("org"), r.PathValue("ws")), stored, mode)

	writeJSON(w, http.StatusCreated, stored)
}

func (h *workspaceHandler) handleGetObject(w http.ResponseWriter, r *http.Request, meta metastore.MetaStore, _ blobstore.BlobStore) {
	id := r.PathValue("id")
	version := r.URL.Query().Get("version")

	resp, err := meta.GetObject(r.Context(), id, version)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			msg := fmt.Sprintf("object %s not found", id)
			if version != "" {
				msg = fmt.Sprintf("object %s version %s not found", id, version)
			}
			writeError(w, http.StatusNotFound, remote.CodeObjectNotFound, msg)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *workspaceHandler) handleListObjects(w http.ResponseWriter, r *http.Request, meta metastore.MetaStore, _ blobstore.BlobStore) {
	list, err := meta.ListObjects(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, &remote.ObjectList{Objects: list})
}

// --- Info Handler ---

func (h *workspaceHandler) handleWorkspaceInfo(w http.ResponseWriter, r *http.Request, meta metastore.MetaStore, blobs blobstore.BlobStore) {
	objects, versions, err := meta.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	blobCount, err := blobs.TotalCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, &remote.WorkspaceInfo{
		ObjectCount:   objects,
		VersionCount:  versions,
		ArtifactCount: blobCount,
	})
}

// --- Health Handlers ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Admin Auth ---

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := "Bearer " + adminToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			writeError(w, http.StatusUnauthorized, "auth_failed", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &remote.ErrorResponse{Error: code, Message: message})
}

func readJSON(r *http.Request, maxSize int64, v any) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// --- Admin Handlers ---

func makeAdminCreateTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Description string   `json:"description"`
			Workspaces  []string `json:"workspaces"`
			Permission  string   `json:"permission"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
			return
		}
		if req.Permission == "" {
			req.Permission = "ro"
		}
		if req.Permission != "ro" && req.Permission != "rw" {
			writeError(w, http.StatusBadRequest, "bad_request", "permission must be 'ro' or 'rw'")
			return
		}
		if len(req.Workspaces) == 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "at least one workspace scope is required")
			return
		}
		for _, scope := range req.Workspaces {
			if !validScope(scope) {
				writeError(w, http.StatusBadRequest, "bad_request",
					fmt.Sprintf("invalid workspace scope %q, expected org/ws, org/* or *", scope))
				return
			}
		}

		rawToken, info, err := tokens.CreateToken(req.Description, req.Workspaces, req.Permission)
		if err != nil {
			logger.Error("create token", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, &remote.AdminTokenCreateResponse{
			Token:          rawToken,
			AdminTokenInfo: adminTokenInfo(info),
		})
	}
}

// adminTokenInfo is the listable view of a token, without its hash.
func adminTokenInfo(t *TokenInfo) remote.AdminTokenInfo {
	return remote.AdminTokenInfo{
		ID:          t.ID,
		Description: t.Desc,
		Workspaces:  t.Workspaces,
		Permission:  t.Permission,
		CreatedAt:   t.CreatedAt,
		LastUsedAt:  t.LastUsedAt,
	}
}

// validScope accepts "*", "org/*" and "org/ws".
func validScope(scope string) bool {
	if scope == "*" {
		return true
	}
	org, ws, ok := strings.Cut(scope, "/")
	return ok && models.ValidSegment(org) && (ws == "*" || models.ValidSegment(ws))
}

func makeAdminListTokensHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := tokens.ListTokens()
		if err != nil {
			logger.Error("list tokens", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		entries := make([]remote.AdminTokenInfo, len(list))
		for i, t := range list {
			entries[i] = adminTokenInfo(t)
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func makeAdminDeleteTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := tokens.DeleteToken(id); err != nil {
			logger.Error("delete token", "error", err, "token_id", id)
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func makeAdminListWorkspacesHandler(workspaces WorkspaceOpener, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := workspaces.List()
		if err != nil {
			logger.Error("list workspaces", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if list == nil {
			list = []string{}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"workspaces": list})
	}
}

// makeAdminGCHandler creates a handler for garbage collecting a workspace's
// unreferenced artifacts. ?dry_run=true only counts them.
func makeAdminGCHandler(workspaces WorkspaceOpener, grace time.Duration, webhooks *WebhookNotifier, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ws := r.PathValue("org"), r.PathValue("ws")
		if !models.ValidSegment(org) || !models.ValidSegment(ws) {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid org or workspace in path")
			return
		}

		meta, blobs, err := workspaces.Open(org, ws)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("workspace '%s' not found", models.WorkspaceKey(org, ws)))
			return
		}

		dryRun, err := strconv.ParseBool(cmp.Or(r.URL.Query().Get("dry_run"), "false"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "dry_run must be a boolean")
			return
		}

		result, err := GarbageCollect(r.Context(), meta, blobs, GCOptions{Grace: grace, DryRun: dryRun}, logger)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if !dryRun {
			webhooks.NotifyGC(models.WorkspaceKey(org, ws), result)
		}

		writeJSON(w, http.StatusOK, result)
	}
}
