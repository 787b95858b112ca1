// Package server implements the geoconv-server HTTP handlers and middleware.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kilupskalvis/geoconv/internal/models"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	principalKey
)

// principal is the authenticated caller of a workspace request.
type principal struct {
	tokenID    string
	workspaces []string
	permission string
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey).(principal)
	return p
}

// TokenInfo holds the metadata for an authenticated token.
type TokenInfo struct {
	ID         string   `json:"id"`
	TokenHash  string   `json:"token_hash"`
	Desc       string   `json:"description"`
	Workspaces []string `json:"workspaces"` // "org/ws", "org/*" or "*"
	Permission string   `json:"permission"` // "ro" or "rw"

	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// TokenStore is the interface for managing authentication tokens.
// GetByHash returns nil, nil for an unknown hash.
type TokenStore interface {
	GetByHash(hash string) (*TokenInfo, error)
	UpdateLastUsed(id string, at time.Time) error
	ListTokens() ([]*TokenInfo, error)
	DeleteToken(id string) error
	CreateToken(desc string, workspaces []string, permission string) (rawToken string, info *TokenInfo, err error)
}

// requestIDMiddleware tags each request with an id, reusing a well-formed
// X-Request-ID set by a proxy in front of the server.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if err := uuid.Validate(reqID); err != nil {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID)))
	})
}

// loggingMiddleware logs one line per request and records it in metrics
// when set. Server errors log at error level.
func loggingMiddleware(logger *slog.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			elapsed := time.Since(start)
			metrics.observeRequest(r.Method, rw.statusCode, elapsed)

			level := slog.LevelInfo
			if rw.statusCode >= 500 {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", elapsed.Milliseconds()),
				slog.String("request_id", requestID(r.Context())),
			)
		})
	}
}

// recoveryMiddleware catches panics and returns 500.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: 0}
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", "error", rec, "request_id", requestID(r.Context()))
					if rw.statusCode == 0 {
						http.Error(rw, `{"error":"internal_error","message":"internal server error"}`, http.StatusInternalServerError)
					}
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// authMiddleware validates bearer tokens and sets permissions in context.
func authMiddleware(tokens TokenStore, usage *tokenUsage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "auth_failed", "missing or invalid Authorization header")
				return
			}

			rawToken := strings.TrimPrefix(auth, "Bearer ")
			info, err := tokens.GetByHash(HashToken(rawToken))
			if err != nil || info == nil {
				writeError(w, http.StatusUnauthorized, "auth_failed", "invalid token")
				return
			}

			usage.touch(info.ID)

			ctx := context.WithValue(r.Context(), principalKey, principal{
				tokenID:    info.ID,
				workspaces: info.Workspaces,
				permission: info.Permission,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// workspaceAllowed reports whether any scope grants access to org/ws.
func workspaceAllowed(scopes []string, org, ws string) bool {
	key := models.WorkspaceKey(org, ws)
	for _, s := range scopes {
		if s == "*" || s == key || s == org+"/*" {
			return true
		}
	}
	return false
}

// requireWorkspace checks that the token has access to the requested workspace.
func requireWorkspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org, ws := r.PathValue("org"), r.PathValue("ws")
		if !models.ValidSegment(org) || !models.ValidSegment(ws) {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid org or workspace in path")
			return
		}

		if !workspaceAllowed(principalFrom(r.Context()).workspaces, org, ws) {
			writeError(w, http.StatusForbidden, "forbidden",
				"token does not have access to workspace '"+models.WorkspaceKey(org, ws)+"'")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireWrite checks that the token has "rw" permission.
func requireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principalFrom(r.Context()).permission != "rw" {
			writeError(w, http.StatusForbidden, "forbidden", "read-only token cannot publish")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter keeps a token bucket per caller. A bucket holds a minute's
// worth of requests and refills continuously.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	perMin  int
	done    chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	rl := &rateLimiter{
		buckets: make(map[string]*bucket),
		perMin:  requestsPerMinute,
		done:    make(chan struct{}),
	}
	if requestsPerMinute > 0 {
		go rl.sweep(5 * time.Minute)
	}
	return rl
}

// sweep drops buckets idle for longer than interval; they would be full
// again anyway.
func (rl *rateLimiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			rl.mu.Lock()
			for k, b := range rl.buckets {
				if now.Sub(b.seen) > interval {
					delete(rl.buckets, k)
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

func (rl *rateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *rateLimiter) reserve(key string, now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(rl.perMin)/60), rl.perMin)}
		rl.buckets[key] = b
	}
	b.seen = now
	res := b.limiter.ReserveN(now, 1)
	wait := res.DelayFrom(now)
	if wait > 0 {
		res.CancelAt(now)
	}
	return wait
}

func callerKey(r *http.Request) string {
	if id := principalFrom(r.Context()).tokenID; id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.perMin <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if wait := rl.reserve(callerKey(r), time.Now()); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// HashToken returns the SHA256 hex digest of a raw token string.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
