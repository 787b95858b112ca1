package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

var (
	// ErrObjectNotFound is matched by errors for objects the service does not have.
	ErrObjectNotFound = errors.New("object not found")
	// ErrArtifactNotFound is matched by errors for artifacts the service does not have.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// ObjectService defines the contract for communicating with a geoconv object service.
type ObjectService interface {
	CheckArtifacts(ctx context.Context, hashes []string) (*ArtifactCheckResponse, error)
	UploadArtifact(ctx context.Context, hash string, data []byte) error
	DownloadArtifact(ctx context.Context, hash string) ([]byte, error)

	CreateObject(ctx context.Context, path string, obj schema.Object, mode IfExists) (*models.ObjectMetadata, error)
	GetObject(ctx context.Context, objectID, versionID string) (*ObjectResponse, error)
	ListObjects(ctx context.Context, prefix string) ([]models.ObjectMetadata, error)

	GetInfo(ctx context.Context) (*WorkspaceInfo, error)
}

// conn sends JSON requests and decodes error responses. It is shared by
// the workspace and admin clients.
type conn struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newConn(token oauth2.TokenSource, timeout time.Duration) conn {
	transport := http.DefaultTransport
	if token != nil {
		transport = &oauth2.Transport{Source: token, Base: http.DefaultTransport}
	}
	return conn{httpClient: &http.Client{Transport: transport, Timeout: timeout}}
}

// HTTPClient implements ObjectService over HTTP.
type HTTPClient struct {
	conn
	baseURL string
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithRateLimit paces requests to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithTimeout sets the per-request timeout of the underlying client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// NewHTTPClient creates an HTTP client for one workspace. Credentials, when
// set, are attached as bearer tokens by an oauth2 transport.
func NewHTTPClient(ws models.WorkspaceContext, opts ...ClientOption) (*HTTPClient, error) {
	if err := ws.Validate(); err != nil {
		return nil, err
	}
	c := &HTTPClient{
		conn: newConn(ws.Credentials, 5*time.Minute),
		baseURL: fmt.Sprintf("%s/api/v1/orgs/%s/workspaces/%s",
			strings.TrimRight(ws.HubURL, "/"), url.PathEscape(ws.OrgID), url.PathEscape(ws.WorkspaceID)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *HTTPClient) workspaceURL(path string) string {
	return c.baseURL + path
}

func (c *conn) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

func (c *conn) doJSON(ctx context.Context, method, url string, reqBody, respBody any) error {
	var body io.Reader
	headers := map[string]string{"Content-Type": "application/json"}

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, url, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// CheckArtifacts asks the service which artifacts it already stores.
func (c *HTTPClient) CheckArtifacts(ctx context.Context, hashes []string) (*ArtifactCheckResponse, error) {
	req := &ArtifactCheckRequest{Hashes: hashes}
	var resp ArtifactCheckResponse
	if err := c.doJSON(ctx, http.MethodPost, c.workspaceURL("/artifacts/check"), req, &resp); err != nil {
		return nil, fmt.Errorf("check artifacts: %w", err)
	}
	return &resp, nil
}

// UploadArtifact sends the serialized bytes of one artifact.
func (c *HTTPClient) UploadArtifact(ctx context.Context, hash string, data []byte) error {
	headers := map[string]string{"Content-Type": "application/octet-stream"}

	resp, err := c.do(ctx, http.MethodPut, c.workspaceURL("/artifacts/"+hash), bytes.NewReader(data), headers)
	if err != nil {
		return fmt.Errorf("upload artifact %s: %w", hash, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("upload artifact %s: %w", hash, decodeError(resp))
	}

	return nil
}

// DownloadArtifact fetches the bytes of one artifact.
func (c *HTTPClient) DownloadArtifact(ctx context.Context, hash string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.workspaceURL("/artifacts/"+hash), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("download artifact %s: %w", hash, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download artifact %s: %w", hash, decodeError(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download artifact %s: read body: %w", hash, err)
	}
	return data, nil
}

// CreateObject publishes obj at path and returns the stored version.
func (c *HTTPClient) CreateObject(ctx context.Context, path string, obj schema.Object, mode IfExists) (*models.ObjectMetadata, error) {
	if mode == "" {
		mode = IfExistsVersion
	}
	u := c.workspaceURL("/objects?if_exists=" + url.QueryEscape(string(mode)))
	req := &CreateObjectRequest{Path: path, Object: obj}
	var meta models.ObjectMetadata
	if err := c.doJSON(ctx, http.MethodPost, u, req, &meta); err != nil {
		return nil, fmt.Errorf("create object %s: %w", path, err)
	}
	return &meta, nil
}

// GetObject returns an object version; an empty versionID selects the latest.
func (c *HTTPClient) GetObject(ctx context.Context, objectID, versionID string) (*ObjectResponse, error) {
	u := c.workspaceURL("/objects/" + url.PathEscape(objectID))
	if versionID != "" {
		u += "?version=" + url.QueryEscape(versionID)
	}
	var resp ObjectResponse
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectID, err)
	}
	return &resp, nil
}

// ListObjects returns the latest version of every object whose path starts
// with prefix.
func (c *HTTPClient) ListObjects(ctx context.Context, prefix string) ([]models.ObjectMetadata, error) {
	u := c.workspaceURL("/objects")
	if prefix != "" {
		u += "?prefix=" + url.QueryEscape(prefix)
	}
	var resp ObjectList
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return resp.Objects, nil
}

// GetInfo returns summary info about the workspace.
func (c *HTTPClient) GetInfo(ctx context.Context) (*WorkspaceInfo, error) {
	var info WorkspaceInfo
	if err := c.doJSON(ctx, http.MethodGet, c.workspaceURL("/info"), nil, &info); err != nil {
		return nil, fmt.Errorf("get workspace info: %w", err)
	}
	return &info, nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Status  int
	Detail  map[string]string
	// RetryAfter is the wait the server asked for, if any.
	RetryAfter time.Duration
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// Is maps not-found codes onto ErrObjectNotFound and ErrArtifactNotFound.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrObjectNotFound:
		return e.Status == http.StatusNotFound && e.Code == CodeObjectNotFound
	case ErrArtifactNotFound:
		return e.Status == http.StatusNotFound && e.Code == CodeArtifactNotFound
	}
	return false
}

func decodeError(resp *http.Response) error {
	re := &RemoteError{
		Code:    "unknown",
		Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
		Status:  resp.StatusCode,
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		re.RetryAfter = time.Duration(secs) * time.Second
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		re.Code = errResp.Error
		re.Message = errResp.Message
		re.Detail = errResp.Detail
	}
	return re
}
