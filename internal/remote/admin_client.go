package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kilupskalvis/geoconv/internal/models"
)

// AdminClient talks to the server's /admin API with the admin token. It is
// not scoped to a workspace.
type AdminClient struct {
	conn
	baseURL string
}

func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		conn:    newConn(models.StaticToken(token), 30*time.Second),
		baseURL: strings.TrimRight(baseURL, "/") + "/admin",
	}
}

// Insecure reports whether the admin token would be sent in cleartext.
func (c *AdminClient) Insecure() bool {
	return strings.HasPrefix(c.baseURL, "http://")
}

type adminTokenCreateReq struct {
	Description string   `json:"description"`
	Workspaces  []string `json:"workspaces"`
	Permission  string   `json:"permission"`
}

// AdminTokenInfo describes a token. Raw token values are never listed.
type AdminTokenInfo struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Workspaces  []string   `json:"workspaces"`
	Permission  string     `json:"permission"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// AdminTokenCreateResponse carries the raw token, shown once.
type AdminTokenCreateResponse struct {
	Token string `json:"token"`
	AdminTokenInfo
}

// GCResult reports what a garbage collection run removed.
type GCResult struct {
	ArtifactsScanned int `json:"artifacts_scanned"`
	ArtifactsDeleted int `json:"artifacts_deleted"`
	ArtifactsKept    int `json:"artifacts_kept"`
	// ArtifactsRecent counts unreferenced artifacts spared by the grace
	// period. They are included in ArtifactsKept.
	ArtifactsRecent int  `json:"artifacts_recent,omitempty"`
	DryRun          bool `json:"dry_run,omitempty"`
}

// CreateToken grants permission ("ro" or "rw") on workspaces, each of
// which is "org/ws", "org/*" or "*".
func (c *AdminClient) CreateToken(ctx context.Context, desc string, workspaces []string, permission string) (*AdminTokenCreateResponse, error) {
	req := adminTokenCreateReq{Description: desc, Workspaces: workspaces, Permission: permission}
	var resp AdminTokenCreateResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/tokens", req, &resp); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &resp, nil
}

func (c *AdminClient) ListTokens(ctx context.Context) ([]AdminTokenInfo, error) {
	var tokens []AdminTokenInfo
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/tokens", nil, &tokens); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

func (c *AdminClient) DeleteToken(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, c.baseURL+"/tokens/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// ListWorkspaces returns every "org/ws" the server holds data for.
func (c *AdminClient) ListWorkspaces(ctx context.Context) ([]string, error) {
	var resp struct {
		Workspaces []string `json:"workspaces"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/workspaces", nil, &resp); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return resp.Workspaces, nil
}

// GarbageCollect deletes the workspace's artifacts that no stored object
// version references.
func (c *AdminClient) GarbageCollect(ctx context.Context, org, ws string, dryRun bool) (*GCResult, error) {
	var resp GCResult
	u := fmt.Sprintf("%s/orgs/%s/workspaces/%s/gc", c.baseURL, url.PathEscape(org), url.PathEscape(ws))
	if dryRun {
		u += "?dry_run=true"
	}
	if err := c.doJSON(ctx, http.MethodPost, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("garbage collect %s: %w", models.WorkspaceKey(org, ws), err)
	}
	return &resp, nil
}
