// Package models defines the data structures shared between the converter
// pipelines, the remote client and the server.
package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// WorkspaceContext selects the remote workspace every publish and retrieve
// call operates on. It is passed explicitly; there is no ambient workspace.
type WorkspaceContext struct {
	OrgID       string
	WorkspaceID string
	HubURL      string
	Credentials oauth2.TokenSource
}

// Validate checks that the context names a reachable workspace.
func (w WorkspaceContext) Validate() error {
	if w.HubURL == "" {
		return errors.New("workspace: hub URL is required")
	}
	u, err := url.Parse(w.HubURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("workspace: invalid hub URL %q", w.HubURL)
	}
	if !ValidSegment(w.OrgID) {
		return fmt.Errorf("workspace: invalid org id %q", w.OrgID)
	}
	if !ValidSegment(w.WorkspaceID) {
		return fmt.Errorf("workspace: invalid workspace id %q", w.WorkspaceID)
	}
	return nil
}

// Key returns "org/workspace", the scope string used by server tokens.
func (w WorkspaceContext) Key() string {
	return WorkspaceKey(w.OrgID, w.WorkspaceID)
}

// WorkspaceKey joins an org and workspace id.
func WorkspaceKey(org, ws string) string {
	return org + "/" + ws
}

// ValidSegment reports whether s can be used as an org or workspace id.
func ValidSegment(s string) bool {
	if s == "" || len(s) > 128 || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\ \t\n")
}

// StaticToken returns a token source for a fixed bearer token, or nil when
// token is empty.
func StaticToken(token string) oauth2.TokenSource {
	if token == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}
