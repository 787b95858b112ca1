package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(dir, Config{
		HubURL:      "https://hub.example.com",
		OrgID:       "acme",
		WorkspaceID: "site",
		DefaultEPSG: 32633,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, Dir), cfg.Path())
	assert.DirExists(t, filepath.Join(dir, Dir, CacheDir))

	info, err := os.Stat(filepath.Join(dir, Dir, ConfigFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	nested := filepath.Join(dir, "data", "surveys")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	loaded, err := LoadFrom(nested)
	require.NoError(t, err)
	assert.Equal(t, "https://hub.example.com", loaded.HubURL)
	assert.Equal(t, 32633, loaded.DefaultEPSG)
	assert.Equal(t, cfg.Path(), loaded.Path())
	assert.Equal(t, filepath.Join(dir, Dir, LedgerFile), loaded.LedgerPath())
}

func TestInitialize_AlreadyExists(t *testing.T) {
	dir := t.TempDir()
	_, err := Initialize(dir, Config{})
	require.NoError(t, err)
	_, err = Initialize(dir, Config{})
	assert.ErrorContains(t, err, "already exists")
}

func TestFindRoot_NotInitialized(t *testing.T) {
	_, err := FindRoot(t.TempDir())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestCachePath(t *testing.T) {
	cfg := &Config{path: filepath.Join("/work", "proj", Dir)}
	assert.Equal(t, filepath.Join("/work", "proj", Dir, CacheDir), cfg.CachePath())

	cfg.CacheDir = "artifacts"
	assert.Equal(t, filepath.Join("/work", "proj", "artifacts"), cfg.CachePath())

	cfg.CacheDir = "/var/cache/geoconv"
	assert.Equal(t, "/var/cache/geoconv", cfg.CachePath())
}

func TestWorkspace(t *testing.T) {
	t.Setenv(TokenEnv, "")
	cfg := &Config{HubURL: "https://hub.example.com", OrgID: "acme", WorkspaceID: "site", Token: "stored"}
	require.True(t, cfg.HasWorkspace())

	ws, err := cfg.Workspace()
	require.NoError(t, err)
	assert.Equal(t, "acme/site", ws.Key())
	require.NotNil(t, ws.Credentials)
	tok, err := ws.Credentials.Token()
	require.NoError(t, err)
	assert.Equal(t, "stored", tok.AccessToken)

	t.Setenv(TokenEnv, "from-env")
	ws, err = cfg.Workspace()
	require.NoError(t, err)
	tok, err = ws.Credentials.Token()
	require.NoError(t, err)
	assert.Equal(t, "from-env", tok.AccessToken)
}

func TestWorkspace_Invalid(t *testing.T) {
	t.Setenv(TokenEnv, "")
	_, err := (&Config{OrgID: "acme", WorkspaceID: "site"}).Workspace()
	assert.ErrorContains(t, err, "hub URL is required")

	_, err = (&Config{HubURL: "https://hub", OrgID: "a/b", WorkspaceID: "site"}).Workspace()
	assert.ErrorContains(t, err, "invalid org id")

	ws, err := (&Config{HubURL: "https://hub", OrgID: "acme", WorkspaceID: "site"}).Workspace()
	require.NoError(t, err)
	assert.Nil(t, ws.Credentials)
}
