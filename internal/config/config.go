// Package config manages geoconv configuration and the .geoconv directory.
// It handles loading, saving and initializing a project and resolves the
// workspace context the pipelines run against.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/kilupskalvis/geoconv/internal/models"
)

const (
	Dir        = ".geoconv"
	ConfigFile = "config"
	LedgerFile = "ledger.db"
	CacheDir   = "cache"
)

// TokenEnv overrides the stored token when set.
const TokenEnv = "GEOCONV_TOKEN"

// ErrNotInitialized is returned when no .geoconv directory is found.
var ErrNotInitialized = errors.New("not a geoconv project (or any parent up to root)")

// Config represents the project configuration.
type Config struct {
	HubURL      string `toml:"hub_url"`
	OrgID       string `toml:"org_id"`
	WorkspaceID string `toml:"workspace_id"`
	// CacheDir is resolved relative to the project root when not absolute.
	CacheDir          string  `toml:"cache_dir,omitempty"`
	Token             string  `toml:"token,omitempty"`
	DefaultEPSG       int     `toml:"default_epsg,omitempty"`
	UploadWorkers     int     `toml:"upload_workers,omitempty"`
	RequestsPerSecond float64 `toml:"requests_per_second,omitempty"`

	path string // path to .geoconv directory
}

// FindRoot finds the .geoconv directory by walking up from start.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		p := filepath.Join(dir, Dir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotInitialized
		}
		dir = parent
	}
}

// Load loads the configuration found from the working directory.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadFrom(cwd)
}

// LoadFrom loads the configuration found by walking up from dir.
func LoadFrom(dir string) (*Config, error) {
	root, err := FindRoot(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.path = root
	return &cfg, nil
}

// Save saves the configuration to disk. The file may hold a token, so it
// is only readable by the owner.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0o600)
}

// Path returns the path to the .geoconv directory.
func (c *Config) Path() string {
	return c.path
}

// CachePath returns the artifact cache directory.
func (c *Config) CachePath() string {
	if c.CacheDir == "" {
		return filepath.Join(c.path, CacheDir)
	}
	if filepath.IsAbs(c.CacheDir) {
		return c.CacheDir
	}
	return filepath.Join(filepath.Dir(c.path), c.CacheDir)
}

// LedgerPath returns the path to the publish history database.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.path, LedgerFile)
}

// EffectiveToken returns the token from the environment, or the stored one.
func (c *Config) EffectiveToken() string {
	if t := os.Getenv(TokenEnv); t != "" {
		return t
	}
	return c.Token
}

// HasWorkspace reports whether a remote workspace is configured.
func (c *Config) HasWorkspace() bool {
	return c.HubURL != "" && c.OrgID != "" && c.WorkspaceID != ""
}

// Workspace returns the validated workspace context.
func (c *Config) Workspace() (models.WorkspaceContext, error) {
	ws := models.WorkspaceContext{
		OrgID:       c.OrgID,
		WorkspaceID: c.WorkspaceID,
		HubURL:      c.HubURL,
		Credentials: models.StaticToken(c.EffectiveToken()),
	}
	if err := ws.Validate(); err != nil {
		return models.WorkspaceContext{}, err
	}
	return ws, nil
}

// Initialize creates a .geoconv directory in dir with cfg as its
// configuration.
func Initialize(dir string, cfg Config) (*Config, error) {
	root := filepath.Join(dir, Dir)

	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("geoconv project already exists in %s", dir)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", Dir, err)
	}

	cfg.path = root
	if err := os.MkdirAll(cfg.CachePath(), 0o755); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(root)
		return nil, err
	}
	return &cfg, nil
}
