package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/geoconv/internal/config"
	"github.com/kilupskalvis/geoconv/internal/ledger"
	"github.com/kilupskalvis/geoconv/internal/remote"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new geoconv project",
	Long: `Initialize a new geoconv project in the current directory.
This creates a .geoconv directory holding the configuration, the artifact
cache and the publish ledger.

Without --hub the project only converts to local files.`,
	RunE: runInit,
}

var (
	initHub       string
	initOrg       string
	initWorkspace string
	initToken     string
	initEPSG      int
	initCacheDir  string
	initSkipCheck bool
)

func init() {
	f := initCmd.Flags()
	f.StringVar(&initHub, "hub", "", "Object service URL")
	f.StringVar(&initOrg, "org", "", "Organisation id")
	f.StringVar(&initWorkspace, "workspace", "", "Workspace id")
	f.StringVar(&initToken, "token", "", "Access token (prefer "+config.TokenEnv+")")
	f.IntVar(&initEPSG, "epsg", 0, "Default EPSG code for conversions")
	f.StringVar(&initCacheDir, "cache-dir", "", "Artifact cache directory (default .geoconv/cache)")
	f.BoolVar(&initSkipCheck, "skip-check", false, "Do not contact the workspace")
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	// Check if already initialized
	if _, err := config.FindRoot(cwd); err == nil {
		return errors.New("geoconv project already exists")
	}

	cfg := config.Config{
		HubURL:      initHub,
		OrgID:       initOrg,
		WorkspaceID: initWorkspace,
		Token:       initToken,
		DefaultEPSG: initEPSG,
		CacheDir:    initCacheDir,
	}

	if cfg.HasWorkspace() {
		ws, err := cfg.Workspace()
		if err != nil {
			return err
		}
		fmt.Printf("Workspace: %s at %s\n", ws.Key(), ws.HubURL)

		if !initSkipCheck {
			client, err := remote.NewHTTPClient(ws, remote.WithTimeout(30*time.Second))
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			info, err := client.GetInfo(context.Background())
			if err != nil {
				return fmt.Errorf("failed to reach workspace: %w", err)
			}
			fmt.Printf("  %d objects, %d artifacts\n", info.ObjectCount, info.ArtifactCount)
		}
	} else if initHub != "" || initOrg != "" || initWorkspace != "" {
		return errors.New("--hub, --org and --workspace must be given together")
	}

	saved, err := config.Initialize(cwd, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	l, err := ledger.Open(saved.LedgerPath())
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	l.Close()

	color.New(color.FgGreen).Printf("Initialized geoconv project in %s\n", saved.Path())
	if !cfg.HasWorkspace() {
		fmt.Println("No workspace configured; use 'geoconv convert --no-publish'.")
	}
	return nil
}
