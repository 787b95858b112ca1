package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/remote"
)

var (
	adminURL   string
	adminToken string

	adminTokenDesc       string
	adminTokenWorkspaces []string
	adminTokenPermission string

	adminGCDryRun bool
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administer a geoconv server",
	Long:  "Commands for managing tokens and workspaces on a running geoconv-server.",
}

// --- geoconv admin tokens ---

var adminTokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage server tokens",
}

var adminTokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new authentication token",
	RunE:  runAdminTokensCreate,
}

var adminTokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all authentication tokens",
	RunE:  runAdminTokensList,
}

var adminTokensDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an authentication token",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminTokensDelete,
}

// --- geoconv admin workspaces ---

var adminWorkspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "List workspaces on the server",
	RunE:  runAdminWorkspaces,
}

var adminGCCmd = &cobra.Command{
	Use:   "gc <org>/<workspace>",
	Short: "Delete artifacts no object version references",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminGC,
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminURL, "url",
		envOrDefault("GEOCONV_SERVER_URL", ""),
		"Server base URL (env: GEOCONV_SERVER_URL)")
	adminCmd.PersistentFlags().StringVar(&adminToken, "admin-token",
		os.Getenv("GEOCONV_ADMIN_TOKEN"),
		"Admin token (env: GEOCONV_ADMIN_TOKEN)")

	adminCmd.AddCommand(adminTokensCmd, adminWorkspacesCmd, adminGCCmd)
	adminTokensCmd.AddCommand(adminTokensCreateCmd, adminTokensListCmd, adminTokensDeleteCmd)

	tf := adminTokensCreateCmd.Flags()
	tf.StringVar(&adminTokenDesc, "desc", "", "Token description")
	tf.StringArrayVar(&adminTokenWorkspaces, "workspace", nil,
		"Workspaces to grant access to as org/ws or org/*, repeat for multiple (default: *)")
	tf.StringVar(&adminTokenPermission, "permission", "rw", "Permission level: ro or rw")

	adminGCCmd.Flags().BoolVar(&adminGCDryRun, "dry-run", false, "Count unreferenced artifacts without deleting them")
}

// resolveAdminClient builds an AdminClient from the admin flags.
func resolveAdminClient() (*remote.AdminClient, error) {
	if adminURL == "" {
		return nil, errors.New("--url or GEOCONV_SERVER_URL is required")
	}
	if adminToken == "" {
		return nil, errors.New("--admin-token or GEOCONV_ADMIN_TOKEN is required")
	}
	c := remote.NewAdminClient(adminURL, adminToken)
	if c.Insecure() {
		color.New(color.FgYellow).Fprintln(os.Stderr, "warning: sending the admin token over unencrypted HTTP")
	}
	return c, nil
}

func runAdminTokensCreate(_ *cobra.Command, _ []string) error {
	c, err := resolveAdminClient()
	if err != nil {
		return err
	}

	workspaces := adminTokenWorkspaces
	if len(workspaces) == 0 {
		workspaces = []string{"*"}
	}

	resp, err := c.CreateToken(context.Background(), adminTokenDesc, workspaces, adminTokenPermission)
	if err != nil {
		return err
	}

	fmt.Println("Token created.")
	fmt.Printf("  ID:          %s\n", resp.ID)
	fmt.Printf("  Description: %s\n", resp.Description)
	fmt.Printf("  Workspaces:  %s\n", strings.Join(resp.Workspaces, ", "))
	fmt.Printf("  Permission:  %s\n", resp.Permission)
	fmt.Println()
	color.New(color.FgGreen).Printf("Token: %s\n", resp.Token)
	color.New(color.FgYellow).Println("Save this token, it will not be shown again.")
	return nil
}

func runAdminTokensList(_ *cobra.Command, _ []string) error {
	c, err := resolveAdminClient()
	if err != nil {
		return err
	}

	tokens, err := c.ListTokens(context.Background())
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	fmt.Printf("  %-36s  %-20s  %-20s  %-4s  %s\n", "ID", "Description", "Workspaces", "Perm", "Last used")
	for _, t := range tokens {
		lastUsed := "never"
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("  %-36s  %-20s  %-20s  %-4s  %s\n",
			t.ID,
			t.Description,
			strings.Join(t.Workspaces, ","),
			t.Permission,
			lastUsed,
		)
	}
	return nil
}

func runAdminTokensDelete(_ *cobra.Command, args []string) error {
	c, err := resolveAdminClient()
	if err != nil {
		return err
	}

	if err := c.DeleteToken(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted token '%s'\n", args[0])
	return nil
}

func runAdminWorkspaces(_ *cobra.Command, _ []string) error {
	c, err := resolveAdminClient()
	if err != nil {
		return err
	}

	workspaces, err := c.ListWorkspaces(context.Background())
	if err != nil {
		return err
	}
	for _, ws := range workspaces {
		fmt.Println(ws)
	}
	return nil
}

func runAdminGC(_ *cobra.Command, args []string) error {
	org, ws, ok := strings.Cut(args[0], "/")
	if !ok || !models.ValidSegment(org) || !models.ValidSegment(ws) {
		return fmt.Errorf("invalid workspace %q, expected <org>/<workspace>", args[0])
	}

	c, err := resolveAdminClient()
	if err != nil {
		return err
	}
	res, err := c.GarbageCollect(context.Background(), org, ws, adminGCDryRun)
	if err != nil {
		return err
	}
	verb := "deleted"
	if res.DryRun {
		verb = "would be deleted"
	}
	fmt.Printf("Scanned %d artifacts: %d %s, %d kept", res.ArtifactsScanned, res.ArtifactsDeleted, verb, res.ArtifactsKept)
	if res.ArtifactsRecent > 0 {
		fmt.Printf(" (%d too recent to collect)", res.ArtifactsRecent)
	}
	fmt.Println()
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
