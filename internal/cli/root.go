// Package cli implements the command-line interface for geoconv.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/geoconv/internal/cache"
	"github.com/kilupskalvis/geoconv/internal/config"
	"github.com/kilupskalvis/geoconv/internal/convert"
	"github.com/kilupskalvis/geoconv/internal/ledger"
	"github.com/kilupskalvis/geoconv/internal/publish"
	"github.com/kilupskalvis/geoconv/internal/remote"
	"github.com/kilupskalvis/geoconv/internal/retrieve"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

const memoSize = 256

var verbose bool

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Cache  *cache.Cache
	Ledger *ledger.Ledger
	Client remote.ObjectService
	Logger *slog.Logger
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Ledger != nil {
		c.Ledger.Close()
	}
}

// initContext loads the config and opens the cache and ledger (no client)
func initContext() (*cmdContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	c, err := cache.New(cfg.CachePath(), cache.WithMemo(memoSize))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	l, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	return &cmdContext{Config: cfg, Cache: c, Ledger: l, Logger: newLogger()}, nil
}

// initFullContext also connects to the configured workspace
func initFullContext() (*cmdContext, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}

	ws, err := ctx.Config.Workspace()
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("%w (run 'geoconv init --hub <url> --org <id> --workspace <id>')", err)
	}

	opts := []remote.ClientOption{remote.WithTimeout(5 * time.Minute)}
	if rps := ctx.Config.RequestsPerSecond; rps > 0 {
		opts = append(opts, remote.WithRateLimit(rps, int(rps)+1))
	}
	client, err := remote.NewHTTPClient(ws, opts...)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	retry := remote.DefaultRetryConfig()
	retry.Logger = ctx.Logger
	ctx.Client = remote.NewRetryClient(client, retry)

	return ctx, nil
}

// converter wires the pipelines around the context's cache. Without a
// client only local conversion is available.
func (c *cmdContext) converter() *convert.Converter {
	builder := schema.NewBuilder(c.Cache, schema.WithValidator(schema.MustValidator()))
	opts := []convert.Option{convert.WithLogger(c.Logger)}
	if c.Client != nil {
		pubOpts := []publish.Option{publish.WithLogger(c.Logger)}
		if n := c.Config.UploadWorkers; n > 0 {
			pubOpts = append(pubOpts, publish.WithWorkers(n))
		}
		opts = append(opts,
			convert.WithPublisher(publish.New(c.Client, c.Cache, pubOpts...)),
			convert.WithRetriever(retrieve.New(c.Client, c.Cache, retrieve.WithLogger(c.Logger))),
		)
	}
	return convert.New(builder, opts...)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

var rootCmd = &cobra.Command{
	Use:   "geoconv",
	Short: "Geoscience object converter",
	Long: `geoconv converts geoscience files into schema-conformant objects backed by
content-addressed artifacts, publishes them to a workspace and exports them
back to files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Commands return their errors instead of
// exiting so deferred cleanup runs; the error is printed once here.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(objectsCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(formatsCmd)
	rootCmd.AddCommand(adminCmd)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
