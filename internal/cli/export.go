package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/geoconv/internal/models"
)

var exportCmd = &cobra.Command{
	Use:   "export <format> <output> <object>...",
	Short: "Export published objects to a file",
	Long: `Download published objects and write them to a file.

Objects are given as <object_id> for the latest version or
<object_id>@<version_id> for a pinned one. Artifacts already in the local
cache are not downloaded again.

Examples:
  geoconv export obj pit.obj 3f2a9c1e
  geoconv export csv samples.csv 3f2a9c1e@2 77d0b8aa`,
	Args: cobra.MinimumNArgs(3),
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	c, err := initFullContext()
	if err != nil {
		return err
	}
	defer c.Close()

	refs := make([]models.ObjectRef, 0, len(args)-2)
	for _, a := range args[2:] {
		refs = append(refs, models.ParseObjectRef(a))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := c.converter().ExportFile(ctx, args[0], args[1], refs); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("Exported %d objects to %s\n", len(refs), args[1])
	return nil
}
