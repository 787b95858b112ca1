package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/geoconv/internal/convert"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported file formats",
	RunE:  runFormats,
}

func runFormats(cmd *cobra.Command, args []string) error {
	cyan := color.New(color.FgCyan)
	for _, f := range convert.Formats() {
		var modes []string
		if f.CanImport() {
			modes = append(modes, "import")
		}
		if f.CanExport() {
			modes = append(modes, "export")
		}
		cyan.Printf("%-10s", f.Name)
		fmt.Printf(" %-14s %s\n", strings.Join(modes, ","), f.Description)
	}
	return nil
}
