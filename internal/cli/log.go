package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/geoconv/internal/ledger"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show publish history",
	Long:  `Display the objects published from this project, most recent first.`,
	RunE:  runLog,
}

var (
	logOneline bool
	logLimit   int
	logObject  string
	logName    string
	logAll     bool
)

func init() {
	logCmd.Flags().BoolVar(&logOneline, "oneline", false, "Show each publish on a single line")
	logCmd.Flags().IntVarP(&logLimit, "n", "n", 0, "Limit the number of entries to show")
	logCmd.Flags().StringVar(&logObject, "object", "", "Only show versions of this object id")
	logCmd.Flags().StringVar(&logName, "name", "", "Only show objects whose name starts with this prefix")
	logCmd.Flags().BoolVar(&logAll, "all", false, "Include every workspace, not just the configured one")
}

func runLog(cmd *cobra.Command, args []string) error {
	c, err := initContext()
	if err != nil {
		return err
	}
	defer c.Close()

	f := ledger.Filter{ObjectID: logObject, Name: logName, Limit: logLimit}
	if !logAll && c.Config.HasWorkspace() {
		ws, err := c.Config.Workspace()
		if err != nil {
			return err
		}
		f.Workspace = ws.Key()
	}

	entries, err := c.Ledger.Entries(f)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Nothing published yet")
		return nil
	}

	yellow := color.New(color.FgYellow)
	magenta := color.New(color.FgMagenta)

	for _, e := range entries {
		if logOneline {
			yellow.Printf("%s ", shortID(e.ObjectID))
			magenta.Printf("[%s] ", e.Schema)
			fmt.Println(e.Path)
			continue
		}
		yellow.Printf("object %s@%s\n", e.ObjectID, e.VersionID)
		fmt.Printf("Workspace: %s\n", e.Workspace)
		fmt.Printf("Date:      %s\n", e.PublishedAt.Local().Format("Mon Jan 2 15:04:05 2006"))
		fmt.Printf("Schema:    %s\n", e.Schema)
		fmt.Printf("\n    %s\n", e.Path)
		if e.Source != "" {
			fmt.Printf("    (from %s)\n", e.Source)
		}
		fmt.Println()
	}
	return nil
}
