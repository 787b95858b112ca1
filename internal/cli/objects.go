package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var objectsCmd = &cobra.Command{
	Use:   "objects [prefix]",
	Short: "List objects in the workspace",
	Long:  `List the latest version of every object in the workspace, optionally under a path prefix.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runObjects,
}

var objectsLong bool

func init() {
	objectsCmd.Flags().BoolVarP(&objectsLong, "long", "l", false, "Show full ids, schema and creation time")
}

func runObjects(cmd *cobra.Command, args []string) error {
	c, err := initFullContext()
	if err != nil {
		return err
	}
	defer c.Close()

	var prefix string
	if len(args) == 1 {
		prefix = args[0]
	}

	objects, err := c.Client.ListObjects(context.Background(), prefix)
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}
	if len(objects) == 0 {
		fmt.Println("No objects")
		return nil
	}

	yellow := color.New(color.FgYellow)
	for _, o := range objects {
		if objectsLong {
			yellow.Printf("%s@%s", o.ObjectID, o.VersionID)
			fmt.Printf("  %-16s  %s  %s\n", o.SchemaName, o.CreatedAt.Format("2006-01-02 15:04:05"), o.Path)
			continue
		}
		yellow.Printf("%s ", shortID(o.ObjectID))
		fmt.Println(o.Path)
	}
	return nil
}
