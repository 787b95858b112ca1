package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/geoconv/internal/convert"
)

var convertCmd = &cobra.Command{
	Use:   "convert <format> <file>...",
	Short: "Convert files and publish the objects",
	Long: `Convert source files into geoscience objects.

The objects are published to the configured workspace under --upload-path
and recorded in the ledger. With --no-publish they are written as JSON to
--output-dir instead; their artifacts stay in the local cache.

Examples:
  geoconv convert obj pit.obj --epsg 32633 --upload-path surfaces
  geoconv convert ubc mesh.msh density.den --tag Stage=Final
  geoconv convert csv collars.csv --no-publish --output-dir out`,
	Args: cobra.MinimumNArgs(2),
	RunE: runConvert,
}

var (
	convertEPSG       int
	convertTags       []string
	convertUploadPath string
	convertOverwrite  bool
	convertNoPublish  bool
	convertOutputDir  string
)

func init() {
	f := convertCmd.Flags()
	f.IntVar(&convertEPSG, "epsg", 0, "EPSG code of the source coordinates (default from config)")
	f.StringArrayVarP(&convertTags, "tag", "t", nil, "Tag as key=value, repeat for multiple")
	f.StringVar(&convertUploadPath, "upload-path", "", "Remote folder for the objects")
	f.BoolVar(&convertOverwrite, "overwrite", false, "Replace objects at the same path instead of adding a version")
	f.BoolVar(&convertNoPublish, "no-publish", false, "Write objects to --output-dir instead of publishing")
	f.StringVarP(&convertOutputDir, "output-dir", "o", ".", "Directory for --no-publish output")
}

func parseTags(pairs []string) (map[string]string, error) {
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q, expected key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	open := initFullContext
	if convertNoPublish {
		open = initContext
	}
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	tags, err := parseTags(convertTags)
	if err != nil {
		return err
	}
	epsg := convertEPSG
	if epsg == 0 {
		epsg = c.Config.DefaultEPSG
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := c.converter().ConvertFile(ctx, args[0], args[1:], convert.Options{
		EPSG:       epsg,
		Tags:       tags,
		UploadPath: convertUploadPath,
		Overwrite:  convertOverwrite,
		Publish:    !convertNoPublish,
		OutputDir:  convertOutputDir,
	})
	if err != nil {
		return err
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for _, s := range res.Skipped {
		yellow.Printf("skipped %s: %s\n", s.Element, s.Reason)
	}

	if convertNoPublish {
		for _, f := range res.Files {
			fmt.Printf("wrote %s\n", f)
		}
		return nil
	}

	ws, _ := c.Config.Workspace()
	failed := 0
	for _, r := range res.Published {
		if r.Err != nil {
			failed++
			red.Printf("failed %s: %v\n", r.Object.Name(), r.Err)
			continue
		}
		if err := c.Ledger.Record(ws.Key(), strings.Join(args[1:], ","), r.Metadata); err != nil {
			yellow.Printf("warning: could not record %s in ledger: %v\n", r.Metadata.ObjectID, err)
		}
		fmt.Printf("%s %s  %s\n", color.GreenString("published"), shortID(r.Metadata.ObjectID), r.Metadata.Path)
	}

	fmt.Printf("%d artifacts uploaded, %d reused\n", res.Stats.Uploaded, res.Stats.Reused)
	if failed > 0 {
		return fmt.Errorf("%d of %d objects failed to publish", failed, len(res.Published))
	}
	return nil
}
