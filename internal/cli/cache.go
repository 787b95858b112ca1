package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the local artifact cache",
	RunE:  runCacheStats,
}

var cacheListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached artifact hashes",
	RunE:  runCacheList,
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	c, err := initContext()
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.Cache.Size()
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	fmt.Printf("Cache:     %s\n", c.Cache.Root())
	fmt.Printf("Artifacts: %d\n", stats.Artifacts)
	fmt.Printf("Size:      %s\n", humanBytes(stats.Bytes))
	return nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	c, err := initContext()
	if err != nil {
		return err
	}
	defer c.Close()

	hashes, err := c.Cache.List()
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	for _, h := range hashes {
		fmt.Println(h)
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
