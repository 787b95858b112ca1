// Command geoconv converts geoscience files and publishes them to a
// workspace.
package main

import (
	"os"

	"github.com/kilupskalvis/geoconv/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
