// Package convert turns source files into geoscience objects and back. Each
// file format registers an importer, an exporter or both under a name.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/kilupskalvis/geoconv/internal/geo"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

// ErrUnknownFormat is returned for a format name that is not registered.
var ErrUnknownFormat = errors.New("unknown format")

// UnknownFormatError names the format that could not be resolved.
type UnknownFormatError struct {
	Name      string
	Available []string
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown format %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownFormatError) Unwrap() error { return ErrUnknownFormat }

// Parsed is what an importer produces from its input files.
type Parsed struct {
	// Source is the file name recorded in the Source tag.
	Source   string
	Elements []geo.Element
}

// Importer parses source files into geometry. Elements the format cannot
// represent are returned as *geo.Unsupported so the caller can skip them.
type Importer interface {
	Import(ctx context.Context, files []string) (*Parsed, error)
}

// Exporter writes materialized geometry in a file format.
type Exporter interface {
	Export(w io.Writer, elements []geo.Element) error
}

// Format describes one registered file format.
type Format struct {
	Name        string
	Description string
	// InputType is recorded in the InputType tag of imported objects.
	InputType string
	// Schemas lists the object schemas the exporter accepts.
	Schemas     []string
	NewImporter func() Importer
	NewExporter func() Exporter
}

// CanImport reports whether the format has an importer.
func (f Format) CanImport() bool { return f.NewImporter != nil }

// CanExport reports whether the format has an exporter.
func (f Format) CanExport() bool { return f.NewExporter != nil }

// Accepts reports whether the exporter handles objects of schemaID.
func (f Format) Accepts(schemaID string) bool {
	return slices.Contains(f.Schemas, schemaID)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Format)
)

// Register adds a format. Registering a name twice panics.
func Register(f Format) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f.Name == "" {
		panic("convert: format without a name")
	}
	if _, dup := registry[f.Name]; dup {
		panic("convert: format " + f.Name + " registered twice")
	}
	registry[f.Name] = f
}

// Lookup resolves a format by name.
func Lookup(name string) (Format, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return Format{}, &UnknownFormatError{Name: name, Available: names()}
	}
	return f, nil
}

// Formats returns every registered format ordered by name.
func Formats() []Format {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Format, 0, len(registry))
	for _, f := range registry {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(Format{
		Name:        "obj",
		Description: "Wavefront OBJ, one triangle mesh per file with a part per group",
		InputType:   "OBJ",
		Schemas:     []string{schema.TriangleMeshSchema},
		NewImporter: func() Importer { return objImporter{} },
		NewExporter: func() Exporter { return objExporter{} },
	})
	Register(Format{
		Name:        "obj-split",
		Description: "Wavefront OBJ, one triangle mesh per o/g group",
		InputType:   "OBJ",
		NewImporter: func() Importer { return objImporter{split: true} },
	})
	Register(Format{
		Name:        "ubc",
		Description: "UBC-GIF tensor mesh (.msh) with property files",
		InputType:   "UBC",
		NewImporter: func() Importer { return ubcImporter{} },
	})
	Register(Format{
		Name:        "csv",
		Description: "Delimited point data with x, y, z and attribute columns",
		InputType:   "CSV",
		Schemas:     []string{schema.PointSetSchema},
		NewImporter: func() Importer { return csvImporter{} },
		NewExporter: func() Exporter { return csvExporter{} },
	})
}
