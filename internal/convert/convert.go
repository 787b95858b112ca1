package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilupskalvis/geoconv/internal/geo"
	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/publish"
	"github.com/kilupskalvis/geoconv/internal/retrieve"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

// Options controls one conversion.
type Options struct {
	// EPSG is the coordinate reference system of the source. Zero leaves
	// the CRS unspecified.
	EPSG int
	// Tags are merged over the default Source, Stage and InputType tags.
	Tags       map[string]string
	UploadPath string
	Overwrite  bool
	// Publish uploads the objects. When false each object is written to
	// OutputDir as <name>.json instead.
	Publish   bool
	OutputDir string
}

// Skipped is an element that could not be converted.
type Skipped struct {
	Element string
	Reason  string
}

// Result is the outcome of ConvertFile.
type Result struct {
	// Objects holds the built objects in source order.
	Objects []schema.Object
	// Published is set when Options.Publish is true, one entry per object.
	Published []publish.Result
	Stats     publish.Stats
	Skipped   []Skipped
	// Files lists the JSON documents written when not publishing.
	Files []string
}

// Metadata returns the metadata of every successfully published object.
func (r *Result) Metadata() []*models.ObjectMetadata {
	var out []*models.ObjectMetadata
	for _, p := range r.Published {
		if p.Metadata != nil {
			out = append(out, p.Metadata)
		}
	}
	return out
}

// Converter runs importers and exporters against a local artifact cache
// and, optionally, a remote workspace.
type Converter struct {
	builder   *schema.Builder
	publisher *publish.Publisher
	retriever *retrieve.Retriever
	logger    *slog.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithPublisher enables publishing converted objects.
func WithPublisher(p *publish.Publisher) Option {
	return func(c *Converter) { c.publisher = p }
}

// WithRetriever enables exports.
func WithRetriever(r *retrieve.Retriever) Option {
	return func(c *Converter) { c.retriever = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Converter that stages artifacts through builder.
func New(builder *schema.Builder, opts ...Option) *Converter {
	c := &Converter{builder: builder, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConvertFile imports files in the named format, builds one object per
// supported element and publishes them or writes them to disk. Elements
// with unsupported geometry are logged and skipped; the rest of the batch
// proceeds. The error is set when nothing could be attempted; per-object
// publish failures are reported in Result.Published.
func (c *Converter) ConvertFile(ctx context.Context, format string, files []string, opts Options) (*Result, error) {
	f, err := Lookup(format)
	if err != nil {
		return nil, err
	}
	if !f.CanImport() {
		return nil, fmt.Errorf("format %s cannot be imported", f.Name)
	}
	if len(files) == 0 {
		return nil, errors.New("no input files")
	}
	if opts.Publish && c.publisher == nil {
		return nil, errors.New("publishing requires a workspace")
	}

	parsed, err := f.NewImporter().Import(ctx, files)
	if err != nil {
		return nil, err
	}

	tags := map[string]string{
		"Source":    parsed.Source + " (via geoconv)",
		"Stage":     "Experimental",
		"InputType": f.InputType,
	}
	maps.Copy(tags, opts.Tags)
	build := schema.Options{Tags: tags}
	if opts.EPSG > 0 {
		build.CRS = geo.EPSG(opts.EPSG)
	}

	res := &Result{}
	for _, el := range parsed.Elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obj, err := c.builder.Build(el, build)
		if err != nil {
			var unsupported *geo.UnsupportedGeometryError
			if errors.As(err, &unsupported) {
				c.logger.Warn("element skipped", "element", unsupported.Element, "reason", unsupported.Reason)
				res.Skipped = append(res.Skipped, Skipped{Element: unsupported.Element, Reason: unsupported.Reason})
				continue
			}
			return nil, err
		}
		res.Objects = append(res.Objects, obj)
	}
	c.logger.Info("converted", "format", f.Name, "source", parsed.Source,
		"objects", len(res.Objects), "skipped", len(res.Skipped))

	if !opts.Publish {
		res.Files, err = writeObjects(opts.OutputDir, res.Objects)
		return res, err
	}

	res.Published, res.Stats, err = c.publisher.Publish(ctx, res.Objects, publish.Options{
		UploadPath: opts.UploadPath,
		Overwrite:  opts.Overwrite,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func writeObjects(dir string, objects []schema.Object) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var files []string
	for _, obj := range objects {
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return files, fmt.Errorf("encode %s: %w", obj.Name(), err)
		}
		path := filepath.Join(dir, fileName(obj.Name())+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}

func fileName(name string) string {
	if name == "" {
		return "object"
	}
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name)
}

// ExportFile fetches refs, materializes them and writes them to path in
// the named format. Every object must have a schema the exporter accepts;
// otherwise the export fails with *schema.UnsupportedObjectError before
// any artifact is downloaded.
func (c *Converter) ExportFile(ctx context.Context, format, path string, refs []models.ObjectRef) error {
	f, err := Lookup(format)
	if err != nil {
		return err
	}
	if !f.CanExport() {
		return fmt.Errorf("format %s cannot be exported", f.Name)
	}
	if c.retriever == nil {
		return errors.New("exporting requires a workspace")
	}
	if len(refs) == 0 {
		return errors.New("no objects to export")
	}

	objects := make([]schema.Object, len(refs))
	for i, ref := range refs {
		resp, err := c.retriever.FetchMetadata(ctx, ref)
		if err != nil {
			return fmt.Errorf("object %s: %w", ref, err)
		}
		if !f.Accepts(resp.Object.Schema()) {
			return fmt.Errorf("object %s: %w", ref, &schema.UnsupportedObjectError{Schema: resp.Object.Schema()})
		}
		objects[i] = resp.Object
	}

	elements := make([]geo.Element, len(objects))
	for i, obj := range objects {
		el, err := c.retriever.Materialize(ctx, obj)
		if err != nil {
			return err
		}
		elements[i] = el
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.NewExporter().Export(out, elements); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("export %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	c.logger.Info("exported", "format", f.Name, "path", path, "objects", len(elements))
	return nil
}
