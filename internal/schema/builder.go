package schema

import (
	"fmt"
	"maps"

	"github.com/kilupskalvis/geoconv/internal/artifact"
	"github.com/kilupskalvis/geoconv/internal/geo"
)

// ArtifactWriter persists serialized artifacts by hash.
type ArtifactWriter interface {
	Put(hash string, data []byte) (string, error)
}

// Options carries the per-conversion context applied to every object.
type Options struct {
	CRS  geo.CRS
	Tags map[string]string
}

// Builder turns geometry into objects, staging each array in the writer.
type Builder struct {
	store     ArtifactWriter
	codec     artifact.Codec
	validator *Validator
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCodec overrides the artifact compression codec.
func WithCodec(c artifact.Codec) BuilderOption {
	return func(b *Builder) { b.codec = c }
}

// WithValidator checks every built object against its JSON Schema.
func WithValidator(v *Validator) BuilderOption {
	return func(b *Builder) { b.validator = v }
}

// NewBuilder creates a builder writing artifacts into store.
func NewBuilder(store ArtifactWriter, opts ...BuilderOption) *Builder {
	b := &Builder{store: store, codec: artifact.DefaultCodec}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build converts one element. Elements that cannot be represented return
// *geo.UnsupportedGeometryError; cache failures are returned as they are.
func (b *Builder) Build(el geo.Element, opts Options) (Object, error) {
	if err := geo.Validate(el); err != nil {
		return nil, err
	}

	var doc any
	var err error
	switch e := el.(type) {
	case *geo.PointSet:
		doc, err = b.pointSet(e, opts)
	case *geo.TriangleMesh:
		doc, err = b.triangleMesh(e, opts)
	case *geo.LineSegments:
		doc, err = b.lineSegments(e, opts)
	case *geo.RegularGrid:
		doc, err = b.regularGrid(e, opts)
	case *geo.TensorGrid:
		doc, err = b.tensorGrid(e, opts)
	default:
		return nil, &geo.UnsupportedGeometryError{Element: el.ElementName(), Kind: el.Kind(), Reason: "no target object type"}
	}
	if err != nil {
		return nil, fmt.Errorf("build %q: %w", el.ElementName(), err)
	}

	obj, err := toObject(doc)
	if err != nil {
		return nil, err
	}
	if b.validator != nil {
		if err := b.validator.Validate(obj); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func base(schemaID, name string, bbox geo.BoundingBox, opts Options) Base {
	var tags map[string]string
	if len(opts.Tags) > 0 {
		tags = maps.Clone(opts.Tags)
	}
	return Base{
		Schema:      schemaID,
		Name:        name,
		BoundingBox: bbox,
		CRS:         CRSDoc(opts.CRS),
		Tags:        tags,
	}
}

// stage serializes a table into the store and returns its reference.
func (b *Builder) stage(t *artifact.Table) (ArrayRef, error) {
	a, err := artifact.Serialize(t, b.codec)
	if err != nil {
		return ArrayRef{}, err
	}
	if _, err := b.store.Put(a.Hash, a.Bytes); err != nil {
		return ArrayRef{}, err
	}
	return ArrayRef{Data: a.Hash, DataType: a.DataType, Length: a.Length, Width: a.Width}, nil
}

func (b *Builder) vertices(pts [][3]float64) (ArrayRef, error) {
	x := make([]float64, len(pts))
	y := make([]float64, len(pts))
	z := make([]float64, len(pts))
	for i, p := range pts {
		x[i], y[i], z[i] = p[0], p[1], p[2]
	}
	return b.stage(artifact.MustTable(
		artifact.Float64Column("x", x),
		artifact.Float64Column("y", y),
		artifact.Float64Column("z", z),
	))
}

func (b *Builder) attributes(attrs []geo.Attribute) ([]AttributeDoc, error) {
	docs := make([]AttributeDoc, 0, len(attrs))
	for i := range attrs {
		d, err := b.attribute(&attrs[i])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", attrs[i].Name, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (b *Builder) attribute(a *geo.Attribute) (AttributeDoc, error) {
	doc := AttributeDoc{Name: a.Name, Key: a.Name, AttributeType: string(a.Kind)}
	nan := &NaNDescription{Values: append([]float64{}, a.NaNValues...)}

	var err error
	switch a.Kind {
	case geo.Continuous:
		doc.Values, err = b.stage(artifact.MustTable(artifact.Float64Column("values", a.Floats)))
		doc.NaNDescription = nan
	case geo.Integer:
		doc.Values, err = b.stage(artifact.MustTable(artifact.Int64Column("values", a.Ints)))
		doc.NaNDescription = nan
	case geo.Category:
		keys, labels := a.Lookup()
		lookupKeys := make([]int32, len(labels))
		for i := range lookupKeys {
			lookupKeys[i] = int32(i)
		}
		var table ArrayRef
		table, err = b.stage(artifact.MustTable(
			artifact.Int32Column("key", lookupKeys),
			artifact.StringColumn("value", labels),
		))
		if err != nil {
			return doc, err
		}
		doc.Table = &LookupRef{
			Data:           table.Data,
			Length:         table.Length,
			KeysDataType:   string(artifact.Int32),
			ValuesDataType: string(artifact.String),
		}
		doc.Values, err = b.stage(artifact.MustTable(artifact.Int32Column("values", keys)))
		doc.NaNDescription = nan
	case geo.Text:
		doc.Values, err = b.stage(artifact.MustTable(artifact.StringColumn("values", a.Strings)))
	case geo.Boolean:
		doc.Values, err = b.stage(artifact.MustTable(artifact.BoolColumn("values", a.Bools)))
	default:
		err = fmt.Errorf("unknown attribute kind %q", a.Kind)
	}
	return doc, err
}

func (b *Builder) pointSet(p *geo.PointSet, opts Options) (*PointSetDoc, error) {
	doc := &PointSetDoc{Base: base(PointSetSchema, p.Name, geo.BoundsOf(p.Points), opts)}
	var err error
	if doc.Locations.Coordinates, err = b.vertices(p.Points); err != nil {
		return nil, err
	}
	if doc.Locations.Attributes, err = b.attributes(p.Attributes); err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *Builder) triangleMesh(m *geo.TriangleMesh, opts Options) (*TriangleMeshDoc, error) {
	doc := &TriangleMeshDoc{Base: base(TriangleMeshSchema, m.Name, geo.BoundsOf(m.Vertices), opts)}
	var err error
	if doc.Triangles.Vertices.ArrayRef, err = b.vertices(m.Vertices); err != nil {
		return nil, err
	}
	if doc.Triangles.Vertices.Attributes, err = b.attributes(m.VertexAttributes); err != nil {
		return nil, err
	}

	n0 := make([]uint64, len(m.Faces))
	n1 := make([]uint64, len(m.Faces))
	n2 := make([]uint64, len(m.Faces))
	for i, f := range m.Faces {
		n0[i], n1[i], n2[i] = f[0], f[1], f[2]
	}
	doc.Triangles.Indices.ArrayRef, err = b.stage(artifact.MustTable(
		artifact.Uint64Column("n0", n0),
		artifact.Uint64Column("n1", n1),
		artifact.Uint64Column("n2", n2),
	))
	if err != nil {
		return nil, err
	}
	if doc.Triangles.Indices.Attributes, err = b.attributes(m.TriangleAttributes); err != nil {
		return nil, err
	}

	if len(m.Parts) > 0 {
		offsets := make([]uint64, len(m.Parts))
		counts := make([]uint64, len(m.Parts))
		for i, p := range m.Parts {
			offsets[i], counts[i] = p.Offset, p.Count
		}
		chunks, err := b.stage(artifact.MustTable(
			artifact.Uint64Column("offset", offsets),
			artifact.Uint64Column("count", counts),
		))
		if err != nil {
			return nil, err
		}
		doc.Parts = &PartsDoc{Chunks: chunks}
	}
	return doc, nil
}

func (b *Builder) lineSegments(l *geo.LineSegments, opts Options) (*LineSegmentsDoc, error) {
	doc := &LineSegmentsDoc{Base: base(LineSegmentsSchema, l.Name, geo.BoundsOf(l.Vertices), opts)}
	var err error
	if doc.Segments.Vertices.ArrayRef, err = b.vertices(l.Vertices); err != nil {
		return nil, err
	}
	if doc.Segments.Vertices.Attributes, err = b.attributes(l.VertexAttributes); err != nil {
		return nil, err
	}

	n0 := make([]uint64, len(l.Segments))
	n1 := make([]uint64, len(l.Segments))
	for i, s := range l.Segments {
		n0[i], n1[i] = s[0], s[1]
	}
	doc.Segments.Indices.ArrayRef, err = b.stage(artifact.MustTable(
		artifact.Uint64Column("n0", n0),
		artifact.Uint64Column("n1", n1),
	))
	if err != nil {
		return nil, err
	}
	if doc.Segments.Indices.Attributes, err = b.attributes(l.SegmentAttributes); err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *Builder) regularGrid(g *geo.RegularGrid, opts Options) (*Regular3DGridDoc, error) {
	doc := &Regular3DGridDoc{
		Base:     base(Regular3DGridSchema, g.Name, g.Bounds(), opts),
		Origin:   g.Origin,
		Size:     g.Size,
		CellSize: g.CellSize,
		Rotation: g.Rotation,
	}
	var err error
	if doc.CellAttributes, err = b.attributes(g.CellAttributes); err != nil {
		return nil, err
	}
	if doc.VertexAttributes, err = b.attributes(g.VertexAttributes); err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *Builder) tensorGrid(g *geo.TensorGrid, opts Options) (*Tensor3DGridDoc, error) {
	doc := &Tensor3DGridDoc{
		Base:     base(Tensor3DGridSchema, g.Name, g.Bounds(), opts),
		Origin:   g.Origin,
		Size:     g.Size,
		Rotation: g.Rotation,
	}
	doc.GridCells3D.CellSizesX = g.CellSizesX
	doc.GridCells3D.CellSizesY = g.CellSizesY
	doc.GridCells3D.CellSizesZ = g.CellSizesZ
	var err error
	if doc.CellAttributes, err = b.attributes(g.CellAttributes); err != nil {
		return nil, err
	}
	return doc, nil
}
