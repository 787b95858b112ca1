package schema

import (
	"fmt"

	"github.com/kilupskalvis/geoconv/internal/artifact"
	"github.com/kilupskalvis/geoconv/internal/geo"
)

// ArtifactReader loads serialized artifacts by hash.
type ArtifactReader interface {
	Get(hash string) ([]byte, error)
}

// Decode rebuilds the geometry of an object, loading its arrays from src.
func Decode(obj Object, src ArtifactReader) (geo.Element, error) {
	d := decoder{src: src}
	switch obj.Schema() {
	case PointSetSchema:
		var doc PointSetDoc
		if err := fromObject(obj, &doc); err != nil {
			return nil, err
		}
		return d.pointSet(&doc)
	case TriangleMeshSchema:
		var doc TriangleMeshDoc
		if err := fromObject(obj, &doc); err != nil {
			return nil, err
		}
		return d.triangleMesh(&doc)
	case LineSegmentsSchema:
		var doc LineSegmentsDoc
		if err := fromObject(obj, &doc); err != nil {
			return nil, err
		}
		return d.lineSegments(&doc)
	case Regular3DGridSchema:
		var doc Regular3DGridDoc
		if err := fromObject(obj, &doc); err != nil {
			return nil, err
		}
		return d.regularGrid(&doc)
	case Tensor3DGridSchema:
		var doc Tensor3DGridDoc
		if err := fromObject(obj, &doc); err != nil {
			return nil, err
		}
		return d.tensorGrid(&doc)
	default:
		return nil, &UnsupportedObjectError{Schema: obj.Schema()}
	}
}

type decoder struct {
	src ArtifactReader
}

func (d decoder) table(hash string, length, width int) (*artifact.Table, error) {
	data, err := d.src.Get(hash)
	if err != nil {
		return nil, err
	}
	t, err := artifact.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", hash, err)
	}
	if t.Length() != length || t.Width() != width {
		return nil, fmt.Errorf("artifact %s: %w: shape %dx%d, reference says %dx%d",
			hash, artifact.ErrInvalidArtifact, t.Length(), t.Width(), length, width)
	}
	return t, nil
}

func (d decoder) ref(r ArrayRef) (*artifact.Table, error) {
	return d.table(r.Data, r.Length, r.Width)
}

func column(t *artifact.Table, name string, typ artifact.DataType) (*artifact.Column, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("%w: missing column %q", artifact.ErrInvalidArtifact, name)
	}
	if c.Type != typ {
		return nil, fmt.Errorf("%w: column %q is %s, expected %s", artifact.ErrInvalidArtifact, name, c.Type, typ)
	}
	return c, nil
}

func (d decoder) vertices(r ArrayRef) ([][3]float64, error) {
	t, err := d.ref(r)
	if err != nil {
		return nil, err
	}
	var cols [3]*artifact.Column
	for i, name := range []string{"x", "y", "z"} {
		if cols[i], err = column(t, name, artifact.Float64); err != nil {
			return nil, err
		}
	}
	pts := make([][3]float64, t.Length())
	for i := range pts {
		pts[i] = [3]float64{cols[0].Float64s[i], cols[1].Float64s[i], cols[2].Float64s[i]}
	}
	return pts, nil
}

func (d decoder) indices(r ArrayRef, names ...string) ([][]uint64, error) {
	t, err := d.ref(r)
	if err != nil {
		return nil, err
	}
	cols := make([]*artifact.Column, len(names))
	for i, name := range names {
		if cols[i], err = column(t, name, artifact.Uint64); err != nil {
			return nil, err
		}
	}
	rows := make([][]uint64, t.Length())
	for i := range rows {
		row := make([]uint64, len(cols))
		for j, c := range cols {
			row[j] = c.Uint64s[i]
		}
		rows[i] = row
	}
	return rows, nil
}

func (d decoder) attributes(docs []AttributeDoc) ([]geo.Attribute, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	attrs := make([]geo.Attribute, 0, len(docs))
	for _, doc := range docs {
		a, err := d.attribute(doc)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", doc.Name, err)
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

func (d decoder) attribute(doc AttributeDoc) (geo.Attribute, error) {
	t, err := d.ref(doc.Values)
	if err != nil {
		return geo.Attribute{}, err
	}
	var nan []float64
	if doc.NaNDescription != nil && len(doc.NaNDescription.Values) > 0 {
		nan = doc.NaNDescription.Values
	}

	var a geo.Attribute
	switch geo.AttributeKind(doc.AttributeType) {
	case geo.Continuous:
		c, err := column(t, "values", artifact.Float64)
		if err != nil {
			return a, err
		}
		a = geo.ContinuousAttribute(doc.Name, c.Float64s)
	case geo.Integer:
		c, err := column(t, "values", artifact.Int64)
		if err != nil {
			return a, err
		}
		a = geo.IntegerAttribute(doc.Name, c.Int64s)
	case geo.Category:
		if doc.Table == nil {
			return a, fmt.Errorf("category attribute has no lookup table")
		}
		codes, err := column(t, "values", artifact.Int32)
		if err != nil {
			return a, err
		}
		lookup, err := d.table(doc.Table.Data, doc.Table.Length, 2)
		if err != nil {
			return a, err
		}
		keys, err := column(lookup, "key", artifact.Int32)
		if err != nil {
			return a, err
		}
		labels, err := column(lookup, "value", artifact.String)
		if err != nil {
			return a, err
		}
		if a, err = geo.CategoryFromCodes(doc.Name, codes.Int32s, keys.Int32s, labels.Strings); err != nil {
			return a, err
		}
	case geo.Text:
		c, err := column(t, "values", artifact.String)
		if err != nil {
			return a, err
		}
		a = geo.StringAttribute(doc.Name, c.Strings)
	case geo.Boolean:
		c, err := column(t, "values", artifact.Bool)
		if err != nil {
			return a, err
		}
		a = geo.BoolAttribute(doc.Name, c.Bools)
	default:
		return a, fmt.Errorf("unknown attribute type %q", doc.AttributeType)
	}
	a.NaNValues = nan
	return a, nil
}

func (d decoder) pointSet(doc *PointSetDoc) (*geo.PointSet, error) {
	pts, err := d.vertices(doc.Locations.Coordinates)
	if err != nil {
		return nil, err
	}
	attrs, err := d.attributes(doc.Locations.Attributes)
	if err != nil {
		return nil, err
	}
	return &geo.PointSet{Name: doc.Name, Points: pts, Attributes: attrs}, nil
}

func (d decoder) triangleMesh(doc *TriangleMeshDoc) (*geo.TriangleMesh, error) {
	m := &geo.TriangleMesh{Name: doc.Name}
	var err error
	if m.Vertices, err = d.vertices(doc.Triangles.Vertices.ArrayRef); err != nil {
		return nil, err
	}
	if m.Faces, err = d.indices(doc.Triangles.Indices.ArrayRef, "n0", "n1", "n2"); err != nil {
		return nil, err
	}
	if m.VertexAttributes, err = d.attributes(doc.Triangles.Vertices.Attributes); err != nil {
		return nil, err
	}
	if m.TriangleAttributes, err = d.attributes(doc.Triangles.Indices.Attributes); err != nil {
		return nil, err
	}
	if doc.Parts != nil {
		rows, err := d.indices(doc.Parts.Chunks, "offset", "count")
		if err != nil {
			return nil, err
		}
		m.Parts = make([]geo.Part, len(rows))
		for i, r := range rows {
			m.Parts[i] = geo.Part{Offset: r[0], Count: r[1]}
		}
	}
	return m, nil
}

func (d decoder) lineSegments(doc *LineSegmentsDoc) (*geo.LineSegments, error) {
	l := &geo.LineSegments{Name: doc.Name}
	var err error
	if l.Vertices, err = d.vertices(doc.Segments.Vertices.ArrayRef); err != nil {
		return nil, err
	}
	rows, err := d.indices(doc.Segments.Indices.ArrayRef, "n0", "n1")
	if err != nil {
		return nil, err
	}
	l.Segments = make([][2]uint64, len(rows))
	for i, r := range rows {
		l.Segments[i] = [2]uint64{r[0], r[1]}
	}
	if l.VertexAttributes, err = d.attributes(doc.Segments.Vertices.Attributes); err != nil {
		return nil, err
	}
	if l.SegmentAttributes, err = d.attributes(doc.Segments.Indices.Attributes); err != nil {
		return nil, err
	}
	return l, nil
}

func (d decoder) regularGrid(doc *Regular3DGridDoc) (*geo.RegularGrid, error) {
	g := &geo.RegularGrid{
		Name:     doc.Name,
		Origin:   doc.Origin,
		Size:     doc.Size,
		CellSize: doc.CellSize,
		Rotation: doc.Rotation,
	}
	var err error
	if g.CellAttributes, err = d.attributes(doc.CellAttributes); err != nil {
		return nil, err
	}
	if g.VertexAttributes, err = d.attributes(doc.VertexAttributes); err != nil {
		return nil, err
	}
	return g, nil
}

func (d decoder) tensorGrid(doc *Tensor3DGridDoc) (*geo.TensorGrid, error) {
	g := &geo.TensorGrid{
		Name:       doc.Name,
		Origin:     doc.Origin,
		Size:       doc.Size,
		CellSizesX: doc.GridCells3D.CellSizesX,
		CellSizesY: doc.GridCells3D.CellSizesY,
		CellSizesZ: doc.GridCells3D.CellSizesZ,
		Rotation:   doc.Rotation,
	}
	var err error
	if g.CellAttributes, err = d.attributes(doc.CellAttributes); err != nil {
		return nil, err
	}
	return g, nil
}
