// Package geo holds the in-memory geometry and attribute model that
// importers produce and exporters consume.
package geo

import (
	"fmt"
)

// Element is one convertible geoscience entity.
type Element interface {
	ElementName() string
	Kind() string
}

// Rotation of a grid, in degrees.
type Rotation struct {
	DipAzimuth float64 `json:"dip_azimuth"`
	Dip        float64 `json:"dip"`
	Pitch      float64 `json:"pitch"`
}

// CRS identifies a coordinate reference system by EPSG code or WKT.
// The zero value is unspecified.
type CRS struct {
	EPSG int
	WKT  string
}

// EPSG returns a CRS for an EPSG code. Zero means unspecified.
func EPSG(code int) CRS {
	return CRS{EPSG: code}
}

// IsZero reports whether no CRS is set.
func (c CRS) IsZero() bool {
	return c.EPSG == 0 && c.WKT == ""
}

// PointSet is a cloud of located points with per-point attributes.
type PointSet struct {
	Name       string
	Points     [][3]float64
	Attributes []Attribute
}

func (p *PointSet) ElementName() string { return p.Name }
func (p *PointSet) Kind() string        { return "pointset" }

// Part is a contiguous range of vertices belonging to one source mesh.
type Part struct {
	Offset uint64
	Count  uint64
}

// TriangleMesh is an indexed surface. Faces holds vertex indices per face;
// every face must have exactly three.
type TriangleMesh struct {
	Name               string
	Vertices           [][3]float64
	Faces              [][]uint64
	Parts              []Part
	VertexAttributes   []Attribute
	TriangleAttributes []Attribute
}

func (m *TriangleMesh) ElementName() string { return m.Name }
func (m *TriangleMesh) Kind() string        { return "triangle-mesh" }

// LineSegments is a set of indexed two-vertex segments.
type LineSegments struct {
	Name              string
	Vertices          [][3]float64
	Segments          [][2]uint64
	VertexAttributes  []Attribute
	SegmentAttributes []Attribute
}

func (l *LineSegments) ElementName() string { return l.Name }
func (l *LineSegments) Kind() string        { return "line-segments" }

// RegularGrid is a 3D grid of equally sized cells.
type RegularGrid struct {
	Name             string
	Origin           [3]float64
	Size             [3]int
	CellSize         [3]float64
	Rotation         Rotation
	CellAttributes   []Attribute
	VertexAttributes []Attribute
}

func (g *RegularGrid) ElementName() string { return g.Name }
func (g *RegularGrid) Kind() string        { return "regular-3d-grid" }

// CellCount returns the number of cells.
func (g *RegularGrid) CellCount() int { return g.Size[0] * g.Size[1] * g.Size[2] }

// VertexCount returns the number of grid corners.
func (g *RegularGrid) VertexCount() int { return (g.Size[0] + 1) * (g.Size[1] + 1) * (g.Size[2] + 1) }

// TensorGrid is a 3D grid whose cell sizes vary along each axis.
type TensorGrid struct {
	Name           string
	Origin         [3]float64
	Size           [3]int
	CellSizesX     []float64
	CellSizesY     []float64
	CellSizesZ     []float64
	Rotation       Rotation
	CellAttributes []Attribute
}

func (g *TensorGrid) ElementName() string { return g.Name }
func (g *TensorGrid) Kind() string        { return "tensor-3d-grid" }

// CellCount returns the number of cells.
func (g *TensorGrid) CellCount() int { return g.Size[0] * g.Size[1] * g.Size[2] }

// Unsupported stands in for a source element that has no target mapping.
type Unsupported struct {
	Name   string
	Type   string
	Reason string
}

func (u *Unsupported) ElementName() string { return u.Name }
func (u *Unsupported) Kind() string        { return u.Type }

// UnsupportedGeometryError reports an element that cannot be mapped to a
// target object.
type UnsupportedGeometryError struct {
	Element string
	Kind    string
	Reason  string
}

func (e *UnsupportedGeometryError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("unsupported geometry in element %q (%s): %s", e.Element, e.Kind, e.Reason)
	}
	return fmt.Sprintf("unsupported geometry in element %q: %s", e.Element, e.Reason)
}

func unsupported(el Element, format string, args ...any) error {
	return &UnsupportedGeometryError{Element: el.ElementName(), Kind: el.Kind(), Reason: fmt.Sprintf(format, args...)}
}
