package geo

import "math"

// Validate checks that an element is complete and internally consistent.
// Any problem is an *UnsupportedGeometryError naming the element.
func Validate(el Element) error {
	switch e := el.(type) {
	case *PointSet:
		if err := checkFinite(el, e.Points); err != nil {
			return err
		}
		return checkAttributes(el, "point", e.Attributes, len(e.Points))

	case *TriangleMesh:
		if err := checkFinite(el, e.Vertices); err != nil {
			return err
		}
		n := uint64(len(e.Vertices))
		for i, f := range e.Faces {
			if len(f) != 3 {
				return unsupported(el, "face %d has %d vertices, only triangles are supported", i, len(f))
			}
			for _, idx := range f {
				if idx >= n {
					return unsupported(el, "face %d references vertex %d of %d", i, idx, n)
				}
			}
		}
		for i, p := range e.Parts {
			if p.Offset+p.Count > n {
				return unsupported(el, "part %d covers vertices %d..%d of %d", i, p.Offset, p.Offset+p.Count, n)
			}
		}
		if err := checkAttributes(el, "vertex", e.VertexAttributes, len(e.Vertices)); err != nil {
			return err
		}
		return checkAttributes(el, "triangle", e.TriangleAttributes, len(e.Faces))

	case *LineSegments:
		if err := checkFinite(el, e.Vertices); err != nil {
			return err
		}
		n := uint64(len(e.Vertices))
		for i, s := range e.Segments {
			if s[0] >= n || s[1] >= n {
				return unsupported(el, "segment %d references a vertex outside 0..%d", i, n)
			}
		}
		if err := checkAttributes(el, "vertex", e.VertexAttributes, len(e.Vertices)); err != nil {
			return err
		}
		return checkAttributes(el, "segment", e.SegmentAttributes, len(e.Segments))

	case *RegularGrid:
		if err := checkPlacement(el, e.Origin, e.Rotation); err != nil {
			return err
		}
		for axis := 0; axis < 3; axis++ {
			if e.Size[axis] <= 0 {
				return unsupported(el, "grid size %v must be positive on every axis", e.Size)
			}
			if !positive(e.CellSize[axis]) {
				return unsupported(el, "cell size %v must be positive on every axis", e.CellSize)
			}
		}
		if err := checkAttributes(el, "cell", e.CellAttributes, e.CellCount()); err != nil {
			return err
		}
		return checkAttributes(el, "vertex", e.VertexAttributes, e.VertexCount())

	case *TensorGrid:
		if err := checkPlacement(el, e.Origin, e.Rotation); err != nil {
			return err
		}
		sizes := [3][]float64{e.CellSizesX, e.CellSizesY, e.CellSizesZ}
		for axis := 0; axis < 3; axis++ {
			if e.Size[axis] <= 0 {
				return unsupported(el, "grid size %v must be positive on every axis", e.Size)
			}
			if len(sizes[axis]) != e.Size[axis] {
				return unsupported(el, "axis %d has %d cell sizes, expected %d", axis, len(sizes[axis]), e.Size[axis])
			}
			for _, s := range sizes[axis] {
				if !positive(s) {
					return unsupported(el, "axis %d has invalid cell size %v", axis, s)
				}
			}
		}
		return checkAttributes(el, "cell", e.CellAttributes, e.CellCount())

	case *Unsupported:
		reason := e.Reason
		if reason == "" {
			reason = "no target object type"
		}
		return &UnsupportedGeometryError{Element: e.Name, Kind: e.Type, Reason: reason}

	case nil:
		return &UnsupportedGeometryError{Reason: "nil element"}

	default:
		return unsupported(el, "no target object type")
	}
}

func checkFinite(el Element, pts [][3]float64) error {
	for i, p := range pts {
		if !finite(p[:]...) {
			return unsupported(el, "coordinate %d is not finite", i)
		}
	}
	return nil
}

func checkPlacement(el Element, origin [3]float64, rot Rotation) error {
	if !finite(origin[:]...) {
		return unsupported(el, "origin %v is not finite", origin)
	}
	if !finite(rot.DipAzimuth, rot.Dip, rot.Pitch) {
		return unsupported(el, "rotation %+v is not finite", rot)
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// positive reports whether v is a finite cell size greater than zero.
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
