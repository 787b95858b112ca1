package geo

import "math"

// BoundingBox is an axis-aligned extent.
type BoundingBox struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
	MinZ float64 `json:"min_z"`
	MaxZ float64 `json:"max_z"`
}

// BoundsOf returns the min/max over all points. An empty set yields the
// zero box.
func BoundsOf(points [][3]float64) BoundingBox {
	if len(points) == 0 {
		return BoundingBox{}
	}
	b := BoundingBox{
		MinX: math.Inf(1), MaxX: math.Inf(-1),
		MinY: math.Inf(1), MaxY: math.Inf(-1),
		MinZ: math.Inf(1), MaxZ: math.Inf(-1),
	}
	for _, p := range points {
		b.MinX = math.Min(b.MinX, p[0])
		b.MaxX = math.Max(b.MaxX, p[0])
		b.MinY = math.Min(b.MinY, p[1])
		b.MaxY = math.Max(b.MaxY, p[1])
		b.MinZ = math.Min(b.MinZ, p[2])
		b.MaxZ = math.Max(b.MaxZ, p[2])
	}
	return b
}

// GridBounds returns the box of a grid given its origin, extent along each
// local axis and rotation. The eight corners are rotated and enclosed.
func GridBounds(origin [3]float64, extent [3]float64, rot Rotation) BoundingBox {
	m := rot.Matrix()
	corners := make([][3]float64, 0, 8)
	for _, i := range []float64{0, 1} {
		for _, j := range []float64{0, 1} {
			for _, k := range []float64{0, 1} {
				local := [3]float64{i * extent[0], j * extent[1], k * extent[2]}
				var p [3]float64
				for r := 0; r < 3; r++ {
					p[r] = origin[r] + m[r][0]*local[0] + m[r][1]*local[1] + m[r][2]*local[2]
				}
				corners = append(corners, p)
			}
		}
	}
	return BoundsOf(corners)
}

// Matrix returns the rotation matrix mapping grid axes to world axes:
// clockwise dip azimuth about z, then dip about the rotated y, then pitch
// about the rotated z.
func (r Rotation) Matrix() [3][3]float64 {
	if r == (Rotation{}) {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	az := -r.DipAzimuth * math.Pi / 180
	dip := r.Dip * math.Pi / 180
	pitch := -r.Pitch * math.Pi / 180

	rz := func(a float64) [3][3]float64 {
		c, s := math.Cos(a), math.Sin(a)
		return [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
	}
	ry := func(a float64) [3][3]float64 {
		c, s := math.Cos(a), math.Sin(a)
		return [3][3]float64{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
	}
	return mul(mul(rz(az), ry(dip)), rz(pitch))
}

func mul(a, b [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

// Bounds returns the grid's bounding box: origin + size * cell size.
func (g *RegularGrid) Bounds() BoundingBox {
	ext := [3]float64{
		float64(g.Size[0]) * g.CellSize[0],
		float64(g.Size[1]) * g.CellSize[1],
		float64(g.Size[2]) * g.CellSize[2],
	}
	return GridBounds(g.Origin, ext, g.Rotation)
}

// Bounds returns the grid's bounding box: origin + summed cell sizes.
func (g *TensorGrid) Bounds() BoundingBox {
	ext := [3]float64{sum(g.CellSizesX), sum(g.CellSizesY), sum(g.CellSizesZ)}
	return GridBounds(g.Origin, ext, g.Rotation)
}
