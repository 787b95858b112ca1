package convert

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/geoconv/internal/geo"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

func TestRegistry(t *testing.T) {
	var names []string
	for _, f := range Formats() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"csv", "obj", "obj-split", "ubc"}, names)

	f, err := Lookup("OBJ")
	require.NoError(t, err)
	assert.True(t, f.CanImport())
	assert.True(t, f.CanExport())
	assert.True(t, f.Accepts(schema.TriangleMeshSchema))
	assert.False(t, f.Accepts(schema.PointSetSchema))

	_, err = Lookup("resqml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	var unknown *UnknownFormatError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "resqml", unknown.Name)
	assert.Contains(t, err.Error(), "obj-split")

	assert.Panics(t, func() { Register(Format{Name: "csv"}) })
	assert.Panics(t, func() { Register(Format{}) })
}

func TestParseOBJ_MergedParts(t *testing.T) {
	src := `
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
v 5 5 5
g bottom
f 1/1/1 2/2/1 3/3/1 4/4/1
g top
f -1 -2 -3
usemtl rock
`
	groups, err := parseOBJ(context.Background(), strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, groups, 2)

	el := mergedMesh("box", groups)
	mesh, ok := el.(*geo.TriangleMesh)
	require.True(t, ok)
	assert.Equal(t, "box", mesh.Name)
	require.Len(t, mesh.Vertices, 7)
	assert.Equal(t, [][]uint64{{0, 1, 2}, {0, 2, 3}, {4, 5, 6}}, mesh.Faces)
	assert.Equal(t, []geo.Part{{Offset: 0, Count: 4}, {Offset: 4, Count: 3}}, mesh.Parts)
	assert.Equal(t, [3]float64{5, 5, 5}, mesh.Vertices[4])
	require.NoError(t, geo.Validate(mesh))
}

func TestParseOBJ_EmptyGroupsDropped(t *testing.T) {
	src := "v 0 0 0\nv 1 0 0\nv 0 1 0\no empty\no named\nf 1 2 3\ng trailing\n"
	groups, err := parseOBJ(context.Background(), strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "named", groups[0].name)
}

func TestParseOBJ_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"short vertex", "v 1 2\n"},
		{"bad number", "v 1 2 x\n"},
		{"short face", "v 0 0 0\nf 1 1\n"},
		{"out of range", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 9\n"},
		{"zero index", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2\n"},
		{"not a number", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf a b c\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOBJ(context.Background(), strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestSplitMeshes_UnnamedGroups(t *testing.T) {
	groups := []objGroup{
		{vertices: [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, faces: [][]uint64{{0, 1, 2}}},
		{name: "quad", vertices: make([][3]float64, 4), faces: [][]uint64{{0, 1, 2, 3}}},
	}
	els := splitMeshes("scan", groups)
	require.Len(t, els, 2)
	assert.Equal(t, "scan_0", els[0].ElementName())
	_, ok := els[1].(*geo.Unsupported)
	assert.True(t, ok)
}

func TestOBJExporter(t *testing.T) {
	meshes := []geo.Element{
		&geo.TriangleMesh{Name: "a", Vertices: [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0.5}}, Faces: [][]uint64{{0, 1, 2}}},
		&geo.TriangleMesh{Name: "b", Vertices: [][3]float64{{2, 0, 0}, {3, 0, 0}, {2, 1, 0}}, Faces: [][]uint64{{2, 1, 0}}},
	}
	var buf bytes.Buffer
	require.NoError(t, objExporter{}.Export(&buf, meshes))
	out := buf.String()
	assert.Contains(t, out, "o a\nv 0 0 0\nv 1 0 0\nv 0 1 0.5\nf 1 2 3\n")
	assert.Contains(t, out, "o b\n")
	assert.Contains(t, out, "f 6 5 4\n")

	groups, err := parseOBJ(context.Background(), &buf)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, [][]uint64{{2, 1, 0}}, groups[1].faces)

	err = objExporter{}.Export(&bytes.Buffer{}, []geo.Element{&geo.PointSet{Name: "p"}})
	assert.ErrorContains(t, err, "cannot export pointset")
}

const ubcMesh = `2 1 3
100.0 200.0 50.0
2*10
5
1 2 3
`

func TestUBC_Import(t *testing.T) {
	dir := t.TempDir()
	mesh := writeFile(t, dir, "block.msh", ubcMesh)
	// z fastest from the top, then x, then y.
	density := writeFile(t, dir, "density.den", "1\n2\n3\n4 5 6\n")

	parsed, err := ubcImporter{}.Import(context.Background(), []string{density, mesh})
	require.NoError(t, err)
	assert.Equal(t, "block.msh", parsed.Source)
	require.Len(t, parsed.Elements, 1)

	grid, ok := parsed.Elements[0].(*geo.TensorGrid)
	require.True(t, ok)
	assert.Equal(t, "block", grid.Name)
	assert.Equal(t, [3]int{2, 1, 3}, grid.Size)
	assert.Equal(t, [3]float64{100, 200, 44}, grid.Origin)
	assert.Equal(t, []float64{10, 10}, grid.CellSizesX)
	assert.Equal(t, []float64{5}, grid.CellSizesY)
	assert.Equal(t, []float64{3, 2, 1}, grid.CellSizesZ)

	require.Len(t, grid.CellAttributes, 1)
	attr := grid.CellAttributes[0]
	assert.Equal(t, "density", attr.Name)
	// x fastest, z from the bottom.
	assert.Equal(t, []float64{3, 6, 2, 5, 1, 4}, attr.Floats)
	require.NoError(t, geo.Validate(grid))
}

func TestUBC_Errors(t *testing.T) {
	dir := t.TempDir()
	mesh := writeFile(t, dir, "block.msh", ubcMesh)
	ctx := context.Background()

	_, err := ubcImporter{}.Import(ctx, []string{filepath.Join(dir, "values.den")})
	assert.ErrorContains(t, err, "no mesh file")

	_, err = ubcImporter{}.Import(ctx, []string{mesh, writeFile(t, dir, "other.msh", ubcMesh)})
	assert.ErrorContains(t, err, "multiple mesh files")

	short := writeFile(t, dir, "short.den", "1 2 3\n")
	_, err = ubcImporter{}.Import(ctx, []string{mesh, short})
	assert.ErrorContains(t, err, "3 values for 6 cells")

	bad := writeFile(t, dir, "bad.msh", "2 1 3\n0 0 0\n10\n5\n1 2 3\n")
	_, err = ubcImporter{}.Import(ctx, []string{bad})
	assert.ErrorContains(t, err, "axis x has 1 cell widths, expected 2")
}

func TestExpandWidths(t *testing.T) {
	w, err := expandWidths([]string{"3*2.5", "1", "2*4"})
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 2.5, 2.5, 1, 4, 4}, w)

	for _, tok := range []string{"0", "-1", "x*2", "0*3", "2*abc"} {
		_, err := expandWidths([]string{tok})
		assert.Error(t, err, tok)
	}
}

func TestCSV_Import(t *testing.T) {
	src := writeFile(t, t.TempDir(), "samples.csv", `X, Y, Z, grade, lithology
1, 2, 3, 0.5, sand
4, 5, 6, , shale
7, 8, 9, 1.5, sand
`)
	parsed, err := csvImporter{}.Import(context.Background(), []string{src})
	require.NoError(t, err)
	assert.Equal(t, "samples.csv", parsed.Source)

	ps, ok := parsed.Elements[0].(*geo.PointSet)
	require.True(t, ok)
	assert.Equal(t, "samples", ps.Name)
	assert.Equal(t, [][3]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}, ps.Points)
	require.Len(t, ps.Attributes, 2)

	grade := ps.Attributes[0]
	assert.Equal(t, geo.Continuous, grade.Kind)
	assert.Equal(t, 0.5, grade.Floats[0])
	assert.True(t, math.IsNaN(grade.Floats[1]))

	lith := ps.Attributes[1]
	assert.Equal(t, geo.Category, lith.Kind)
	assert.Equal(t, []string{"sand", "shale", "sand"}, lith.Strings)
}

func TestCSV_ImportErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := csvImporter{}.Import(ctx, []string{writeFile(t, dir, "empty.csv", "")})
	assert.ErrorContains(t, err, "missing header")

	_, err = csvImporter{}.Import(ctx, []string{writeFile(t, dir, "noz.csv", "x,y\n1,2\n")})
	assert.ErrorContains(t, err, "no z column")

	_, err = csvImporter{}.Import(ctx, []string{writeFile(t, dir, "bad.csv", "x,y,z\n1,2,north\n")})
	assert.ErrorContains(t, err, "row 2")
}

func TestCSV_ExportRoundTrip(t *testing.T) {
	sets := []geo.Element{
		&geo.PointSet{
			Name:   "a",
			Points: [][3]float64{{1, 2, 3}},
			Attributes: []geo.Attribute{
				geo.ContinuousAttribute("grade", []float64{math.NaN()}),
				geo.CategoryAttribute("rock", []string{"sand"}),
			},
		},
		&geo.PointSet{
			Name:       "b",
			Points:     [][3]float64{{4, 5, 6}},
			Attributes: []geo.Attribute{geo.IntegerAttribute("count", []int64{7})},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, csvExporter{}.Export(&buf, sets))
	assert.Equal(t, "object,x,y,z,grade,rock,count\na,1,2,3,,sand,\nb,4,5,6,,,7\n", buf.String())

	buf.Reset()
	require.NoError(t, csvExporter{}.Export(&buf, sets[:1]))
	ps, err := parseCSV(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, [][3]float64{{1, 2, 3}}, ps.Points)
	require.Len(t, ps.Attributes, 2)
	assert.True(t, math.IsNaN(ps.Attributes[0].Floats[0]))
	assert.Equal(t, []string{"sand"}, ps.Attributes[1].Strings)
}
