package convert

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kilupskalvis/geoconv/internal/geo"
)

// objGroup is one o/g block of an OBJ file with its vertices re-indexed
// locally in first-use order.
type objGroup struct {
	name     string
	vertices [][3]float64
	faces    [][]uint64
}

type objImporter struct {
	split bool
}

func (o objImporter) Import(ctx context.Context, files []string) (*Parsed, error) {
	if len(files) != 1 {
		return nil, fmt.Errorf("obj: expected one input file, got %d", len(files))
	}
	f, err := os.Open(files[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := baseName(files[0])
	groups, err := parseOBJ(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("obj %s: %w", files[0], err)
	}
	parsed := &Parsed{Source: filepath.Base(files[0])}
	if o.split {
		parsed.Elements = splitMeshes(name, groups)
	} else {
		parsed.Elements = []geo.Element{mergedMesh(name, groups)}
	}
	return parsed, nil
}

// mergedMesh concatenates every group into one mesh. Each group becomes a
// part spanning its vertex range; polygons are fan triangulated.
func mergedMesh(name string, groups []objGroup) geo.Element {
	mesh := &geo.TriangleMesh{Name: name}
	for _, g := range groups {
		offset := uint64(len(mesh.Vertices))
		mesh.Vertices = append(mesh.Vertices, g.vertices...)
		for _, face := range g.faces {
			for _, tri := range fan(face) {
				mesh.Faces = append(mesh.Faces, []uint64{tri[0] + offset, tri[1] + offset, tri[2] + offset})
			}
		}
		mesh.Parts = append(mesh.Parts, geo.Part{Offset: offset, Count: uint64(len(g.vertices))})
	}
	return mesh
}

// splitMeshes returns one mesh per group. A group with a non-triangular
// face is returned as unsupported.
func splitMeshes(name string, groups []objGroup) []geo.Element {
	var out []geo.Element
	for i, g := range groups {
		meshName := g.name
		if meshName == "" {
			meshName = fmt.Sprintf("%s_%d", name, i)
		}
		if bad := nonTriangular(g.faces); bad >= 0 {
			out = append(out, &geo.Unsupported{
				Name:   meshName,
				Type:   "polygon-mesh",
				Reason: fmt.Sprintf("face %d has %d vertices, only triangles are supported", bad, len(g.faces[bad])),
			})
			continue
		}
		out = append(out, &geo.TriangleMesh{Name: meshName, Vertices: g.vertices, Faces: g.faces})
	}
	return out
}

func nonTriangular(faces [][]uint64) int {
	for i, f := range faces {
		if len(f) != 3 {
			return i
		}
	}
	return -1
}

func fan(face []uint64) [][3]uint64 {
	if len(face) < 3 {
		return nil
	}
	tris := make([][3]uint64, 0, len(face)-2)
	for i := 1; i+1 < len(face); i++ {
		tris = append(tris, [3]uint64{face[0], face[i], face[i+1]})
	}
	return tris
}

// parseOBJ reads vertices and faces. Texture, normal and material
// statements are ignored. Groups without faces are dropped.
func parseOBJ(ctx context.Context, r io.Reader) ([]objGroup, error) {
	var (
		positions [][3]float64
		groups    []objGroup
		local     map[int]uint64
	)
	current := -1
	start := func(name string) {
		groups = append(groups, objGroup{name: name})
		current = len(groups) - 1
		local = make(map[int]uint64)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if line%100000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", line)
			}
			var p [3]float64
			for i := range 3 {
				v, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				p[i] = v
			}
			positions = append(positions, p)

		case "o", "g":
			name := strings.Join(fields[1:], " ")
			if current >= 0 && len(groups[current].faces) == 0 {
				groups[current].name = name
				continue
			}
			start(name)

		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 vertices", line)
			}
			if current < 0 {
				start("")
			}
			g := &groups[current]
			face := make([]uint64, 0, len(fields)-1)
			for _, ref := range fields[1:] {
				idx, err := objIndex(ref, len(positions))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				li, ok := local[idx]
				if !ok {
					li = uint64(len(g.vertices))
					local[idx] = li
					g.vertices = append(g.vertices, positions[idx])
				}
				face = append(face, li)
			}
			g.faces = append(g.faces, face)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.faces) > 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

// objIndex resolves a face vertex reference "v", "v/vt", "v//vn" or
// "v/vt/vn" to a zero-based position index. Negative indices count back
// from the last vertex read.
func objIndex(ref string, n int) (int, error) {
	head, _, _ := strings.Cut(ref, "/")
	i, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("bad vertex reference %q", ref)
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i = n + i
	default:
		return 0, fmt.Errorf("vertex reference %q is zero", ref)
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("vertex reference %q out of range 1..%d", ref, n)
	}
	return i, nil
}

type objExporter struct{}

// Export writes each mesh as an "o" block. Face indices continue across
// blocks as OBJ indices are file-global.
func (objExporter) Export(w io.Writer, elements []geo.Element) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# geoconv OBJ export")
	var base uint64 = 1
	for _, el := range elements {
		mesh, ok := el.(*geo.TriangleMesh)
		if !ok {
			return fmt.Errorf("obj: cannot export %s %q", el.Kind(), el.ElementName())
		}
		fmt.Fprintf(bw, "o %s\n", mesh.Name)
		for _, v := range mesh.Vertices {
			fmt.Fprintf(bw, "v %s %s %s\n", formatFloat(v[0]), formatFloat(v[1]), formatFloat(v[2]))
		}
		for _, f := range mesh.Faces {
			bw.WriteString("f")
			for _, idx := range f {
				bw.WriteByte(' ')
				bw.WriteString(strconv.FormatUint(idx+base, 10))
			}
			bw.WriteByte('\n')
		}
		base += uint64(len(mesh.Vertices))
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// baseName returns the file name without directory and extension.
func baseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
