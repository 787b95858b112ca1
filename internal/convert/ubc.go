package convert

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kilupskalvis/geoconv/internal/geo"
)

// ubcImporter reads a UBC-GIF tensor mesh file (.msh) and any number of
// property files into a Tensor3DGrid. Each property file becomes a cell
// attribute named after the file.
type ubcImporter struct{}

func (ubcImporter) Import(ctx context.Context, files []string) (*Parsed, error) {
	meshFile, props, err := splitUBCFiles(files)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(meshFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	grid, err := parseUBCMesh(f)
	if err != nil {
		return nil, fmt.Errorf("ubc %s: %w", meshFile, err)
	}
	grid.Name = baseName(meshFile)

	for _, p := range props {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values, err := readUBCProperty(p, grid.Size)
		if err != nil {
			return nil, fmt.Errorf("ubc %s: %w", p, err)
		}
		grid.CellAttributes = append(grid.CellAttributes, geo.ContinuousAttribute(baseName(p), values))
	}
	return &Parsed{Source: filepath.Base(meshFile), Elements: []geo.Element{grid}}, nil
}

func splitUBCFiles(files []string) (mesh string, props []string, err error) {
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), ".msh") {
			if mesh != "" {
				return "", nil, errors.New("ubc: multiple mesh files provided")
			}
			mesh = f
			continue
		}
		props = append(props, f)
	}
	if mesh == "" {
		return "", nil, errors.New("ubc: no mesh file provided")
	}
	return mesh, props, nil
}

// parseUBCMesh reads the five mesh lines: cell counts, the top south-west
// corner, then the cell widths along x, y and z. Widths may use the
// run-length form "n*w". Z widths are listed top down; the returned grid
// stores them bottom up with the origin at the bottom.
func parseUBCMesh(r io.Reader) (*geo.TensorGrid, error) {
	lines, err := ubcTokens(r)
	if err != nil {
		return nil, err
	}
	if len(lines) < 5 {
		return nil, fmt.Errorf("mesh file has %d lines, expected 5", len(lines))
	}

	var size [3]int
	if len(lines[0]) < 3 {
		return nil, errors.New("first line must hold nx ny nz")
	}
	for i := range 3 {
		n, err := strconv.Atoi(lines[0][i])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("bad cell count %q", lines[0][i])
		}
		size[i] = n
	}

	var corner [3]float64
	if len(lines[1]) < 3 {
		return nil, errors.New("second line must hold the origin x y z")
	}
	for i := range 3 {
		v, err := strconv.ParseFloat(lines[1][i], 64)
		if err != nil {
			return nil, fmt.Errorf("bad origin %q", lines[1][i])
		}
		corner[i] = v
	}

	var widths [3][]float64
	for axis := range 3 {
		w, err := expandWidths(lines[2+axis])
		if err != nil {
			return nil, err
		}
		if len(w) != size[axis] {
			return nil, fmt.Errorf("axis %c has %d cell widths, expected %d", "xyz"[axis], len(w), size[axis])
		}
		widths[axis] = w
	}

	var depth float64
	for _, dz := range widths[2] {
		depth += dz
	}
	dz := make([]float64, len(widths[2]))
	for i, w := range widths[2] {
		dz[len(dz)-1-i] = w
	}

	return &geo.TensorGrid{
		Origin:     [3]float64{corner[0], corner[1], corner[2] - depth},
		Size:       size,
		CellSizesX: widths[0],
		CellSizesY: widths[1],
		CellSizesZ: dz,
	}, nil
}

func expandWidths(tokens []string) ([]float64, error) {
	var out []float64
	for _, tok := range tokens {
		count := 1
		if n, w, ok := strings.Cut(tok, "*"); ok {
			c, err := strconv.Atoi(n)
			if err != nil || c <= 0 {
				return nil, fmt.Errorf("bad cell width %q", tok)
			}
			count, tok = c, w
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || !(v > 0) {
			return nil, fmt.Errorf("bad cell width %q", tok)
		}
		for range count {
			out = append(out, v)
		}
	}
	return out, nil
}

// ubcTokens splits non-empty, non-comment lines into fields.
func ubcTokens(r io.Reader) ([][]string, error) {
	var out [][]string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		text, _, _ := strings.Cut(sc.Text(), "!")
		fields := strings.Fields(text)
		if len(fields) > 0 {
			out = append(out, fields)
		}
	}
	return out, sc.Err()
}

// readUBCProperty reads one value per cell. The file lists cells with z
// changing fastest from the top, then x, then y; the result is ordered x
// fastest, then y, then z from the bottom.
func readUBCProperty(path string, size [3]int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	nx, ny, nz := size[0], size[1], size[2]
	n := nx * ny * nz
	raw := make([]float64, 0, n)
	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q", sc.Text())
		}
		raw = append(raw, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(raw) != n {
		return nil, fmt.Errorf("%d values for %d cells", len(raw), n)
	}

	out := make([]float64, n)
	src := 0
	for j := range ny {
		for i := range nx {
			for top := range nz {
				k := nz - 1 - top
				out[i+nx*(j+ny*k)] = raw[src]
				src++
			}
		}
	}
	return out, nil
}
