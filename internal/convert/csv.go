package convert

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kilupskalvis/geoconv/internal/geo"
)

// Coordinate column names accepted by the CSV importer, matched without
// regard to case.
var coordinateColumns = [3][]string{
	{"x", "easting", "east"},
	{"y", "northing", "north"},
	{"z", "elevation", "rl", "elev"},
}

// csvImporter reads a header row and one point per record. Columns other
// than the coordinates become attributes: numeric columns are continuous
// (empty cells are NaN), anything else is a category.
type csvImporter struct{}

func (csvImporter) Import(ctx context.Context, files []string) (*Parsed, error) {
	if len(files) != 1 {
		return nil, fmt.Errorf("csv: expected one input file, got %d", len(files))
	}
	f, err := os.Open(files[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ps, err := parseCSV(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("csv %s: %w", files[0], err)
	}
	ps.Name = baseName(files[0])
	return &Parsed{Source: filepath.Base(files[0]), Elements: []geo.Element{ps}}, nil
}

func parseCSV(ctx context.Context, r io.Reader) (*geo.PointSet, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header row")
		}
		return nil, err
	}
	coord := [3]int{-1, -1, -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for axis, aliases := range coordinateColumns {
			if coord[axis] < 0 && containsString(aliases, h) {
				coord[axis] = i
			}
		}
	}
	for axis, idx := range coord {
		if idx < 0 {
			return nil, fmt.Errorf("no %s column in header", coordinateColumns[axis][0])
		}
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
		if len(rows)%100000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	ps := &geo.PointSet{Points: make([][3]float64, len(rows))}
	for r, rec := range rows {
		for axis, idx := range coord {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad %s value %q", r+2, header[idx], rec[idx])
			}
			ps.Points[r][axis] = v
		}
	}

	for col, name := range header {
		if col == coord[0] || col == coord[1] || col == coord[2] {
			continue
		}
		ps.Attributes = append(ps.Attributes, csvAttribute(strings.TrimSpace(name), rows, col))
	}
	return ps, nil
}

func csvAttribute(name string, rows [][]string, col int) geo.Attribute {
	floats := make([]float64, len(rows))
	numeric := true
	for r, rec := range rows {
		cell := strings.TrimSpace(rec[col])
		if cell == "" {
			floats[r] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			numeric = false
			break
		}
		floats[r] = v
	}
	if numeric {
		return geo.ContinuousAttribute(name, floats)
	}
	labels := make([]string, len(rows))
	for r, rec := range rows {
		labels[r] = strings.TrimSpace(rec[col])
	}
	return geo.CategoryAttribute(name, labels)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type csvExporter struct{}

// Export writes x, y, z and the union of attribute columns. With more than
// one point set an "object" column names the source of each row.
func (csvExporter) Export(w io.Writer, elements []geo.Element) error {
	var sets []*geo.PointSet
	var columns []string
	seen := make(map[string]bool)
	for _, el := range elements {
		ps, ok := el.(*geo.PointSet)
		if !ok {
			return fmt.Errorf("csv: cannot export %s %q", el.Kind(), el.ElementName())
		}
		sets = append(sets, ps)
		for _, a := range ps.Attributes {
			if !seen[a.Name] {
				seen[a.Name] = true
				columns = append(columns, a.Name)
			}
		}
	}
	multi := len(sets) > 1

	cw := csv.NewWriter(w)
	header := []string{"x", "y", "z"}
	if multi {
		header = append([]string{"object"}, header...)
	}
	if err := cw.Write(append(header, columns...)); err != nil {
		return err
	}
	for _, ps := range sets {
		byName := make(map[string]*geo.Attribute, len(ps.Attributes))
		for i := range ps.Attributes {
			byName[ps.Attributes[i].Name] = &ps.Attributes[i]
		}
		for r, p := range ps.Points {
			rec := make([]string, 0, len(header)+len(columns))
			if multi {
				rec = append(rec, ps.Name)
			}
			rec = append(rec, formatFloat(p[0]), formatFloat(p[1]), formatFloat(p[2]))
			for _, c := range columns {
				rec = append(rec, attributeCell(byName[c], r))
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func attributeCell(a *geo.Attribute, row int) string {
	if a == nil {
		return ""
	}
	switch a.Kind {
	case geo.Continuous:
		v := a.Floats[row]
		if math.IsNaN(v) {
			return ""
		}
		return formatFloat(v)
	case geo.Integer:
		return strconv.FormatInt(a.Ints[row], 10)
	case geo.Boolean:
		return strconv.FormatBool(a.Bools[row])
	default:
		return a.Strings[row]
	}
}
