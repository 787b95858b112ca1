package artifact

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DataType is the element type of a table column.
type DataType string

const (
	Float64 DataType = "float64"
	Int32   DataType = "int32"
	Int64   DataType = "int64"
	Uint64  DataType = "uint64"
	Bool    DataType = "bool"
	String  DataType = "string"
)

// width returns the packed byte width of a fixed-size type, 0 for strings.
func (d DataType) width() int {
	switch d {
	case Float64, Int64, Uint64:
		return 8
	case Int32:
		return 4
	case Bool:
		return 1
	default:
		return 0
	}
}

func (d DataType) valid() bool {
	switch d {
	case Float64, Int32, Int64, Uint64, Bool, String:
		return true
	}
	return false
}

// Column is a named, typed vector. Exactly one of the value slices is
// populated, matching Type.
type Column struct {
	Name     string
	Type     DataType
	Float64s []float64
	Int32s   []int32
	Int64s   []int64
	Uint64s  []uint64
	Bools    []bool
	Strings  []string
}

func Float64Column(name string, v []float64) Column {
	return Column{Name: name, Type: Float64, Float64s: v}
}

func Int32Column(name string, v []int32) Column {
	return Column{Name: name, Type: Int32, Int32s: v}
}

func Int64Column(name string, v []int64) Column {
	return Column{Name: name, Type: Int64, Int64s: v}
}

func Uint64Column(name string, v []uint64) Column {
	return Column{Name: name, Type: Uint64, Uint64s: v}
}

func BoolColumn(name string, v []bool) Column {
	return Column{Name: name, Type: Bool, Bools: v}
}

func StringColumn(name string, v []string) Column {
	return Column{Name: name, Type: String, Strings: v}
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	switch c.Type {
	case Float64:
		return len(c.Float64s)
	case Int32:
		return len(c.Int32s)
	case Int64:
		return len(c.Int64s)
	case Uint64:
		return len(c.Uint64s)
	case Bool:
		return len(c.Bools)
	case String:
		return len(c.Strings)
	}
	return 0
}

// Table is an ordered set of equal-length columns. Column order is part of
// the canonical encoding.
type Table struct {
	Columns []Column
}

// NewTable builds a table and checks that its columns are well formed.
func NewTable(cols ...Column) (*Table, error) {
	t := &Table{Columns: cols}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MustTable is NewTable for statically known columns.
func MustTable(cols ...Column) *Table {
	t, err := NewTable(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks column names, types and lengths.
func (t *Table) Validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("table has no columns")
	}
	seen := make(map[string]bool, len(t.Columns))
	n := t.Columns[0].Len()
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Name == "" {
			return fmt.Errorf("column %d has no name", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if !c.Type.valid() {
			return fmt.Errorf("column %q: unknown type %q", c.Name, c.Type)
		}
		if c.Len() != n {
			return fmt.Errorf("column %q has %d values, expected %d", c.Name, c.Len(), n)
		}
		for j, s := range c.Strings {
			if !utf8.ValidString(s) {
				return fmt.Errorf("column %q: row %d is not valid UTF-8", c.Name, j)
			}
		}
	}
	return nil
}

// Length returns the row count.
func (t *Table) Length() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

// Width returns the column count.
func (t *Table) Width() int {
	return len(t.Columns)
}

// DataType returns the shared column type, or the column types joined by
// "/" when they differ.
func (t *Table) DataType() string {
	if len(t.Columns) == 0 {
		return ""
	}
	types := make([]string, len(t.Columns))
	same := true
	for i, c := range t.Columns {
		types[i] = string(c.Type)
		if c.Type != t.Columns[0].Type {
			same = false
		}
	}
	if same {
		return types[0]
	}
	return strings.Join(types, "/")
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}
