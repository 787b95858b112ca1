package geo

import (
	"fmt"
	"unicode/utf8"
)

// AttributeKind selects how attribute values are stored.
type AttributeKind string

const (
	Continuous AttributeKind = "continuous"
	Integer    AttributeKind = "integer"
	Category   AttributeKind = "category"
	Text       AttributeKind = "string"
	Boolean    AttributeKind = "bool"
)

// Attribute is a named value per vertex, cell, point or segment. The slice
// matching Kind is populated: Floats for continuous, Ints for integer,
// Strings for category and string, Bools for bool.
type Attribute struct {
	Name    string
	Kind    AttributeKind
	Floats  []float64
	Ints    []int64
	Strings []string
	Bools   []bool

	// NaNValues lists sentinel values that mean "no data".
	NaNValues []float64
}

func ContinuousAttribute(name string, v []float64) Attribute {
	return Attribute{Name: name, Kind: Continuous, Floats: v}
}

func IntegerAttribute(name string, v []int64) Attribute {
	return Attribute{Name: name, Kind: Integer, Ints: v}
}

func CategoryAttribute(name string, v []string) Attribute {
	return Attribute{Name: name, Kind: Category, Strings: v}
}

func StringAttribute(name string, v []string) Attribute {
	return Attribute{Name: name, Kind: Text, Strings: v}
}

func BoolAttribute(name string, v []bool) Attribute {
	return Attribute{Name: name, Kind: Boolean, Bools: v}
}

// Len returns the number of values.
func (a *Attribute) Len() int {
	switch a.Kind {
	case Continuous:
		return len(a.Floats)
	case Integer:
		return len(a.Ints)
	case Category, Text:
		return len(a.Strings)
	case Boolean:
		return len(a.Bools)
	}
	return 0
}

// Lookup assigns category keys in first-seen order and returns the key per
// value together with the ordered labels.
func (a *Attribute) Lookup() (keys []int32, labels []string) {
	index := make(map[string]int32)
	keys = make([]int32, len(a.Strings))
	labels = []string{}
	for i, s := range a.Strings {
		k, ok := index[s]
		if !ok {
			k = int32(len(labels))
			index[s] = k
			labels = append(labels, s)
		}
		keys[i] = k
	}
	return keys, labels
}

// CategoryFromCodes rebuilds a category attribute from keys and a lookup table.
func CategoryFromCodes(name string, codes []int32, lookupKeys []int32, lookupValues []string) (Attribute, error) {
	if len(lookupKeys) != len(lookupValues) {
		return Attribute{}, fmt.Errorf("category %q: %d keys but %d labels", name, len(lookupKeys), len(lookupValues))
	}
	table := make(map[int32]string, len(lookupKeys))
	for i, k := range lookupKeys {
		table[k] = lookupValues[i]
	}
	values := make([]string, len(codes))
	for i, c := range codes {
		label, ok := table[c]
		if !ok {
			return Attribute{}, fmt.Errorf("category %q: code %d not in lookup table", name, c)
		}
		values[i] = label
	}
	return CategoryAttribute(name, values), nil
}

func checkAttributes(el Element, scope string, attrs []Attribute, n int) error {
	seen := make(map[string]bool, len(attrs))
	for i := range attrs {
		a := &attrs[i]
		if a.Name == "" {
			return unsupported(el, "%s attribute %d has no name", scope, i)
		}
		if seen[a.Name] {
			return unsupported(el, "duplicate %s attribute %q", scope, a.Name)
		}
		seen[a.Name] = true
		switch a.Kind {
		case Continuous, Integer, Category, Text, Boolean:
		default:
			return unsupported(el, "%s attribute %q has unknown kind %q", scope, a.Name, a.Kind)
		}
		if !utf8.ValidString(a.Name) {
			return unsupported(el, "%s attribute name %q is not valid UTF-8", scope, a.Name)
		}
		if a.Len() != n {
			return unsupported(el, "%s attribute %q has %d values, expected %d", scope, a.Name, a.Len(), n)
		}
		if a.Kind == Category || a.Kind == Text {
			for j, s := range a.Strings {
				if !utf8.ValidString(s) {
					return unsupported(el, "%s attribute %q value %d is not valid UTF-8", scope, a.Name, j)
				}
			}
		}
	}
	return nil
}
