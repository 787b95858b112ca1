package schema

import (
	"bytes"
	"embed"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBaseURL = "https://schemas.geoconv.local"

var objectSchemas = map[string]string{
	PointSetSchema:      "pointset.schema.json",
	TriangleMeshSchema:  "triangle-mesh.schema.json",
	LineSegmentsSchema:  "line-segments.schema.json",
	Regular3DGridSchema: "regular-3d-grid.schema.json",
	Tensor3DGridSchema:  "tensor-3d-grid.schema.json",
}

// UnsupportedObjectError reports a document whose schema has no mapping.
type UnsupportedObjectError struct {
	Schema string
}

func (e *UnsupportedObjectError) Error() string {
	if e.Schema == "" {
		return "object has no schema identifier"
	}
	return fmt.Sprintf("unsupported object schema %q", e.Schema)
}

// ValidationError reports a document that does not conform to its schema.
type ValidationError struct {
	Schema string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("object does not match %s: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator checks documents against the embedded JSON Schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every known object schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	files := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := schemaFiles.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		files[e.Name()] = data
	}

	if err := c.AddResource(schemaBaseURL+"/components.schema.json", bytes.NewReader(files["components.schema.json"])); err != nil {
		return nil, fmt.Errorf("add components schema: %w", err)
	}
	for id, file := range objectSchemas {
		if err := c.AddResource(schemaBaseURL+id, bytes.NewReader(files[file])); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", id, err)
		}
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(objectSchemas))}
	for id := range objectSchemas {
		s, err := c.Compile(schemaBaseURL + id)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", id, err)
		}
		v.schemas[id] = s
	}
	return v, nil
}

// MustValidator is NewValidator for package-level initialization.
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks obj against the schema it names. obj must hold plain JSON
// values as produced by ParseObject.
func (v *Validator) Validate(obj Object) error {
	id := obj.Schema()
	s, ok := v.schemas[id]
	if !ok {
		return &UnsupportedObjectError{Schema: id}
	}
	if err := s.Validate(map[string]any(obj)); err != nil {
		return &ValidationError{Schema: id, Err: err}
	}
	return nil
}

// Supported reports whether a schema id can be validated and decoded.
func Supported(schemaID string) bool {
	_, ok := objectSchemas[schemaID]
	return ok
}

// SchemaIDs returns the supported schema identifiers.
func SchemaIDs() []string {
	return []string{PointSetSchema, TriangleMeshSchema, LineSegmentsSchema, Regular3DGridSchema, Tensor3DGridSchema}
}
