// Package schema maps geometry onto geoscience object documents. Array data
// never appears inline: it is serialized into artifacts, and documents carry
// hash references to them.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kilupskalvis/geoconv/internal/artifact"
)

// Schema identifiers of the supported object types.
const (
	PointSetSchema      = "/objects/pointset/1.2.0/pointset.schema.json"
	TriangleMeshSchema  = "/objects/triangle-mesh/2.1.0/triangle-mesh.schema.json"
	LineSegmentsSchema  = "/objects/line-segments/2.1.0/line-segments.schema.json"
	Regular3DGridSchema = "/objects/regular-3d-grid/1.2.0/regular-3d-grid.schema.json"
	Tensor3DGridSchema  = "/objects/tensor-3d-grid/1.2.0/tensor-3d-grid.schema.json"
)

// Object is a schema document as a generic JSON tree.
type Object map[string]any

// ParseObject decodes a JSON document.
func ParseObject(data []byte) (Object, error) {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parse object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("parse object: document is not a JSON object")
	}
	return obj, nil
}

// Name returns the object's name field.
func (o Object) Name() string {
	s, _ := o["name"].(string)
	return s
}

// Schema returns the object's schema identifier.
func (o Object) Schema() string {
	s, _ := o["schema"].(string)
	return s
}

// Tags returns the object's tags.
func (o Object) Tags() map[string]string {
	raw, _ := o["tags"].(map[string]any)
	tags := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			tags[k] = s
		}
	}
	return tags
}

// Hashes returns the sorted, de-duplicated artifact hashes referenced
// anywhere in the document.
func (o Object) Hashes() []string {
	set := make(map[string]bool)
	collectHashes(map[string]any(o), set)
	hashes := make([]string, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}

func collectHashes(v any, set map[string]bool) {
	switch n := v.(type) {
	case map[string]any:
		if h, ok := n["data"].(string); ok && artifact.ValidHash(h) {
			set[h] = true
		}
		for _, child := range n {
			collectHashes(child, set)
		}
	case Object:
		collectHashes(map[string]any(n), set)
	case []any:
		for _, child := range n {
			collectHashes(child, set)
		}
	}
}

// Clone returns a deep copy of the document.
func (o Object) Clone() Object {
	data, err := json.Marshal(o)
	if err != nil {
		panic(fmt.Sprintf("schema: clone: %v", err))
	}
	var out Object
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("schema: clone: %v", err))
	}
	return out
}

// ObjectType returns the type segment of a schema id, e.g. "pointset" for
// "/objects/pointset/1.2.0/pointset.schema.json".
func ObjectType(schemaID string) string {
	parts := strings.Split(strings.Trim(schemaID, "/"), "/")
	if len(parts) < 2 || parts[0] != "objects" {
		return ""
	}
	return parts[1]
}

func toObject(doc any) (Object, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return ParseObject(data)
}

func fromObject(o Object, doc any) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("decode %s document: %w", ObjectType(o.Schema()), err)
	}
	return nil
}
