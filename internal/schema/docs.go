package schema

import (
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/geoconv/internal/geo"
)

// ArrayRef points at an artifact holding array data.
type ArrayRef struct {
	Data     string `json:"data"`
	DataType string `json:"data_type"`
	Length   int    `json:"length"`
	Width    int    `json:"width"`
}

// LookupRef points at a category lookup table artifact.
type LookupRef struct {
	Data           string `json:"data"`
	Length         int    `json:"length"`
	KeysDataType   string `json:"keys_data_type"`
	ValuesDataType string `json:"values_data_type"`
}

type NaNDescription struct {
	Values []float64 `json:"values"`
}

// AttributeDoc is one attribute entry of an object.
type AttributeDoc struct {
	Name           string          `json:"name"`
	Key            string          `json:"key"`
	AttributeType  string          `json:"attribute_type"`
	Values         ArrayRef        `json:"values"`
	Table          *LookupRef      `json:"table,omitempty"`
	NaNDescription *NaNDescription `json:"nan_description,omitempty"`
}

// ElementsDoc is an array reference with attributes attached to its rows.
type ElementsDoc struct {
	ArrayRef
	Attributes []AttributeDoc `json:"attributes"`
}

// CRSDoc serializes as {"epsg_code": n}, {"ogc_wkt": s} or "unspecified".
type CRSDoc geo.CRS

func (c CRSDoc) MarshalJSON() ([]byte, error) {
	switch {
	case c.EPSG != 0:
		return json.Marshal(map[string]int{"epsg_code": c.EPSG})
	case c.WKT != "":
		return json.Marshal(map[string]string{"ogc_wkt": c.WKT})
	default:
		return json.Marshal("unspecified")
	}
}

func (c *CRSDoc) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "unspecified" {
			return fmt.Errorf("unknown coordinate reference system %q", s)
		}
		*c = CRSDoc{}
		return nil
	}
	var v struct {
		EPSG int    `json:"epsg_code"`
		WKT  string `json:"ogc_wkt"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode coordinate reference system: %w", err)
	}
	*c = CRSDoc{EPSG: v.EPSG, WKT: v.WKT}
	return nil
}

// Base holds the fields shared by every object type.
type Base struct {
	Schema      string            `json:"schema"`
	UUID        *string           `json:"uuid"`
	Name        string            `json:"name"`
	BoundingBox geo.BoundingBox   `json:"bounding_box"`
	CRS         CRSDoc            `json:"coordinate_reference_system"`
	Tags        map[string]string `json:"tags,omitempty"`
}

type PointSetDoc struct {
	Base
	Locations struct {
		Coordinates ArrayRef       `json:"coordinates"`
		Attributes  []AttributeDoc `json:"attributes"`
	} `json:"locations"`
}

type TriangleMeshDoc struct {
	Base
	Triangles struct {
		Vertices ElementsDoc `json:"vertices"`
		Indices  ElementsDoc `json:"indices"`
	} `json:"triangles"`
	Parts *PartsDoc `json:"parts,omitempty"`
}

type PartsDoc struct {
	Chunks ArrayRef `json:"chunks"`
}

type LineSegmentsDoc struct {
	Base
	Segments struct {
		Vertices ElementsDoc `json:"vertices"`
		Indices  ElementsDoc `json:"indices"`
	} `json:"segments"`
}

type Regular3DGridDoc struct {
	Base
	Origin           [3]float64     `json:"origin"`
	Size             [3]int         `json:"size"`
	CellSize         [3]float64     `json:"cell_size"`
	Rotation         geo.Rotation   `json:"rotation"`
	CellAttributes   []AttributeDoc `json:"cell_attributes"`
	VertexAttributes []AttributeDoc `json:"vertex_attributes"`
}

type Tensor3DGridDoc struct {
	Base
	Origin      [3]float64 `json:"origin"`
	Size        [3]int     `json:"size"`
	GridCells3D struct {
		CellSizesX []float64 `json:"cell_sizes_x"`
		CellSizesY []float64 `json:"cell_sizes_y"`
		CellSizesZ []float64 `json:"cell_sizes_z"`
	} `json:"grid_cells_3d"`
	Rotation       geo.Rotation   `json:"rotation"`
	CellAttributes []AttributeDoc `json:"cell_attributes"`
}
