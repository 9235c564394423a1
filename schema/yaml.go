package schema

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// yamlDimension mirrors Dimension with JSON tags, the way
// db.TableDefinition (db/def.go) describes its on-disk shape with
// struct tags rather than a bespoke parser.
type yamlDimension struct {
	Name       string `json:"name"`
	Low        int64  `json:"low"`
	High       int64  `json:"high"`
	TileExtent int64  `json:"tile_extent"`
}

type yamlAttribute struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	CellValNum int    `json:"cell_val_num,omitempty"`
	Compressor string `json:"compressor,omitempty"`
}

type yamlSchema struct {
	Dimensions []yamlDimension `json:"dimensions"`
	Attributes []yamlAttribute `json:"attributes"`
	Sparse     bool            `json:"sparse,omitempty"`
	CellOrder  string          `json:"cell_order,omitempty"`
}

func parseDatatype(s string) (Datatype, error) {
	switch s {
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	case "char":
		return Char, nil
	default:
		return 0, fmt.Errorf("schema: unknown datatype %q", s)
	}
}

func parseCellOrder(s string) (CellOrder, error) {
	switch s {
	case "", "row-major":
		return RowMajor, nil
	case "col-major":
		return ColMajor, nil
	default:
		return 0, fmt.Errorf("schema: unknown cell order %q", s)
	}
}

// DecodeYAML parses a Schema from the YAML document in buf.
func DecodeYAML(buf []byte) (*Schema, error) {
	var y yamlSchema
	if err := yaml.Unmarshal(buf, &y); err != nil {
		return nil, fmt.Errorf("schema.DecodeYAML: %w", err)
	}
	s := &Schema{Sparse: y.Sparse}
	order, err := parseCellOrder(y.CellOrder)
	if err != nil {
		return nil, err
	}
	s.CellOrder = order
	for _, d := range y.Dimensions {
		s.Dimensions = append(s.Dimensions, Dimension{
			Name:       d.Name,
			Low:        d.Low,
			High:       d.High,
			TileExtent: d.TileExtent,
		})
	}
	for _, a := range y.Attributes {
		dt, err := parseDatatype(a.Type)
		if err != nil {
			return nil, err
		}
		cvn := a.CellValNum
		if dt == Char && cvn == 0 {
			cvn = VarNum
		}
		if cvn == 0 {
			cvn = 1
		}
		s.Attributes = append(s.Attributes, Attribute{
			Name:       a.Name,
			Type:       dt,
			CellValNum: cvn,
			Compressor: a.Compressor,
		})
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadYAML reads and parses a Schema from a YAML file on the local
// filesystem, describing a schema without constructing the Go struct
// literal by hand.
func LoadYAML(path string) (*Schema, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema.LoadYAML: %w", err)
	}
	return DecodeYAML(buf)
}
