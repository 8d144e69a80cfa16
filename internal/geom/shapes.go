// Package geom is the vector layer model (shape type, vertex
// dimensionality, SRID, attribute schema and per-record geometry) together
// with its WKB, WKT and GeoJSON encodings.
package geom

import (
	"fmt"
	"strings"

	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/table"
)

// ShapeType is the geometry family of a layer.
type ShapeType int

const (
	ShapeUndefined ShapeType = iota
	ShapePoint
	ShapeMultiPoint
	ShapeLine
	ShapePolygon
)

func (t ShapeType) String() string {
	switch t {
	case ShapePoint:
		return "point"
	case ShapeMultiPoint:
		return "multipoint"
	case ShapeLine:
		return "line"
	case ShapePolygon:
		return "polygon"
	}
	return "undefined"
}

// VertexType is the coordinate dimensionality of a layer.
type VertexType int

const (
	VertexXY VertexType = iota
	VertexXYZ
	VertexXYZM
)

func (v VertexType) String() string {
	switch v {
	case VertexXYZ:
		return "xyz"
	case VertexXYZM:
		return "xyzm"
	}
	return "xy"
}

// Dim is the number of ordinates per vertex.
func (v VertexType) Dim() int {
	return int(v) + 2
}

// Point is one vertex; Z and M are ignored below their vertex type.
type Point struct {
	X, Y, Z, M float64
}

// Shape is one record of a layer: its geometry parts plus attribute values.
type Shape struct {
	Parts  [][]Point
	Record table.Record
}

// PointCount is the number of vertices over all parts.
func (s *Shape) PointCount() int {
	n := 0
	for _, p := range s.Parts {
		n += len(p)
	}
	return n
}

// IsValid reports whether the shape can be written as a geometry of type t:
// at least one part, points and multipoints with at least one vertex, lines
// with two vertices per part and polygon rings with three distinct vertices.
func (s *Shape) IsValid(t ShapeType) bool {
	if len(s.Parts) == 0 {
		return false
	}
	for _, part := range s.Parts {
		switch t {
		case ShapePoint, ShapeMultiPoint:
			if len(part) < 1 {
				return false
			}
		case ShapeLine:
			if len(part) < 2 {
				return false
			}
		case ShapePolygon:
			if len(openRing(part)) < 3 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Shapes is a vector layer.
type Shapes struct {
	Name   string
	Type   ShapeType
	Vertex VertexType
	SRID   int
	Fields []table.Field
	Shapes []*Shape
	Meta   table.Meta
}

// NewShapes returns an empty layer.
func NewShapes(name string, typ ShapeType, vertex VertexType, srid int) *Shapes {
	return &Shapes{Name: name, Type: typ, Vertex: vertex, SRID: srid}
}

// AddField appends an attribute field; the schema is fixed once shapes exist.
func (s *Shapes) AddField(name string, typ table.FieldType, width int) error {
	if len(s.Shapes) > 0 {
		return errs.New(errs.ErrKindInvalidState, "cannot change the schema of a layer with shapes")
	}
	s.Fields = append(s.Fields, table.Field{Name: name, Type: typ, Width: width})
	return nil
}

// AddShape appends a shape with one attribute value per field.
func (s *Shapes) AddShape(parts [][]Point, values ...any) (*Shape, error) {
	rec, err := s.schema().NewRecord(values...)
	if err != nil {
		return nil, err
	}
	sh := &Shape{Parts: parts, Record: rec}
	s.Shapes = append(s.Shapes, sh)
	return sh, nil
}

// Len is the shape count.
func (s *Shapes) Len() int {
	return len(s.Shapes)
}

// Attributes returns the attribute table of the layer. Records are shared
// with the shapes, not copied.
func (s *Shapes) Attributes() *table.Table {
	t := s.schema()
	t.Records = make([]table.Record, len(s.Shapes))
	for i, sh := range s.Shapes {
		t.Records[i] = sh.Record
	}
	t.Meta = s.Meta
	return t
}

func (s *Shapes) schema() *table.Table {
	return &table.Table{Name: s.Name, Fields: s.Fields}
}

// DefaultColumn is the geometry column name used when a layer is created.
const DefaultColumn = "geometry"

// SQLType returns the PostGIS geometry type keyword and coordinate dimension
// used with AddGeometryColumn for a layer of type t and vertex type v.
// Lines and polygons are stored as their multi variants.
func SQLType(t ShapeType, v VertexType) (string, int, error) {
	var name string
	switch t {
	case ShapePoint:
		name = "POINT"
	case ShapeMultiPoint:
		name = "MULTIPOINT"
	case ShapeLine:
		name = "MULTILINESTRING"
	case ShapePolygon:
		name = "MULTIPOLYGON"
	default:
		return "", 0, errs.Newf(errs.ErrKindInvalidInput, "no geometry type for %s shapes", t)
	}
	switch v {
	case VertexXY, VertexXYZ, VertexXYZM:
	default:
		return "", 0, errs.Newf(errs.ErrKindInvalidInput, "no geometry type for vertex type %d", int(v))
	}
	return name, v.Dim(), nil
}

// TypeFromSQL maps a geometry_columns type keyword to a shape type.
func TypeFromSQL(name string) ShapeType {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, "ZM")
	name = strings.TrimSuffix(name, "M")
	name = strings.TrimSuffix(name, "Z")
	switch name {
	case "POINT":
		return ShapePoint
	case "MULTIPOINT":
		return ShapeMultiPoint
	case "LINESTRING", "MULTILINESTRING":
		return ShapeLine
	case "POLYGON", "MULTIPOLYGON":
		return ShapePolygon
	}
	return ShapeUndefined
}

// String is a short description used in logs.
func (s *Shapes) String() string {
	return fmt.Sprintf("%s (%s %s, srid=%d, %d shapes)", s.Name, s.Type, s.Vertex, s.SRID, len(s.Shapes))
}
