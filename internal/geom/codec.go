package geom

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"

	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/table"
	gogeom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// Geometry is one decoded geometry value.
type Geometry struct {
	Type   ShapeType
	Vertex VertexType
	Parts  [][]Point
}

// EncodeWKB encodes parts as little-endian ISO WKB for a layer of type t.
func EncodeWKB(t ShapeType, v VertexType, parts [][]Point) ([]byte, error) {
	g, err := toGeom(t, v, parts)
	if err != nil {
		return nil, err
	}
	b, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "wkb encoding failed", err)
	}
	return b, nil
}

// DecodeWKB decodes ISO WKB.
func DecodeWKB(b []byte) (*Geometry, error) {
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindDataShape, "invalid wkb geometry", err)
	}
	return fromGeom(g)
}

// DecodeEWKB decodes PostGIS extended WKB, the binary form of a geometry
// column. The embedded SRID is dropped.
func DecodeEWKB(b []byte) (*Geometry, error) {
	g, err := ewkb.Unmarshal(b)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindDataShape, "invalid ewkb geometry", err)
	}
	return fromGeom(g)
}

// DecodeHex decodes a geometry cell in text form: bytea hex ("\x...") as
// returned by ST_AsBinary, or the bare hex EWKB a geometry column prints.
func DecodeHex(s string) (*Geometry, error) {
	if strings.HasPrefix(s, `\x`) {
		b, err := table.DecodeBytea(s)
		if err != nil {
			return nil, err
		}
		return DecodeWKB(b)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindDataShape, "invalid geometry hex", err)
	}
	return DecodeEWKB(b)
}

// EncodeWKT encodes parts as ISO WKT for a layer of type t.
func EncodeWKT(t ShapeType, v VertexType, parts [][]Point) (string, error) {
	g, err := toGeom(t, v, parts)
	if err != nil {
		return "", err
	}
	s, err := wkt.Marshal(g)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidInput, "wkt encoding failed", err)
	}
	return s, nil
}

// DecodeWKT decodes ISO WKT.
func DecodeWKT(s string) (*Geometry, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindDataShape, "invalid wkt geometry", err)
	}
	return fromGeom(g)
}

func layoutOf(v VertexType) gogeom.Layout {
	switch v {
	case VertexXYZ:
		return gogeom.XYZ
	case VertexXYZM:
		return gogeom.XYZM
	}
	return gogeom.XY
}

func coord(p Point, v VertexType) gogeom.Coord {
	switch v {
	case VertexXYZ:
		return gogeom.Coord{p.X, p.Y, p.Z}
	case VertexXYZM:
		return gogeom.Coord{p.X, p.Y, p.Z, p.M}
	}
	return gogeom.Coord{p.X, p.Y}
}

func coords(part []Point, v VertexType) []gogeom.Coord {
	cs := make([]gogeom.Coord, len(part))
	for i, p := range part {
		cs[i] = coord(p, v)
	}
	return cs
}

// toGeom builds the go-geom value stored for a layer of type t: lines and
// polygons always become their multi variants so one column type fits all rows.
func toGeom(t ShapeType, v VertexType, parts [][]Point) (gogeom.T, error) {
	layout := layoutOf(v)

	switch t {
	case ShapePoint:
		if len(parts) == 0 || len(parts[0]) == 0 {
			return nil, errs.New(errs.ErrKindInvalidInput, "point shape without a vertex")
		}
		return gogeom.NewPoint(layout).SetCoords(coord(parts[0][0], v))

	case ShapeMultiPoint:
		var cs []gogeom.Coord
		for _, part := range parts {
			cs = append(cs, coords(part, v)...)
		}
		return gogeom.NewMultiPoint(layout).SetCoords(cs)

	case ShapeLine:
		lines := make([][]gogeom.Coord, len(parts))
		for i, part := range parts {
			lines[i] = coords(part, v)
		}
		return gogeom.NewMultiLineString(layout).SetCoords(lines)

	case ShapePolygon:
		var polys [][][]gogeom.Coord
		for _, ring := range groupRings(parts) {
			poly := make([][]gogeom.Coord, len(ring))
			for i, r := range ring {
				poly[i] = coords(closeRing(r), v)
			}
			polys = append(polys, poly)
		}
		return gogeom.NewMultiPolygon(layout).SetCoords(polys)
	}

	return nil, errs.Newf(errs.ErrKindInvalidInput, "cannot encode %s shapes", t)
}

func fromGeom(g gogeom.T) (*Geometry, error) {
	out := &Geometry{}

	switch g.Layout() {
	case gogeom.XY:
		out.Vertex = VertexXY
	case gogeom.XYZ:
		out.Vertex = VertexXYZ
	case gogeom.XYM, gogeom.XYZM:
		out.Vertex = VertexXYZM
	default:
		return nil, errs.Newf(errs.ErrKindDataShape, "unsupported coordinate layout %v", g.Layout())
	}
	layout := g.Layout()

	switch x := g.(type) {
	case *gogeom.Point:
		out.Type = ShapePoint
		if !x.Empty() {
			out.Parts = [][]Point{{point(x.Coords(), layout)}}
		}
	case *gogeom.MultiPoint:
		out.Type = ShapeMultiPoint
		out.Parts = [][]Point{points(x.Coords(), layout, false)}
	case *gogeom.LineString:
		out.Type = ShapeLine
		out.Parts = [][]Point{points(x.Coords(), layout, false)}
	case *gogeom.MultiLineString:
		out.Type = ShapeLine
		for _, line := range x.Coords() {
			out.Parts = append(out.Parts, points(line, layout, false))
		}
	case *gogeom.Polygon:
		out.Type = ShapePolygon
		for _, ring := range x.Coords() {
			out.Parts = append(out.Parts, points(ring, layout, true))
		}
	case *gogeom.MultiPolygon:
		out.Type = ShapePolygon
		for _, poly := range x.Coords() {
			for _, ring := range poly {
				out.Parts = append(out.Parts, points(ring, layout, true))
			}
		}
	default:
		return nil, errs.Newf(errs.ErrKindDataShape, "unsupported geometry %T", g)
	}

	return out, nil
}

func point(c gogeom.Coord, layout gogeom.Layout) Point {
	p := Point{X: c[0], Y: c[1]}
	switch layout {
	case gogeom.XYZ:
		p.Z = c[2]
	case gogeom.XYM:
		p.M = c[2]
	case gogeom.XYZM:
		p.Z, p.M = c[2], c[3]
	}
	return p
}

// points converts a coordinate list; rings drop their closing vertex.
func points(cs []gogeom.Coord, layout gogeom.Layout, ring bool) []Point {
	ps := make([]Point, len(cs))
	for i, c := range cs {
		ps[i] = point(c, layout)
	}
	if ring {
		ps = openRing(ps)
	}
	return ps
}

func openRing(r []Point) []Point {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

func closeRing(r []Point) []Point {
	if len(r) > 0 && r[0] != r[len(r)-1] {
		closed := make([]Point, len(r), len(r)+1)
		copy(closed, r)
		return append(closed, r[0])
	}
	return r
}

// groupRings splits a flat ring list into polygons: a ring whose first vertex
// lies inside the current outer ring is a hole of it, anything else opens a
// new polygon.
func groupRings(rings [][]Point) [][][]Point {
	var polys [][][]Point
	for _, r := range rings {
		n := len(polys)
		if n > 0 && len(r) > 0 && ringContains(polys[n-1][0], r[0]) {
			polys[n-1] = append(polys[n-1], r)
			continue
		}
		polys = append(polys, [][]Point{r})
	}
	return polys
}

// ringContains is an even-odd point-in-polygon test.
func ringContains(ring []Point, p Point) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > p.Y) != (b.Y > p.Y) &&
			p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

// Equal reports whether two vertices match within tol on the ordinates
// present in v.
func Equal(a, b Point, v VertexType, tol float64) bool {
	near := func(x, y float64) bool { return math.Abs(x-y) <= tol }
	if !near(a.X, b.X) || !near(a.Y, b.Y) {
		return false
	}
	if v >= VertexXYZ && !near(a.Z, b.Z) {
		return false
	}
	if v == VertexXYZM && !near(a.M, b.M) {
		return false
	}
	return true
}
