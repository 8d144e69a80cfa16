// Package raster is the single-band grid model and its PostGIS raster WKB
// encoding.
package raster

import (
	"fmt"
	"math"

	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/table"
)

// Grid is one band of cells. Cells are stored row-major with row 0 the
// northern row. XMin/YMin address the centre of the south-west cell.
type Grid struct {
	Name     string
	Type     PixelType
	NX, NY   int
	CellSize float64
	XMin     float64
	YMin     float64

	// NoData is the no-data cell value; HasNoData false means every value is data.
	NoData    float64
	HasNoData bool

	Values []float64
	SRID   int
	Meta   table.Meta
}

// New allocates an nx by ny grid of zeros.
func New(name string, typ PixelType, nx, ny int, cellSize, xmin, ymin float64) (*Grid, error) {
	if nx <= 0 || ny <= 0 || nx > math.MaxUint16 || ny > math.MaxUint16 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "grid size %dx%d out of range", nx, ny)
	}
	if cellSize <= 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "cell size %g must be positive", cellSize)
	}
	return &Grid{
		Name:     name,
		Type:     typ,
		NX:       nx,
		NY:       ny,
		CellSize: cellSize,
		XMin:     xmin,
		YMin:     ymin,
		Values:   make([]float64, nx*ny),
	}, nil
}

// Value returns the cell at column x, row y (row 0 is north).
func (g *Grid) Value(x, y int) float64 {
	return g.Values[y*g.NX+x]
}

// Set writes the cell at column x, row y.
func (g *Grid) Set(x, y int, v float64) {
	g.Values[y*g.NX+x] = v
}

// IsNoData reports whether the cell at (x, y) holds the no-data value.
func (g *Grid) IsNoData(x, y int) bool {
	if !g.HasNoData {
		return false
	}
	v := g.Value(x, y)
	return v == g.NoData || (math.IsNaN(v) && math.IsNaN(g.NoData))
}

// YMax is the centre of the northern row.
func (g *Grid) YMax() float64 {
	return g.YMin + float64(g.NY-1)*g.CellSize
}

func (g *Grid) String() string {
	return fmt.Sprintf("%s (%s %dx%d, cellsize=%g, srid=%d)", g.Name, g.Type, g.NX, g.NY, g.CellSize, g.SRID)
}
