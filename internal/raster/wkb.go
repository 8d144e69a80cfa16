package raster

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/koustreak/geopg/internal/errs"
)

// Raster WKB layout: endianness (1), version (2), band count (2), scaleX,
// scaleY, ipX, ipY, skewX, skewY (6 x 8), srid (4), width (2), height (2).
const headerSize = 61

// Band header flag bits (high nibble of the pixel type byte).
const (
	flagOffline   = 0x80
	flagHasNoData = 0x40
	flagIsNoData  = 0x20
	maskPixType   = 0x0f
)

// Encode writes g as a single-band little-endian raster WKB with the given
// SRID. The upper-left corner and negative Y scale follow the PostGIS
// north-up convention.
func Encode(g *Grid, srid int) ([]byte, error) {
	if g.NX <= 0 || g.NY <= 0 || g.NX > math.MaxUint16 || g.NY > math.MaxUint16 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "grid size %dx%d out of range", g.NX, g.NY)
	}
	if len(g.Values) != g.NX*g.NY {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "grid has %d values for %dx%d cells", len(g.Values), g.NX, g.NY)
	}
	code, err := g.Type.Code()
	if err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	size := codeSize(code)
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+1+size*(1+len(g.Values))))

	half := g.CellSize / 2
	buf.WriteByte(1)
	write := func(v any) { _ = binary.Write(buf, le, v) }
	write(uint16(0))
	write(uint16(1))
	write(g.CellSize)
	write(-g.CellSize)
	write(g.XMin - half)
	write(g.YMax() + half)
	write(float64(0))
	write(float64(0))
	write(int32(srid))
	write(uint16(g.NX))
	write(uint16(g.NY))

	flags := code
	if g.HasNoData {
		flags |= flagHasNoData
	}
	buf.WriteByte(flags)

	cell := make([]byte, size)
	putCell(cell, code, g.NoData)
	buf.Write(cell)
	for _, v := range g.Values {
		putCell(cell, code, v)
		buf.Write(cell)
	}

	return buf.Bytes(), nil
}

// EncodeHex is Encode rendered as hex, the text input form of
// the raster type.
func EncodeHex(g *Grid, srid int) (string, error) {
	b, err := Encode(g, srid)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Decode reads a raster WKB payload, returning one Grid per band. Every
// band shares the raster's georeference and SRID.
func Decode(b []byte) ([]*Grid, error) {
	if len(b) < headerSize {
		return nil, errs.Newf(errs.ErrKindDataShape, "raster payload of %d bytes is shorter than its header", len(b))
	}

	var order binary.ByteOrder
	switch b[0] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return nil, errs.Newf(errs.ErrKindDataShape, "invalid raster endianness flag %d", b[0])
	}

	r := &reader{b: b, pos: 1, order: order}
	if v := r.u16(); v != 0 {
		return nil, errs.Newf(errs.ErrKindDataShape, "unsupported raster wkb version %d", v)
	}
	nBands := int(r.u16())
	scaleX, scaleY := r.f64(), r.f64()
	ipX, ipY := r.f64(), r.f64()
	skewX, skewY := r.f64(), r.f64()
	srid := int(int32(r.u32()))
	nx, ny := int(r.u16()), int(r.u16())

	if skewX != 0 || skewY != 0 {
		return nil, errs.New(errs.ErrKindDataShape, "rotated rasters are not supported")
	}
	if scaleX <= 0 {
		return nil, errs.Newf(errs.ErrKindDataShape, "invalid raster x scale %g", scaleX)
	}
	if nx == 0 || ny == 0 {
		return nil, errs.New(errs.ErrKindDataShape, "empty raster")
	}

	cs := scaleX
	xmin := ipX + cs/2
	var ymin float64
	southUp := scaleY > 0
	if southUp {
		ymin = ipY + cs/2
	} else {
		ymin = ipY - float64(ny)*cs + cs/2
	}

	grids := make([]*Grid, 0, nBands)
	for band := 0; band < nBands; band++ {
		flags, ok := r.u8()
		if !ok {
			return nil, errs.Newf(errs.ErrKindDataShape, "raster payload truncated in band %d header", band)
		}
		if flags&flagOffline != 0 {
			return nil, errs.New(errs.ErrKindDataShape, "out-db raster bands are not supported")
		}
		code := flags & maskPixType
		typ, err := PixelTypeFromCode(code)
		if err != nil {
			return nil, err
		}
		size := codeSize(code)
		if r.remaining() < size*(1+nx*ny) {
			return nil, errs.Newf(errs.ErrKindDataShape, "raster payload truncated in band %d", band)
		}

		g := &Grid{
			Type:      typ,
			NX:        nx,
			NY:        ny,
			CellSize:  cs,
			XMin:      xmin,
			YMin:      ymin,
			NoData:    r.cell(code),
			HasNoData: flags&flagHasNoData != 0,
			Values:    make([]float64, nx*ny),
			SRID:      srid,
		}
		for y := 0; y < ny; y++ {
			row := y
			if southUp {
				row = ny - 1 - y
			}
			for x := 0; x < nx; x++ {
				g.Values[row*nx+x] = r.cell(code)
			}
		}
		grids = append(grids, g)
	}

	if len(grids) == 0 {
		return nil, errs.New(errs.ErrKindDataShape, "raster has no bands")
	}
	return grids, nil
}

// DecodeHex decodes the hex text form of a raster.
func DecodeHex(s string) ([]*Grid, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindDataShape, "invalid raster hex", err)
	}
	return Decode(b)
}

func putCell(dst []byte, code byte, v float64) {
	le := binary.LittleEndian
	if code != code32BF && code != code64BF {
		v = clamp(code, v)
	}
	switch code {
	case code1BB, code2BUI, code4BUI, code8BUI:
		dst[0] = uint8(v)
	case code8BSI:
		dst[0] = uint8(int8(v))
	case code16BSI:
		le.PutUint16(dst, uint16(int16(v)))
	case code16BUI:
		le.PutUint16(dst, uint16(v))
	case code32BSI:
		le.PutUint32(dst, uint32(int32(v)))
	case code32BUI:
		le.PutUint32(dst, uint32(v))
	case code32BF:
		le.PutUint32(dst, math.Float32bits(float32(v)))
	case code64BF:
		le.PutUint64(dst, math.Float64bits(v))
	}
}

type reader struct {
	b     []byte
	pos   int
	order binary.ByteOrder
}

func (r *reader) remaining() int { return len(r.b) - r.pos }

func (r *reader) u8() (byte, bool) {
	if r.pos >= len(r.b) {
		return 0, false
	}
	c := r.b[r.pos]
	r.pos++
	return c, true
}

func (r *reader) u16() uint16 {
	v := r.order.Uint16(r.b[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u32() uint32 {
	v := r.order.Uint32(r.b[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	v := r.order.Uint64(r.b[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) f64() float64 {
	return math.Float64frombits(r.u64())
}

// cell reads one value; callers have checked the remaining length.
func (r *reader) cell(code byte) float64 {
	switch code {
	case code1BB, code2BUI, code4BUI, code8BUI:
		c, _ := r.u8()
		return float64(c)
	case code8BSI:
		c, _ := r.u8()
		return float64(int8(c))
	case code16BSI:
		return float64(int16(r.u16()))
	case code16BUI:
		return float64(r.u16())
	case code32BSI:
		return float64(int32(r.u32()))
	case code32BUI:
		return float64(r.u32())
	case code32BF:
		return float64(math.Float32frombits(r.u32()))
	case code64BF:
		return r.f64()
	}
	return 0
}
