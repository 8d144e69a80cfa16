package raster

import (
	"math"

	"github.com/koustreak/geopg/internal/errs"
)

// PixelType is the semantic cell type of a grid.
type PixelType int

const (
	PixelUndefined PixelType = iota
	PixelBit
	PixelByte  // 8-bit unsigned
	PixelChar  // 8-bit signed
	PixelWord  // 16-bit unsigned
	PixelShort // 16-bit signed
	PixelDWord // 32-bit unsigned
	PixelInt   // 32-bit signed
	PixelLong  // 64-bit signed; stored as 64BF
	PixelFloat
	PixelDouble
)

// PostGIS raster pixel type codes (band header, low nibble).
const (
	code1BB   byte = 0
	code2BUI  byte = 1
	code4BUI  byte = 2
	code8BSI  byte = 3
	code8BUI  byte = 4
	code16BSI byte = 5
	code16BUI byte = 6
	code32BSI byte = 7
	code32BUI byte = 8
	code32BF  byte = 10
	code64BF  byte = 11
)

var pixelNames = map[PixelType]string{
	PixelBit:    "bit",
	PixelByte:   "byte",
	PixelChar:   "char",
	PixelWord:   "word",
	PixelShort:  "short",
	PixelDWord:  "dword",
	PixelInt:    "int",
	PixelLong:   "long",
	PixelFloat:  "float",
	PixelDouble: "double",
}

func (p PixelType) String() string {
	if n, ok := pixelNames[p]; ok {
		return n
	}
	return "undefined"
}

// Code returns the PostGIS pixel type code written for p.
func (p PixelType) Code() (byte, error) {
	switch p {
	case PixelBit:
		return code1BB, nil
	case PixelByte:
		return code8BUI, nil
	case PixelChar:
		return code8BSI, nil
	case PixelWord:
		return code16BUI, nil
	case PixelShort:
		return code16BSI, nil
	case PixelDWord:
		return code32BUI, nil
	case PixelInt:
		return code32BSI, nil
	case PixelFloat:
		return code32BF, nil
	case PixelLong, PixelDouble:
		return code64BF, nil
	}
	return 0, errs.Newf(errs.ErrKindInvalidInput, "no PostGIS pixel type for %s", p)
}

// PostGIS returns the PostGIS pixel type name (ST_AddBand / ST_BandPixelType).
func (p PixelType) PostGIS() string {
	c, err := p.Code()
	if err != nil {
		return ""
	}
	return codeNames[c]
}

var codeNames = map[byte]string{
	code1BB:   "1BB",
	code2BUI:  "2BUI",
	code4BUI:  "4BUI",
	code8BSI:  "8BSI",
	code8BUI:  "8BUI",
	code16BSI: "16BSI",
	code16BUI: "16BUI",
	code32BSI: "32BSI",
	code32BUI: "32BUI",
	code32BF:  "32BF",
	code64BF:  "64BF",
}

// PixelTypeFromCode maps a PostGIS pixel type code to the semantic type.
// The 2- and 4-bit unsigned types widen to byte.
func PixelTypeFromCode(c byte) (PixelType, error) {
	switch c {
	case code1BB:
		return PixelBit, nil
	case code2BUI, code4BUI, code8BUI:
		return PixelByte, nil
	case code8BSI:
		return PixelChar, nil
	case code16BSI:
		return PixelShort, nil
	case code16BUI:
		return PixelWord, nil
	case code32BSI:
		return PixelInt, nil
	case code32BUI:
		return PixelDWord, nil
	case code32BF:
		return PixelFloat, nil
	case code64BF:
		return PixelDouble, nil
	}
	return PixelUndefined, errs.Newf(errs.ErrKindDataShape, "unknown raster pixel type code %d", c)
}

// codeSize is the on-wire byte size of one cell; sub-byte types use a full byte.
func codeSize(c byte) int {
	switch c {
	case code1BB, code2BUI, code4BUI, code8BSI, code8BUI:
		return 1
	case code16BSI, code16BUI:
		return 2
	case code32BSI, code32BUI, code32BF:
		return 4
	case code64BF:
		return 8
	}
	return 0
}

// clamp rounds integer pixel values and limits them to the code's range.
func clamp(c byte, v float64) float64 {
	lim := func(lo, hi float64) float64 {
		return math.Max(lo, math.Min(hi, math.Round(v)))
	}
	switch c {
	case code1BB:
		return lim(0, 1)
	case code2BUI:
		return lim(0, 3)
	case code4BUI:
		return lim(0, 15)
	case code8BSI:
		return lim(math.MinInt8, math.MaxInt8)
	case code8BUI:
		return lim(0, math.MaxUint8)
	case code16BSI:
		return lim(math.MinInt16, math.MaxInt16)
	case code16BUI:
		return lim(0, math.MaxUint16)
	case code32BSI:
		return lim(math.MinInt32, math.MaxInt32)
	case code32BUI:
		return lim(0, math.MaxUint32)
	}
	return v
}
