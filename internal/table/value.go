package table

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/koustreak/geopg/internal/errs"
)

// Coerce normalises v to the Go representation used for t:
// string for string and date, int64 for the integer family, float64 for
// float and double, []byte for binary. nil is the no-data marker and is
// returned unchanged.
func Coerce(t FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch {
	case t.IsText():
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		}
		return fmt.Sprint(v), nil

	case t.IsInteger():
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case uint8:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case uint64:
			if x > math.MaxInt64 {
				return nil, errs.Newf(errs.ErrKindInvalidInput, "value %d overflows %s", x, t)
			}
			return int64(x), nil
		case float32:
			return int64(math.Round(float64(x))), nil
		case float64:
			return int64(math.Round(x)), nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			return ParseText(t, x)
		}

	case t.IsFloat():
		switch x := v.(type) {
		case float32:
			return float64(x), nil
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			return ParseText(t, x)
		}

	case t == TypeBinary:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	}

	return nil, errs.Newf(errs.ErrKindInvalidInput, "cannot store %T in a %s field", v, t)
}

// ParseText converts a textual value supplied for a field of type t to its
// Go representation. Binary values are expected in bytea hex form ("\x..").
func ParseText(t FieldType, text string) (any, error) {
	switch {
	case t.IsText(), t == TypeUndefined:
		return text, nil

	case t.IsInteger():
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			// numeric columns mapped to an integer type may carry a fraction
			f, ferr := strconv.ParseFloat(strings.TrimSpace(text), 64)
			if ferr != nil {
				return nil, errs.Wrap(errs.ErrKindDataShape, fmt.Sprintf("invalid %s value %q", t, text), err)
			}
			return int64(math.Round(f)), nil
		}
		return n, nil

	case t.IsFloat():
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindDataShape, fmt.Sprintf("invalid %s value %q", t, text), err)
		}
		return f, nil

	case t == TypeBinary:
		return DecodeBytea(text)
	}

	return text, nil
}

// FormatText renders v (already coerced for t) as a text-format parameter.
// Binary values render as bytea hex so they can travel as text when needed.
func FormatText(t FieldType, v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		bits := 64
		if t == TypeFloat {
			bits = 32
		}
		return strconv.FormatFloat(x, 'g', -1, bits)
	case []byte:
		return EncodeBytea(x)
	}
	return fmt.Sprint(v)
}

// byteaPrefix is the two-character marker of the bytea hex output format.
const byteaPrefix = `\x`

// DecodeBytea decodes the bytea hex text form. The "\x" prefix is never part
// of the result.
func DecodeBytea(text string) ([]byte, error) {
	if len(text) < len(byteaPrefix) || text[:len(byteaPrefix)] != byteaPrefix {
		return nil, errs.Newf(errs.ErrKindDataShape, "bytea value without %q prefix", byteaPrefix)
	}
	b, err := hex.DecodeString(text[len(byteaPrefix):])
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindDataShape, "invalid bytea hex", err)
	}
	return b, nil
}

// EncodeBytea renders b in bytea hex text form.
func EncodeBytea(b []byte) string {
	return byteaPrefix + hex.EncodeToString(b)
}
