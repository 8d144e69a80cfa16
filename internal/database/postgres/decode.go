package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/table"
)

// cellOID picks the codec for a text cell. Column types the map does not
// know (domains, extension types) decode through the codec of the field's
// semantic type.
func cellOID(m *pgtype.Map, oid uint32, t table.FieldType) uint32 {
	switch {
	case t.IsText(), t == table.TypeUndefined:
		return pgtype.TextOID
	}
	if _, ok := m.TypeForOID(oid); ok && oid != pgtype.TextOID {
		return oid
	}
	switch {
	case t.IsInteger():
		return pgtype.Int8OID
	case t.IsFloat():
		return pgtype.Float8OID
	case t == table.TypeBinary:
		return pgtype.ByteaOID
	}
	return pgtype.TextOID
}

// decodeCell converts one non-NULL text-format cell to the Go value held
// for t: int64, float64, []byte or string.
func decodeCell(m *pgtype.Map, oid uint32, t table.FieldType, cell []byte) (any, error) {
	oid = cellOID(m, oid, t)
	v, err := scanCell(m, oid, t, cell)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindDataShape, fmt.Sprintf("invalid %s value %q", t, cell), err)
	}
	return v, nil
}

func scanCell(m *pgtype.Map, oid uint32, t table.FieldType, cell []byte) (any, error) {
	const text = pgtype.TextFormatCode
	switch {
	case t.IsInteger():
		if oid == pgtype.OIDOID {
			var n uint32
			if err := m.Scan(oid, text, cell, &n); err != nil {
				return nil, err
			}
			return int64(n), nil
		}
		var n int64
		if err := m.Scan(oid, text, cell, &n); err != nil {
			return nil, err
		}
		return n, nil

	case t.IsFloat():
		switch oid {
		case pgtype.NumericOID:
			var n pgtype.Numeric
			if err := m.Scan(oid, text, cell, &n); err != nil {
				return nil, err
			}
			f, err := n.Float64Value()
			if err != nil {
				return nil, err
			}
			return f.Float64, nil
		case pgtype.Float4OID:
			var f float32
			if err := m.Scan(oid, text, cell, &f); err != nil {
				return nil, err
			}
			return float64(f), nil
		}
		var f float64
		if err := m.Scan(oid, text, cell, &f); err != nil {
			return nil, err
		}
		return f, nil

	case t == table.TypeBinary:
		var b []byte
		if err := m.Scan(oid, text, cell, &b); err != nil {
			return nil, err
		}
		if b == nil {
			b = []byte{}
		}
		return b, nil
	}

	var s string
	if err := m.Scan(oid, text, cell, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// decodeBytea decodes a bytea cell in hex text form ("\x...").
func decodeBytea(m *pgtype.Map, cell []byte) ([]byte, error) {
	b, err := decodeCell(m, pgtype.ByteaOID, table.TypeBinary, cell)
	if err != nil {
		return nil, err
	}
	return b.([]byte), nil
}
