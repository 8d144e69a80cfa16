package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/geopg/internal/table"
)

// TypeToSQL returns the column DDL type for a field of type t. String
// widths below 1 become 1.
func TypeToSQL(t table.FieldType, width int) string {
	switch t {
	case table.TypeString:
		if width < 1 {
			width = 1
		}
		return fmt.Sprintf("varchar(%d)", width)
	case table.TypeDate:
		return "date"
	case table.TypeChar, table.TypeByte, table.TypeShort:
		return "smallint"
	case table.TypeInt, table.TypeColor:
		return "integer"
	case table.TypeLong:
		return "bigint"
	case table.TypeFloat:
		return "real"
	case table.TypeDouble:
		return "double precision"
	case table.TypeBinary:
		return "bytea"
	}
	return "text"
}

// TypeFromOID maps a column's wire type id to a field type. Types without a
// closer match (boolean, timestamps, geometry text) load as strings.
func TypeFromOID(oid uint32) table.FieldType {
	switch oid {
	case pgtype.DateOID:
		return table.TypeDate
	case pgtype.Int2OID:
		return table.TypeShort
	case pgtype.Int4OID:
		return table.TypeInt
	case pgtype.Int8OID, pgtype.OIDOID:
		return table.TypeLong
	case pgtype.Float4OID:
		return table.TypeFloat
	case pgtype.Float8OID, pgtype.NumericOID:
		return table.TypeDouble
	case pgtype.ByteaOID:
		return table.TypeBinary
	}
	return table.TypeString
}

// widthFromModifier extracts the declared length of a varchar/bpchar
// column; zero when unbounded.
func widthFromModifier(oid uint32, mod int32) int {
	switch oid {
	case pgtype.VarcharOID, pgtype.BPCharOID:
		if mod > 4 {
			return int(mod - 4)
		}
	}
	return 0
}

// TypeOIDFromSQL returns the wire type id of a DDL or information_schema
// type name, or zero for names outside the mapped set.
func TypeOIDFromSQL(name string) uint32 {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	switch name {
	case "varchar", "character varying":
		return pgtype.VarcharOID
	case "char", "character", "bpchar":
		return pgtype.BPCharOID
	case "text":
		return pgtype.TextOID
	case "date":
		return pgtype.DateOID
	case "smallint", "int2":
		return pgtype.Int2OID
	case "integer", "int", "int4", "serial":
		return pgtype.Int4OID
	case "bigint", "int8", "bigserial":
		return pgtype.Int8OID
	case "real", "float4":
		return pgtype.Float4OID
	case "double precision", "float8":
		return pgtype.Float8OID
	case "numeric", "decimal":
		return pgtype.NumericOID
	case "bytea":
		return pgtype.ByteaOID
	case "boolean", "bool":
		return pgtype.BoolOID
	}
	return 0
}

// TypeFromSQL maps a DDL or information_schema type name to a field type.
func TypeFromSQL(name string) table.FieldType {
	return TypeFromOID(TypeOIDFromSQL(name))
}
