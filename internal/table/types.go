package table

import "strings"

// FieldType is the semantic type of a column.
type FieldType int

const (
	TypeUndefined FieldType = iota
	TypeString
	TypeDate
	TypeChar   // 8-bit signed integer
	TypeByte   // 8-bit unsigned integer
	TypeShort  // 16-bit integer
	TypeInt    // 32-bit integer
	TypeLong   // 64-bit integer
	TypeColor  // packed RGB(A) stored as a 32-bit integer
	TypeFloat  // 32-bit float
	TypeDouble // 64-bit float
	TypeBinary // raw bytes
)

var typeNames = map[FieldType]string{
	TypeUndefined: "undefined",
	TypeString:    "string",
	TypeDate:      "date",
	TypeChar:      "char",
	TypeByte:      "byte",
	TypeShort:     "short",
	TypeInt:       "int",
	TypeLong:      "long",
	TypeColor:     "color",
	TypeFloat:     "float",
	TypeDouble:    "double",
	TypeBinary:    "binary",
}

func (t FieldType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return typeNames[TypeUndefined]
}

// ParseFieldType is the inverse of FieldType.String.
func ParseFieldType(name string) FieldType {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == name {
			return t
		}
	}
	return TypeUndefined
}

// IsInteger reports whether values of t are held as int64.
func (t FieldType) IsInteger() bool {
	switch t {
	case TypeChar, TypeByte, TypeShort, TypeInt, TypeLong, TypeColor:
		return true
	}
	return false
}

// IsFloat reports whether values of t are held as float64.
func (t FieldType) IsFloat() bool {
	return t == TypeFloat || t == TypeDouble
}

// IsText reports whether values of t are held as string.
func (t FieldType) IsText() bool {
	return t == TypeString || t == TypeDate
}

// Field is one column of a table schema.
type Field struct {
	Name string
	Type FieldType

	// Width is the declared character width of string fields; zero or
	// negative means unspecified.
	Width int
}
