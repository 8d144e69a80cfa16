// Package table is the in-memory tabular data model exchanged with the
// database: an ordered field list with semantic types and an ordered list of
// records holding one typed value, or nil for no-data, per field.
package table

import (
	"fmt"
	"strings"

	"github.com/koustreak/geopg/internal/errs"
)

// Record holds one value per field; nil marks a no-data cell.
type Record []any

// Table is an ordered field list plus records sharing that schema.
type Table struct {
	Name    string
	Fields  []Field
	Records []Record
	Meta    Meta
}

// New returns an empty table.
func New(name string) *Table {
	return &Table{Name: name}
}

// Reset drops all fields, records and metadata, keeping the name.
func (t *Table) Reset() {
	t.Fields = nil
	t.Records = nil
	t.Meta = Meta{}
}

// AddField appends a field. It fails once records exist, since every record
// must share the schema.
func (t *Table) AddField(name string, typ FieldType, width int) error {
	if len(t.Records) > 0 {
		return errs.New(errs.ErrKindInvalidState, "cannot change the schema of a table with records")
	}
	t.Fields = append(t.Fields, Field{Name: name, Type: typ, Width: width})
	return nil
}

// FieldIndex returns the index of the field called name (case-insensitive),
// or -1.
func (t *Table) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// FieldNames lists the field names in order.
func (t *Table) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// AddRecord appends a record built from values, one per field, coercing each
// to its field's representation.
func (t *Table) AddRecord(values ...any) (Record, error) {
	rec, err := t.NewRecord(values...)
	if err != nil {
		return nil, err
	}
	t.Records = append(t.Records, rec)
	return rec, nil
}

// NewRecord validates and coerces values against the schema without
// appending them.
func (t *Table) NewRecord(values ...any) (Record, error) {
	if len(values) != len(t.Fields) {
		return nil, errs.Newf(errs.ErrKindInvalidInput,
			"record has %d values, table %q has %d fields", len(values), t.Name, len(t.Fields))
	}
	rec := make(Record, len(values))
	for i, v := range values {
		c, err := Coerce(t.Fields[i].Type, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", t.Fields[i].Name, err)
		}
		rec[i] = c
	}
	return rec, nil
}

// Len is the record count.
func (t *Table) Len() int {
	return len(t.Records)
}

// Value returns the cell at (row, col); nil for no-data.
func (t *Table) Value(row, col int) any {
	return t.Records[row][col]
}

// IsNoData reports whether the cell at (row, col) is a no-data cell.
func (t *Table) IsNoData(row, col int) bool {
	return t.Records[row][col] == nil
}
