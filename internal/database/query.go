package database

import (
	"fmt"
	"strings"

	"github.com/koustreak/geopg/internal/errs"
)

// validOps is the allowlist of comparison operators for parameterized WHERE
// conditions. The operator position cannot be a bind parameter.
var validOps = map[string]bool{
	"=":     true,
	"!=":    true,
	"<>":    true,
	"<":     true,
	">":     true,
	"<=":    true,
	">=":    true,
	"LIKE":  true,
	"ILIKE": true,
}

// SelectBuilder constructs a SELECT statement with a fluent API.
//
// Identifiers passed to From, Columns, Where and OrderBy are quoted.
// Expressions passed to Exprs, WhereRaw and OrderByRaw are caller SQL and are
// emitted as given; values passed to Where always become $n parameters.
//
//	sql, args, err := database.Select("rasters").
//	    Columns("rid", "name").
//	    Where("rid", "=", 7).
//	    OrderBy("rid", database.Asc).
//	    Build()
type SelectBuilder struct {
	from     string
	fromRaw  bool
	distinct bool
	columns  []string
	where    []whereClause
	groupBy  string
	having   string
	orderBy  []string
	limit    *int
}

// SortDirection controls the ORDER BY direction.
type SortDirection bool

const (
	Asc  SortDirection = false
	Desc SortDirection = true
)

type whereClause struct {
	raw    string
	column string
	op     string
	value  any
}

// Select starts a builder reading from a single, quoted table.
func Select(table string) *SelectBuilder {
	return &SelectBuilder{from: table}
}

// SelectFrom starts a builder whose FROM clause is caller SQL (joins, lists).
func SelectFrom(from string) *SelectBuilder {
	return &SelectBuilder{from: from, fromRaw: true}
}

// Distinct switches to SELECT DISTINCT.
func (b *SelectBuilder) Distinct(on bool) *SelectBuilder {
	b.distinct = on
	return b
}

// Columns appends quoted column names to the select list.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	for _, c := range cols {
		b.columns = append(b.columns, QuoteIdent(c))
	}
	return b
}

// Exprs appends raw select-list expressions.
func (b *SelectBuilder) Exprs(exprs ...string) *SelectBuilder {
	b.columns = append(b.columns, exprs...)
	return b
}

// Where adds a parameterized condition. Multiple conditions are ANDed.
func (b *SelectBuilder) Where(column, op string, value any) *SelectBuilder {
	b.where = append(b.where, whereClause{column: column, op: op, value: value})
	return b
}

// WhereRaw adds a caller SQL condition; empty strings are ignored.
func (b *SelectBuilder) WhereRaw(cond string) *SelectBuilder {
	if strings.TrimSpace(cond) != "" {
		b.where = append(b.where, whereClause{raw: cond})
	}
	return b
}

// GroupBy sets a raw GROUP BY list and optional HAVING condition.
func (b *SelectBuilder) GroupBy(group, having string) *SelectBuilder {
	b.groupBy = group
	b.having = having
	return b
}

// OrderBy appends a quoted ORDER BY column.
func (b *SelectBuilder) OrderBy(column string, dir SortDirection) *SelectBuilder {
	d := "ASC"
	if dir == Desc {
		d = "DESC"
	}
	b.orderBy = append(b.orderBy, QuoteIdent(column)+" "+d)
	return b
}

// OrderByRaw appends a raw ORDER BY list; empty strings are ignored.
func (b *SelectBuilder) OrderByRaw(order string) *SelectBuilder {
	if strings.TrimSpace(order) != "" {
		b.orderBy = append(b.orderBy, order)
	}
	return b
}

// Limit sets the maximum number of rows to return.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

// Build produces the SQL text and its argument slice.
func (b *SelectBuilder) Build() (string, []any, error) {
	if strings.TrimSpace(b.from) == "" {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "select without a source table")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if b.distinct {
		sb.WriteString("DISTINCT ")
	}

	if len(b.columns) > 0 {
		sb.WriteString(strings.Join(b.columns, ", "))
	} else {
		sb.WriteString("*")
	}

	sb.WriteString(" FROM ")
	if b.fromRaw {
		sb.WriteString(b.from)
	} else {
		sb.WriteString(QuoteIdent(b.from))
	}

	var args []any
	if len(b.where) > 0 {
		parts := make([]string, 0, len(b.where))
		for _, w := range b.where {
			if w.raw != "" {
				parts = append(parts, "("+w.raw+")")
				continue
			}
			op := strings.ToUpper(w.op)
			if !validOps[op] {
				return "", nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported WHERE operator: %q", w.op)
			}
			args = append(args, w.value)
			parts = append(parts, fmt.Sprintf("%s %s $%d", QuoteIdent(w.column), op, len(args)))
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(parts, " AND "))
	}

	if strings.TrimSpace(b.groupBy) != "" {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(b.groupBy)
		if strings.TrimSpace(b.having) != "" {
			sb.WriteString(" HAVING ")
			sb.WriteString(b.having)
		}
	}

	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}

	if b.limit != nil {
		fmt.Fprintf(&sb, " LIMIT %d", *b.limit)
	}

	return sb.String(), args, nil
}

// QuoteIdent wraps a SQL identifier in double quotes, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteIdents quotes each name and joins them with ", ".
func QuoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// ValidIdent rejects names the server cannot store as identifiers.
func ValidIdent(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errs.New(errs.ErrKindInvalidInput, "empty identifier")
	case strings.ContainsRune(name, 0):
		return errs.Newf(errs.ErrKindInvalidInput, "identifier %q contains a NUL byte", name)
	case len(name) > 63:
		return errs.Newf(errs.ErrKindInvalidInput, "identifier %q is longer than 63 bytes", name)
	}
	return nil
}
