package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/geopg/internal/database"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/table"
)

// Constraint flags for TableCreate, one value per field.
type Constraint uint8

const (
	PrimaryKey Constraint = 1 << iota
	NotNull
	Unique
)

// InsertPolicy decides how a bulk insert treats failing rows.
type InsertPolicy int

const (
	// FailFast stops at the first failing row.
	FailFast InsertPolicy = iota
	// BestEffortRequireAny skips failing rows and succeeds if any row was inserted.
	BestEffortRequireAny
	// BestEffortRequireAll skips failing rows but fails if any row failed.
	BestEffortRequireAll
)

func (p InsertPolicy) String() string {
	switch p {
	case FailFast:
		return "fail_fast"
	case BestEffortRequireAny:
		return "best_effort_require_any"
	case BestEffortRequireAll:
		return "best_effort_require_all"
	}
	return "unknown"
}

// ProgressFunc is called after every row of a bulk operation. Returning
// false stops the loop; statements already issued are not rolled back.
type ProgressFunc func(done, total int) bool

// InsertOptions controls TableInsert and the row loop of ShapesSave.
type InsertOptions struct {
	Policy   InsertPolicy
	Progress ProgressFunc
}

// InsertStats counts the outcome of a bulk insert.
type InsertStats struct {
	Total     int
	Inserted  int
	Failed    int
	Skipped   int // invalid input rows never sent to the server
	Cancelled bool
}

// check applies policy to the finished loop.
func (s InsertStats) check(policy InsertPolicy) error {
	switch policy {
	case BestEffortRequireAny:
		if s.Inserted == 0 && s.Total > 0 && !s.Cancelled {
			return errs.Newf(errs.ErrKindPartial, "none of %d records inserted", s.Total)
		}
	case BestEffortRequireAll:
		if s.Failed > 0 {
			return errs.Newf(errs.ErrKindPartial, "%d of %d records failed", s.Failed, s.Total)
		}
	}
	return nil
}

// TableCreate creates table name with one column per field of t. flags[i]
// applies to field i; missing entries mean no constraint.
func (c *Connection) TableCreate(ctx context.Context, name string, t *table.Table, flags []Constraint) error {
	if err := c.ready("table create"); err != nil {
		return err
	}
	if len(t.Fields) == 0 {
		return c.fail("table create", errs.New(errs.ErrKindInvalidInput, "no attributes in table"))
	}
	if err := validIdents("table create", append([]string{name}, t.FieldNames()...)...); err != nil {
		return c.fail("table create", err)
	}

	exists, err := c.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return c.fail("table create", errs.Newf(errs.ErrKindAlreadyExists, "table %q already exists", name))
	}

	_, err = c.exec(ctx, "table create", createTableSQL(name, t.Fields, flags))
	return err
}

func createTableSQL(name string, fields []table.Field, flags []Constraint) string {
	var sb strings.Builder
	var pk []string

	fmt.Fprintf(&sb, "CREATE TABLE %s (", database.QuoteIdent(name))
	for i, f := range fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(database.QuoteIdent(f.Name))
		sb.WriteByte(' ')
		sb.WriteString(TypeToSQL(f.Type, f.Width))

		var fl Constraint
		if i < len(flags) {
			fl = flags[i]
		}
		if fl&PrimaryKey != 0 {
			pk = append(pk, f.Name)
			continue
		}
		if fl&Unique != 0 {
			sb.WriteString(" UNIQUE")
		}
		if fl&NotNull != 0 {
			sb.WriteString(" NOT NULL")
		}
	}
	if len(pk) > 0 {
		sb.WriteString(", PRIMARY KEY(")
		sb.WriteString(database.QuoteIdents(pk))
		sb.WriteByte(')')
	}
	sb.WriteByte(')')
	return sb.String()
}

// TableDrop drops table name, which must exist.
func (c *Connection) TableDrop(ctx context.Context, name string) error {
	if err := c.ready("table drop"); err != nil {
		return err
	}
	if err := validIdents("table drop", name); err != nil {
		return c.fail("table drop", err)
	}
	exists, err := c.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return c.fail("table drop", errs.Newf(errs.ErrKindNotFound, "table %q does not exist", name))
	}
	_, err = c.exec(ctx, "table drop", "DROP TABLE "+database.QuoteIdent(name))
	return err
}

// TableInsert appends the records of t to the existing table name, whose
// column count must equal t's field count. One prepared statement is reused
// for every record; bytea values travel in binary format.
func (c *Connection) TableInsert(ctx context.Context, name string, t *table.Table, opts InsertOptions) (InsertStats, error) {
	stats := InsertStats{Total: t.Len()}

	if err := c.ready("table insert"); err != nil {
		return stats, err
	}
	if len(t.Fields) == 0 {
		return stats, c.fail("table insert", errs.New(errs.ErrKindInvalidInput, "no attributes in table"))
	}
	if err := validIdents("table insert", name); err != nil {
		return stats, c.fail("table insert", err)
	}
	exists, err := c.TableExists(ctx, name)
	if err != nil {
		return stats, err
	}
	if !exists {
		return stats, c.fail("table insert", errs.Newf(errs.ErrKindNotFound, "table %q does not exist", name))
	}
	desc, err := c.FieldDesc(ctx, name)
	if err != nil {
		return stats, err
	}
	if desc.Len() != len(t.Fields) {
		return stats, c.fail("table insert", errs.Newf(errs.ErrKindInvalidInput,
			"table %q has %d columns, source has %d fields", name, desc.Len(), len(t.Fields)))
	}

	placeholders := make([]string, len(t.Fields))
	formats := make([]int16, len(t.Fields))
	for i, f := range t.Fields {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if f.Type == table.TypeBinary {
			formats[i] = FormatBinary
		}
	}
	sql := fmt.Sprintf("INSERT INTO %s VALUES (%s)", database.QuoteIdent(name), strings.Join(placeholders, ", "))

	stmt := c.nextName("geopg_insert")
	if err := c.sess.Prepare(ctx, stmt, sql); err != nil {
		return stats, c.failSQL("table insert", sql, err)
	}
	defer func() {
		if err := c.sess.Deallocate(ctx, stmt); err != nil {
			c.log.ErrorWith("deallocate failed", err, map[string]any{"statement": stmt})
		}
	}()

	err = c.insertLoop(ctx, "table insert", &stats, opts, nil, func(i int) error {
		params, err := recordParams(t.Fields, t.Records[i])
		if err != nil {
			return err
		}
		if _, err := c.sess.ExecPrepared(ctx, stmt, params, formats); err != nil {
			return mapError(err, "insert record")
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	c.log.DebugWith("table insert", map[string]any{
		"table":    name,
		"inserted": stats.Inserted,
		"failed":   stats.Failed,
	})
	return stats, nil
}

// insertLoop runs row for every index below stats.Total under opts, except
// those skip (optional) rejects. In a transaction, best-effort policies wrap
// each row in a savepoint.
func (c *Connection) insertLoop(ctx context.Context, op string, stats *InsertStats, opts InsertOptions, skip func(i int) bool, row func(i int) error) error {
	for i := 0; i < stats.Total; i++ {
		if err := ctx.Err(); err != nil {
			return c.fail(op, mapError(err, op))
		}

		skipped := skip != nil && skip(i)
		var err error
		switch {
		case skipped:
		case opts.Policy == FailFast:
			err = row(i)
		default:
			err = c.guarded(ctx, func() error { return row(i) })
		}

		switch {
		case skipped:
			stats.Skipped++
		case err != nil:
			stats.Failed++
			if opts.Policy == FailFast {
				return c.fail(op, fmt.Errorf("record %d: %w", i, err))
			}
			c.log.Warnf("%s: record %d failed: %v", op, i, err)
		default:
			stats.Inserted++
		}

		if opts.Progress != nil && !opts.Progress(i+1, stats.Total) {
			stats.Cancelled = true
			break
		}
	}
	if err := stats.check(opts.Policy); err != nil {
		return c.fail(op, err)
	}
	return nil
}

// recordParams renders one record as statement parameters.
func recordParams(fields []table.Field, rec table.Record) ([][]byte, error) {
	if len(rec) != len(fields) {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "record has %d values for %d fields", len(rec), len(fields))
	}
	params := make([][]byte, len(fields))
	for i, f := range fields {
		if rec[i] == nil {
			continue
		}
		v, err := table.Coerce(f.Type, rec[i])
		if err != nil {
			return nil, err
		}
		if b, ok := v.([]byte); ok && f.Type == table.TypeBinary {
			params[i] = b
			continue
		}
		params[i] = []byte(table.FormatText(f.Type, v))
	}
	return params, nil
}

// TableSave replaces table name with t: drop if present, create, insert.
// It stops at the first failing step and opens no transaction of its own.
func (c *Connection) TableSave(ctx context.Context, name string, t *table.Table, flags []Constraint, opts InsertOptions) (InsertStats, error) {
	if err := c.ready("table save"); err != nil {
		return InsertStats{}, err
	}
	exists, err := c.TableExists(ctx, name)
	if err != nil {
		return InsertStats{}, err
	}
	if exists {
		if err := c.TableDrop(ctx, name); err != nil {
			return InsertStats{}, err
		}
	}
	if err := c.TableCreate(ctx, name, t, flags); err != nil {
		return InsertStats{}, err
	}
	return c.TableInsert(ctx, name, t, opts)
}

// loadTable runs a row-returning statement into out.
func (c *Connection) loadTable(ctx context.Context, op, sql string, out *table.Table, args ...any) error {
	if err := c.ready(op); err != nil {
		return err
	}
	res, err := c.execParams(ctx, op, sql, args...)
	if err != nil {
		return err
	}
	if !res.Returned() {
		return c.fail(op, errs.New(errs.ErrKindDataShape, "statement returned no rows"))
	}
	if len(res.Fields) == 0 {
		return c.fail(op, errs.New(errs.ErrKindDataShape, "no fields in selection"))
	}
	if err := c.fillTable(out, res); err != nil {
		return c.fail(op, err)
	}
	return nil
}

// TableLoad reads the whole of table name into out.
func (c *Connection) TableLoad(ctx context.Context, out *table.Table, name string) error {
	if err := validIdents("table load", name); err != nil {
		return c.fail("table load", err)
	}
	if err := c.loadTable(ctx, "table load", "SELECT * FROM "+database.QuoteIdent(name), out); err != nil {
		return err
	}
	out.Name = name
	out.Meta = c.meta(name, "")
	return nil
}

// Query is a general SELECT. Tables and Fields are SQL lists; an empty
// Fields selects every column.
type Query struct {
	Tables   string
	Fields   string
	Where    string
	Group    string
	Having   string
	Order    string
	Distinct bool
}

// SQL renders q.
func (q Query) SQL() (string, error) {
	b := database.SelectFrom(q.Tables).
		Distinct(q.Distinct).
		WhereRaw(q.Where).
		GroupBy(q.Group, q.Having).
		OrderByRaw(q.Order)
	if strings.TrimSpace(q.Fields) != "" {
		b.Exprs(q.Fields)
	}
	sql, _, err := b.Build()
	return sql, err
}

// TableQuery loads the result of q into out. The generated statement is
// kept as provenance.
func (c *Connection) TableQuery(ctx context.Context, out *table.Table, q Query) error {
	sql, err := q.SQL()
	if err != nil {
		return c.fail("table query", err)
	}
	if err := c.loadTable(ctx, "table query", sql, out); err != nil {
		return err
	}
	out.Name = q.Tables
	out.Meta = c.meta(q.Tables, sql)
	return nil
}
