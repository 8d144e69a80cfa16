package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/koustreak/geopg/internal/database"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/geom"
	"github.com/koustreak/geopg/internal/table"
)

// GeometryInfo is the geometry_columns entry of a table.
type GeometryInfo struct {
	Column string
	SRID   int
	Type   string
	Dim    int
}

// ShapesGeometryInfo returns the one geometry column registered for name.
func (c *Connection) ShapesGeometryInfo(ctx context.Context, name string) (GeometryInfo, error) {
	const op = "geometry info"
	if err := c.ready(op); err != nil {
		return GeometryInfo{}, err
	}
	const q = `
		SELECT f_geometry_column, srid, type, coord_dimension
		FROM geometry_columns
		WHERE f_table_schema = 'public'
		  AND f_table_name   = $1`

	res, err := c.execParams(ctx, op, q, name)
	if err != nil {
		return GeometryInfo{}, err
	}
	switch len(res.Rows) {
	case 1:
	case 0:
		return GeometryInfo{}, c.fail(op, errs.Newf(errs.ErrKindNotFound, "table %q has no geometry column", name))
	default:
		return GeometryInfo{}, c.fail(op, errs.Newf(errs.ErrKindDataShape, "table %q has %d geometry columns", name, len(res.Rows)))
	}

	row := res.Rows[0]
	info := GeometryInfo{Column: string(row[0]), Type: string(row[2])}
	info.SRID, _ = strconv.Atoi(string(row[1]))
	info.Dim, _ = strconv.Atoi(string(row[3]))
	return info, nil
}

// ShapesLoadTable loads every row of table name matching where (optional
// SQL condition). Attributes are every column but the geometry column.
func (c *Connection) ShapesLoadTable(ctx context.Context, name, where string) (*geom.Shapes, error) {
	info, err := c.ShapesGeometryInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	desc, err := c.FieldDesc(ctx, name)
	if err != nil {
		return nil, err
	}

	var cols []string
	for _, rec := range desc.Records {
		if col, _ := rec[0].(string); col != info.Column {
			cols = append(cols, col)
		}
	}

	b := database.Select(name).
		Columns(cols...).
		Exprs(fmt.Sprintf("ST_AsBinary(%s) AS %s", database.QuoteIdent(info.Column), database.QuoteIdent(info.Column))).
		WhereRaw(where)
	sql, _, err := b.Build()
	if err != nil {
		return nil, c.fail("shapes load", err)
	}
	return c.ShapesLoad(ctx, name, sql, info.Column, true, info.SRID)
}

// ShapesLoad runs sql and builds a layer from it. The column named
// geomAlias (case-insensitive) holds the geometry, as WKB when binary is set
// and as WKT otherwise; every other column becomes an attribute. All rows
// must share one geometry family and vertex type.
func (c *Connection) ShapesLoad(ctx context.Context, name, sql, geomAlias string, binary bool, srid int) (*geom.Shapes, error) {
	const op = "shapes load"
	if err := c.ready(op); err != nil {
		return nil, err
	}
	if _, err := c.PostGIS(ctx); err != nil {
		return nil, c.fail(op, errs.Wrap(errs.ErrKindInvalidState, "PostGIS is not available", err))
	}

	res, err := c.exec(ctx, op, sql)
	if err != nil {
		return nil, err
	}
	switch {
	case !res.Returned(), len(res.Fields) == 0:
		return nil, c.fail(op, errs.New(errs.ErrKindDataShape, "no fields in selection"))
	case len(res.Rows) == 0:
		return nil, c.fail(op, errs.New(errs.ErrKindDataShape, "no records in selection"))
	}

	gcol := -1
	for i, f := range res.Fields {
		if strings.EqualFold(f.Name, geomAlias) {
			gcol = i
			break
		}
	}
	if gcol < 0 {
		return nil, c.fail(op, errs.Newf(errs.ErrKindDataShape, "no geometry in selection (%q)", geomAlias))
	}

	geoms := make([]*geom.Geometry, len(res.Rows))
	var first *geom.Geometry
	for i, row := range res.Rows {
		if row[gcol] == nil {
			continue
		}
		g, err := c.decodeGeometry(row[gcol], binary)
		if err != nil {
			return nil, c.fail(op, fmt.Errorf("record %d: %w", i, err))
		}
		if first == nil {
			first = g
		} else if g.Type != first.Type || g.Vertex != first.Vertex {
			return nil, c.fail(op, errs.Newf(errs.ErrKindDataShape,
				"record %d is %s %s, selection started with %s %s", i, g.Type, g.Vertex, first.Type, first.Vertex))
		}
		geoms[i] = g
	}
	if first == nil {
		return nil, c.fail(op, errs.New(errs.ErrKindDataShape, "no geometry in selection"))
	}

	shapes := geom.NewShapes(name, first.Type, first.Vertex, srid)
	var attrs []table.Field
	var oids []uint32
	for i, col := range res.Fields {
		if i == gcol {
			continue
		}
		f := table.Field{Name: col.Name, Type: TypeFromOID(col.OID), Width: widthFromModifier(col.OID, col.TypeModifier)}
		attrs = append(attrs, f)
		oids = append(oids, col.OID)
		if err := shapes.AddField(f.Name, f.Type, f.Width); err != nil {
			return nil, c.fail(op, err)
		}
	}

	for i, row := range res.Rows {
		cells := make([][]byte, 0, len(row)-1)
		cells = append(cells, row[:gcol]...)
		cells = append(cells, row[gcol+1:]...)
		rec, err := c.parseRow(oids, attrs, cells)
		if err != nil {
			return nil, c.fail(op, fmt.Errorf("record %d: %w", i, err))
		}
		sh := &geom.Shape{Record: rec}
		if geoms[i] != nil {
			sh.Parts = geoms[i].Parts
		}
		shapes.Shapes = append(shapes.Shapes, sh)
	}

	shapes.Meta = c.meta(name, sql)
	return shapes, nil
}

// decodeGeometry decodes a geometry cell: bytea WKB ("\x..." from
// ST_AsBinary) or bare hex EWKB when binary, WKT otherwise.
func (c *Connection) decodeGeometry(cell []byte, binary bool) (*geom.Geometry, error) {
	if !binary {
		return geom.DecodeWKT(string(cell))
	}
	if bytes.HasPrefix(cell, []byte(`\x`)) {
		b, err := decodeBytea(c.types, cell)
		if err != nil {
			return nil, err
		}
		return geom.DecodeWKB(b)
	}
	return geom.DecodeHex(string(cell))
}

// IfExists selects what ShapesSave does with an existing table.
type IfExists int

const (
	// Abort fails the save.
	Abort IfExists = iota
	// Replace drops the table and creates it again.
	Replace
	// Append inserts into the table if its schema matches the layer.
	Append
)

// ShapesSaveOptions controls ShapesSave.
type ShapesSaveOptions struct {
	IfExists IfExists
	Flags    []Constraint // per attribute field, for a newly created table
	Column   string       // geometry column of a new table; geom.DefaultColumn when empty
	Binary   bool         // send geometries as WKB instead of WKT
	Insert   InsertOptions
}

// DefaultShapesSaveOptions replaces an existing table, sends WKB and keeps
// whatever rows succeed as long as one does.
func DefaultShapesSaveOptions() ShapesSaveOptions {
	return ShapesSaveOptions{
		IfExists: Replace,
		Column:   geom.DefaultColumn,
		Binary:   true,
		Insert:   InsertOptions{Policy: BestEffortRequireAny},
	}
}

// ShapesSave writes s to table name. The save runs in its own transaction,
// or under a savepoint when one is already open, and is rolled back when the
// insert policy is not met. Invalid shapes are skipped, not counted as
// failures.
func (c *Connection) ShapesSave(ctx context.Context, s *geom.Shapes, name string, opts ShapesSaveOptions) (stats InsertStats, err error) {
	const op = "shapes save"
	if err := c.ready(op); err != nil {
		return stats, err
	}
	typeName, dim, err := geom.SQLType(s.Type, s.Vertex)
	if err != nil {
		return stats, c.fail(op, err)
	}
	column := opts.Column
	if column == "" {
		column = geom.DefaultColumn
	}
	fieldNames := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		fieldNames[i] = f.Name
	}
	if err := validIdents(op, append([]string{name, column}, fieldNames...)...); err != nil {
		return stats, c.fail(op, err)
	}

	savepoint := ""
	if c.inTx {
		savepoint = c.nextName("geopg_shapes")
	}
	if err := c.Begin(ctx, savepoint); err != nil {
		return stats, err
	}
	defer func() {
		if err != nil {
			if rerr := c.Rollback(ctx, savepoint); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return
		}
		err = c.Commit(ctx, savepoint)
	}()

	create := true
	exists, err := c.TableExists(ctx, name)
	if err != nil {
		return stats, err
	}
	if exists {
		switch opts.IfExists {
		case Replace:
			if err := c.TableDrop(ctx, name); err != nil {
				return stats, err
			}
		case Append:
			if column, err = c.appendColumn(ctx, s, name); err != nil {
				return stats, err
			}
			create = false
		default:
			return stats, c.fail(op, errs.Newf(errs.ErrKindAlreadyExists, "table %q already exists", name))
		}
	}

	if create {
		attrs := &table.Table{Name: name, Fields: s.Fields}
		if err := c.TableCreate(ctx, name, attrs, opts.Flags); err != nil {
			return stats, err
		}
		const addColumn = `SELECT AddGeometryColumn($1::varchar, $2::varchar, $3::integer, $4::varchar, $5::integer)`
		if _, err := c.execParams(ctx, "add geometry column", addColumn, name, column, s.SRID, typeName, dim); err != nil {
			return stats, err
		}
	}

	ctor := "ST_GeomFromText"
	if opts.Binary {
		ctor = "ST_GeomFromWKB"
	}
	values := []string{fmt.Sprintf("%s($1, %d)", ctor, s.SRID)}
	formats := []int16{FormatText}
	if opts.Binary {
		formats[0] = FormatBinary
	}
	for i, f := range s.Fields {
		values = append(values, fmt.Sprintf("$%d", i+2))
		if f.Type == table.TypeBinary {
			formats = append(formats, FormatBinary)
		} else {
			formats = append(formats, FormatText)
		}
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		database.QuoteIdent(name),
		database.QuoteIdents(append([]string{column}, fieldNames...)),
		strings.Join(values, ", "))

	stmt := c.nextName("geopg_shapes_insert")
	if err := c.sess.Prepare(ctx, stmt, sql); err != nil {
		return stats, c.failSQL(op, sql, err)
	}
	defer func() {
		if derr := c.sess.Deallocate(ctx, stmt); derr != nil {
			c.log.ErrorWith("deallocate failed", derr, map[string]any{"statement": stmt})
		}
	}()

	stats.Total = len(s.Shapes)
	invalid := func(i int) bool { return !s.Shapes[i].IsValid(s.Type) }
	err = c.insertLoop(ctx, op, &stats, opts.Insert, invalid, func(i int) error {
		sh := s.Shapes[i]
		g, err := encodeGeometry(s, sh, opts.Binary)
		if err != nil {
			return err
		}
		params, err := recordParams(s.Fields, sh.Record)
		if err != nil {
			return err
		}
		if _, err := c.sess.ExecPrepared(ctx, stmt, append([][]byte{g}, params...), formats); err != nil {
			return mapError(err, "insert shape")
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	s.Meta = c.meta(name, "")
	c.log.InfoWith("shapes saved", map[string]any{
		"table":    name,
		"inserted": stats.Inserted,
		"skipped":  stats.Skipped,
		"failed":   stats.Failed,
	})
	return stats, nil
}

func encodeGeometry(s *geom.Shapes, sh *geom.Shape, binary bool) ([]byte, error) {
	if binary {
		return geom.EncodeWKB(s.Type, s.Vertex, sh.Parts)
	}
	wkt, err := geom.EncodeWKT(s.Type, s.Vertex, sh.Parts)
	return []byte(wkt), err
}

// appendColumn checks that table name can take the records of s and
// returns its geometry column.
func (c *Connection) appendColumn(ctx context.Context, s *geom.Shapes, name string) (string, error) {
	const op = "shapes append"
	info, err := c.ShapesGeometryInfo(ctx, name)
	if err != nil {
		return "", err
	}
	if t := geom.TypeFromSQL(info.Type); t != s.Type && info.Type != "GEOMETRY" {
		return "", c.fail(op, errs.Newf(errs.ErrKindInvalidInput, "table %q holds %s, layer is %s", name, info.Type, s.Type))
	}
	if info.SRID != s.SRID {
		return "", c.fail(op, errs.Newf(errs.ErrKindInvalidInput, "table %q has srid %d, layer has %d", name, info.SRID, s.SRID))
	}
	if info.Type != "GEOMETRY" && info.Dim > 0 && info.Dim != s.Vertex.Dim() {
		return "", c.fail(op, errs.Newf(errs.ErrKindInvalidInput, "table %q has %d coordinate dimensions, layer is %s", name, info.Dim, s.Vertex))
	}

	desc, err := c.FieldDesc(ctx, name)
	if err != nil {
		return "", err
	}
	existing := make(map[string]bool, desc.Len())
	for _, rec := range desc.Records {
		if col, _ := rec[0].(string); col != info.Column {
			existing[strings.ToLower(col)] = true
		}
	}
	for _, f := range s.Fields {
		if !existing[strings.ToLower(f.Name)] {
			return "", c.fail(op, errs.Newf(errs.ErrKindInvalidInput, "table %q has no column %q", name, f.Name))
		}
	}
	return info.Column, nil
}

// ShapesSRIDUpdate changes the SRID recorded for the geometry column of
// name. Coordinates are not transformed.
func (c *Connection) ShapesSRIDUpdate(ctx context.Context, name string, srid int) error {
	info, err := c.ShapesGeometryInfo(ctx, name)
	if err != nil {
		return err
	}
	const q = `SELECT UpdateGeometrySRID($1::varchar, $2::varchar, $3::integer)`
	_, err = c.execParams(ctx, "shapes srid update", q, name, info.Column, srid)
	return err
}
