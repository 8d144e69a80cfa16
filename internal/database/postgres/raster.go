package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/geopg/internal/database"
	"github.com/koustreak/geopg/internal/database/postgres/copybin"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/raster"
	"github.com/koustreak/geopg/internal/table"
)

// Column names of tables made by RasterCreate.
const (
	ridColumn    = "rid"
	nameColumn   = "name"
	rasterColumn = "rast"
)

// RasterColumn returns the one raster column registered for name.
func (c *Connection) RasterColumn(ctx context.Context, name string) (string, error) {
	const op = "raster column"
	if err := c.ready(op); err != nil {
		return "", err
	}
	const q = `
		SELECT r_raster_column
		FROM raster_columns
		WHERE r_table_schema = 'public'
		  AND r_table_name   = $1`

	res, err := c.execParams(ctx, op, q, name)
	if err != nil {
		return "", err
	}
	switch len(res.Rows) {
	case 1:
		return string(res.Rows[0][0]), nil
	case 0:
		return "", c.fail(op, errs.Newf(errs.ErrKindNotFound, "table %q has no raster column", name))
	}
	return "", c.fail(op, errs.Newf(errs.ErrKindDataShape, "table %q has %d raster columns", name, len(res.Rows)))
}

// hasColumn reports whether table name has a column called col.
func (c *Connection) hasColumn(ctx context.Context, name, col string) (bool, error) {
	desc, err := c.FieldDesc(ctx, name)
	if err != nil {
		return false, err
	}
	for _, rec := range desc.Records {
		if s, _ := rec[0].(string); s == col {
			return true, nil
		}
	}
	return false, nil
}

// bandRef is one row announced before streaming.
type bandRef struct {
	rid  int64
	name string
}

// rasterStream is an open COPY-out of raster rows, read one row at a time.
type rasterStream struct {
	bands  []bandRef
	binary bool
	bin    *copybin.Reader
	text   *bytes.Buffer
	types  *pgtype.Map
}

// openRaster lists the (rid, name) rows of table name matching where and
// order, then copies their rasters out.
func (c *Connection) openRaster(ctx context.Context, name, where, order string, binary bool) (*rasterStream, error) {
	const op = "raster open"
	if err := validIdents(op, name); err != nil {
		return nil, c.fail(op, err)
	}
	column, err := c.RasterColumn(ctx, name)
	if err != nil {
		return nil, err
	}
	withName, err := c.hasColumn(ctx, name, nameColumn)
	if err != nil {
		return nil, err
	}

	cols := []string{ridColumn}
	if withName {
		cols = append(cols, nameColumn)
	}
	listSQL, _, err := database.Select(name).Columns(cols...).WhereRaw(where).OrderByRaw(order).Build()
	if err != nil {
		return nil, c.fail(op, err)
	}
	res, err := c.exec(ctx, op, listSQL)
	if err != nil {
		return nil, err
	}
	s := &rasterStream{binary: binary, types: c.types}
	for _, row := range res.Rows {
		v, err := decodeCell(c.types, pgtype.Int8OID, table.TypeLong, row[0])
		if err != nil {
			return nil, c.fail(op, fmt.Errorf("rid: %w", err))
		}
		rid := v.(int64)
		ref := bandRef{rid: rid, name: strconv.FormatInt(rid, 10)}
		if withName && row[1] != nil {
			ref.name = string(row[1])
		}
		s.bands = append(s.bands, ref)
	}

	selectSQL, _, err := database.Select(name).
		Exprs("ST_AsBinary(" + database.QuoteIdent(column) + ")").
		WhereRaw(where).
		OrderByRaw(order).
		Build()
	if err != nil {
		return nil, c.fail(op, err)
	}
	copySQL := "COPY (" + selectSQL + ") TO STDOUT"
	if binary {
		copySQL += " WITH (FORMAT binary)"
	}

	var buf bytes.Buffer
	if err := c.sess.CopyTo(ctx, &buf, copySQL); err != nil {
		return nil, c.failSQL(op, copySQL, err)
	}
	if binary {
		s.bin = copybin.NewReader(&buf)
	} else {
		s.text = &buf
	}
	return s, nil
}

// next decodes the raster of the next row, one Grid per band. It returns
// io.EOF when the stream is exhausted.
func (s *rasterStream) next() ([]*raster.Grid, error) {
	payload, err := s.payload()
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, errs.New(errs.ErrKindDataShape, "empty raster payload")
	}
	return raster.Decode(payload)
}

func (s *rasterStream) payload() ([]byte, error) {
	if s.binary {
		fields, err := s.bin.Next()
		if err != nil {
			return nil, err
		}
		if len(fields) != 1 {
			return nil, errs.Newf(errs.ErrKindDataShape, "copy row has %d fields", len(fields))
		}
		return fields[0], nil
	}

	line, err := s.text.ReadString('\n')
	if errors.Is(err, io.EOF) && line == "" {
		return nil, io.EOF
	}
	line = strings.TrimSuffix(line, "\n")
	if line == `\N` {
		return nil, nil
	}
	// text COPY doubles the backslash of the bytea "\x" prefix
	return decodeBytea(s.types, []byte(strings.ReplaceAll(line, `\\`, `\`)))
}

// RasterLoad loads the rows of table name matching where, in order (both
// optional SQL), one Grid per band. Grids are named "<table> [<name>]".
// Any decode failure discards the whole load.
func (c *Connection) RasterLoad(ctx context.Context, name, where, order string, binary bool) ([]*raster.Grid, error) {
	const op = "raster load"
	if err := c.ready(op); err != nil {
		return nil, err
	}
	s, err := c.openRaster(ctx, name, where, order, binary)
	if err != nil {
		return nil, err
	}

	var grids []*raster.Grid
	for _, ref := range s.bands {
		bands, err := s.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, c.fail(op, fmt.Errorf("rid %d: %w", ref.rid, err))
		}
		for i, g := range bands {
			g.Name = fmt.Sprintf("%s [%s]", name, ref.name)
			if len(bands) > 1 {
				g.Name += fmt.Sprintf(" band %d", i+1)
			}
			g.Meta = c.meta(name, "")
			g.Meta.RID = ref.rid
			grids = append(grids, g)
		}
	}

	c.log.DebugWith("raster loaded", map[string]any{"table": name, "grids": len(grids)})
	return grids, nil
}

// RasterLoadRID loads the first band of row rid.
func (c *Connection) RasterLoadRID(ctx context.Context, name string, rid int64, binary bool) (*raster.Grid, error) {
	where := database.QuoteIdent(ridColumn) + " = " + strconv.FormatInt(rid, 10)
	grids, err := c.RasterLoad(ctx, name, where, "", binary)
	if err != nil {
		return nil, err
	}
	if len(grids) == 0 {
		return nil, c.fail("raster load", errs.Newf(errs.ErrKindNotFound, "table %q has no raster with rid %d", name, rid))
	}
	return grids[0], nil
}

// RasterSave inserts g as a new row of table name with the given SRID and
// returns its rid. bandName is stored when the table has a name column.
func (c *Connection) RasterSave(ctx context.Context, g *raster.Grid, srid int, name, bandName string) (int64, error) {
	const op = "raster save"
	if err := c.ready(op); err != nil {
		return 0, err
	}
	if err := validIdents(op, name); err != nil {
		return 0, c.fail(op, err)
	}
	column, err := c.RasterColumn(ctx, name)
	if err != nil {
		return 0, err
	}
	withName, err := c.hasColumn(ctx, name, nameColumn)
	if err != nil {
		return 0, err
	}

	hexWKB, err := raster.EncodeHex(g, srid)
	if err != nil {
		return 0, c.fail(op, err)
	}

	cols := []string{column}
	args := []any{hexWKB}
	if withName && bandName != "" {
		cols = append(cols, nameColumn)
		args = append(args, bandName)
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		database.QuoteIdent(name), database.QuoteIdents(cols), strings.Join(placeholders, ", "), database.QuoteIdent(ridColumn))

	res, err := c.execParams(ctx, op, sql, args...)
	if err != nil {
		return 0, err
	}
	v, err := scalar(res)
	if err != nil {
		return 0, c.fail(op, err)
	}
	rid, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, c.fail(op, errs.Wrap(errs.ErrKindDataShape, "invalid rid "+v, err))
	}

	g.SRID = srid
	g.Meta = c.meta(name, "")
	g.Meta.RID = rid
	c.log.DebugWith("raster saved", map[string]any{"source": g.Meta.Source()})
	return rid, nil
}

// RasterAppend streams grids into table name through COPY FROM STDIN, one
// row each, and returns the number of rows copied.
func (c *Connection) RasterAppend(ctx context.Context, name string, srid int, grids ...*raster.Grid) (int64, error) {
	const op = "raster append"
	if err := c.ready(op); err != nil {
		return 0, err
	}
	if err := validIdents(op, name); err != nil {
		return 0, c.fail(op, err)
	}
	column, err := c.RasterColumn(ctx, name)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	for _, g := range grids {
		h, err := raster.EncodeHex(g, srid)
		if err != nil {
			return 0, c.fail(op, err)
		}
		buf.WriteString(h)
		buf.WriteByte('\n')
	}

	sql := fmt.Sprintf("COPY %s (%s) FROM STDIN", database.QuoteIdent(name), database.QuoteIdent(column))
	n, err := c.sess.CopyFrom(ctx, &buf, sql)
	if err != nil {
		return 0, c.failSQL(op, sql, err)
	}
	return n, nil
}

// RasterCreate creates a raster table: rid serial primary key, an optional
// name column, and the raster column rast.
func (c *Connection) RasterCreate(ctx context.Context, name string, withName bool) error {
	const op = "raster create"
	if err := c.ready(op); err != nil {
		return err
	}
	if err := validIdents(op, name); err != nil {
		return c.fail(op, err)
	}
	exists, err := c.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return c.fail(op, errs.Newf(errs.ErrKindAlreadyExists, "table %q already exists", name))
	}

	cols := []string{database.QuoteIdent(ridColumn) + " serial PRIMARY KEY"}
	if withName {
		cols = append(cols, database.QuoteIdent(nameColumn)+" text")
	}
	cols = append(cols, database.QuoteIdent(rasterColumn)+" raster")
	_, err = c.exec(ctx, op, fmt.Sprintf("CREATE TABLE %s (%s)", database.QuoteIdent(name), strings.Join(cols, ", ")))
	return err
}

// RasterSRIDUpdate changes the SRID of every raster in table name.
func (c *Connection) RasterSRIDUpdate(ctx context.Context, name string, srid int) error {
	column, err := c.RasterColumn(ctx, name)
	if err != nil {
		return err
	}
	const q = `SELECT UpdateRasterSRID($1::name, $2::name, $3::integer)`
	_, err = c.execParams(ctx, "raster srid update", q, name, column, srid)
	return err
}
