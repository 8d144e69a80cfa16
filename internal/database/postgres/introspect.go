package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/table"
)

// Tables returns the base tables of the public schema in name order.
func (c *Connection) Tables(ctx context.Context) ([]string, error) {
	if err := c.ready("list tables"); err != nil {
		return nil, err
	}
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	res, err := c.exec(ctx, "list tables", q)
	if err != nil {
		return nil, err
	}
	return firstColumn(res), nil
}

// TableExists reports whether name is one of Tables. Every call re-queries
// the catalog.
func (c *Connection) TableExists(ctx context.Context, name string) (bool, error) {
	tables, err := c.Tables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t == name {
			return true, nil
		}
	}
	return false, nil
}

// FieldDesc describes the columns of a table in position order: one record
// of {name, type, size, precision} per column.
func (c *Connection) FieldDesc(ctx context.Context, name string) (*table.Table, error) {
	if err := c.ready("describe table"); err != nil {
		return nil, err
	}
	const q = `
		SELECT column_name,
		       data_type,
		       character_maximum_length,
		       numeric_precision
		FROM information_schema.columns
		WHERE table_schema = 'public'
		  AND table_name   = $1
		ORDER BY ordinal_position`

	res, err := c.execParams(ctx, "describe table", q, name)
	if err != nil {
		return nil, err
	}

	desc := &table.Table{
		Name: name,
		Fields: []table.Field{
			{Name: "name", Type: table.TypeString},
			{Name: "type", Type: table.TypeString},
			{Name: "size", Type: table.TypeInt},
			{Name: "precision", Type: table.TypeInt},
		},
		Meta: c.meta(name, ""),
	}
	for _, row := range res.Rows {
		rec, err := c.parseRow(nil, desc.Fields, row)
		if err != nil {
			return nil, c.fail("describe table", err)
		}
		desc.Records = append(desc.Records, rec)
	}
	return desc, nil
}

// Version is a dotted release number.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v >= major.minor.patch.
func (v Version) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

// ParseVersion reads "major[.minor[.patch]]", ignoring any suffix after the
// numeric part ("3.4.2dev", "16.2 (Debian)").
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		s = s[:i]
	}
	var nums [3]int
	parts := strings.SplitN(s, ".", 3)
	for i, p := range parts {
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		if end == 0 {
			if i == 0 {
				return Version{}, errs.Newf(errs.ErrKindDataShape, "invalid version %q", s)
			}
			break
		}
		nums[i], _ = strconv.Atoi(p[:end])
		if end < len(p) {
			break
		}
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// versionFromNum decodes server_version_num (e.g. 160002 or 90624).
func versionFromNum(n int) Version {
	return Version{Major: n / 10000, Minor: n / 100 % 100, Patch: n % 100}
}

// Version returns the server version.
func (c *Connection) Version(ctx context.Context) (Version, error) {
	if err := c.ready("server version"); err != nil {
		return Version{}, err
	}
	res, err := c.exec(ctx, "server version", "SHOW server_version_num")
	if err != nil {
		return Version{}, err
	}
	s, err := scalar(res)
	if err != nil {
		return Version{}, c.fail("server version", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Version{}, c.fail("server version", errs.Wrap(errs.ErrKindDataShape, "invalid server_version_num "+s, err))
	}
	return versionFromNum(n), nil
}

// HasVersion reports whether the server is at least major.minor.patch.
func (c *Connection) HasVersion(ctx context.Context, major, minor, patch int) bool {
	v, err := c.Version(ctx)
	return err == nil && v.AtLeast(major, minor, patch)
}

// PostGIS returns the PostGIS library version. Inside a transaction the
// version query runs under a savepoint so a missing extension does not abort it.
func (c *Connection) PostGIS(ctx context.Context) (Version, error) {
	if err := c.ready("postgis version"); err != nil {
		return Version{}, err
	}
	var s string
	err := c.guarded(ctx, func() error {
		res, err := c.sess.Exec(ctx, "SELECT PostGIS_Lib_Version()")
		if err != nil {
			return mapError(err, "postgis version")
		}
		s, err = scalar(res)
		return err
	})
	if err != nil {
		c.log.DebugWith("postgis not available", map[string]any{"error": err.Error()})
		return Version{}, err
	}
	return ParseVersion(s)
}

// HasPostGIS reports whether PostGIS is installed at version major.minor or
// later. A failed version query means not available.
func (c *Connection) HasPostGIS(ctx context.Context, major, minor int) bool {
	v, err := c.PostGIS(ctx)
	return err == nil && v.AtLeast(major, minor, 0)
}

// GeometryTables lists the tables registered in geometry_columns.
func (c *Connection) GeometryTables(ctx context.Context) ([]string, error) {
	return c.catalogTables(ctx, "list geometry tables", "geometry_columns", "f_table_name")
}

// RasterTables lists the tables registered in raster_columns.
func (c *Connection) RasterTables(ctx context.Context) ([]string, error) {
	return c.catalogTables(ctx, "list raster tables", "raster_columns", "r_table_name")
}

func (c *Connection) catalogTables(ctx context.Context, op, catalog, column string) ([]string, error) {
	if err := c.ready(op); err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT DISTINCT %[1]s FROM %[2]s WHERE %[1]s IS NOT NULL ORDER BY %[1]s", column, catalog)
	res, err := c.exec(ctx, op, q)
	if err != nil {
		return nil, err
	}
	return firstColumn(res), nil
}

// firstColumn returns the non-null values of the first column.
func firstColumn(res *Result) []string {
	out := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) > 0 && row[0] != nil {
			out = append(out, string(row[0]))
		}
	}
	return out
}

// scalar returns the single value of a one-row, one-column result.
func scalar(res *Result) (string, error) {
	if !res.Returned() || len(res.Rows) != 1 || len(res.Rows[0]) != 1 || res.Rows[0][0] == nil {
		return "", errs.New(errs.ErrKindDataShape, "expected a single value")
	}
	return string(res.Rows[0][0]), nil
}
