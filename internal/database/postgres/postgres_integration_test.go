package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/koustreak/geopg/internal/database"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/geom"
	"github.com/koustreak/geopg/internal/logger"
	"github.com/koustreak/geopg/internal/raster"
	"github.com/koustreak/geopg/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDatabase connects to GEOPG_TEST_DATABASE (a postgres:// URL or a
// keyword/value string) and skips the test when it is unset.
func openTestDatabase(t *testing.T) *Connection {
	t.Helper()
	dsn := os.Getenv("GEOPG_TEST_DATABASE")
	if dsn == "" {
		t.Skip("GEOPG_TEST_DATABASE not set")
	}
	parsed, err := pgx.ParseConfig(dsn)
	require.NoError(t, err)

	cfg := database.DefaultConfig(parsed.Database, parsed.User, parsed.Password)
	cfg.Host = parsed.Host
	cfg.Port = int(parsed.Port)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := Open(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if conn.InTransaction() {
			_ = conn.Rollback(context.Background(), "")
		}
		_ = conn.Close(context.Background())
	})
	return conn
}

func TestIntegration_TableRoundTrip(t *testing.T) {
	conn := openTestDatabase(t)
	ctx := context.Background()

	v, err := conn.Version(ctx)
	require.NoError(t, err)
	assert.True(t, v.AtLeast(9, 0, 0))

	name := fmt.Sprintf("geopg_it_%d", time.Now().UnixNano())
	src := table.New(name)
	require.NoError(t, src.AddField("id", table.TypeInt, 0))
	require.NoError(t, src.AddField("label", table.TypeString, 16))
	_, err = src.AddRecord(1, "one")
	require.NoError(t, err)
	_, err = src.AddRecord(2, "two")
	require.NoError(t, err)

	require.NoError(t, conn.Begin(ctx, ""))
	stats, err := conn.TableSave(ctx, name, src, []Constraint{PrimaryKey}, InsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)

	exists, err := conn.TableExists(ctx, name)
	require.NoError(t, err)
	assert.True(t, exists)

	out := table.New("")
	require.NoError(t, conn.TableLoad(ctx, out, name))
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []string{"id", "label"}, out.FieldNames())

	require.NoError(t, conn.Rollback(ctx, ""))
	exists, err = conn.TableExists(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIntegration_SavepointKeepsTransaction(t *testing.T) {
	conn := openTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, conn.Begin(ctx, ""))
	require.NoError(t, conn.Begin(ctx, "sp"))
	err := conn.Execute(ctx, "SELECT * FROM geopg_missing_relation", nil)
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	require.NoError(t, conn.Rollback(ctx, "sp"))

	out := table.New("")
	require.NoError(t, conn.Execute(ctx, "SELECT 1 AS one", out))
	assert.Equal(t, 1, out.Len())
	assert.True(t, conn.InTransaction())
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestIntegration_TableEveryType(t *testing.T) {
	conn := openTestDatabase(t)
	ctx := context.Background()
	name := uniqueName("geopg_it_every")
	src := everyType(t)

	require.NoError(t, conn.Begin(ctx, ""))
	_, err := conn.TableSave(ctx, name, src, nil, InsertOptions{})
	require.NoError(t, err)

	out := table.New("")
	require.NoError(t, conn.TableQuery(ctx, out, Query{
		Tables: database.QuoteIdent(name),
		Order:  "s NULLS LAST",
	}))
	require.Equal(t, 2, out.Len())
	for i, f := range src.Fields {
		assert.Equal(t, canonical(f.Type), out.Fields[i].Type, f.Name)
	}
	assert.Equal(t, src.Records[0], out.Records[0])
	for col := range src.Fields {
		assert.True(t, out.IsNoData(1, col), "column %d", col)
	}
	require.NoError(t, conn.Rollback(ctx, ""))
}

// layerParts is one shape of type typ with every ordinate set.
func layerParts(typ geom.ShapeType) [][]geom.Point {
	p := func(x, y float64) geom.Point { return geom.Point{X: x, Y: y, Z: 10 * x, M: 100 * x} }
	switch typ {
	case geom.ShapePoint:
		return [][]geom.Point{{p(1, 2)}}
	case geom.ShapeMultiPoint:
		return [][]geom.Point{{p(1, 2), p(3, 4), p(5, 6)}}
	case geom.ShapeLine:
		return [][]geom.Point{{p(0, 0), p(1, 1), p(2, 0)}, {p(5, 5), p(6, 6)}}
	}
	return [][]geom.Point{
		{p(0, 0), p(0, 10), p(10, 10), p(10, 0)},
		{p(2, 2), p(4, 2), p(4, 4), p(2, 4)},
		{p(20, 20), p(20, 30), p(30, 30)},
	}
}

func TestIntegration_ShapesEveryLayout(t *testing.T) {
	conn := openTestDatabase(t)
	ctx := context.Background()
	if !conn.HasPostGIS(ctx, 2, 0) {
		t.Skip("PostGIS not installed")
	}

	for _, typ := range []geom.ShapeType{geom.ShapePoint, geom.ShapeMultiPoint, geom.ShapeLine, geom.ShapePolygon} {
		for _, v := range []geom.VertexType{geom.VertexXY, geom.VertexXYZ, geom.VertexXYZM} {
			t.Run(fmt.Sprintf("%s/%s", typ, v), func(t *testing.T) {
				name := uniqueName("geopg_it_shapes")
				src := geom.NewShapes(name, typ, v, 4326)
				require.NoError(t, src.AddField("label", table.TypeString, 8))
				want := layerParts(typ)
				_, err := src.AddShape(want, "only")
				require.NoError(t, err)

				_, err = conn.ShapesSave(ctx, src, name, DefaultShapesSaveOptions())
				require.NoError(t, err)
				t.Cleanup(func() { _ = conn.TableDrop(context.Background(), name) })

				got, err := conn.ShapesLoadTable(ctx, name, "")
				require.NoError(t, err)
				assert.Equal(t, typ, got.Type)
				assert.Equal(t, v, got.Vertex)
				assert.Equal(t, 4326, got.SRID)
				require.Equal(t, 1, got.Len())

				sh := got.Shapes[0]
				assert.Contains(t, sh.Record, "only")
				require.Len(t, sh.Parts, len(want))
				for i := range want {
					require.Len(t, sh.Parts[i], len(want[i]), "part %d", i)
					for j := range want[i] {
						assert.True(t, geom.Equal(want[i][j], sh.Parts[i][j], v, 1e-9), "part %d vertex %d", i, j)
					}
				}
			})
		}
	}
}

func TestIntegration_RasterRoundTrip(t *testing.T) {
	conn := openTestDatabase(t)
	ctx := context.Background()
	if !conn.HasPostGIS(ctx, 2, 0) {
		t.Skip("PostGIS not installed")
	}

	name := uniqueName("geopg_it_dem")
	require.NoError(t, conn.Begin(ctx, ""))
	require.NoError(t, conn.RasterCreate(ctx, name, true))

	src, err := raster.New("dem", raster.PixelFloat, 3, 3, 25, 480000, 4290000)
	require.NoError(t, err)
	for i := range src.Values {
		src.Values[i] = 100 + float64(i)*0.5
	}
	rid, err := conn.RasterSave(ctx, src, 3763, name, "tile")
	require.NoError(t, err)

	for _, binary := range []bool{true, false} {
		got, err := conn.RasterLoadRID(ctx, name, rid, binary)
		require.NoError(t, err)
		assert.Equal(t, raster.PixelFloat, got.Type)
		assert.Equal(t, 3, got.NX)
		assert.Equal(t, 3, got.NY)
		assert.Equal(t, 3763, got.SRID)
		assert.InDelta(t, src.XMin, got.XMin, 1e-6)
		assert.InDelta(t, src.YMin, got.YMin, 1e-6)
		assert.Equal(t, src.Values, got.Values)
	}
	require.NoError(t, conn.Rollback(ctx, ""))
}
