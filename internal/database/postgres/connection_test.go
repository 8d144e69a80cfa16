package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnection_Identity(t *testing.T) {
	c := newTestConn(t, newFake())
	assert.Equal(t, "gis [localhost:5432]", c.DisplayName())
	assert.Equal(t, "alice", c.User())
	assert.True(t, c.IsConnected())
	assert.False(t, c.InTransaction())
}

func TestConnection_BeginCommit(t *testing.T) {
	ctx := context.Background()
	sess := newFake()
	c := newTestConn(t, sess)

	require.NoError(t, c.Begin(ctx, ""))
	assert.True(t, c.InTransaction())
	require.NoError(t, c.Commit(ctx, ""))
	assert.False(t, c.InTransaction())

	require.NoError(t, c.Begin(ctx, ""))
	require.NoError(t, c.Rollback(ctx, ""))
	assert.False(t, c.InTransaction())

	assert.Equal(t, []string{"BEGIN", "COMMIT", "BEGIN", "ROLLBACK"}, sess.sqls("exec"))
}

func TestConnection_BeginTwiceFails(t *testing.T) {
	ctx := context.Background()
	sess := newFake()
	c := newTestConn(t, sess)

	require.NoError(t, c.Begin(ctx, ""))
	err := c.Begin(ctx, "")
	assert.True(t, errs.IsInvalidState(err))
	assert.True(t, c.InTransaction())
	assert.Len(t, sess.calls, 1, "second begin must not reach the server")
}

func TestConnection_Savepoints(t *testing.T) {
	ctx := context.Background()
	sess := newFake()
	c := newTestConn(t, sess)

	err := c.Begin(ctx, "sp1")
	assert.True(t, errs.IsInvalidState(err), "savepoint outside a transaction")
	assert.Empty(t, sess.calls)

	require.NoError(t, c.Begin(ctx, ""))
	require.NoError(t, c.Begin(ctx, "sp1"))
	assert.True(t, c.InTransaction())
	require.NoError(t, c.Rollback(ctx, "sp1"))
	assert.True(t, c.InTransaction())
	require.NoError(t, c.Begin(ctx, "sp2"))
	require.NoError(t, c.Commit(ctx, "sp2"))
	assert.True(t, c.InTransaction())
	require.NoError(t, c.Commit(ctx, ""))
	assert.False(t, c.InTransaction())

	assert.Equal(t, []string{
		"BEGIN",
		`SAVEPOINT "sp1"`,
		`ROLLBACK TO SAVEPOINT "sp1"`,
		`SAVEPOINT "sp2"`,
		`RELEASE SAVEPOINT "sp2"`,
		"COMMIT",
	}, sess.sqls("exec"))
}

func TestConnection_CommitWithoutTransaction(t *testing.T) {
	c := newTestConn(t, newFake())
	assert.True(t, errs.IsInvalidState(c.Commit(context.Background(), "")))
	assert.True(t, errs.IsInvalidState(c.Rollback(context.Background(), "")))
}

func TestConnection_WireFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	sess := newFake().onErr("COMMIT", pgError("40001", "could not serialize access"))
	c := newTestConn(t, sess)

	require.NoError(t, c.Begin(ctx, ""))
	err := c.Commit(ctx, "")
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.Contains(t, err.Error(), "could not serialize access")
	assert.True(t, c.InTransaction())
}

func TestConnection_CommitOfAbortedTransaction(t *testing.T) {
	ctx := context.Background()
	sess := newFake().
		onErr("INSERT", pgError("23505", "duplicate key value violates unique constraint")).
		on("COMMIT", &Result{Tag: "ROLLBACK"})
	c := newTestConn(t, sess)

	require.NoError(t, c.Begin(ctx, ""))
	require.Error(t, c.Execute(ctx, "INSERT INTO t VALUES (1)", nil))

	err := c.Commit(ctx, "")
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.Contains(t, err.Error(), "resulted in rollback")
	assert.False(t, c.InTransaction(), "the server has already ended the transaction")
}

func TestConnection_NotConnected(t *testing.T) {
	ctx := context.Background()
	sess := newFake()
	c := newTestConn(t, sess)
	require.NoError(t, c.Close(ctx))
	assert.True(t, sess.closed)
	assert.False(t, c.IsConnected())

	assert.True(t, errs.IsInvalidState(c.Begin(ctx, "")))
	assert.True(t, errs.IsInvalidState(c.Execute(ctx, "SELECT 1", nil)))
	_, err := c.Tables(ctx)
	assert.True(t, errs.IsInvalidState(err))
	assert.NoError(t, c.Close(ctx), "closing twice is a no-op")
}

func TestConnection_Execute(t *testing.T) {
	ctx := context.Background()
	sess := newFake().
		on("SELECT id", rows(
			[]Column{
				{Name: "id", OID: pgtype.Int4OID},
				{Name: "label", OID: pgtype.VarcharOID, TypeModifier: 20 + 4},
				{Name: "blob", OID: pgtype.ByteaOID},
				{Name: "value", OID: pgtype.Float8OID},
			},
			[]any{"1", "one", `\x0102`, "1.5"},
			[]any{"2", nil, nil, "-3"},
		)).
		onErr("bogus", pgError("42601", `syntax error at or near "bogus"`))
	c := newTestConn(t, sess)

	require.NoError(t, c.Execute(ctx, "UPDATE t SET x = 1", nil))

	out := table.New("result")
	require.NoError(t, c.Execute(ctx, "SELECT id, label, blob, value FROM t", out))
	require.Len(t, out.Fields, 4)
	assert.Equal(t, table.TypeInt, out.Fields[0].Type)
	assert.Equal(t, table.TypeString, out.Fields[1].Type)
	assert.Equal(t, 20, out.Fields[1].Width)
	assert.Equal(t, table.TypeBinary, out.Fields[2].Type)
	assert.Equal(t, table.TypeDouble, out.Fields[3].Type)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, table.Record{int64(1), "one", []byte{1, 2}, 1.5}, out.Records[0])
	assert.True(t, out.IsNoData(1, 1))
	assert.True(t, out.IsNoData(1, 2))

	err := c.Execute(ctx, "bogus", out)
	assert.True(t, errs.IsQueryFailed(err))
	assert.Contains(t, err.Error(), "syntax error")
}

func TestConnection_Tables(t *testing.T) {
	ctx := context.Background()
	sess := newFake().on("information_schema.tables", tables("alpha", "beta"))
	c := newTestConn(t, sess)

	names, err := c.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	ok, err := c.TableExists(ctx, "beta")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.TableExists(ctx, "gamma")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, sess.count("exec", "information_schema.tables"), "no caching")
}

func TestConnection_FieldDesc(t *testing.T) {
	sess := newFake().on("information_schema.columns", rows(
		[]Column{textCol("column_name"), textCol("data_type"), textCol("len"), textCol("prec")},
		[]any{"id", "integer", nil, "32"},
		[]any{"label", "character varying", "20", nil},
	))
	c := newTestConn(t, sess)

	desc, err := c.FieldDesc(context.Background(), "places")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "type", "size", "precision"}, desc.FieldNames())
	require.Equal(t, 2, desc.Len())
	assert.Equal(t, table.Record{"id", "integer", nil, int64(32)}, desc.Records[0])
	assert.Equal(t, table.Record{"label", "character varying", int64(20), nil}, desc.Records[1])
	assert.Equal(t, [][]byte{[]byte("places")}, sess.calls[0].params)
}

func TestVersion(t *testing.T) {
	ctx := context.Background()
	sess := newFake().
		on("server_version_num", rows([]Column{textCol("server_version_num")}, []any{"160002"})).
		on("PostGIS_Lib_Version", rows([]Column{textCol("v")}, []any{"3.4.2"}))
	c := newTestConn(t, sess)

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, Version{16, 0, 2}, v)
	assert.True(t, c.HasVersion(ctx, 9, 6, 0))
	assert.True(t, c.HasVersion(ctx, 16, 0, 2))
	assert.False(t, c.HasVersion(ctx, 16, 1, 0))

	pg, err := c.PostGIS(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.4.2", pg.String())
	assert.True(t, c.HasPostGIS(ctx, 3, 0))
	assert.False(t, c.HasPostGIS(ctx, 3, 5))

	assert.Equal(t, Version{9, 6, 24}, versionFromNum(90624))
}

func TestHasPostGIS_MissingExtension(t *testing.T) {
	ctx := context.Background()
	sess := newFake().onErr("PostGIS_Lib_Version", pgError("42883", "function postgis_lib_version() does not exist"))
	c := newTestConn(t, sess)

	assert.False(t, c.HasPostGIS(ctx, 2, 0))

	// inside a transaction the version query is fenced by a savepoint
	require.NoError(t, c.Begin(ctx, ""))
	assert.False(t, c.HasPostGIS(ctx, 2, 0))
	assert.True(t, c.InTransaction())
	assert.Equal(t, 1, sess.count("exec", "ROLLBACK TO SAVEPOINT"))
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want Version
	}{
		{"3.4.2", Version{3, 4, 2}},
		{"3.5.0dev", Version{3, 5, 0}},
		{"16.2 (Debian 16.2-1)", Version{16, 2, 0}},
		{"2", Version{2, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	_, err := ParseVersion("unknown")
	assert.True(t, errs.IsDataShape(err))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errs.ErrKind
	}{
		{"connection class", pgError("08006", "connection failure"), errs.ErrKindConnectionFailed},
		{"auth", pgError("28P01", "password authentication failed"), errs.ErrKindConnectionFailed},
		{"privilege", pgError("42501", "permission denied"), errs.ErrKindPermissionDenied},
		{"duplicate", pgError("42P07", "relation exists"), errs.ErrKindAlreadyExists},
		{"cancel", pgError("57014", "canceling statement"), errs.ErrKindTimeout},
		{"syntax", pgError("42601", "syntax error"), errs.ErrKindQueryFailed},
		{"context", context.Canceled, errs.ErrKindTimeout},
		{"kept", errs.New(errs.ErrKindDataShape, "x"), errs.ErrKindDataShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, errs.KindOf(mapError(tt.err, "op")))
		})
	}
	assert.Nil(t, mapError(nil, "op"))
}
