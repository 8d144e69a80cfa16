package database

import (
	"strings"
	"testing"
	"time"

	"github.com/koustreak/geopg/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_IdentityAndDisplay(t *testing.T) {
	cfg := DefaultConfig("gis", "postgres", "secret")
	cfg.Port = 0

	assert.Equal(t, Identity{Host: "localhost", Port: 5432, Database: "gis"}, cfg.Identity())
	assert.Equal(t, "gis [localhost:5432]", cfg.DisplayName())
}

func TestConfig_DSN(t *testing.T) {
	cfg := &Config{
		Host:            "db.internal",
		Port:            6432,
		Database:        "gis",
		User:            "loader",
		Password:        "it's a secret",
		ConnectTimeout:  1500 * time.Millisecond,
		ApplicationName: "geopg",
	}

	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host='db.internal'")
	assert.Contains(t, dsn, "port=6432")
	assert.Contains(t, dsn, "dbname='gis'")
	assert.Contains(t, dsn, `password='it\'s a secret'`)
	assert.Contains(t, dsn, "sslmode='prefer'")
	assert.Contains(t, dsn, "connect_timeout=1")
	assert.Contains(t, dsn, "application_name='geopg'")

	cfg.Password = ""
	assert.NotContains(t, cfg.DSN(), "password=")
}

func TestSelectBuilder(t *testing.T) {
	tests := []struct {
		name    string
		builder *SelectBuilder
		sql     string
		args    []any
	}{
		{
			name:    "whole table",
			builder: Select("roads"),
			sql:     `SELECT * FROM "roads"`,
		},
		{
			name:    "quoted columns and parameter",
			builder: Select("rasters").Columns("rid", "name").Where("rid", "=", 7).OrderBy("rid", Asc),
			sql:     `SELECT "rid", "name" FROM "rasters" WHERE "rid" = $1 ORDER BY "rid" ASC`,
			args:    []any{7},
		},
		{
			name: "general form",
			builder: SelectFrom("a, b").Distinct(true).Exprs("a.x", "count(*)").
				WhereRaw("a.id = b.id").WhereRaw("  ").
				GroupBy("a.x", "count(*) > 1").
				OrderByRaw("a.x DESC"),
			sql: `SELECT DISTINCT a.x, count(*) FROM a, b WHERE (a.id = b.id) GROUP BY a.x HAVING count(*) > 1 ORDER BY a.x DESC`,
		},
		{
			name:    "having without group is dropped",
			builder: Select("t").GroupBy("", "x > 1").Limit(1),
			sql:     `SELECT * FROM "t" LIMIT 1`,
		},
		{
			name:    "mixed raw and parameterized",
			builder: Select("t").WhereRaw("a > 1").Where("b", "like", "x%").Where("c", "<>", 2).OrderBy("c", Desc),
			sql:     `SELECT * FROM "t" WHERE (a > 1) AND "b" LIKE $1 AND "c" <> $2 ORDER BY "c" DESC`,
			args:    []any{"x%", 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.builder.Build()
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestSelectBuilder_Errors(t *testing.T) {
	_, _, err := Select("t").Where("a", "; DROP TABLE t", 1).Build()
	assert.True(t, errs.IsInvalidInput(err))

	_, _, err = SelectFrom(" ").Build()
	assert.True(t, errs.IsInvalidInput(err))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"roads"`, QuoteIdent("roads"))
	assert.Equal(t, `"Mixed Case"`, QuoteIdent("Mixed Case"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
	assert.Equal(t, `"a", "b"`, QuoteIdents([]string{"a", "b"}))
}

func TestValidIdent(t *testing.T) {
	assert.NoError(t, ValidIdent("roads"))
	assert.True(t, errs.IsInvalidInput(ValidIdent("")))
	assert.True(t, errs.IsInvalidInput(ValidIdent("a\x00b")))
	assert.True(t, errs.IsInvalidInput(ValidIdent(strings.Repeat("x", 64))))
}
