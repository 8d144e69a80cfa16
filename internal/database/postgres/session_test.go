package postgres

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/geopg/internal/database"
	"github.com/koustreak/geopg/internal/logger"
)

// call is one request seen by fakeSession.
type call struct {
	kind    string // exec, params, prepare, prepared, deallocate, copy_to, copy_from
	sql     string
	params  [][]byte
	formats []int16
}

// rule answers every statement containing match.
type rule struct {
	match string
	res   *Result
	err   error
	fn    func(c call) (*Result, error)
}

// fakeSession is a scripted Session. Rules are tried in order; statements
// no rule matches complete without rows.
type fakeSession struct {
	rules    []rule
	calls    []call
	prepared map[string]string
	copyOut  []byte
	copyIn   bytes.Buffer
	closed   bool
}

func newFake(rules ...rule) *fakeSession {
	return &fakeSession{rules: rules, prepared: map[string]string{}}
}

func (f *fakeSession) on(match string, res *Result) *fakeSession {
	f.rules = append(f.rules, rule{match: match, res: res})
	return f
}

func (f *fakeSession) onErr(match string, err error) *fakeSession {
	f.rules = append(f.rules, rule{match: match, err: err})
	return f
}

func (f *fakeSession) onFunc(match string, fn func(c call) (*Result, error)) *fakeSession {
	f.rules = append(f.rules, rule{match: match, fn: fn})
	return f
}

func (f *fakeSession) answer(c call) (*Result, error) {
	f.calls = append(f.calls, c)
	for _, r := range f.rules {
		if !strings.Contains(c.sql, r.match) {
			continue
		}
		if r.fn != nil {
			return r.fn(c)
		}
		if r.err != nil {
			return nil, r.err
		}
		return r.res, nil
	}
	return &Result{Tag: "OK"}, nil
}

func (f *fakeSession) Exec(_ context.Context, sql string) (*Result, error) {
	return f.answer(call{kind: "exec", sql: sql})
}

func (f *fakeSession) ExecParams(_ context.Context, sql string, params [][]byte, formats []int16) (*Result, error) {
	return f.answer(call{kind: "params", sql: sql, params: params, formats: formats})
}

func (f *fakeSession) Prepare(_ context.Context, name, sql string) error {
	f.prepared[name] = sql
	_, err := f.answer(call{kind: "prepare", sql: sql})
	return err
}

func (f *fakeSession) ExecPrepared(_ context.Context, name string, params [][]byte, formats []int16) (*Result, error) {
	return f.answer(call{kind: "prepared", sql: f.prepared[name], params: params, formats: formats})
}

func (f *fakeSession) Deallocate(_ context.Context, name string) error {
	f.calls = append(f.calls, call{kind: "deallocate", sql: name})
	delete(f.prepared, name)
	return nil
}

func (f *fakeSession) CopyTo(_ context.Context, w io.Writer, sql string) error {
	if _, err := f.answer(call{kind: "copy_to", sql: sql}); err != nil {
		return err
	}
	_, err := w.Write(f.copyOut)
	return err
}

func (f *fakeSession) CopyFrom(_ context.Context, r io.Reader, sql string) (int64, error) {
	if _, err := f.answer(call{kind: "copy_from", sql: sql}); err != nil {
		return 0, err
	}
	if _, err := f.copyIn.ReadFrom(r); err != nil {
		return 0, err
	}
	return int64(bytes.Count(f.copyIn.Bytes(), []byte("\n"))), nil
}

func (f *fakeSession) Close(context.Context) error {
	f.closed = true
	return nil
}

// sqls returns the statements of the given kinds, in order.
func (f *fakeSession) sqls(kinds ...string) []string {
	var out []string
	for _, c := range f.calls {
		for _, k := range kinds {
			if c.kind == k {
				out = append(out, c.sql)
			}
		}
	}
	return out
}

// count is the number of calls of kind whose statement contains match.
func (f *fakeSession) count(kind, match string) int {
	n := 0
	for _, c := range f.calls {
		if c.kind == kind && strings.Contains(c.sql, match) {
			n++
		}
	}
	return n
}

// rows builds a text-format row set; a nil cell is NULL.
func rows(cols []Column, data ...[]any) *Result {
	res := &Result{Fields: cols, Tag: "SELECT"}
	for _, d := range data {
		row := make([][]byte, len(d))
		for i, v := range d {
			if v != nil {
				row[i] = []byte(v.(string))
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

func textCol(name string) Column {
	return Column{Name: name, OID: pgtype.TextOID}
}

// tables answers the table listing with names.
func tables(names ...string) *Result {
	data := make([][]any, len(names))
	for i, n := range names {
		data[i] = []any{n}
	}
	return rows([]Column{textCol("table_name")}, data...)
}

// columns answers information_schema.columns with (name, type) pairs.
func columns(pairs ...string) *Result {
	var data [][]any
	for i := 0; i+1 < len(pairs); i += 2 {
		data = append(data, []any{pairs[i], pairs[i+1], nil, nil})
	}
	return rows([]Column{
		textCol("column_name"), textCol("data_type"),
		{Name: "character_maximum_length", OID: pgtype.Int4OID},
		{Name: "numeric_precision", OID: pgtype.Int4OID},
	}, data...)
}

func pgError(code, msg string) error {
	return &pgconn.PgError{Severity: "ERROR", Code: code, Message: msg}
}

func newTestConn(t *testing.T, sess *fakeSession) *Connection {
	t.Helper()
	cfg := database.DefaultConfig("gis", "alice", "secret")
	return NewConnection(cfg, sess, logger.Nop())
}
