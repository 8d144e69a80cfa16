package postgres

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/geopg/internal/database"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/logger"
)

// Column describes one column of a result set as reported by the server.
type Column struct {
	Name         string
	OID          uint32
	TypeModifier int32
}

// Result is one fully read statement result. Fields is nil when the
// statement completed without returning rows. A nil cell is SQL NULL; all
// other cells are in text format.
type Result struct {
	Fields []Column
	Rows   [][][]byte
	Tag    string
}

// Returned reports whether the statement produced a row set, possibly empty.
func (r *Result) Returned() bool {
	return r != nil && r.Fields != nil
}

// Parameter formats for ExecParams and ExecPrepared.
const (
	FormatText   int16 = 0
	FormatBinary int16 = 1
)

// Session is the wire-level surface a Connection needs from one exclusive
// database session. The pgx implementation is returned by Dial; tests
// substitute a scripted one.
type Session interface {
	// Exec runs sql through the simple query protocol and returns the last
	// statement's result.
	Exec(ctx context.Context, sql string) (*Result, error)

	// ExecParams runs a single parameterised statement. A nil parameter is NULL.
	ExecParams(ctx context.Context, sql string, params [][]byte, formats []int16) (*Result, error)

	Prepare(ctx context.Context, name, sql string) error
	ExecPrepared(ctx context.Context, name string, params [][]byte, formats []int16) (*Result, error)
	Deallocate(ctx context.Context, name string) error

	// CopyTo streams the output of a COPY ... TO STDOUT statement into w.
	CopyTo(ctx context.Context, w io.Writer, sql string) error

	// CopyFrom feeds r to a COPY ... FROM STDIN statement and returns the
	// number of rows copied.
	CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error)

	Close(ctx context.Context) error
}

// pgxSession is a Session over one pgx connection. All calls go through the
// low-level pgconn API so results stay in the server's text format.
type pgxSession struct {
	conn *pgx.Conn
}

// Dial opens a single pgx connection for cfg. Wire tracing is installed when
// cfg.TraceLevel names a pgx log level.
func Dial(ctx context.Context, cfg *database.Config, log *logger.Logger) (Session, error) {
	connCfg, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid connection settings", err)
	}
	if cfg.ConnectTimeout > 0 {
		connCfg.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.TraceLevel != "" && cfg.TraceLevel != "none" {
		connCfg.Tracer = log.PgxTracer(cfg.TraceLevel)
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, mapError(err, "connect to "+cfg.DisplayName())
	}
	return &pgxSession{conn: conn}, nil
}

func (s *pgxSession) Exec(ctx context.Context, sql string) (*Result, error) {
	mrr := s.conn.PgConn().Exec(ctx, sql)
	last := &Result{}
	var firstErr error
	for mrr.NextResult() {
		res, err := read(mrr.ResultReader())
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if res != nil {
			last = res
		}
	}
	if err := mrr.Close(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return last, nil
}

func (s *pgxSession) ExecParams(ctx context.Context, sql string, params [][]byte, formats []int16) (*Result, error) {
	return read(s.conn.PgConn().ExecParams(ctx, sql, params, nil, formats, nil))
}

func (s *pgxSession) Prepare(ctx context.Context, name, sql string) error {
	_, err := s.conn.PgConn().Prepare(ctx, name, sql, nil)
	return err
}

func (s *pgxSession) ExecPrepared(ctx context.Context, name string, params [][]byte, formats []int16) (*Result, error) {
	return read(s.conn.PgConn().ExecPrepared(ctx, name, params, formats, nil))
}

// Deallocate closes the statement at the protocol level, which also works
// inside an aborted transaction.
func (s *pgxSession) Deallocate(ctx context.Context, name string) error {
	return s.conn.PgConn().Deallocate(ctx, name)
}

func (s *pgxSession) CopyTo(ctx context.Context, w io.Writer, sql string) error {
	_, err := s.conn.PgConn().CopyTo(ctx, w, sql)
	return err
}

func (s *pgxSession) CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error) {
	tag, err := s.conn.PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgxSession) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// read drains rr. Field descriptions are captured before the first row so
// a row set with no rows still reports its columns.
func read(rr *pgconn.ResultReader) (*Result, error) {
	out := &Result{}
	if fds := rr.FieldDescriptions(); fds != nil {
		out.Fields = make([]Column, len(fds))
		for i, fd := range fds {
			out.Fields[i] = Column{Name: fd.Name, OID: fd.DataTypeOID, TypeModifier: fd.TypeModifier}
		}
	}
	for rr.NextRow() {
		values := rr.Values()
		row := make([][]byte, len(values))
		for i, v := range values {
			if v != nil {
				row[i] = append(make([]byte, 0, len(v)), v...)
			}
		}
		out.Rows = append(out.Rows, row)
	}
	tag, err := rr.Close()
	if err != nil {
		return nil, err
	}
	out.Tag = tag.String()
	return out, nil
}
