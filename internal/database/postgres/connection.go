// Package postgres is the PostgreSQL/PostGIS data-exchange layer. A
// Connection owns one exclusive session and moves tables, vector layers and
// raster bands between the in-memory models and the database.
//
// A Connection is not safe for concurrent use; run independent work on
// independent Connections.
package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/geopg/internal/database"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/logger"
	"github.com/koustreak/geopg/internal/table"
)

// Connection is one live database session plus its transaction state.
type Connection struct {
	cfg  database.Config
	sess Session
	log  *logger.Logger

	inTx bool
	seq  int // suffix for generated statement and savepoint names

	types *pgtype.Map // text cell codecs
}

// Open dials the server described by cfg. On failure no Connection is
// returned and the cause is logged.
func Open(ctx context.Context, cfg *database.Config, log *logger.Logger) (*Connection, error) {
	if log == nil {
		log = logger.Nop()
	}
	sess, err := Dial(ctx, cfg, log)
	if err != nil {
		log.ErrorWith("connect failed", err, map[string]any{
			"connection": cfg.DisplayName(),
			"user":       cfg.User,
		})
		return nil, err
	}
	c := NewConnection(cfg, sess, log)
	c.log.Info("connected")
	return c, nil
}

// NewConnection wraps an already established session.
func NewConnection(cfg *database.Config, sess Session, log *logger.Logger) *Connection {
	if log == nil {
		log = logger.Nop()
	}
	return &Connection{
		cfg:   *cfg,
		sess:  sess,
		types: pgtype.NewMap(),
		log: log.Component("postgres").With().
			Str("connection", cfg.DisplayName()).
			Logger(),
	}
}

// Config returns a copy of the settings the session was opened with.
func (c *Connection) Config() database.Config {
	return c.cfg
}

// Identity is the (host, port, database) key of the connection.
func (c *Connection) Identity() database.Identity {
	return c.cfg.Identity()
}

// DisplayName renders the connection as "db [host:port]".
func (c *Connection) DisplayName() string {
	return c.cfg.DisplayName()
}

// User is the role the session is authenticated as.
func (c *Connection) User() string {
	return c.cfg.User
}

// IsConnected reports whether the session is open.
func (c *Connection) IsConnected() bool {
	return c.sess != nil
}

// InTransaction reports whether a top-level transaction is open.
func (c *Connection) InTransaction() bool {
	return c.inTx
}

// Close ends the session. An open transaction is left to the server, which
// rolls it back; resolve it first with Commit or Rollback.
func (c *Connection) Close(ctx context.Context) error {
	if c.sess == nil {
		return nil
	}
	if c.inTx {
		c.log.Warn("closing with an open transaction")
	}
	err := c.sess.Close(ctx)
	c.sess = nil
	c.inTx = false
	if err != nil {
		return c.fail("disconnect", mapError(err, "disconnect"))
	}
	c.log.Info("disconnected")
	return nil
}

// Begin opens a transaction, or with a non-empty name sets a savepoint
// inside the open transaction.
func (c *Connection) Begin(ctx context.Context, savepoint string) error {
	if err := c.ready("begin"); err != nil {
		return err
	}
	if savepoint == "" {
		if c.inTx {
			return c.fail("begin", errs.New(errs.ErrKindInvalidState, "already in transaction"))
		}
		if _, err := c.exec(ctx, "begin", "BEGIN"); err != nil {
			return err
		}
		c.inTx = true
		return nil
	}

	if !c.inTx {
		return c.fail("begin", errs.New(errs.ErrKindInvalidState, "not in transaction"))
	}
	if err := validIdents("begin", savepoint); err != nil {
		return c.fail("begin", err)
	}
	_, err := c.exec(ctx, "savepoint", "SAVEPOINT "+database.QuoteIdent(savepoint))
	return err
}

// Commit commits the open transaction, or with a non-empty name releases
// that savepoint and leaves the transaction open.
func (c *Connection) Commit(ctx context.Context, savepoint string) error {
	if err := c.ready("commit"); err != nil {
		return err
	}
	if !c.inTx {
		return c.fail("commit", errs.New(errs.ErrKindInvalidState, "not in transaction"))
	}
	if savepoint == "" {
		res, err := c.exec(ctx, "commit", "COMMIT")
		if err != nil {
			return err
		}
		c.inTx = false
		// an aborted transaction answers COMMIT with ROLLBACK and no error
		if res != nil && res.Tag == "ROLLBACK" {
			return c.fail("commit", errs.New(errs.ErrKindQueryFailed, "commit unexpectedly resulted in rollback"))
		}
		return nil
	}
	if err := validIdents("commit", savepoint); err != nil {
		return c.fail("commit", err)
	}
	_, err := c.exec(ctx, "release savepoint", "RELEASE SAVEPOINT "+database.QuoteIdent(savepoint))
	return err
}

// Rollback aborts the open transaction, or with a non-empty name rolls back
// to that savepoint and leaves the transaction open.
func (c *Connection) Rollback(ctx context.Context, savepoint string) error {
	if err := c.ready("rollback"); err != nil {
		return err
	}
	if !c.inTx {
		return c.fail("rollback", errs.New(errs.ErrKindInvalidState, "not in transaction"))
	}
	if savepoint == "" {
		if _, err := c.exec(ctx, "rollback", "ROLLBACK"); err != nil {
			return err
		}
		c.inTx = false
		return nil
	}
	if err := validIdents("rollback", savepoint); err != nil {
		return c.fail("rollback", err)
	}
	_, err := c.exec(ctx, "rollback to savepoint", "ROLLBACK TO SAVEPOINT "+database.QuoteIdent(savepoint))
	return err
}

// Execute runs sql. When the statement returns rows and out is not nil, out
// is reset and filled with the result set.
func (c *Connection) Execute(ctx context.Context, sql string, out *table.Table) error {
	if err := c.ready("execute"); err != nil {
		return err
	}
	res, err := c.exec(ctx, "execute", sql)
	if err != nil {
		return err
	}
	if out != nil && res.Returned() {
		if err := c.fillTable(out, res); err != nil {
			return c.fail("execute", err)
		}
	}
	return nil
}

// nextName returns a session-unique name for a statement or savepoint.
func (c *Connection) nextName(prefix string) string {
	c.seq++
	return prefix + "_" + strconv.Itoa(c.seq)
}

// guarded runs fn. Inside a transaction fn runs under a savepoint that is
// rolled back when fn fails, so the transaction stays usable.
func (c *Connection) guarded(ctx context.Context, fn func() error) error {
	if !c.inTx {
		return fn()
	}
	sp := database.QuoteIdent(c.nextName("geopg_sp"))
	if _, err := c.sess.Exec(ctx, "SAVEPOINT "+sp); err != nil {
		return mapError(err, "savepoint")
	}
	if err := fn(); err != nil {
		if _, rerr := c.sess.Exec(ctx, "ROLLBACK TO SAVEPOINT "+sp); rerr != nil {
			c.log.ErrorWith("rollback to savepoint failed", rerr, nil)
		}
		return err
	}
	if _, err := c.sess.Exec(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
		return mapError(err, "release savepoint")
	}
	return nil
}

// ready checks the session is open.
func (c *Connection) ready(op string) error {
	if c.sess == nil {
		return c.fail(op, errs.New(errs.ErrKindInvalidState, "no database connection"))
	}
	return nil
}

// exec runs sql through the simple protocol and logs failures with the
// server's message.
func (c *Connection) exec(ctx context.Context, op, sql string) (*Result, error) {
	res, err := c.sess.Exec(ctx, sql)
	if err != nil {
		return nil, c.failSQL(op, sql, err)
	}
	return res, nil
}

// execParams runs one parameterised statement; args are rendered as text.
func (c *Connection) execParams(ctx context.Context, op, sql string, args ...any) (*Result, error) {
	if len(args) == 0 {
		return c.exec(ctx, op, sql)
	}
	res, err := c.sess.ExecParams(ctx, sql, textParams(args), nil)
	if err != nil {
		return nil, c.failSQL(op, sql, err)
	}
	return res, nil
}

func (c *Connection) failSQL(op, sql string, err error) error {
	mapped := mapError(err, op)
	c.log.ErrorWith(op+" failed", mapped, map[string]any{
		"op":     op,
		"sql":    sql,
		"server": serverMessage(err),
	})
	return mapped
}

func (c *Connection) fail(op string, err error) error {
	c.log.ErrorWith(op+" failed", err, map[string]any{"op": op})
	return err
}

// meta is the provenance of objects moved through this connection.
func (c *Connection) meta(tableName, sql string) table.Meta {
	return table.Meta{
		DBMS:     database.DBMS,
		Host:     c.cfg.Host,
		Port:     c.cfg.Identity().Port,
		User:     c.cfg.User,
		Database: c.cfg.Database,
		Table:    tableName,
		SQL:      sql,
	}
}

// textParams renders builder arguments as text-format parameters.
func textParams(args []any) [][]byte {
	params := make([][]byte, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case nil:
		case string:
			params[i] = []byte(v)
		case []byte:
			params[i] = v
		case int:
			params[i] = strconv.AppendInt(nil, int64(v), 10)
		case int64:
			params[i] = strconv.AppendInt(nil, v, 10)
		default:
			params[i] = []byte(fmt.Sprint(v))
		}
	}
	return params
}

// validIdents checks every name can be used as a quoted identifier.
func validIdents(op string, names ...string) error {
	for _, n := range names {
		if err := database.ValidIdent(n); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// fillTable resets out and loads res into it. Field types come from the
// column wire types.
func (c *Connection) fillTable(out *table.Table, res *Result) error {
	out.Reset()
	oids := make([]uint32, len(res.Fields))
	for i, col := range res.Fields {
		oids[i] = col.OID
		typ := TypeFromOID(col.OID)
		if err := out.AddField(col.Name, typ, widthFromModifier(col.OID, col.TypeModifier)); err != nil {
			return err
		}
	}
	for _, row := range res.Rows {
		rec, err := c.parseRow(oids, out.Fields, row)
		if err != nil {
			return err
		}
		out.Records = append(out.Records, rec)
	}
	return nil
}

// parseRow decodes row for fields. oids holds the column wire types; a
// missing entry decodes by field type alone.
func (c *Connection) parseRow(oids []uint32, fields []table.Field, row [][]byte) (table.Record, error) {
	if len(row) != len(fields) {
		return nil, errs.Newf(errs.ErrKindDataShape, "row has %d cells for %d fields", len(row), len(fields))
	}
	rec := make(table.Record, len(fields))
	for i, cell := range row {
		if cell == nil {
			continue
		}
		var oid uint32
		if i < len(oids) {
			oid = oids[i]
		}
		v, err := decodeCell(c.types, oid, fields[i].Type, cell)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fields[i].Name, err)
		}
		rec[i] = v
	}
	return rec, nil
}
