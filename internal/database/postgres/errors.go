package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/geopg/internal/errs"
)

// PostgreSQL SQLSTATE codes with a dedicated error kind.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgClassConnection     = "08"
	pgErrInsufficientPriv = "42501"
	pgErrInvalidPassword  = "28P01"
	pgErrInvalidAuthSpec  = "28000"
	pgErrDuplicateTable   = "42P07"
	pgErrQueryCanceled    = "57014"
	pgErrAdminShutdown    = "57P01"
	pgErrCannotConnectNow = "57P03"
)

// mapError converts a pgx error into an *errs.Error. The server's own
// message is kept in the cause so it reaches the log.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return errs.Wrap(errs.ErrKindTimeout, op+": cancelled", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := fmt.Sprintf("%s: %s", op, pgErr.Message)
		switch {
		case strings.HasPrefix(pgErr.Code, pgClassConnection),
			pgErr.Code == pgErrAdminShutdown,
			pgErr.Code == pgErrCannotConnectNow,
			pgErr.Code == pgErrInvalidPassword,
			pgErr.Code == pgErrInvalidAuthSpec:
			return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
		case pgErr.Code == pgErrInsufficientPriv:
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case pgErr.Code == pgErrDuplicateTable:
			return errs.Wrap(errs.ErrKindAlreadyExists, msg, err)
		case pgErr.Code == pgErrQueryCanceled:
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
		return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return errs.Wrap(errs.ErrKindConnectionFailed, op, err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, op, err)
}

// serverMessage returns the database's own error text for err, or err's
// message when the server did not produce one.
func serverMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message
	}
	return err.Error()
}
