// Package registry keeps the named, live database connections of a process.
// At most one connection exists per (host, port, database) identity.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/koustreak/geopg/internal/database"
	"github.com/koustreak/geopg/internal/database/postgres"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/logger"
)

// OpenFunc opens one connection.
type OpenFunc func(ctx context.Context, cfg *database.Config, log *logger.Logger) (*postgres.Connection, error)

// Registry owns every Connection added to it. Callers receive references
// and must not Close them directly; use Del.
//
// The registry is safe for concurrent use. A Connection is not, so callers
// sharing one across goroutines serialise access themselves.
type Registry struct {
	mu    sync.RWMutex
	conns []*postgres.Connection // in insertion order
	open  OpenFunc
	log   *logger.Logger
}

// New returns an empty registry. A nil open uses postgres.Open.
func New(log *logger.Logger, open OpenFunc) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	if open == nil {
		open = postgres.Open
	}
	return &Registry{open: open, log: log.Component("registry")}
}

// Add opens a connection for cfg and keeps it. When a connection to the
// same identity is already open for the same user it is returned as is; a
// different user is rejected. A connection that fails to open is not kept.
func (r *Registry) Add(ctx context.Context, cfg *database.Config) (*postgres.Connection, error) {
	if cfg == nil || cfg.Database == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "connection needs a database name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c := r.find(cfg.Identity()); c != nil {
		if c.User() != cfg.User {
			return nil, errs.Newf(errs.ErrKindAlreadyExists,
				"%s is already open as user %q", c.DisplayName(), c.User())
		}
		r.log.Debugf("reusing %s", c.DisplayName())
		return c, nil
	}

	c, err := r.open(ctx, cfg, r.log)
	if err != nil {
		return nil, err
	}
	r.conns = append(r.conns, c)
	r.log.InfoWith("connection added", map[string]any{
		"connection": c.DisplayName(),
		"user":       c.User(),
		"count":      len(r.conns),
	})
	return c, nil
}

func (r *Registry) find(id database.Identity) *postgres.Connection {
	for _, c := range r.conns {
		if c.Identity() == id {
			return c
		}
	}
	return nil
}

// Get returns the connection displayed as name ("db [host:port]").
func (r *Registry) Get(name string) (*postgres.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if c.DisplayName() == name {
			return c, nil
		}
	}
	return nil, errs.Newf(errs.ErrKindNotFound, "no connection %q", name)
}

// Names lists the display names of all connections in the order they were added.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.conns))
	for i, c := range r.conns {
		names[i] = c.DisplayName()
	}
	return names
}

// Len is the number of open connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Del resolves the open transaction of connection name (commit or
// rollback), closes it and forgets it. The connection is removed even when
// resolving or closing fails; both errors are returned.
func (r *Registry) Del(ctx context.Context, name string, commit bool) error {
	r.mu.Lock()
	idx := -1
	for i, c := range r.conns {
		if c.DisplayName() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return errs.Newf(errs.ErrKindNotFound, "no connection %q", name)
	}
	c := r.conns[idx]
	r.conns = append(r.conns[:idx], r.conns[idx+1:]...)
	r.mu.Unlock()

	err := r.shutdown(ctx, c, commit)
	r.log.InfoWith("connection removed", map[string]any{"connection": name, "commit": commit})
	return err
}

// CloseAll drains the registry, resolving every open transaction with the
// same policy.
func (r *Registry) CloseAll(ctx context.Context, commit bool) error {
	r.mu.Lock()
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()

	var all []error
	for _, c := range conns {
		if err := r.shutdown(ctx, c, commit); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}

func (r *Registry) shutdown(ctx context.Context, c *postgres.Connection, commit bool) error {
	var resolveErr error
	if c.InTransaction() {
		if commit {
			resolveErr = c.Commit(ctx, "")
		} else {
			resolveErr = c.Rollback(ctx, "")
		}
	}
	return errors.Join(resolveErr, c.Close(ctx))
}
