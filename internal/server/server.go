// Package server is the HTTP adapter over the connection registry. Each
// request selects one registered connection and drives one operation on it.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/geopg/internal/database"
	"github.com/koustreak/geopg/internal/database/postgres"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/logger"
	"github.com/koustreak/geopg/internal/registry"
)

// Server routes requests to registry connections.
type Server struct {
	reg    *registry.Registry
	log    *logger.Logger
	router chi.Router

	// A Connection is single-session; operations run one at a time.
	mu sync.Mutex
}

// New builds the router.
func New(reg *registry.Registry, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{reg: reg, log: log.Component("server")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Route("/connections", func(r chi.Router) {
		r.Get("/", s.listConnections)
		r.Post("/", s.openConnection)

		r.Route("/{conn}", func(r chi.Router) {
			r.Delete("/", s.closeConnection)
			r.Get("/version", s.version)
			r.Post("/tx/{action}", s.transaction)
			r.Post("/query", s.query)

			r.Get("/tables", s.listTables)
			r.Get("/tables/{table}", s.loadTable)
			r.Get("/tables/{table}/fields", s.fieldDesc)

			r.Get("/shapes", s.listGeometryTables)
			r.Get("/shapes/{table}", s.loadShapes)

			r.Get("/rasters", s.listRasterTables)
			r.Get("/rasters/{table}", s.loadRaster)
		})
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.RequestEvent().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// withConn resolves the {conn} parameter and runs fn on it under the
// server lock.
func (s *Server) withConn(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, c *postgres.Connection) error) {
	name, err := param(r, "conn")
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.reg.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(r.Context(), c); err != nil {
		writeError(w, err)
	}
}

// param returns a path parameter with percent-escapes removed.
func param(r *http.Request, key string) (string, error) {
	v, err := url.PathUnescape(chi.URLParam(r, key))
	if err != nil || v == "" {
		return "", errs.Newf(errs.ErrKindInvalidInput, "invalid %s in path", key)
	}
	return v, nil
}

func boolQuery(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

type connectRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslmode"`
}

type connectionInfo struct {
	Name          string `json:"name"`
	User          string `json:"user"`
	InTransaction bool   `json:"in_transaction"`
}

func info(c *postgres.Connection) connectionInfo {
	return connectionInfo{Name: c.DisplayName(), User: c.User(), InTransaction: c.InTransaction()}
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	out := make([]connectionInfo, 0)
	for _, name := range s.reg.Names() {
		if c, err := s.reg.Get(name); err == nil {
			out = append(out, info(c))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) openConnection(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return
	}
	cfg := database.DefaultConfig(req.Database, req.User, req.Password)
	if req.Host != "" {
		cfg.Host = req.Host
	}
	if req.Port != 0 {
		cfg.Port = req.Port
	}
	if req.SSLMode != "" {
		cfg.SSLMode = req.SSLMode
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.reg.Add(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info(c))
}

func (s *Server) closeConnection(w http.ResponseWriter, r *http.Request) {
	name, err := param(r, "conn")
	if err != nil {
		writeError(w, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.Del(r.Context(), name, boolQuery(r, "commit", false)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	s.withConn(w, r, func(ctx context.Context, c *postgres.Connection) error {
		v, err := c.Version(ctx)
		if err != nil {
			return err
		}
		out := map[string]string{"server": v.String()}
		if pg, err := c.PostGIS(ctx); err == nil {
			out["postgis"] = pg.String()
		}
		writeJSON(w, http.StatusOK, out)
		return nil
	})
}

func (s *Server) transaction(w http.ResponseWriter, r *http.Request) {
	s.withConn(w, r, func(ctx context.Context, c *postgres.Connection) error {
		savepoint := r.URL.Query().Get("savepoint")
		var err error
		switch action := chi.URLParam(r, "action"); action {
		case "begin":
			err = c.Begin(ctx, savepoint)
		case "commit":
			err = c.Commit(ctx, savepoint)
		case "rollback":
			err = c.Rollback(ctx, savepoint)
		default:
			err = errs.Newf(errs.ErrKindInvalidInput, "unknown transaction action %q", action)
		}
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, info(c))
		return nil
	})
}

type queryRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SQL == "" {
		writeError(w, errs.New(errs.ErrKindInvalidInput, "request body needs a sql statement"))
		return
	}
	s.withConn(w, r, func(ctx context.Context, c *postgres.Connection) error {
		out := newResultTable()
		if err := c.Execute(ctx, req.SQL, out); err != nil {
			return err
		}
		if out.Fields == nil {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return nil
		}
		writeJSON(w, http.StatusOK, tableJSON(out))
		return nil
	})
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	s.withConn(w, r, func(ctx context.Context, c *postgres.Connection) error {
		names, err := c.Tables(ctx)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, nonNil(names))
		return nil
	})
}

func (s *Server) listGeometryTables(w http.ResponseWriter, r *http.Request) {
	s.withConn(w, r, func(ctx context.Context, c *postgres.Connection) error {
		names, err := c.GeometryTables(ctx)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, nonNil(names))
		return nil
	})
}

func (s *Server) listRasterTables(w http.ResponseWriter, r *http.Request) {
	s.withConn(w, r, func(ctx context.Context, c *postgres.Connection) error {
		names, err := c.RasterTables(ctx)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, nonNil(names))
		return nil
	})
}

func (s *Server) loadTable(w http.ResponseWriter, r *http.Request) {
	s.withConn(w, r, func(ctx context.Context, c *postgres.Connection) error {
		name, err := param(r, "table")
		if err != nil {
			return err
		}
		out := newResultTable()
		if err := c.TableLoad(ctx, out, name); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, tableJSON(out))
		return nil
	})
}

func (s *Server) fieldDesc(w http.ResponseWriter, r *http.Request) {
	s.withConn(w, r, func(ctx context.Context, c *postgres.Connection) error {
		name, err := param(r, "table")
		if err != nil {
			return err
		}
		desc, err := c.FieldDesc(ctx, name)
		if err != nil {
			return err
		}
		if desc.Len() == 0 {
			return errs.Newf(errs.ErrKindNotFound, "table %q has no columns", name)
		}
		writeJSON(w, http.StatusOK, tableJSON(desc))
		return nil
	})
}

func (s *Server) loadShapes(w http.ResponseWriter, r *http.Request) {
	s.withConn(w, r, func(ctx context.Context, c *postgres.Connection) error {
		name, err := param(r, "table")
		if err != nil {
			return err
		}
		shapes, err := c.ShapesLoadTable(ctx, name, r.URL.Query().Get("where"))
		if err != nil {
			return err
		}
		return writeGeoJSON(w, shapes)
	})
}

func (s *Server) loadRaster(w http.ResponseWriter, r *http.Request) {
	s.withConn(w, r, func(ctx context.Context, c *postgres.Connection) error {
		name, err := param(r, "table")
		if err != nil {
			return err
		}
		q := r.URL.Query()
		grids, err := c.RasterLoad(ctx, name, q.Get("where"), q.Get("order"), boolQuery(r, "binary", true))
		if err != nil {
			return err
		}
		out := make([]gridJSON, len(grids))
		for i, g := range grids {
			out[i] = newGridJSON(g, boolQuery(r, "values", false))
		}
		writeJSON(w, http.StatusOK, out)
		return nil
	})
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
