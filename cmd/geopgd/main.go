// Command geopgd serves the PostGIS exchange operations over HTTP.
//
//	geopgd -config geopg.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koustreak/geopg/internal/config"
	"github.com/koustreak/geopg/internal/logger"
	"github.com/koustreak/geopg/internal/registry"
	"github.com/koustreak/geopg/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "geopgd:", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.String("config", "", "configuration file (defaults apply when empty)")
	flag.Parse()

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			return err
		}
	}

	log := logger.New(&cfg.Logger)
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(log, nil)
	for i := range cfg.Connections {
		conn := &cfg.Connections[i]
		if _, err := reg.Add(ctx, conn); err != nil {
			log.ErrorWith("startup connection failed", err, map[string]any{"connection": conn.DisplayName()})
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(reg, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.InfoWith("listening", map[string]any{"addr": cfg.Server.Addr, "connections": reg.Len()})
		errc <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorWith("http shutdown failed", err, nil)
	}
	if err := reg.CloseAll(shutdownCtx, cfg.CommitOnShutdown()); err != nil {
		log.ErrorWith("closing connections failed", err, nil)
	}
	return serveErr
}
