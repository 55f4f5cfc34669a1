// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/quickly-assign/cliparse"
	"github.com/danielhkuo/quickly-assign/db"
	"github.com/danielhkuo/quickly-assign/handlers"
	"github.com/danielhkuo/quickly-assign/metrics"
	"github.com/danielhkuo/quickly-assign/middleware"
	"github.com/danielhkuo/quickly-assign/router"
	"github.com/danielhkuo/quickly-assign/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	slog.SetDefault(newLogger(os.Stderr, level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("Server closed")
}

// newLogger writes text to terminals and JSON everywhere else.
func newLogger(w *os.File, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openBackends returns the allocation record backend and the session store
// selected by cfg, plus a cleanup function.
func openBackends(cfg cliparse.Config) (store.Backend, store.SessionStore, func(), error) {
	if cfg.Backend == cliparse.BackendFile {
		records, err := store.NewFileBackend(filepath.Join(cfg.DataDir, "allocations"))
		if err != nil {
			return nil, nil, nil, err
		}
		sessions, err := store.NewFileSessions(filepath.Join(cfg.DataDir, "sessions"))
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("Using file backend", "dir", cfg.DataDir)
		return records, sessions, func() {}, nil
	}

	conn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := db.CreateSchema(conn); err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("schema creation failed: %w", err)
	}
	slog.Info("Database schema ready", "type", cfg.DatabaseType)
	return store.NewSQLBackend(conn), store.NewSQLSessions(conn), func() { conn.Close() }, nil
}

func run(ctx context.Context, cfg cliparse.Config) error {
	backend, sessions, cleanup, err := openBackends(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	m := metrics.New()
	st := store.New(backend, store.Options{
		Poll:    cfg.LockPoll,
		Timeout: cfg.LockTimeout,
		Lease:   cfg.LockLease,
	}, m)

	mux := router.NewRouter(handlers.Env{
		Config:   cfg,
		Store:    st,
		Sessions: sessions,
		Metrics:  m,
	})

	server := &http.Server{
		Handler:           middleware.CORS(mux),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Listening", "port", cfg.Port, "backend", cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
