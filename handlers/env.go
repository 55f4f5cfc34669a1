// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/quickly-assign/cliparse"
	"github.com/danielhkuo/quickly-assign/metrics"
	"github.com/danielhkuo/quickly-assign/middleware"
	"github.com/danielhkuo/quickly-assign/quota"
	"github.com/danielhkuo/quickly-assign/session"
	"github.com/danielhkuo/quickly-assign/store"
)

// Env is what every handler needs.
type Env struct {
	Config   cliparse.Config
	Store    *store.Store
	Sessions store.SessionStore
	Metrics  *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e Env) sessionConfig(expID, version string) session.Config {
	return session.Config{
		ExpID:   expID,
		Version: version,
		Timeout: e.Config.SessionTimeout,
		Now:     e.now,
	}
}

func (e Env) quotaDeps() quota.Deps {
	return quota.Deps{Store: e.Store, Sessions: e.Sessions, Metrics: e.Metrics, Now: e.now}
}

// writeError maps engine errors to HTTP responses. Anything unexpected is
// logged and reported as 500 with msg.
func writeError(w http.ResponseWriter, err error, msg string) {
	var consistency *quota.ConsistencyError
	var timeout *store.LockTimeoutError
	var lost *store.LockLostError
	switch {
	case errors.Is(err, quota.ErrInvalid):
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &consistency):
		middleware.ErrorResponse(w, http.StatusConflict, consistency.Error())
	case errors.Is(err, quota.ErrAllSlotsFull):
		middleware.ErrorResponse(w, http.StatusConflict, "All slots are full")
	case errors.Is(err, session.ErrSessionClosed):
		middleware.ErrorResponse(w, http.StatusConflict, "Session already finished or aborted")
	case errors.Is(err, store.ErrSessionNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, store.ErrNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, "Allocation record not found")
	case errors.As(err, &timeout):
		slog.Warn("allocation record busy", "exp_id", timeout.Key.ExpID, "name", timeout.Key.Name, "waited", timeout.Waited)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Allocation record is busy, try again")
	case errors.As(err, &lost):
		slog.Warn("allocation lock lost to takeover", "exp_id", lost.Key.ExpID, "name", lost.Key.Name)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Allocation took too long, try again")
	case errors.Is(err, context.Canceled):
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Request canceled")
	default:
		slog.Error(msg, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, msg)
	}
}
