// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"

	"github.com/danielhkuo/quickly-assign/handlers"
	"github.com/danielhkuo/quickly-assign/middleware"
)

func NewRouter(env handlers.Env) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(env)
	allocationHandler := handlers.NewAllocationHandler(env)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if env.Metrics != nil {
		mux.Handle("GET /metrics", env.Metrics.Handler())
	}

	// Participant sessions
	mux.HandleFunc("POST /experiments/{exp}/sessions", middleware.WithLogging(sessionHandler.CreateSession))
	mux.HandleFunc("GET /experiments/{exp}/sessions/{id}", middleware.WithLogging(sessionHandler.GetSession))
	mux.HandleFunc("POST /experiments/{exp}/sessions/{id}/start", middleware.WithLogging(sessionHandler.StartSession))
	mux.HandleFunc("POST /experiments/{exp}/sessions/{id}/save", middleware.WithLogging(sessionHandler.SaveSession))
	mux.HandleFunc("POST /experiments/{exp}/sessions/{id}/finish", middleware.WithLogging(sessionHandler.FinishSession))
	mux.HandleFunc("POST /experiments/{exp}/sessions/{id}/abort", middleware.WithLogging(sessionHandler.AbortSession))

	// Randomizers
	mux.HandleFunc("POST /experiments/{exp}/randomizers/{name}/condition", middleware.WithLogging(allocationHandler.Condition))
	mux.HandleFunc("GET /experiments/{exp}/randomizers/{name}/status", middleware.WithLogging(allocationHandler.RandomizerStatus))

	// Quotas
	mux.HandleFunc("POST /experiments/{exp}/quotas/{name}/count", middleware.WithLogging(allocationHandler.Count))
	mux.HandleFunc("GET /experiments/{exp}/quotas/{name}/status", middleware.WithLogging(allocationHandler.QuotaStatus))

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("quickly-assign API v1"))
	})

	return mux
}
