// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/quickly-assign/middleware"
	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/session"
)

type SessionHandler struct {
	env Env
}

func NewSessionHandler(env Env) *SessionHandler {
	return &SessionHandler{env: env}
}

// CreateSession handles POST /experiments/{exp}/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	expID := r.PathValue("exp")
	if expID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "exp is required")
		return
	}

	s, err := session.Create(r.Context(), h.env.Sessions, h.env.sessionConfig(expID, ""))
	if err != nil {
		writeError(w, err, "Failed to create session")
		return
	}

	slog.Info("session created", "exp_id", expID, "session_id", s.SessionID())

	middleware.JSONResponse(w, http.StatusCreated, models.CreateSessionResponse{
		SessionID: s.SessionID(),
	})
}

// GetSession handles GET /experiments/{exp}/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	d, err := h.env.Sessions.GetSession(r.Context(), r.PathValue("exp"), r.PathValue("id"))
	if err != nil {
		writeError(w, err, "Failed to load session")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, d)
}

// StartSession handles POST /experiments/{exp}/sessions/{id}/start
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*session.Session).Start)
}

// SaveSession handles POST /experiments/{exp}/sessions/{id}/save
func (h *SessionHandler) SaveSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*session.Session).Save)
}

// FinishSession handles POST /experiments/{exp}/sessions/{id}/finish
func (h *SessionHandler) FinishSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*session.Session).Finish)
}

// AbortSession handles POST /experiments/{exp}/sessions/{id}/abort
func (h *SessionHandler) AbortSession(w http.ResponseWriter, r *http.Request) {
	req := models.AbortRequest{Reason: models.AbortParticipant}
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Reason == "" {
		req.Reason = models.AbortParticipant
	}
	h.transition(w, r, func(s *session.Session, ctx context.Context) error {
		return s.Abort(ctx, req.Reason, req.Page)
	})
}

func (h *SessionHandler) transition(w http.ResponseWriter, r *http.Request, op func(*session.Session, context.Context) error) {
	expID, id := r.PathValue("exp"), r.PathValue("id")
	s, err := session.Load(r.Context(), h.env.Sessions, h.env.sessionConfig(expID, ""), id)
	if err != nil {
		writeError(w, err, "Failed to load session")
		return
	}
	if err := op(s, r.Context()); err != nil {
		writeError(w, err, "Failed to update session")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, s.Data())
}
