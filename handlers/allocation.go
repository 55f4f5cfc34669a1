// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/quickly-assign/middleware"
	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/quota"
	"github.com/danielhkuo/quickly-assign/session"
	"github.com/danielhkuo/quickly-assign/slots"
)

type AllocationHandler struct {
	env Env
}

func NewAllocationHandler(env Env) *AllocationHandler {
	return &AllocationHandler{env: env}
}

// Condition handles POST /experiments/{exp}/randomizers/{name}/condition
func (h *AllocationHandler) Condition(w http.ResponseWriter, r *http.Request) {
	var req models.ConditionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Conditions) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "conditions are required")
		return
	}

	s, ok := h.loadSession(w, r, req.AllocationOptions)
	if !ok {
		return
	}

	conds := make([]quota.Condition, 0, len(req.Conditions))
	for _, c := range req.Conditions {
		conds = append(conds, quota.Condition{Label: c.Label, Count: c.Count})
	}
	opts := options(r.PathValue("name"), req.AllocationOptions)
	opts.Seed = req.Seed

	alloc, err := quota.NewAllocator(r.Context(), s, h.env.quotaDeps(), opts, conds...)
	if err != nil {
		writeError(w, err, "Failed to set up randomizer")
		return
	}
	label, err := alloc.Condition(r.Context(), req.Raise)
	respond(w, label, err, opts.AbortPage)
}

// Count handles POST /experiments/{exp}/quotas/{name}/count
func (h *AllocationHandler) Count(w http.ResponseWriter, r *http.Request) {
	var req models.CountRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.NSlots <= 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "nslots must be positive")
		return
	}

	s, ok := h.loadSession(w, r, req.AllocationOptions)
	if !ok {
		return
	}

	opts := options(r.PathValue("name"), req.AllocationOptions)
	q, err := quota.NewSessionQuota(r.Context(), req.NSlots, s, h.env.quotaDeps(), opts)
	if err != nil {
		writeError(w, err, "Failed to set up quota")
		return
	}
	label, err := q.Count(r.Context(), req.Raise)
	respond(w, label, err, opts.AbortPage)
}

// RandomizerStatus handles GET /experiments/{exp}/randomizers/{name}/status
func (h *AllocationHandler) RandomizerStatus(w http.ResponseWriter, r *http.Request) {
	h.status(w, r, models.TypeRandomizer)
}

// QuotaStatus handles GET /experiments/{exp}/quotas/{name}/status
func (h *AllocationHandler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	h.status(w, r, models.TypeQuota)
}

func (h *AllocationHandler) status(w http.ResponseWriter, r *http.Request, recordType string) {
	expID := r.PathValue("exp")
	key := models.RecordKey{
		ExpID:      expID,
		ExpVersion: r.URL.Query().Get("version"),
		Type:       recordType,
		Name:       r.PathValue("name"),
	}
	if rv := r.URL.Query().Get("respect_version"); rv != "" {
		respect, err := strconv.ParseBool(rv)
		if err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "respect_version must be a boolean")
			return
		}
		if !respect {
			key.ExpVersion = ""
		}
	}

	c := slots.NewChecker(h.env.Sessions, expID, h.env.Config.SessionTimeout, h.env.now)
	st, err := quota.StatusOf(r.Context(), h.env.quotaDeps(), key, c)
	if err != nil {
		writeError(w, err, "Failed to compute status")
		return
	}

	now := h.env.now()
	resp := models.StatusResponse{
		Name:        key.Name,
		Type:        recordType,
		Inclusive:   st.Inclusive,
		NSlots:      st.NSlots,
		NOpen:       st.NOpen,
		NPending:    st.NPending,
		NFinished:   st.NFinished,
		Full:        st.Full,
		AllFinished: st.AllFinished,
		Slots:       make([]models.SlotReport, 0, len(st.Slots)),
	}
	for _, ss := range st.Slots {
		rep := models.SlotReport{Label: ss.Label, State: ss.State, Groups: ss.Groups, Pending: ss.NPending}
		if !ss.LastSave.IsZero() {
			rep.LastActivity = humanize.RelTime(ss.LastSave, now, "ago", "from now")
		}
		resp.Slots = append(resp.Slots, rep)
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// loadSession reads the session named by the X-Session-ID header.
func (h *AllocationHandler) loadSession(w http.ResponseWriter, r *http.Request, o models.AllocationOptions) (*session.Session, bool) {
	id := r.Header.Get(middleware.SessionHeader)
	if id == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, middleware.SessionHeader+" header is required")
		return nil, false
	}
	if len(o.SessionIDs) > 0 && !slices.Contains(o.SessionIDs, id) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "session_ids must contain the requesting session")
		return nil, false
	}
	s, err := session.Load(r.Context(), h.env.Sessions, h.env.sessionConfig(r.PathValue("exp"), o.Version), id)
	if err != nil {
		writeError(w, err, "Failed to load session")
		return nil, false
	}
	return s, true
}

func options(name string, o models.AllocationOptions) quota.Options {
	return quota.Options{
		Name:          name,
		IgnoreVersion: o.RespectVersion != nil && !*o.RespectVersion,
		Inclusive:     o.Inclusive,
		AbortPage:     o.AbortPage,
		SessionIDs:    o.SessionIDs,
	}
}

func respond(w http.ResponseWriter, label string, err error, abortPage string) {
	if err != nil {
		writeError(w, err, "Allocation failed")
		return
	}
	resp := models.AllocationResponse{Label: label}
	if label == models.LabelAborted {
		resp.Aborted = true
		resp.AbortPage = abortPage
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}
