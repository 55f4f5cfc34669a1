// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielhkuo/quickly-assign/metrics"
	"github.com/danielhkuo/quickly-assign/middleware"
	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/store"
	"github.com/danielhkuo/quickly-assign/testutil"
)

func setupEnv(t *testing.T) (Env, *testutil.Clock) {
	t.Helper()
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	clock := testutil.NewClock()
	st := store.New(store.NewSQLBackend(conn), store.Options{
		Poll:    cfg.LockPoll,
		Timeout: cfg.LockTimeout,
		Lease:   cfg.LockLease,
	}, nil)
	return Env{
		Config:   cfg,
		Store:    st,
		Sessions: store.NewSQLSessions(conn),
		Metrics:  metrics.New(),
		Now:      clock.Now,
	}, clock
}

// request builds a request with path values set, as the mux would.
func request(method, path string, body any, sessionID string, values map[string]string) *http.Request {
	headers := map[string]string{}
	if sessionID != "" {
		headers[middleware.SessionHeader] = sessionID
	}
	req := testutil.MakeRequest(method, path, body, headers)
	for k, v := range values {
		req.SetPathValue(k, v)
	}
	return req
}

// startedSession creates a session for exp and starts it.
func startedSession(t *testing.T, h *SessionHandler, exp string) string {
	t.Helper()
	w := httptest.NewRecorder()
	h.CreateSession(w, request("POST", "/experiments/"+exp+"/sessions", nil, "", map[string]string{"exp": exp}))
	testutil.AssertStatus(t, w, http.StatusCreated)
	var created models.CreateSessionResponse
	testutil.AssertJSON(t, w, &created)

	w = httptest.NewRecorder()
	h.StartSession(w, request("POST", "/experiments/"+exp+"/sessions/"+created.SessionID+"/start", nil, "",
		map[string]string{"exp": exp, "id": created.SessionID}))
	testutil.AssertStatus(t, w, http.StatusOK)
	return created.SessionID
}
