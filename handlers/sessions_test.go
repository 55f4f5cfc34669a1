// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielhkuo/quickly-assign/models"
)

func TestSessionLifecycle(t *testing.T) {
	env, clock := setupEnv(t)
	h := NewSessionHandler(env)
	id := startedSession(t, h, "exp")
	values := map[string]string{"exp": "exp", "id": id}

	w := httptest.NewRecorder()
	h.GetSession(w, request("GET", "/experiments/exp/sessions/"+id, nil, "", values))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var d models.SessionData
	if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
		t.Fatal(err)
	}
	if d.StartTime == nil || !d.StartTime.Equal(clock.Now()) {
		t.Errorf("start time = %v, want %v", d.StartTime, clock.Now())
	}

	w = httptest.NewRecorder()
	h.FinishSession(w, request("POST", "/experiments/exp/sessions/"+id+"/finish", nil, "", values))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	t.Run("finish twice conflicts", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.FinishSession(w, request("POST", "/experiments/exp/sessions/"+id+"/finish", nil, "", values))
		if w.Code != http.StatusConflict {
			t.Errorf("Expected status 409, got %d", w.Code)
		}
	})

	t.Run("abort after finish conflicts", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.AbortSession(w, request("POST", "/experiments/exp/sessions/"+id+"/abort", nil, "", values))
		if w.Code != http.StatusConflict {
			t.Errorf("Expected status 409, got %d", w.Code)
		}
	})
}

func TestAbortSession(t *testing.T) {
	env, _ := setupEnv(t)
	h := NewSessionHandler(env)

	tests := []struct {
		name       string
		body       any
		wantReason string
		wantPage   string
	}{
		{"default reason", nil, models.AbortParticipant, ""},
		{"custom reason", models.AbortRequest{Reason: "screenout", Page: "bye.html"}, "screenout", "bye.html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := startedSession(t, h, "exp")
			w := httptest.NewRecorder()
			h.AbortSession(w, request("POST", "/experiments/exp/sessions/"+id+"/abort", tt.body, "",
				map[string]string{"exp": "exp", "id": id}))
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
			}
			var d models.SessionData
			if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
				t.Fatal(err)
			}
			if !d.Aborted || d.AbortReason != tt.wantReason || d.AbortPage != tt.wantPage {
				t.Errorf("session = %+v", d)
			}
		})
	}
}

func TestSessionNotFound(t *testing.T) {
	env, _ := setupEnv(t)
	h := NewSessionHandler(env)
	values := map[string]string{"exp": "exp", "id": "missing"}

	for name, fn := range map[string]http.HandlerFunc{
		"get":    h.GetSession,
		"start":  h.StartSession,
		"save":   h.SaveSession,
		"finish": h.FinishSession,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			fn(w, request("POST", "/experiments/exp/sessions/missing", nil, "", values))
			if w.Code != http.StatusNotFound {
				t.Errorf("Expected status 404, got %d", w.Code)
			}
		})
	}
}
