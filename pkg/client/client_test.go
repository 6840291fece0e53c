package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.Email != "ops@example.com" {
			t.Errorf("email = %q", req.Email)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	token, err := c.Login(context.Background(), "ops@example.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "tok-123" {
		t.Errorf("token = %q, want tok-123", token)
	}
	if c.token != "tok-123" {
		t.Error("token not attached to client")
	}
}

func TestRegisterAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"agent":   map[string]string{"agent_id": "agent-1", "status": "active"},
			"api_key": "snt_abc",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("tok"))
	res, err := c.RegisterAgent(context.Background(), "agent-1", "host-1", "linux", "1.0.0", "")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if res.APIKey != "snt_abc" {
		t.Errorf("APIKey = %q", res.APIKey)
	}
	if res.Agent.AgentID != "agent-1" || res.Agent.Status != "active" {
		t.Errorf("agent = %+v", res.Agent)
	}
}

func TestListAgents_pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.RawQuery; got != "limit=10&offset=20" {
			t.Errorf("query = %q, want limit=10&offset=20", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"agents": []map[string]string{{"agent_id": "a"}, {"agent_id": "b"}},
			"count":  2,
		})
	}))
	defer srv.Close()

	agents, err := New(srv.URL).ListAgents(context.Background(), 10, 20)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("len = %d, want 2", len(agents))
	}
}

func TestHeartbeat_rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "heartbeat rejected"})
	}))
	defer srv.Close()

	err := New(srv.URL).Heartbeat(context.Background(), "agent-1", "snt_bad")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRevokeAgent_notFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "agent not found"})
	}))
	defer srv.Close()

	err := New(srv.URL).RevokeAgent(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
