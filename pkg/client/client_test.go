package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gatewaylabs/toolgate/pkg/client"
)

func TestClient_listServers(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/servers" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("authorization: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"servers": [{"path": "/context7", "server_name": "Context7", "is_enabled": true}], "total": 1}`))
	}))
	defer ts.Close()

	c := client.New(ts.URL, client.WithBearerToken("tok-123"))
	servers, err := c.ListServers(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(servers) != 1 || servers[0].Name != "Context7" || !servers[0].IsEnabled {
		t.Errorf("servers: %+v", servers)
	}
}

func TestClient_registerServerSendsForm(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type: %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("path") != "/context7" || r.PostForm.Get("tags") != "docs,search" {
			t.Errorf("form: %v", r.PostForm)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"message": "ok", "server": {"path": "/context7", "server_name": "Context7"}}`))
	}))
	defer ts.Close()

	srv, err := client.New(ts.URL).RegisterServer(context.Background(), client.RegisterServerRequest{
		Name:     "Context7",
		Path:     "/context7",
		ProxyURL: "http://localhost:9100/mcp",
		Tags:     []string{"docs", "search"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if srv.Path != "/context7" {
		t.Errorf("server: %+v", srv)
	}
}

func TestClient_apiError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"detail":     "server \"/ghost\" not found",
			"error_code": "not_found",
			"request_id": "req-1",
		})
	}))
	defer ts.Close()

	_, err := client.New(ts.URL).ListServers(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type: %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.ErrorCode != "not_found" || apiErr.RequestID != "req-1" {
		t.Errorf("api error: %+v", apiErr)
	}
}

func TestClient_agentPathsConcatenate(t *testing.T) {
	var seen string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Path + "?" + r.URL.RawQuery
		w.Write([]byte(`{"path": "/teams/summarizer", "is_enabled": true}`))
	}))
	defer ts.Close()

	c := client.New(ts.URL)
	if _, err := c.ToggleAgent(context.Background(), "/teams/summarizer", true); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if seen != "/api/agents/teams/summarizer/toggle?enabled=true" {
		t.Errorf("request target: %q", seen)
	}
}
