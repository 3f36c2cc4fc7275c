package handler_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
)

const summarizerCard = `{
	"name": "Summarizer",
	"description": "summarizes long documents",
	"url": "http://localhost:9200",
	"version": "1.2.0",
	"skills": [
		{"id": "summarization", "name": "Summarization", "description": "Condense text"}
	],
	"tags": "nlp"
}`

func registerSummarizer(t *testing.T, fx *registryFixture, token string, enable bool) {
	t.Helper()
	w := fx.postJSON(t, "/api/agents/register", token, summarizerCard)
	if w.Code != http.StatusCreated {
		t.Fatalf("register agent: status %d, body %s", w.Code, w.Body)
	}
	if enable {
		w = fx.postJSON(t, "/api/agents/summarizer/toggle?enabled=true", token, "")
		if w.Code != http.StatusOK {
			t.Fatalf("enable agent: status %d, body %s", w.Code, w.Body)
		}
	}
}

func TestAgentRegisterEndpoint(t *testing.T) {
	fx := newRegistryRouter(t)

	w := fx.postJSON(t, "/api/agents/register", adminToken(t), summarizerCard)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", w.Code, w.Body)
	}
	body := decodeBody(t, w)
	agent, ok := body["agent"].(map[string]any)
	if !ok {
		t.Fatalf("missing agent object: %v", body)
	}
	if agent["path"] != "/summarizer" || agent["num_skills"] != float64(1) {
		t.Errorf("agent summary: %v", agent)
	}
	if agent["is_enabled"] != false {
		t.Error("agent must start disabled")
	}
	if agent["registered_at"] == "" {
		t.Error("registered_at missing")
	}
}

func TestAgentRegisterEndpoint_validation(t *testing.T) {
	fx := newRegistryRouter(t)

	w := fx.postJSON(t, "/api/agents/register", adminToken(t), `{"name": "NoURL"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, body %s", w.Code, w.Body)
	}
	if resp := decodeError(t, w); resp.ErrorCode != "invalid" {
		t.Errorf("error body: %+v", resp)
	}
}

func TestAgentGetAndToggleEndpoints(t *testing.T) {
	fx := newRegistryRouter(t)
	token := adminToken(t)
	registerSummarizer(t, fx, token, true)

	w := fx.do(t, http.MethodGet, "/api/agents/summarizer", token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d, body %s", w.Code, w.Body)
	}
	body := decodeBody(t, w)
	if body["path"] != "/summarizer" || body["is_enabled"] != true {
		t.Errorf("agent: %v", body)
	}

	w = fx.do(t, http.MethodGet, "/api/agents/ghost", token, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown agent: status %d", w.Code)
	}
}

// scanStub serves one canned agent scan result.
type scanStub struct {
	agentScan *model.ScanResult
}

func (s *scanStub) ServerScanOnRegistration() bool { return false }
func (s *scanStub) AgentScanOnRegistration() bool  { return false }
func (s *scanStub) EnqueueServerScan(string)       {}
func (s *scanStub) EnqueueAgentScan(string)        {}

func (s *scanStub) ScanServerNow(context.Context, string) (*model.ScanResult, error) {
	return nil, storage.ErrNoScan
}

func (s *scanStub) ScanAgentNow(context.Context, string) (*model.ScanResult, error) {
	return s.agentScan, nil
}

func (s *scanStub) LatestServerScan(string) (*model.ScanResult, error) {
	return nil, storage.ErrNoScan
}

func (s *scanStub) LatestAgentScan(string) (*model.ScanResult, error) {
	return s.agentScan, nil
}

func TestAgentListCarriesScanSummary(t *testing.T) {
	fx := newRegistryRouter(t)
	token := adminToken(t)
	registerSummarizer(t, fx, token, false)
	fx.agentSvc.SetScanner(&scanStub{agentScan: &model.ScanResult{
		Path:          "/summarizer",
		ScanTimestamp: "2026-08-24T10:00:00Z",
		IsSafe:        false,
		ScanFailed:    false,
	}})

	w := fx.do(t, http.MethodGet, "/api/agents", token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d, body %s", w.Code, w.Body)
	}
	body := decodeBody(t, w)
	agents, ok := body["agents"].([]any)
	if !ok || len(agents) != 1 {
		t.Fatalf("agents: %v", body)
	}
	entry := agents[0].(map[string]any)
	if entry["last_scan_time"] != "2026-08-24T10:00:00Z" {
		t.Errorf("last_scan_time: %v", entry["last_scan_time"])
	}
	if entry["is_safe"] != false {
		t.Errorf("is_safe: %v", entry["is_safe"])
	}
	if entry["scan_failed"] != false {
		t.Errorf("scan_failed: %v", entry["scan_failed"])
	}
}

func TestAgentToggleEndpoint_badFlag(t *testing.T) {
	fx := newRegistryRouter(t)
	token := adminToken(t)
	registerSummarizer(t, fx, token, false)

	w := fx.postJSON(t, "/api/agents/summarizer/toggle?enabled=maybe", token, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, body %s", w.Code, w.Body)
	}
}

func TestAgentRateEndpoints(t *testing.T) {
	fx := newRegistryRouter(t)
	token := adminToken(t)
	registerSummarizer(t, fx, token, true)

	w := fx.postJSON(t, "/api/agents/summarizer/rate", token, `{"rating": 4}`)
	if w.Code != http.StatusOK {
		t.Fatalf("rate: status %d, body %s", w.Code, w.Body)
	}
	if body := decodeBody(t, w); body["average"] != float64(4) {
		t.Errorf("rate body: %v", body)
	}

	w = fx.do(t, http.MethodGet, "/api/agents/summarizer/rating", token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rating: status %d", w.Code)
	}
	if body := decodeBody(t, w); body["num_stars"] != float64(4) {
		t.Errorf("rating body: %v", body)
	}
}

func TestAgentDiscoverEndpoint(t *testing.T) {
	fx := newRegistryRouter(t)
	token := adminToken(t)
	registerSummarizer(t, fx, token, true)

	w := fx.postJSON(t, "/api/agents/discover", token, `{"skills": ["summarization"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("discover: status %d, body %s", w.Code, w.Body)
	}
	body := decodeBody(t, w)
	if body["total"] != float64(1) {
		t.Fatalf("discover total: %v", body)
	}
	hits := body["agents"].([]any)
	hit := hits[0].(map[string]any)
	if hit["relevance_score"] == float64(0) {
		t.Errorf("relevance missing: %v", hit)
	}

	// An empty skill list fails validation before reaching the service.
	w = fx.postJSON(t, "/api/agents/discover", token, `{"skills": []}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty skills: status %d", w.Code)
	}
}

func TestAgentDiscoverSemanticEndpoint(t *testing.T) {
	fx := newRegistryRouter(t)
	token := adminToken(t)
	registerSummarizer(t, fx, token, true)

	w := fx.postJSON(t, "/api/agents/discover/semantic?query=summarize+documents", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body)
	}
	if body := decodeBody(t, w); body["total"] == nil {
		t.Errorf("body: %v", body)
	}

	w = fx.postJSON(t, "/api/agents/discover/semantic", token, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing query: status %d", w.Code)
	}
}

func TestAgentUpdateEndpoint(t *testing.T) {
	fx := newRegistryRouter(t)
	token := adminToken(t)
	registerSummarizer(t, fx, token, false)

	w := fx.do(t, http.MethodPut, "/api/agents/summarizer", token,
		"application/json", strings.NewReader(`{"description": "now with citations"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", w.Code, w.Body)
	}
	agent, _ := fx.agents.Get("/summarizer")
	if agent.Description != "now with citations" {
		t.Errorf("description: got %q", agent.Description)
	}
}

func TestAgentDeleteEndpoint(t *testing.T) {
	fx := newRegistryRouter(t)
	token := adminToken(t)
	registerSummarizer(t, fx, token, false)

	w := fx.do(t, http.MethodDelete, "/api/agents/summarizer", token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d, body %s", w.Code, w.Body)
	}
	if _, err := fx.agents.Get("/summarizer"); err == nil {
		t.Error("agent still present after delete")
	}
}

func TestAgentUnknownOperation(t *testing.T) {
	fx := newRegistryRouter(t)
	token := adminToken(t)
	registerSummarizer(t, fx, token, false)

	w := fx.postJSON(t, "/api/agents/summarizer/frobnicate", token, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, body %s", w.Code, w.Body)
	}
}

func TestSearchEndpoint(t *testing.T) {
	fx := newRegistryRouter(t)
	token := adminToken(t)
	fx.postForm(t, "/api/servers/register", token, serverForm("/context7"))
	fx.postForm(t, "/api/servers/toggle", token,
		map[string][]string{"path": {"/context7"}, "enabled": {"true"}})

	w := fx.do(t, http.MethodGet, "/api/search?query=library+documentation", token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: status %d, body %s", w.Code, w.Body)
	}
	body := decodeBody(t, w)
	if _, ok := body["servers"]; !ok {
		t.Errorf("servers view missing: %v", body)
	}

	w = fx.do(t, http.MethodGet, "/api/search", token, "", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing query: status %d", w.Code)
	}
}
