package handler_test

import (
	"net/http"
	"testing"
)

// The /v0.1 catalog is public: no Authorization header anywhere below.

func TestCatalogEndpoints(t *testing.T) {
	fx := newRegistryRouter(t)
	fx.postForm(t, "/api/servers/register", adminToken(t), serverForm("/context7"))

	w := fx.do(t, http.MethodGet, "/v0.1/servers", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d, body %s", w.Code, w.Body)
	}
	body := decodeBody(t, w)
	servers, ok := body["servers"].([]any)
	if !ok || len(servers) != 1 {
		t.Fatalf("servers: %v", body)
	}
	entry := servers[0].(map[string]any)
	if entry["name"] != "Context7" || entry["version"] != "latest" {
		t.Errorf("entry: %v", entry)
	}
	meta := entry["_meta"].(map[string]any)
	if meta["path"] != "/context7" || meta["num_tools"] != float64(2) {
		t.Errorf("meta: %v", meta)
	}

	w = fx.do(t, http.MethodGet, "/v0.1/servers/Context7/versions", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("versions: status %d, body %s", w.Code, w.Body)
	}
	body = decodeBody(t, w)
	versions, ok := body["versions"].([]any)
	if !ok || len(versions) != 1 {
		t.Fatalf("versions: %v", body)
	}

	w = fx.do(t, http.MethodGet, "/v0.1/servers/Context7/versions/latest", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get version: status %d, body %s", w.Code, w.Body)
	}
	if entry := decodeBody(t, w); entry["name"] != "Context7" {
		t.Errorf("version entry: %v", entry)
	}
}

func TestCatalogEndpoints_percentInName(t *testing.T) {
	fx := newRegistryRouter(t)
	form := serverForm("/uptime")
	form.Set("name", "100% Uptime")
	w := fx.postForm(t, "/api/servers/register", adminToken(t), form)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: status %d, body %s", w.Code, w.Body)
	}

	// The router hands :name over already percent-decoded; a second decode
	// would reject the literal % here.
	w = fx.do(t, http.MethodGet, "/v0.1/servers/100%25%20Uptime/versions", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("versions: status %d, body %s", w.Code, w.Body)
	}

	w = fx.do(t, http.MethodGet, "/v0.1/servers/100%25%20Uptime/versions/latest", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get version: status %d, body %s", w.Code, w.Body)
	}
	if entry := decodeBody(t, w); entry["name"] != "100% Uptime" {
		t.Errorf("version entry: %v", entry)
	}
}

func TestCatalogEndpoints_errors(t *testing.T) {
	fx := newRegistryRouter(t)

	w := fx.do(t, http.MethodGet, "/v0.1/servers/ghost/versions", "", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown server: status %d", w.Code)
	}

	w = fx.do(t, http.MethodGet, "/v0.1/servers?cursor=!!!", "", "", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("malformed cursor: status %d, body %s", w.Code, w.Body)
	}
}
