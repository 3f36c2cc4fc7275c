package service_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/service"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
)

// ── Fakes ────────────────────────────────────────────────────────────────

type fakeCatalog struct {
	servers []*model.Server
}

func (f *fakeCatalog) List() []*model.Server { return f.servers }

func (f *fakeCatalog) GetByName(name string) (*model.Server, error) {
	for _, srv := range f.servers {
		if srv.Name == name {
			return srv, nil
		}
	}
	return nil, fmt.Errorf("server %q: %w", name, storage.ErrNotFound)
}

func catalogFixture(n int) *fakeCatalog {
	f := &fakeCatalog{}
	for i := 0; i < n; i++ {
		srv := &model.Server{
			Path:                fmt.Sprintf("/srv-%02d", i),
			Name:                fmt.Sprintf("srv-%02d", i),
			ProxyURL:            fmt.Sprintf("http://localhost:91%02d/mcp", i),
			SupportedTransports: []string{"sse"},
			IsEnabled:           true,
			RegisteredAt:        time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			ToolList: []model.Tool{
				{Name: "ping", Description: "liveness probe"},
			},
		}
		f.servers = append(f.servers, srv)
	}
	return f
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCatalogListServers_pagination(t *testing.T) {
	svc := service.NewCatalogService(catalogFixture(5))

	page, err := svc.ListServers("", 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page.Servers) != 2 || page.Servers[0].Name != "srv-00" {
		t.Fatalf("first page: %+v", page.Servers)
	}
	if page.NextCursor == "" {
		t.Fatal("first page missing next cursor")
	}

	page, err = svc.ListServers(page.NextCursor, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(page.Servers) != 2 || page.Servers[0].Name != "srv-02" {
		t.Fatalf("second page: %+v", page.Servers)
	}

	page, err = svc.ListServers(page.NextCursor, 2)
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(page.Servers) != 1 || page.Servers[0].Name != "srv-04" {
		t.Fatalf("last page: %+v", page.Servers)
	}
	if page.NextCursor != "" {
		t.Errorf("last page carries a cursor: %q", page.NextCursor)
	}
}

func TestCatalogListServers_limitClamped(t *testing.T) {
	svc := service.NewCatalogService(catalogFixture(3))

	// Zero limit falls back to the default page size.
	page, err := svc.ListServers("", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Servers) != 3 {
		t.Errorf("default limit page: got %d", len(page.Servers))
	}

	if _, err := svc.ListServers("", service.MaxCatalogPageSize+50); err != nil {
		t.Errorf("oversized limit: %v", err)
	}
}

func TestCatalogListServers_malformedCursor(t *testing.T) {
	svc := service.NewCatalogService(catalogFixture(1))
	for _, cursor := range []string{"not-base64!!", "bm90LWEtbnVtYmVy"} {
		if _, err := svc.ListServers(cursor, 10); !errors.Is(err, storage.ErrInvalid) {
			t.Errorf("cursor %q: expected ErrInvalid, got %v", cursor, err)
		}
	}
}

func TestCatalogListServers_cursorPastEnd(t *testing.T) {
	svc := service.NewCatalogService(catalogFixture(2))
	page, err := svc.ListServers("", 2)
	if err != nil || page.NextCursor != "" {
		t.Fatalf("setup page: %+v, %v", page, err)
	}

	// A stale cursor beyond the catalog yields an empty page, not an error.
	far, err := svc.ListServers("OTk5", 2) // base64("999")
	if err != nil {
		t.Fatalf("stale cursor: %v", err)
	}
	if len(far.Servers) != 0 || far.NextCursor != "" {
		t.Errorf("stale cursor page: %+v", far)
	}
}

func TestCatalogProjection(t *testing.T) {
	svc := service.NewCatalogService(catalogFixture(1))
	page, err := svc.ListServers("", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	entry := page.Servers[0]
	if entry.Version != "latest" {
		t.Errorf("version: got %q", entry.Version)
	}
	if len(entry.Remotes) != 1 || entry.Remotes[0].Type != "sse" {
		t.Errorf("remotes: %+v", entry.Remotes)
	}
	if entry.Meta.NumTools != 1 || !entry.Meta.IsEnabled {
		t.Errorf("meta: %+v", entry.Meta)
	}
	if entry.Meta.RegisteredAt != "2026-08-01T12:00:00Z" {
		t.Errorf("registered_at: got %q", entry.Meta.RegisteredAt)
	}
}

func TestCatalogProjection_defaultTransport(t *testing.T) {
	fix := catalogFixture(1)
	fix.servers[0].SupportedTransports = nil
	svc := service.NewCatalogService(fix)

	page, err := svc.ListServers("", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := page.Servers[0].Remotes[0].Type; got != "streamable-http" {
		t.Errorf("default transport: got %q", got)
	}
}

func TestCatalogVersions(t *testing.T) {
	svc := service.NewCatalogService(catalogFixture(1))

	versions, err := svc.ListVersions("srv-00")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != "latest" || !versions[0].IsLatest {
		t.Errorf("versions: %+v", versions)
	}

	if _, err := svc.ListVersions("ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown server: expected ErrNotFound, got %v", err)
	}

	entry, err := svc.GetVersion("srv-00", "latest")
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if entry.Name != "srv-00" {
		t.Errorf("entry: %+v", entry)
	}

	if _, err := svc.GetVersion("srv-00", "1.0.0"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown version: expected ErrNotFound, got %v", err)
	}
}
