package service

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
)

// Catalog pagination bounds.
const (
	DefaultCatalogPageSize = 30
	MaxCatalogPageSize     = 100
)

// CatalogServer is the read-only projection exposed by the public catalog.
type CatalogServer struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Version     string          `json:"version"`
	Remotes     []CatalogRemote `json:"remotes,omitempty"`
	Meta        CatalogMeta     `json:"_meta"`
}

// CatalogRemote is one reachable transport for a catalog entry.
type CatalogRemote struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// CatalogMeta carries registry-maintained facts alongside the card.
type CatalogMeta struct {
	Path         string   `json:"path"`
	IsEnabled    bool     `json:"is_enabled"`
	Tags         []string `json:"tags,omitempty"`
	NumTools     int      `json:"num_tools"`
	RegisteredAt string   `json:"registered_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

// CatalogPage is one page of catalog entries plus the cursor for the next.
type CatalogPage struct {
	Servers    []CatalogServer `json:"servers"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// CatalogVersion is one entry in a server's version listing. The registry
// keeps only the current document, so there is always exactly one version.
type CatalogVersion struct {
	Version  string `json:"version"`
	IsLatest bool   `json:"is_latest"`
}

// catalogLister is the store surface CatalogService reads from.
type catalogLister interface {
	List() []*model.Server
	GetByName(name string) (*model.Server, error)
}

// CatalogService serves the read-only, unauthenticated catalog API. Entries
// are ordered by path so cursors stay stable across identical catalogs.
type CatalogService struct {
	store catalogLister
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(store catalogLister) *CatalogService {
	return &CatalogService{store: store}
}

func encodeCursor(offset int) string {
	return base64.URLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed cursor", storage.ErrInvalid)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("%w: malformed cursor", storage.ErrInvalid)
	}
	return offset, nil
}

func projectServer(srv *model.Server) CatalogServer {
	version := "latest"
	entry := CatalogServer{
		Name:        srv.Name,
		Description: srv.Description,
		Version:     version,
		Meta: CatalogMeta{
			Path:      srv.Path,
			IsEnabled: srv.IsEnabled,
			Tags:      srv.Tags,
			NumTools:  len(srv.ToolList),
		},
	}
	if srv.ProxyURL != "" {
		transport := "streamable-http"
		if len(srv.SupportedTransports) > 0 {
			transport = srv.SupportedTransports[0]
		}
		entry.Remotes = []CatalogRemote{{Type: transport, URL: srv.ProxyURL}}
	}
	if !srv.RegisteredAt.IsZero() {
		entry.Meta.RegisteredAt = srv.RegisteredAt.UTC().Format(time.RFC3339)
	}
	if !srv.UpdatedAt.IsZero() {
		entry.Meta.UpdatedAt = srv.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return entry
}

// ListServers returns one page of catalog entries starting at the opaque
// cursor. Limit is clamped to the page size bounds.
func (c *CatalogService) ListServers(cursor string, limit int) (*CatalogPage, error) {
	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultCatalogPageSize
	}
	if limit > MaxCatalogPageSize {
		limit = MaxCatalogPageSize
	}

	all := c.store.List()
	page := &CatalogPage{Servers: []CatalogServer{}}
	if offset >= len(all) {
		return page, nil
	}

	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	for _, srv := range all[offset:end] {
		page.Servers = append(page.Servers, projectServer(srv))
	}
	if end < len(all) {
		page.NextCursor = encodeCursor(end)
	}
	return page, nil
}

// ListVersions lists the known versions for a server name. The catalog
// tracks current state only, so the answer is always a single latest entry.
func (c *CatalogService) ListVersions(name string) ([]CatalogVersion, error) {
	if _, err := c.store.GetByName(name); err != nil {
		return nil, err
	}
	return []CatalogVersion{{Version: "latest", IsLatest: true}}, nil
}

// GetVersion returns the catalog projection for one server version. Only
// "latest" exists.
func (c *CatalogService) GetVersion(name, version string) (*CatalogServer, error) {
	srv, err := c.store.GetByName(name)
	if err != nil {
		return nil, err
	}
	if version != "latest" && version != "" {
		return nil, fmt.Errorf("server %q has no version %q: %w", name, version, storage.ErrNotFound)
	}
	entry := projectServer(srv)
	return &entry, nil
}
