package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
	"github.com/gatewaylabs/toolgate/internal/scanner"
)

// serverStore is the storage surface ServerService depends on.
type serverStore interface {
	Register(srv *model.Server, requester string, overwrite bool) (*model.Server, error)
	Mutate(path string, fn func(*model.Server) error) (*model.Server, error)
	Delete(path string) error
	Toggle(path string, enabled bool) (bool, error)
	Rate(path, user string, rating int) (float64, error)
	Get(path string) (*model.Server, error)
	GetByName(name string) (*model.Server, error)
	List() []*model.Server
	IsEnabled(path string) bool
	EnabledPaths() []string
	DisabledPaths() []string
}

// scanTrigger is the orchestrator surface the services depend on.
type scanTrigger interface {
	ServerScanOnRegistration() bool
	AgentScanOnRegistration() bool
	EnqueueServerScan(path string)
	EnqueueAgentScan(path string)
	ScanServerNow(ctx context.Context, path string) (*model.ScanResult, error)
	ScanAgentNow(ctx context.Context, path string) (*model.ScanResult, error)
	LatestServerScan(path string) (*model.ScanResult, error)
	LatestAgentScan(path string) (*model.ScanResult, error)
}

// ServerService implements the server-side registry operations: register,
// update, delete, toggle, rate, group membership, and scan access.
type ServerService struct {
	store  serverStore
	index  *IndexSync
	scans  scanTrigger
	locks  *storage.PathLocks
	logger *zap.Logger
}

// NewServerService creates a ServerService. The scan orchestrator is
// attached later with SetScanner since it needs the store to exist first.
func NewServerService(store serverStore, index *IndexSync, locks *storage.PathLocks, logger *zap.Logger) *ServerService {
	if locks == nil {
		locks = storage.NewPathLocks()
	}
	return &ServerService{store: store, index: index, locks: locks, logger: logger}
}

// SetScanner attaches the scan orchestrator.
func (s *ServerService) SetScanner(scans scanTrigger) { s.scans = scans }

// buildServer turns a registration request into a server document.
func buildServer(req *model.RegisterServerRequest) (*model.Server, error) {
	tools, err := model.ParseToolList(req.ToolListJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrInvalid, err)
	}

	var headers map[string]string
	if req.HeadersJSON != "" {
		if err := json.Unmarshal([]byte(req.HeadersJSON), &headers); err != nil {
			return nil, fmt.Errorf("%w: parse headers: %s", storage.ErrInvalid, err)
		}
	}

	tags := []string{}
	for _, t := range strings.Split(req.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	return &model.Server{
		Path:                storage.NormalizePath(req.Path),
		Name:                req.Name,
		Description:         req.Description,
		ProxyURL:            req.ProxyURL,
		Tags:                tags,
		ToolList:            tools,
		AuthProvider:        req.AuthProvider,
		AuthType:            req.AuthType,
		SupportedTransports: req.SupportedTransports,
		Headers:             headers,
		ToolListJSON:        req.ToolListJSON,
	}, nil
}

// Register validates and persists a new server, indexes it, and kicks off a
// background scan when configured. The server starts disabled.
func (s *ServerService) Register(ctx context.Context, req *model.RegisterServerRequest, user *model.UserContext) (*model.Server, error) {
	if !user.HasPermission(model.PermModifyService) {
		return nil, fmt.Errorf("user %q may not register servers: %w", user.Username, storage.ErrForbidden)
	}

	srv, err := buildServer(req)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(srv.Path)
	registered, err := s.store.Register(srv, user.Username, req.Overwrite)
	unlock()
	if err != nil {
		return nil, err
	}

	s.index.tryReindexServer(ctx, registered)
	s.logger.Info("server registered",
		zap.String("path", registered.Path),
		zap.String("name", registered.Name),
		zap.String("registered_by", user.Username))

	if s.scans != nil && s.scans.ServerScanOnRegistration() {
		s.scans.EnqueueServerScan(registered.Path)
	}
	return registered, nil
}

// Update merges changes into an existing server. Only the owner or an admin
// may update; registration provenance is preserved.
func (s *ServerService) Update(ctx context.Context, path string, req *model.RegisterServerRequest, user *model.UserContext) (*model.Server, error) {
	existing, err := s.store.Get(path)
	if err != nil {
		return nil, err
	}
	if !isOwnerOrAdmin(existing.RegisteredBy, user) {
		return nil, fmt.Errorf("user %q may not update server %q: %w", user.Username, existing.Path, storage.ErrForbidden)
	}

	incoming, err := buildServer(req)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(existing.Path)
	updated, err := s.store.Mutate(existing.Path, func(srv *model.Server) error {
		srv.Name = incoming.Name
		srv.Description = incoming.Description
		srv.ProxyURL = incoming.ProxyURL
		srv.Tags = incoming.Tags
		srv.ToolList = incoming.ToolList
		srv.ToolListJSON = incoming.ToolListJSON
		srv.AuthProvider = incoming.AuthProvider
		srv.AuthType = incoming.AuthType
		srv.SupportedTransports = incoming.SupportedTransports
		if incoming.Headers != nil {
			srv.Headers = incoming.Headers
		}
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	s.index.tryReindexServer(ctx, updated)
	return updated, nil
}

// Remove deletes a server and drops it from the index. Owner or admin only.
func (s *ServerService) Remove(path string, user *model.UserContext) error {
	existing, err := s.store.Get(path)
	if err != nil {
		return err
	}
	if !isOwnerOrAdmin(existing.RegisteredBy, user) {
		return fmt.Errorf("user %q may not remove server %q: %w", user.Username, existing.Path, storage.ErrForbidden)
	}

	unlock := s.locks.Lock(existing.Path)
	err = s.store.Delete(existing.Path)
	unlock()
	if err != nil {
		return err
	}

	if err := s.index.Remove(existing.Path); err != nil {
		s.logger.Error("remove server from index", zap.String("path", existing.Path), zap.Error(err))
	}
	s.logger.Info("server removed", zap.String("path", existing.Path), zap.String("by", user.Username))
	return nil
}

// Toggle flips a server's enabled state and refreshes the index.
func (s *ServerService) Toggle(ctx context.Context, path string, enabled bool, user *model.UserContext) (bool, error) {
	existing, err := s.store.Get(path)
	if err != nil {
		return false, err
	}
	if !user.Can(model.PermToggleService, existing.Name) {
		return false, fmt.Errorf("user %q may not toggle server %q: %w", user.Username, existing.Name, storage.ErrForbidden)
	}

	unlock := s.locks.Lock(existing.Path)
	state, err := s.store.Toggle(existing.Path, enabled)
	unlock()
	if err != nil {
		return false, err
	}

	fresh, err := s.store.Get(existing.Path)
	if err == nil {
		s.index.tryReindexServer(ctx, fresh)
	}
	s.logger.Info("server toggled",
		zap.String("path", existing.Path), zap.Bool("enabled", state), zap.String("by", user.Username))
	return state, nil
}

// List returns all servers ordered by path.
func (s *ServerService) List() []*model.Server {
	return s.store.List()
}

// Get returns one server by path.
func (s *ServerService) Get(path string) (*model.Server, error) {
	return s.store.Get(path)
}

// EnabledPaths returns the enabled server paths for proxy emitters.
func (s *ServerService) EnabledPaths() []string {
	return s.store.EnabledPaths()
}

// AddToGroups adds group names to a server's metadata, deduplicated and
// sorted. The server is addressed by display name.
func (s *ServerService) AddToGroups(ctx context.Context, serverName string, groups []string, user *model.UserContext) error {
	return s.mutateGroups(ctx, serverName, user, func(current map[string]bool) {
		for _, g := range groups {
			current[g] = true
		}
	})
}

// RemoveFromGroups removes group names from a server's metadata.
func (s *ServerService) RemoveFromGroups(ctx context.Context, serverName string, groups []string, user *model.UserContext) error {
	return s.mutateGroups(ctx, serverName, user, func(current map[string]bool) {
		for _, g := range groups {
			delete(current, g)
		}
	})
}

func (s *ServerService) mutateGroups(ctx context.Context, serverName string, user *model.UserContext, apply func(map[string]bool)) error {
	existing, err := s.store.GetByName(serverName)
	if err != nil {
		return err
	}
	if !user.Can(model.PermModifyService, existing.Name) {
		return fmt.Errorf("user %q may not modify server %q: %w", user.Username, existing.Name, storage.ErrForbidden)
	}

	unlock := s.locks.Lock(existing.Path)
	updated, err := s.store.Mutate(existing.Path, func(srv *model.Server) error {
		current := map[string]bool{}
		if srv.Metadata != nil {
			if raw, ok := srv.Metadata["groups"].([]any); ok {
				for _, g := range raw {
					if name, ok := g.(string); ok {
						current[name] = true
					}
				}
			} else if names, ok := srv.Metadata["groups"].([]string); ok {
				for _, name := range names {
					current[name] = true
				}
			}
		}
		apply(current)

		names := make([]string, 0, len(current))
		for name := range current {
			names = append(names, name)
		}
		sort.Strings(names)
		if srv.Metadata == nil {
			srv.Metadata = map[string]any{}
		}
		srv.Metadata["groups"] = names
		return nil
	})
	unlock()
	if err != nil {
		return err
	}

	s.index.tryReindexServer(ctx, updated)
	return nil
}

// Rate records a user rating for a server and returns the new average.
func (s *ServerService) Rate(path string, rating int, user *model.UserContext) (float64, error) {
	existing, err := s.store.Get(path)
	if err != nil {
		return 0, err
	}
	if !user.Can(model.PermRate, existing.Name) {
		return 0, fmt.Errorf("user %q may not rate server %q: %w", user.Username, existing.Name, storage.ErrForbidden)
	}
	return s.store.Rate(existing.Path, user.Username, rating)
}

// Rating returns the server's average and rating entries.
func (s *ServerService) Rating(path string) (float64, []model.RatingEntry, error) {
	srv, err := s.store.Get(path)
	if err != nil {
		return 0, nil, err
	}
	return srv.NumStars, srv.Ratings, nil
}

// SecurityScan returns the latest archived scan result for the server.
func (s *ServerService) SecurityScan(path string) (*model.ScanResult, error) {
	if s.scans == nil {
		return nil, fmt.Errorf("scan result: %w", storage.ErrNoScan)
	}
	return s.scans.LatestServerScan(path)
}

// Rescan runs a synchronous scan. Admin only.
func (s *ServerService) Rescan(ctx context.Context, path string, user *model.UserContext) (*model.ScanResult, error) {
	if !user.IsAdmin {
		return nil, fmt.Errorf("user %q may not rescan servers: %w", user.Username, storage.ErrForbidden)
	}
	if s.scans == nil {
		return nil, fmt.Errorf("scanning not configured: %w", storage.ErrInvalid)
	}
	return s.scans.ScanServerNow(ctx, path)
}

// ScanSummary surfaces last-scan facts onto a listed server entry.
type ScanSummary struct {
	LastScanTime string `json:"last_scan_time,omitempty"`
	IsSafe       *bool  `json:"is_safe,omitempty"`
	ScanFailed   *bool  `json:"scan_failed,omitempty"`
}

// ScanSummaryFor returns the scan summary for a server path, empty when no
// scan exists.
func (s *ServerService) ScanSummaryFor(path string) ScanSummary {
	if s.scans == nil {
		return ScanSummary{}
	}
	result, err := s.scans.LatestServerScan(path)
	if err != nil {
		return ScanSummary{}
	}
	return ScanSummary{
		LastScanTime: result.ScanTimestamp,
		IsSafe:       &result.IsSafe,
		ScanFailed:   &result.ScanFailed,
	}
}

var _ scanner.ServerCatalog = (*storage.ServerStore)(nil)
