package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
)

const serverStateFile = "server_state.json"

// ServerStore is the authoritative catalog of MCP servers: an in-memory map
// backed by one JSON document per server plus the kind's state file.
// Mutations hold the write lock across the in-memory change and the disk
// write; a disk failure rolls the in-memory change back.
type ServerStore struct {
	dir    string
	logger *zap.Logger

	mu      sync.RWMutex
	servers map[string]*model.Server
	state   map[string]bool
}

// NewServerStore creates a store rooted at dir. Call Load before use.
func NewServerStore(dir string, logger *zap.Logger) *ServerStore {
	return &ServerStore{
		dir:     dir,
		logger:  logger,
		servers: make(map[string]*model.Server),
		state:   make(map[string]bool),
	}
}

// Load reads every server document and the state file from disk. Documents
// that fail to parse or validate are skipped with an error log; duplicate
// paths keep the last document seen. Servers found on disk but absent from
// the state file enter the disabled list.
func (s *ServerStore) Load() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create servers dir: %w", err)
	}

	state, err := loadState(filepath.Join(s.dir, serverStateFile))
	if err != nil {
		return err
	}

	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("glob server documents: %w", err)
	}
	sort.Strings(files)

	servers := make(map[string]*model.Server)
	for _, file := range files {
		base := filepath.Base(file)
		if base == serverStateFile || strings.HasPrefix(base, "service_index") ||
			strings.HasSuffix(base, "_agent.json") {
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil {
			s.logger.Error("read server document", zap.String("file", base), zap.Error(err))
			continue
		}
		var srv model.Server
		if err := json.Unmarshal(data, &srv); err != nil {
			s.logger.Error("parse server document, skipping", zap.String("file", base), zap.Error(err))
			continue
		}
		srv.Path = NormalizePath(srv.Path)
		if err := srv.Validate(); err != nil {
			s.logger.Error("invalid server document, skipping", zap.String("file", base), zap.Error(err))
			continue
		}
		if _, dup := servers[srv.Path]; dup {
			s.logger.Warn("duplicate server path, last document wins",
				zap.String("path", srv.Path), zap.String("file", base))
		}
		servers[srv.Path] = &srv
	}

	stateDirty := false
	for path := range servers {
		if _, ok := state[path]; !ok {
			state[path] = false
			stateDirty = true
		}
	}
	for path := range state {
		if _, ok := servers[path]; !ok {
			s.logger.Warn("state entry without server document, dropping", zap.String("path", path))
			delete(state, path)
			stateDirty = true
		}
	}

	s.mu.Lock()
	s.servers = servers
	s.state = state
	s.mu.Unlock()

	if stateDirty {
		if err := writeState(filepath.Join(s.dir, serverStateFile), state); err != nil {
			return err
		}
	}
	s.logger.Info("server catalog loaded", zap.Int("servers", len(servers)))
	return nil
}

// resolve returns the canonical key under which path is stored, trying the
// canonical form first and the trailing-slash alternate second. Callers hold
// at least the read lock.
func (s *ServerStore) resolve(path string) (string, bool) {
	p := NormalizePath(path)
	if _, ok := s.servers[p]; ok {
		return p, true
	}
	alt := AlternatePath(p)
	if _, ok := s.servers[alt]; ok {
		return alt, true
	}
	return p, false
}

func (s *ServerStore) writeDocument(srv *model.Server) error {
	data, err := json.MarshalIndent(srv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode server %s: %w", srv.Path, err)
	}
	return WriteFileAtomic(filepath.Join(s.dir, ServerFileName(srv.Path)), data)
}

func (s *ServerStore) persistState() error {
	return writeState(filepath.Join(s.dir, serverStateFile), s.state)
}

// Register adds a new server to the catalog in the disabled state. A server
// already present fails with ErrConflict unless overwrite is set, in which
// case ratings and the original registration time are preserved.
func (s *ServerStore) Register(srv *model.Server, requester string, overwrite bool) (*model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv.Path = NormalizePath(srv.Path)
	now := time.Now().UTC()
	srv.RegisteredBy = requester
	srv.RegisteredAt = now
	srv.UpdatedAt = now
	srv.NumTools = len(srv.ToolList)

	key, exists := s.resolve(srv.Path)
	if exists {
		if !overwrite {
			return nil, fmt.Errorf("server path %q: %w", srv.Path, ErrConflict)
		}
		prev := s.servers[key]
		srv.Ratings = prev.Ratings
		srv.NumStars = prev.NumStars
		srv.RegisteredAt = prev.RegisteredAt
		srv.Path = key
	}
	if err := srv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	prevSrv, hadSrv := s.servers[srv.Path]
	prevState, hadState := s.state[srv.Path]

	s.servers[srv.Path] = srv
	if !hadState {
		s.state[srv.Path] = false
	}

	rollback := func() {
		if hadSrv {
			s.servers[srv.Path] = prevSrv
		} else {
			delete(s.servers, srv.Path)
		}
		if hadState {
			s.state[srv.Path] = prevState
		} else {
			delete(s.state, srv.Path)
		}
	}

	if err := s.writeDocument(srv); err != nil {
		rollback()
		return nil, err
	}
	if err := s.persistState(); err != nil {
		rollback()
		return nil, err
	}

	out := srv.Clone()
	out.IsEnabled = s.state[srv.Path]
	return out, nil
}

// Mutate applies fn to the server at path under the write lock, validates
// the result, and persists it. A disk failure rolls back the in-memory
// change.
func (s *ServerStore) Mutate(path string, fn func(*model.Server) error) (*model.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.resolve(path)
	if !ok {
		return nil, fmt.Errorf("server %q: %w", NormalizePath(path), ErrNotFound)
	}

	prev := s.servers[key]
	next := prev.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Path = key
	next.UpdatedAt = time.Now().UTC()
	next.NumTools = len(next.ToolList)
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	s.servers[key] = next
	if err := s.writeDocument(next); err != nil {
		s.servers[key] = prev
		return nil, err
	}

	out := next.Clone()
	out.IsEnabled = s.state[key]
	return out, nil
}

// Delete removes the server document, its state entry, and the in-memory
// record, in that order. The in-memory entry survives only if disk removal
// succeeds.
func (s *ServerStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.resolve(path)
	if !ok {
		return fmt.Errorf("server %q: %w", NormalizePath(path), ErrNotFound)
	}

	file := filepath.Join(s.dir, ServerFileName(key))
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove server document: %w", err)
	}

	prevState, hadState := s.state[key]
	delete(s.state, key)
	if err := s.persistState(); err != nil {
		if hadState {
			s.state[key] = prevState
		}
		return err
	}

	delete(s.servers, key)
	return nil
}

// Toggle moves the server between the enabled and disabled lists and
// persists the state file. Toggling to the current state is a no-op.
func (s *ServerStore) Toggle(path string, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.resolve(path)
	if !ok {
		return false, fmt.Errorf("server %q: %w", NormalizePath(path), ErrNotFound)
	}
	if s.state[key] == enabled {
		return enabled, nil
	}

	prev := s.state[key]
	s.state[key] = enabled
	if err := s.persistState(); err != nil {
		s.state[key] = prev
		return prev, err
	}
	return enabled, nil
}

// Rate records a user rating and returns the new average.
func (s *ServerStore) Rate(path, user string, rating int) (float64, error) {
	srv, err := s.Mutate(path, func(srv *model.Server) error {
		entries, _, err := model.SubmitRating(srv.Ratings, user, rating)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalid, err)
		}
		srv.Ratings = entries
		srv.NumStars = model.AverageRating(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return srv.NumStars, nil
}

// Get returns a copy of the server with its enabled flag materialized.
func (s *ServerStore) Get(path string) (*model.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.resolve(path)
	if !ok {
		return nil, fmt.Errorf("server %q: %w", NormalizePath(path), ErrNotFound)
	}
	out := s.servers[key].Clone()
	out.IsEnabled = s.state[key]
	return out, nil
}

// GetByName returns the server whose display name matches exactly.
func (s *ServerStore) GetByName(name string) (*model.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, srv := range s.servers {
		if srv.Name == name {
			out := srv.Clone()
			out.IsEnabled = s.state[key]
			return out, nil
		}
	}
	return nil, fmt.Errorf("server named %q: %w", name, ErrNotFound)
}

// List returns all servers ordered by path, enabled flags materialized.
func (s *ServerStore) List() []*model.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.servers))
	for p := range s.servers {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]*model.Server, 0, len(paths))
	for _, p := range paths {
		srv := s.servers[p].Clone()
		srv.IsEnabled = s.state[p]
		out = append(out, srv)
	}
	return out
}

// IsEnabled reports whether the server at path is enabled.
func (s *ServerStore) IsEnabled(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.resolve(path)
	if !ok {
		return false
	}
	return s.state[key]
}

// EnabledPaths returns the sorted list of enabled server paths.
func (s *ServerStore) EnabledPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPaths(s.state, true)
}

// DisabledPaths returns the sorted list of disabled server paths.
func (s *ServerStore) DisabledPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPaths(s.state, false)
}
