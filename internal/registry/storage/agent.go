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

const agentStateFile = "agent_state.json"

// AgentStore is the authoritative catalog of A2A agents, mirroring
// ServerStore: one JSON document per agent plus the agent state file.
// Agents are never overwritten on registration.
type AgentStore struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[string]*model.Agent
	state  map[string]bool
}

// NewAgentStore creates a store rooted at dir. Call Load before use.
func NewAgentStore(dir string, logger *zap.Logger) *AgentStore {
	return &AgentStore{
		dir:    dir,
		logger: logger,
		agents: make(map[string]*model.Agent),
		state:  make(map[string]bool),
	}
}

// Load reads every agent document and the state file from disk, with the
// same skip/duplicate/missing-state semantics as ServerStore.Load.
func (s *AgentStore) Load() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create agents dir: %w", err)
	}

	state, err := loadState(filepath.Join(s.dir, agentStateFile))
	if err != nil {
		return err
	}

	files, err := filepath.Glob(filepath.Join(s.dir, "*_agent.json"))
	if err != nil {
		return fmt.Errorf("glob agent documents: %w", err)
	}
	sort.Strings(files)

	agents := make(map[string]*model.Agent)
	for _, file := range files {
		base := filepath.Base(file)
		data, err := os.ReadFile(file)
		if err != nil {
			s.logger.Error("read agent document", zap.String("file", base), zap.Error(err))
			continue
		}
		var agent model.Agent
		if err := json.Unmarshal(data, &agent); err != nil {
			s.logger.Error("parse agent document, skipping", zap.String("file", base), zap.Error(err))
			continue
		}
		agent.Path = NormalizePath(agent.Path)
		agent.ApplyDefaults()
		if err := agent.Validate(); err != nil {
			s.logger.Error("invalid agent document, skipping", zap.String("file", base), zap.Error(err))
			continue
		}
		if _, dup := agents[agent.Path]; dup {
			s.logger.Warn("duplicate agent path, last document wins",
				zap.String("path", agent.Path), zap.String("file", base))
		}
		agents[agent.Path] = &agent
	}

	stateDirty := false
	for path := range agents {
		if _, ok := state[path]; !ok {
			state[path] = false
			stateDirty = true
		}
	}
	for path := range state {
		if _, ok := agents[path]; !ok {
			s.logger.Warn("state entry without agent document, dropping", zap.String("path", path))
			delete(state, path)
			stateDirty = true
		}
	}

	s.mu.Lock()
	s.agents = agents
	s.state = state
	s.mu.Unlock()

	if stateDirty {
		if err := writeState(filepath.Join(s.dir, agentStateFile), state); err != nil {
			return err
		}
	}
	s.logger.Info("agent catalog loaded", zap.Int("agents", len(agents)))
	return nil
}

func (s *AgentStore) resolve(path string) (string, bool) {
	p := NormalizePath(path)
	if _, ok := s.agents[p]; ok {
		return p, true
	}
	alt := AlternatePath(p)
	if _, ok := s.agents[alt]; ok {
		return alt, true
	}
	return p, false
}

func (s *AgentStore) writeDocument(a *model.Agent) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode agent %s: %w", a.Path, err)
	}
	return WriteFileAtomic(filepath.Join(s.dir, AgentFileName(a.Path)), data)
}

func (s *AgentStore) persistState() error {
	return writeState(filepath.Join(s.dir, agentStateFile), s.state)
}

// Register adds a new agent to the catalog in the disabled state. A path
// already present always fails with ErrConflict.
func (s *AgentStore) Register(a *model.Agent, requester string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.Path = NormalizePath(a.Path)
	if _, exists := s.resolve(a.Path); exists {
		return nil, fmt.Errorf("agent path %q: %w", a.Path, ErrConflict)
	}

	now := time.Now().UTC()
	a.RegisteredBy = requester
	a.RegisteredAt = now
	a.UpdatedAt = now
	a.ApplyDefaults()
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	s.agents[a.Path] = a
	s.state[a.Path] = false

	rollback := func() {
		delete(s.agents, a.Path)
		delete(s.state, a.Path)
	}

	if err := s.writeDocument(a); err != nil {
		rollback()
		return nil, err
	}
	if err := s.persistState(); err != nil {
		rollback()
		return nil, err
	}

	out := a.Clone()
	out.IsEnabled = false
	return out, nil
}

// Mutate applies fn to the agent at path under the write lock, preserving
// registration provenance, and persists the result with rollback on disk
// failure.
func (s *AgentStore) Mutate(path string, fn func(*model.Agent) error) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.resolve(path)
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", NormalizePath(path), ErrNotFound)
	}

	prev := s.agents[key]
	next := prev.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Path = key
	next.RegisteredBy = prev.RegisteredBy
	next.RegisteredAt = prev.RegisteredAt
	next.UpdatedAt = time.Now().UTC()
	next.ApplyDefaults()
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	s.agents[key] = next
	if err := s.writeDocument(next); err != nil {
		s.agents[key] = prev
		return nil, err
	}

	out := next.Clone()
	out.IsEnabled = s.state[key]
	return out, nil
}

// Delete removes the agent document, its state entry, and the in-memory
// record, in that order.
func (s *AgentStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.resolve(path)
	if !ok {
		return fmt.Errorf("agent %q: %w", NormalizePath(path), ErrNotFound)
	}

	file := filepath.Join(s.dir, AgentFileName(key))
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove agent document: %w", err)
	}

	prevState, hadState := s.state[key]
	delete(s.state, key)
	if err := s.persistState(); err != nil {
		if hadState {
			s.state[key] = prevState
		}
		return err
	}

	delete(s.agents, key)
	return nil
}

// Toggle moves the agent between the enabled and disabled lists.
func (s *AgentStore) Toggle(path string, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.resolve(path)
	if !ok {
		return false, fmt.Errorf("agent %q: %w", NormalizePath(path), ErrNotFound)
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
func (s *AgentStore) Rate(path, user string, rating int) (float64, error) {
	a, err := s.Mutate(path, func(a *model.Agent) error {
		entries, _, err := model.SubmitRating(a.Ratings, user, rating)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalid, err)
		}
		a.Ratings = entries
		a.NumStars = model.AverageRating(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return a.NumStars, nil
}

// Get returns a copy of the agent with its enabled flag materialized.
func (s *AgentStore) Get(path string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.resolve(path)
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", NormalizePath(path), ErrNotFound)
	}
	out := s.agents[key].Clone()
	out.IsEnabled = s.state[key]
	return out, nil
}

// List returns all agents ordered by path, enabled flags materialized.
func (s *AgentStore) List() []*model.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.agents))
	for p := range s.agents {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]*model.Agent, 0, len(paths))
	for _, p := range paths {
		a := s.agents[p].Clone()
		a.IsEnabled = s.state[p]
		out = append(out, a)
	}
	return out
}

// IsEnabled reports whether the agent at path is enabled.
func (s *AgentStore) IsEnabled(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.resolve(path)
	if !ok {
		return false
	}
	return s.state[key]
}

// EnabledPaths returns the sorted list of enabled agent paths.
func (s *AgentStore) EnabledPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPaths(s.state, true)
}

// DisabledPaths returns the sorted list of disabled agent paths.
func (s *AgentStore) DisabledPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPaths(s.state, false)
}

// matchesQuery reports whether an agent matches a free-text list filter.
func matchesQuery(a *model.Agent, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(a.Name), q) ||
		strings.Contains(strings.ToLower(a.Description), q) {
		return true
	}
	for _, t := range a.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// Filter returns agents matching the optional free-text query, enabled
// filter, and visibility filter, ordered by path.
func (s *AgentStore) Filter(query string, enabledOnly bool, visibility string) []*model.Agent {
	all := s.List()
	out := make([]*model.Agent, 0, len(all))
	for _, a := range all {
		if enabledOnly && !a.IsEnabled {
			continue
		}
		if visibility != "" && string(a.Visibility) != visibility {
			continue
		}
		if query != "" && !matchesQuery(a, query) {
			continue
		}
		out = append(out, a)
	}
	return out
}
