package service

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
	"github.com/gatewaylabs/toolgate/internal/scanner"
	"github.com/gatewaylabs/toolgate/internal/search"
)

// agentStore is the storage surface AgentService depends on.
type agentStore interface {
	Register(a *model.Agent, requester string) (*model.Agent, error)
	Mutate(path string, fn func(*model.Agent) error) (*model.Agent, error)
	Delete(path string) error
	Toggle(path string, enabled bool) (bool, error)
	Rate(path, user string, rating int) (float64, error)
	Get(path string) (*model.Agent, error)
	List() []*model.Agent
	Filter(query string, enabledOnly bool, visibility string) []*model.Agent
	IsEnabled(path string) bool
	EnabledPaths() []string
	DisabledPaths() []string
}

// AgentService implements the agent-side registry operations plus the two
// discovery modes (skill-based and semantic).
type AgentService struct {
	store  agentStore
	index  *IndexSync
	engine *search.Engine
	scans  scanTrigger
	locks  *storage.PathLocks
	logger *zap.Logger

	healthTimeout time.Duration
	httpClient    *http.Client
}

// NewAgentService creates an AgentService.
func NewAgentService(store agentStore, index *IndexSync, engine *search.Engine, locks *storage.PathLocks, logger *zap.Logger) *AgentService {
	if locks == nil {
		locks = storage.NewPathLocks()
	}
	return &AgentService{
		store:         store,
		index:         index,
		engine:        engine,
		locks:         locks,
		logger:        logger,
		healthTimeout: 2 * time.Second,
		httpClient:    &http.Client{},
	}
}

// SetScanner attaches the scan orchestrator.
func (s *AgentService) SetScanner(scans scanTrigger) { s.scans = scans }

// SetHealthTimeout overrides the on-demand health probe timeout.
func (s *AgentService) SetHealthTimeout(d time.Duration) {
	if d > 0 {
		s.healthTimeout = d
	}
}

func splitTags(csv string) []string {
	tags := []string{}
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// buildAgent turns a registration request into an agent document.
func buildAgent(req *model.RegisterAgentRequest) *model.Agent {
	a := &model.Agent{
		Path:          model.DerivePath(req.Path, req.Name),
		Visibility:    model.Visibility(req.Visibility),
		AllowedGroups: req.AllowedGroups,
		TrustLevel:    model.TrustLevel(req.TrustLevel),
		Tags:          splitTags(req.Tags),
		License:       req.License,
	}
	a.Name = req.Name
	a.Description = req.Description
	a.URL = req.URL
	a.Version = req.Version
	a.ProtocolVersion = req.ProtocolVersion
	a.Provider = req.Provider
	a.SecuritySchemes = req.SecuritySchemes
	a.Skills = req.Skills
	a.Capabilities.Streaming = req.Streaming
	a.ApplyDefaults()
	return a
}

// Register validates and persists a new agent, indexes it, and kicks off a
// background scan when configured. The agent starts disabled.
func (s *AgentService) Register(ctx context.Context, req *model.RegisterAgentRequest, user *model.UserContext) (*model.Agent, error) {
	if !user.HasPermission(model.PermPublishAgent) {
		return nil, fmt.Errorf("user %q may not register agents: %w", user.Username, storage.ErrForbidden)
	}

	agent := buildAgent(req)

	unlock := s.locks.Lock(agent.Path)
	registered, err := s.store.Register(agent, user.Username)
	unlock()
	if err != nil {
		return nil, err
	}

	s.index.tryReindexAgent(ctx, registered)
	s.logger.Info("agent registered",
		zap.String("path", registered.Path),
		zap.String("name", registered.Name),
		zap.String("registered_by", user.Username))

	if s.scans != nil && s.scans.AgentScanOnRegistration() {
		s.scans.EnqueueAgentScan(registered.Path)
	}
	return registered, nil
}

// Get returns one agent, enforcing the access rules.
func (s *AgentService) Get(path string, user *model.UserContext) (*model.Agent, error) {
	agent, err := s.store.Get(path)
	if err != nil {
		return nil, err
	}
	if !CanAccessAgent(agent, user) {
		return nil, fmt.Errorf("user %q may not access agent %q: %w", user.Username, agent.Path, storage.ErrForbidden)
	}
	return agent, nil
}

// List returns the agents visible to the user, optionally filtered.
func (s *AgentService) List(query string, enabledOnly bool, visibility string, user *model.UserContext) []*model.Agent {
	return FilterAgents(s.store.Filter(query, enabledOnly, visibility), user)
}

// Update merges changes into an existing agent. Owner or admin only; the
// card is re-normalized so security schemes stay canonical.
func (s *AgentService) Update(ctx context.Context, path string, req *model.UpdateAgentRequest, user *model.UserContext) (*model.Agent, error) {
	existing, err := s.store.Get(path)
	if err != nil {
		return nil, err
	}
	if !isOwnerOrAdmin(existing.RegisteredBy, user) {
		return nil, fmt.Errorf("user %q may not update agent %q: %w", user.Username, existing.Path, storage.ErrForbidden)
	}

	unlock := s.locks.Lock(existing.Path)
	updated, err := s.store.Mutate(existing.Path, func(a *model.Agent) error {
		if req.Description != nil {
			a.Description = *req.Description
		}
		if req.URL != nil {
			a.URL = *req.URL
		}
		if req.Version != nil {
			a.Version = *req.Version
		}
		if req.Provider != nil {
			a.Provider = req.Provider
		}
		if req.SecuritySchemes != nil {
			a.SecuritySchemes = req.SecuritySchemes
		}
		if req.Skills != nil {
			a.Skills = req.Skills
		}
		if req.Streaming != nil {
			a.Capabilities.Streaming = *req.Streaming
		}
		if req.Tags != nil {
			a.Tags = splitTags(*req.Tags)
		}
		if req.License != nil {
			a.License = *req.License
		}
		if req.Visibility != nil {
			a.Visibility = model.Visibility(*req.Visibility)
		}
		if req.AllowedGroups != nil {
			a.AllowedGroups = req.AllowedGroups
		}
		if req.TrustLevel != nil {
			a.TrustLevel = model.TrustLevel(*req.TrustLevel)
		}
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	s.index.tryReindexAgent(ctx, updated)
	return updated, nil
}

// Delete removes an agent and drops it from the index. Owner or admin only.
func (s *AgentService) Delete(path string, user *model.UserContext) error {
	existing, err := s.store.Get(path)
	if err != nil {
		return err
	}
	if !isOwnerOrAdmin(existing.RegisteredBy, user) {
		return fmt.Errorf("user %q may not delete agent %q: %w", user.Username, existing.Path, storage.ErrForbidden)
	}

	unlock := s.locks.Lock(existing.Path)
	err = s.store.Delete(existing.Path)
	unlock()
	if err != nil {
		return err
	}

	if err := s.index.Remove(existing.Path); err != nil {
		s.logger.Error("remove agent from index", zap.String("path", existing.Path), zap.Error(err))
	}
	s.logger.Info("agent deleted", zap.String("path", existing.Path), zap.String("by", user.Username))
	return nil
}

// Toggle flips an agent's enabled state and refreshes the index.
func (s *AgentService) Toggle(ctx context.Context, path string, enabled bool, user *model.UserContext) (bool, error) {
	existing, err := s.store.Get(path)
	if err != nil {
		return false, err
	}
	if !user.Can(model.PermToggleService, existing.Name) {
		return false, fmt.Errorf("user %q may not toggle agent %q: %w", user.Username, existing.Name, storage.ErrForbidden)
	}

	unlock := s.locks.Lock(existing.Path)
	state, err := s.store.Toggle(existing.Path, enabled)
	unlock()
	if err != nil {
		return false, err
	}

	fresh, err := s.store.Get(existing.Path)
	if err == nil {
		s.index.tryReindexAgent(ctx, fresh)
	}
	s.logger.Info("agent toggled",
		zap.String("path", existing.Path), zap.Bool("enabled", state), zap.String("by", user.Username))
	return state, nil
}

// Rate records a user rating for an agent and returns the new average.
func (s *AgentService) Rate(path string, rating int, user *model.UserContext) (float64, error) {
	existing, err := s.store.Get(path)
	if err != nil {
		return 0, err
	}
	if !CanAccessAgent(existing, user) {
		return 0, fmt.Errorf("user %q may not access agent %q: %w", user.Username, existing.Path, storage.ErrForbidden)
	}
	return s.store.Rate(existing.Path, user.Username, rating)
}

// Rating returns the agent's average and rating entries.
func (s *AgentService) Rating(path string, user *model.UserContext) (float64, []model.RatingEntry, error) {
	agent, err := s.Get(path, user)
	if err != nil {
		return 0, nil, err
	}
	return agent.NumStars, agent.Ratings, nil
}

// HealthCheckResult is the outcome of one on-demand agent ping.
type HealthCheckResult struct {
	AgentPath      string `json:"agent_path"`
	PingURL        string `json:"ping_url"`
	Status         string `json:"status"`
	StatusCode     int    `json:"status_code,omitempty"`
	Detail         string `json:"detail,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms,omitempty"`
	LastCheckedISO string `json:"last_checked_iso"`
}

// HealthCheck pings an enabled agent's /ping endpoint. Probe failures are
// reported in the result, never as an error.
func (s *AgentService) HealthCheck(ctx context.Context, path string, user *model.UserContext) (*HealthCheckResult, error) {
	agent, err := s.Get(path, user)
	if err != nil {
		return nil, err
	}
	if !s.store.IsEnabled(agent.Path) {
		return nil, fmt.Errorf("cannot health check a disabled agent: %w", storage.ErrInvalid)
	}

	pingURL := strings.TrimRight(agent.URL, "/") + "/ping"
	result := &HealthCheckResult{AgentPath: agent.Path, PingURL: pingURL}

	reqCtx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pingURL, nil)
	if err != nil {
		result.Status = "unhealthy"
		result.Detail = fmt.Sprintf("health check failed: %v", err)
	} else if resp, doErr := s.httpClient.Do(req); doErr != nil {
		result.Status = "unhealthy"
		if reqCtx.Err() == context.DeadlineExceeded {
			result.Detail = "health check timed out"
		} else {
			result.Detail = fmt.Sprintf("health check failed: %v", doErr)
		}
	} else {
		resp.Body.Close()
		result.StatusCode = resp.StatusCode
		result.ResponseTimeMS = time.Since(start).Milliseconds()
		if resp.StatusCode == http.StatusOK {
			result.Status = "healthy"
		} else {
			result.Status = "unhealthy"
			result.Detail = fmt.Sprintf("agent responded with HTTP %d", resp.StatusCode)
		}
	}

	result.LastCheckedISO = time.Now().UTC().Format(time.RFC3339)
	s.logger.Info("agent health check",
		zap.String("path", agent.Path), zap.String("status", result.Status))
	return result, nil
}

// DiscoveredAgent is one skill-based discovery result.
type DiscoveredAgent struct {
	Agent         *model.Agent `json:"agent"`
	MatchedSkills []string     `json:"matched_skills"`
	Relevance     float64      `json:"relevance_score"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DiscoverBySkills scores accessible enabled agents by skill overlap, tag
// overlap, and trust level, highest first.
func (s *AgentService) DiscoverBySkills(required, tagsFilter []string, maxResults int, user *model.UserContext) []DiscoveredAgent {
	if maxResults <= 0 {
		maxResults = 10
	}
	if len(required) == 0 {
		return []DiscoveredAgent{}
	}

	wanted := make(map[string]bool, len(required))
	for _, sk := range required {
		wanted[strings.ToLower(sk)] = true
	}
	wantedTags := make(map[string]bool, len(tagsFilter))
	for _, t := range tagsFilter {
		wantedTags[strings.ToLower(t)] = true
	}

	out := []DiscoveredAgent{}
	for _, agent := range FilterAgents(s.store.Filter("", true, ""), user) {
		matched := []string{}
		seen := map[string]bool{}
		for _, sk := range agent.Skills {
			for _, candidate := range []string{sk.ID, sk.Name} {
				lc := strings.ToLower(candidate)
				if lc != "" && wanted[lc] && !seen[lc] {
					matched = append(matched, candidate)
					seen[lc] = true
				}
			}
		}
		if len(matched) == 0 {
			continue
		}
		skillScore := float64(len(seen)) / float64(len(wanted))

		tagScore := 0.0
		if len(wantedTags) > 0 {
			hits := 0
			for _, t := range agent.Tags {
				if wantedTags[strings.ToLower(t)] {
					hits++
				}
			}
			tagScore = float64(hits) / float64(len(wantedTags))
		}

		relevance := 0.6*skillScore + 0.2*tagScore + 0.2*model.TrustBoost[agent.TrustLevel]
		out = append(out, DiscoveredAgent{
			Agent:         agent,
			MatchedSkills: matched,
			Relevance:     round2(relevance),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// DiscoverSemantic runs the hybrid search restricted to the agents view,
// then applies the access filter. Scores are rounded for the response.
func (s *AgentService) DiscoverSemantic(ctx context.Context, query string, maxResults int, user *model.UserContext) ([]search.AgentResult, error) {
	results, err := s.engine.Search(ctx, query, search.Options{
		Kinds:       []string{search.KindAgent},
		MaxResults:  maxResults,
		EnabledOnly: true,
	})
	if err != nil {
		return nil, err
	}

	out := []search.AgentResult{}
	for _, r := range results.Agents {
		if r.Agent == nil || !CanAccessAgent(r.Agent, user) {
			continue
		}
		r.Relevance = round2(r.Relevance)
		out = append(out, r)
	}
	return out, nil
}

// ScanSummaryFor returns the scan summary for an agent path, empty when no
// scan exists.
func (s *AgentService) ScanSummaryFor(path string) ScanSummary {
	if s.scans == nil {
		return ScanSummary{}
	}
	result, err := s.scans.LatestAgentScan(path)
	if err != nil {
		return ScanSummary{}
	}
	return ScanSummary{
		LastScanTime: result.ScanTimestamp,
		IsSafe:       &result.IsSafe,
		ScanFailed:   &result.ScanFailed,
	}
}

// SecurityScan returns the latest archived scan result for the agent.
func (s *AgentService) SecurityScan(path string, user *model.UserContext) (*model.ScanResult, error) {
	if _, err := s.Get(path, user); err != nil {
		return nil, err
	}
	if s.scans == nil {
		return nil, fmt.Errorf("scan result: %w", storage.ErrNoScan)
	}
	return s.scans.LatestAgentScan(storage.NormalizePath(path))
}

// Rescan runs a synchronous scan. Admin only.
func (s *AgentService) Rescan(ctx context.Context, path string, user *model.UserContext) (*model.ScanResult, error) {
	if !user.IsAdmin {
		return nil, fmt.Errorf("user %q may not rescan agents: %w", user.Username, storage.ErrForbidden)
	}
	if s.scans == nil {
		return nil, fmt.Errorf("scanning not configured: %w", storage.ErrInvalid)
	}
	return s.scans.ScanAgentNow(ctx, path)
}

var _ scanner.AgentCatalog = (*storage.AgentStore)(nil)
