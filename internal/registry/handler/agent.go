package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/service"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
)

// AgentHandler exposes the A2A agent registry operations. Agent paths may
// contain slashes, so everything below /api/agents is a catch-all route
// dispatched on the trailing segment.
type AgentHandler struct {
	svc    *service.AgentService
	logger *zap.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(svc *service.AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{svc: svc, logger: logger}
}

// Register mounts the agent routes on an authenticated group.
func (h *AgentHandler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.GET("", h.List)
		agents.GET("/*path", h.dispatchGet)
		agents.POST("/*path", h.dispatchPost)
		agents.PUT("/*path", h.Update)
		agents.DELETE("/*path", h.Delete)
	}
}

func (h *AgentHandler) dispatchPost(c *gin.Context) {
	p := c.Param("path")
	switch p {
	case "/register":
		h.RegisterAgent(c)
		return
	case "/discover":
		h.Discover(c)
		return
	case "/discover/semantic":
		h.DiscoverSemantic(c)
		return
	}
	if rest, ok := strings.CutSuffix(p, "/toggle"); ok {
		h.Toggle(c, rest)
		return
	}
	if rest, ok := strings.CutSuffix(p, "/rate"); ok {
		h.Rate(c, rest)
		return
	}
	if rest, ok := strings.CutSuffix(p, "/rescan"); ok {
		h.Rescan(c, rest)
		return
	}
	respondError(c, h.logger, fmt.Errorf("no such operation: %w", storage.ErrNotFound))
}

func (h *AgentHandler) dispatchGet(c *gin.Context) {
	p := c.Param("path")
	if rest, ok := strings.CutSuffix(p, "/security-scan"); ok {
		h.SecurityScan(c, rest)
		return
	}
	if rest, ok := strings.CutSuffix(p, "/health"); ok {
		h.Health(c, rest)
		return
	}
	if rest, ok := strings.CutSuffix(p, "/rating"); ok {
		h.Rating(c, rest)
		return
	}
	h.Get(c, p)
}

// agentEntry is one list item: the stored document plus scan summary.
type agentEntry struct {
	*model.Agent
	service.ScanSummary
}

// List handles GET /api/agents?query=&enabled_only=&visibility=.
func (h *AgentHandler) List(c *gin.Context) {
	enabledOnly, _ := strconv.ParseBool(c.Query("enabled_only"))
	agents := h.svc.List(c.Query("query"), enabledOnly, c.Query("visibility"), CurrentUser(c))
	entries := make([]agentEntry, 0, len(agents))
	for _, agent := range agents {
		entries = append(entries, agentEntry{Agent: agent, ScanSummary: h.svc.ScanSummaryFor(agent.Path)})
	}
	c.JSON(http.StatusOK, gin.H{"agents": entries, "total": len(entries)})
}

// RegisterAgent handles POST /api/agents/register (JSON, A2A camelCase).
func (h *AgentHandler) RegisterAgent(c *gin.Context) {
	var req model.RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}

	agent, err := h.svc.Register(c.Request.Context(), &req, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	registeredAt := ""
	if !agent.RegisteredAt.IsZero() {
		registeredAt = agent.RegisteredAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": fmt.Sprintf("agent %q registered", agent.Name),
		"agent": gin.H{
			"name":          agent.Name,
			"path":          agent.Path,
			"url":           agent.URL,
			"num_skills":    len(agent.Skills),
			"registered_at": registeredAt,
			"is_enabled":    agent.IsEnabled,
		},
	})
}

// Get handles GET /api/agents/{path}.
func (h *AgentHandler) Get(c *gin.Context, path string) {
	agent, err := h.svc.Get(path, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// Update handles PUT /api/agents/{path}.
func (h *AgentHandler) Update(c *gin.Context) {
	var req model.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}

	agent, err := h.svc.Update(c.Request.Context(), c.Param("path"), &req, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "agent updated", "agent": agent})
}

// Delete handles DELETE /api/agents/{path}.
func (h *AgentHandler) Delete(c *gin.Context) {
	path := c.Param("path")
	if err := h.svc.Delete(path, CurrentUser(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "agent deleted", "path": path})
}

// Toggle handles POST /api/agents/{path}/toggle?enabled=bool.
func (h *AgentHandler) Toggle(c *gin.Context, path string) {
	enabled, err := strconv.ParseBool(c.Query("enabled"))
	if err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: enabled must be a boolean", storage.ErrInvalid))
		return
	}

	state, err := h.svc.Toggle(c.Request.Context(), path, enabled, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "is_enabled": state})
}

// Rate handles POST /api/agents/{path}/rate with JSON {rating}.
func (h *AgentHandler) Rate(c *gin.Context, path string) {
	var req model.RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}

	avg, err := h.svc.Rate(path, req.Rating, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "rating recorded",
		"average":     avg,
		"your_rating": req.Rating,
	})
}

// Rating handles GET /api/agents/{path}/rating.
func (h *AgentHandler) Rating(c *gin.Context, path string) {
	avg, entries, err := h.svc.Rating(path, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"num_stars": avg, "ratings": entries})
}

// Health handles GET /api/agents/{path}/health.
func (h *AgentHandler) Health(c *gin.Context, path string) {
	result, err := h.svc.HealthCheck(c.Request.Context(), path, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Discover handles POST /api/agents/discover with JSON {skills, tags, max_results}.
func (h *AgentHandler) Discover(c *gin.Context) {
	var req model.DiscoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}

	results := h.svc.DiscoverBySkills(req.Skills, req.Tags, req.MaxResults, CurrentUser(c))
	c.JSON(http.StatusOK, gin.H{"agents": results, "total": len(results)})
}

// DiscoverSemantic handles POST /api/agents/discover/semantic?query=&max_results=.
func (h *AgentHandler) DiscoverSemantic(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		respondError(c, h.logger, fmt.Errorf("%w: query is required", storage.ErrInvalid))
		return
	}
	maxResults, _ := strconv.Atoi(c.Query("max_results"))

	results, err := h.svc.DiscoverSemantic(c.Request.Context(), query, maxResults, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": results, "total": len(results)})
}

// SecurityScan handles GET /api/agents/{path}/security-scan.
func (h *AgentHandler) SecurityScan(c *gin.Context, path string) {
	result, err := h.svc.SecurityScan(path, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Rescan handles POST /api/agents/{path}/rescan (admin only).
func (h *AgentHandler) Rescan(c *gin.Context, path string) {
	result, err := h.svc.Rescan(c.Request.Context(), path, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
