package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/service"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
)

var validate = validator.New()

// ServerHandler exposes the tool-server registry operations.
type ServerHandler struct {
	svc    *service.ServerService
	logger *zap.Logger
}

// NewServerHandler creates a ServerHandler.
func NewServerHandler(svc *service.ServerService, logger *zap.Logger) *ServerHandler {
	return &ServerHandler{svc: svc, logger: logger}
}

// Register mounts the server routes on an authenticated group.
func (h *ServerHandler) Register(rg *gin.RouterGroup) {
	servers := rg.Group("/servers")
	{
		servers.GET("", h.List)
		servers.POST("/register", h.RegisterServer)
		servers.PUT("/edit", h.Edit)
		servers.DELETE("/delete", h.Delete)
		servers.POST("/toggle", h.Toggle)
		servers.POST("/rate", h.Rate)
		servers.GET("/rating", h.Rating)
		servers.POST("/groups/add", h.AddToGroups)
		servers.POST("/groups/remove", h.RemoveFromGroups)
		servers.GET("/security-scan", h.SecurityScan)
		servers.POST("/rescan", h.Rescan)
	}
}

// serverEntry is one list item: the stored document plus scan summary.
type serverEntry struct {
	*model.Server
	service.ScanSummary
}

// List handles GET /api/servers.
func (h *ServerHandler) List(c *gin.Context) {
	servers := h.svc.List()
	entries := make([]serverEntry, 0, len(servers))
	for _, srv := range servers {
		entries = append(entries, serverEntry{Server: srv, ScanSummary: h.svc.ScanSummaryFor(srv.Path)})
	}
	c.JSON(http.StatusOK, gin.H{"servers": entries, "total": len(entries)})
}

// RegisterServer handles POST /api/servers/register (form-encoded).
func (h *ServerHandler) RegisterServer(c *gin.Context) {
	var req model.RegisterServerRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}

	srv, err := h.svc.Register(c.Request.Context(), &req, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": fmt.Sprintf("server %q registered", srv.Name),
		"server":  srv,
	})
}

// Edit handles PUT /api/servers/edit (form-encoded, addressed by path).
func (h *ServerHandler) Edit(c *gin.Context) {
	var req model.RegisterServerRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}

	srv, err := h.svc.Update(c.Request.Context(), req.Path, &req, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "server updated", "server": srv})
}

// Delete handles DELETE /api/servers/delete?path=.
func (h *ServerHandler) Delete(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		respondError(c, h.logger, fmt.Errorf("%w: path is required", storage.ErrInvalid))
		return
	}
	if err := h.svc.Remove(path, CurrentUser(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "server removed", "path": path})
}

type toggleForm struct {
	Path    string `form:"path" json:"path" validate:"required"`
	Enabled *bool  `form:"enabled" json:"enabled" validate:"required"`
}

// Toggle handles POST /api/servers/toggle (form-encoded).
func (h *ServerHandler) Toggle(c *gin.Context) {
	var req toggleForm
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}

	state, err := h.svc.Toggle(c.Request.Context(), req.Path, *req.Enabled, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path, "is_enabled": state})
}

type rateForm struct {
	Path   string `form:"path" json:"path" validate:"required"`
	Rating int    `form:"rating" json:"rating" validate:"required,min=1,max=5"`
}

// Rate handles POST /api/servers/rate.
func (h *ServerHandler) Rate(c *gin.Context) {
	var req rateForm
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}

	avg, err := h.svc.Rate(req.Path, req.Rating, CurrentUser(c))
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

// Rating handles GET /api/servers/rating?path=.
func (h *ServerHandler) Rating(c *gin.Context) {
	avg, entries, err := h.svc.Rating(c.Query("path"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"num_stars": avg, "ratings": entries})
}

type groupsRequest struct {
	ServerName string   `json:"server_name" validate:"required"`
	Groups     []string `json:"groups" validate:"required,min=1"`
}

// AddToGroups handles POST /api/servers/groups/add.
func (h *ServerHandler) AddToGroups(c *gin.Context) {
	h.mutateGroups(c, h.svc.AddToGroups)
}

// RemoveFromGroups handles POST /api/servers/groups/remove.
func (h *ServerHandler) RemoveFromGroups(c *gin.Context) {
	h.mutateGroups(c, h.svc.RemoveFromGroups)
}

func (h *ServerHandler) mutateGroups(c *gin.Context, op func(ctx context.Context, name string, groups []string, user *model.UserContext) error) {
	var req groupsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
		return
	}
	if err := op(c.Request.Context(), req.ServerName, req.Groups, CurrentUser(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "groups updated", "server_name": req.ServerName})
}

// SecurityScan handles GET /api/servers/security-scan?path=.
func (h *ServerHandler) SecurityScan(c *gin.Context) {
	result, err := h.svc.SecurityScan(c.Query("path"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Rescan handles POST /api/servers/rescan (form-encoded, admin only).
func (h *ServerHandler) Rescan(c *gin.Context) {
	path := c.PostForm("path")
	if path == "" {
		path = c.Query("path")
	}
	if path == "" {
		respondError(c, h.logger, fmt.Errorf("%w: path is required", storage.ErrInvalid))
		return
	}
	result, err := h.svc.Rescan(c.Request.Context(), path, CurrentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
