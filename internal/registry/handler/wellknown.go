package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/health"
	"github.com/gatewaylabs/toolgate/internal/registry/service"
)

// statusSource reads the background prober's latest raw status per path.
type statusSource interface {
	Status(path string) string
}

// WellKnownHandler serves the unauthenticated discovery endpoint listing
// enabled tool servers with normalized health status.
type WellKnownHandler struct {
	svc    *service.ServerService
	status statusSource
	logger *zap.Logger
}

// NewWellKnownHandler creates a WellKnownHandler.
func NewWellKnownHandler(svc *service.ServerService, status statusSource, logger *zap.Logger) *WellKnownHandler {
	return &WellKnownHandler{svc: svc, status: status, logger: logger}
}

// Register mounts the well-known routes. No auth middleware here.
func (h *WellKnownHandler) Register(r gin.IRouter) {
	r.GET("/.well-known/mcp-servers", h.ServeServers)
}

// wellKnownServer is one entry in the discovery document.
type wellKnownServer struct {
	Name                string   `json:"name"`
	Path                string   `json:"path"`
	Description         string   `json:"description,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	Tools               []string `json:"tools,omitempty"`
	NumTools            int      `json:"num_tools"`
	AuthType            string   `json:"auth_type,omitempty"`
	SupportedTransports []string `json:"supported_transports,omitempty"`
	HealthStatus        string   `json:"health_status"`
}

// ServeServers handles GET /.well-known/mcp-servers.
func (h *WellKnownHandler) ServeServers(c *gin.Context) {
	entries := []wellKnownServer{}
	for _, srv := range h.svc.List() {
		if !srv.IsEnabled {
			continue
		}
		tools := make([]string, 0, len(srv.ToolList))
		for _, t := range srv.ToolList {
			tools = append(tools, t.Name)
		}
		entries = append(entries, wellKnownServer{
			Name:                srv.Name,
			Path:                srv.Path,
			Description:         srv.Description,
			Tags:                srv.Tags,
			Tools:               tools,
			NumTools:            len(tools),
			AuthType:            srv.AuthType,
			SupportedTransports: srv.SupportedTransports,
			HealthStatus:        health.Normalize(h.status.Status(srv.Path)),
		})
	}
	c.JSON(http.StatusOK, gin.H{"servers": entries, "total": len(entries)})
}
