package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/service"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
)

// CatalogHandler serves the public read-only catalog under /v0.1.
type CatalogHandler struct {
	svc    *service.CatalogService
	logger *zap.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(svc *service.CatalogService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{svc: svc, logger: logger}
}

// Register mounts the catalog routes. No auth middleware here.
func (h *CatalogHandler) Register(r gin.IRouter) {
	v01 := r.Group("/v0.1")
	{
		v01.GET("/servers", h.ListServers)
		v01.GET("/servers/:name/versions", h.ListVersions)
		v01.GET("/servers/:name/versions/:version", h.GetVersion)
	}
}

// ListServers handles GET /v0.1/servers?cursor=&limit=.
func (h *CatalogHandler) ListServers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	page, err := h.svc.ListServers(c.Query("cursor"), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// decodedName returns the server name path parameter. Gin already delivers
// params percent-decoded, so the raw value is used as-is.
func (h *CatalogHandler) decodedName(c *gin.Context) (string, error) {
	name := c.Param("name")
	if name == "" {
		return "", fmt.Errorf("%w: malformed server name", storage.ErrInvalid)
	}
	return name, nil
}

// ListVersions handles GET /v0.1/servers/{name}/versions.
func (h *CatalogHandler) ListVersions(c *gin.Context) {
	name, err := h.decodedName(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	versions, err := h.svc.ListVersions(name)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// GetVersion handles GET /v0.1/servers/{name}/versions/{version}.
func (h *CatalogHandler) GetVersion(c *gin.Context) {
	name, err := h.decodedName(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	version := c.Param("version")
	entry, err := h.svc.GetVersion(name, version)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
