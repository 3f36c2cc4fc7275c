package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/storage"
	"github.com/gatewaylabs/toolgate/internal/search"
)

// SearchHandler exposes the hybrid semantic search across the three views.
type SearchHandler struct {
	engine *search.Engine
	logger *zap.Logger
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(engine *search.Engine, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{engine: engine, logger: logger}
}

// Register mounts the search routes on an authenticated group.
func (h *SearchHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/search", h.Search)
	rg.POST("/search", h.Search)
}

type searchRequest struct {
	Query      string   `json:"query" form:"query"`
	Kinds      []string `json:"kinds" form:"kinds"`
	MaxResults int      `json:"max_results" form:"max_results"`
}

// Search handles GET and POST /api/search. Kinds may arrive as a JSON
// array, repeated query params, or one comma-separated value.
func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, h.logger, fmt.Errorf("%w: %s", storage.ErrInvalid, err))
			return
		}
	} else {
		req.Query = c.Query("query")
		req.Kinds = c.QueryArray("kinds")
		req.MaxResults, _ = strconv.Atoi(c.Query("max_results"))
	}
	if req.Query == "" {
		respondError(c, h.logger, fmt.Errorf("%w: query is required", storage.ErrInvalid))
		return
	}
	if len(req.Kinds) == 1 && strings.Contains(req.Kinds[0], ",") {
		req.Kinds = strings.Split(req.Kinds[0], ",")
	}

	results, err := h.engine.Search(c.Request.Context(), req.Query, search.Options{
		Kinds:      req.Kinds,
		MaxResults: req.MaxResults,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	RecordSearch()
	c.JSON(http.StatusOK, results)
}
