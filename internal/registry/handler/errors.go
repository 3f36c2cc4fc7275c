// Package handler exposes the registry over HTTP with gin: entity CRUD,
// hybrid search, discovery, the public catalog, and scan access.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/storage"
)

const requestIDKey = "request_id"

// RequestID assigns a request id to every request, echoed in error bodies
// and the X-Request-ID response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// respondError maps the storage sentinels onto HTTP statuses. Internal
// errors are logged with full context but surfaced with a generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	detail := err.Error()

	switch {
	case errors.Is(err, storage.ErrInvalid):
		status, code = http.StatusUnprocessableEntity, "invalid"
	case errors.Is(err, storage.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrNoScan):
		status, code = http.StatusNotFound, "no_scan"
	case errors.Is(err, storage.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, storage.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, context.DeadlineExceeded):
		detail = "operation timed out"
	default:
		logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String(requestIDKey, c.GetString(requestIDKey)),
			zap.Error(err))
		detail = "internal error"
	}

	c.AbortWithStatusJSON(status, errorBody{
		Detail:    detail,
		ErrorCode: code,
		RequestID: c.GetString(requestIDKey),
	})
}
