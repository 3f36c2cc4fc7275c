package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
)

const userContextKey = "user_context"

// Claims is the token payload the identity provider issues. The registry
// only consumes claims; it never issues tokens.
type Claims struct {
	Username         string              `json:"username"`
	Groups           []string            `json:"groups"`
	Scopes           []string            `json:"scopes"`
	IsAdmin          bool                `json:"is_admin"`
	UIPermissions    map[string][]string `json:"ui_permissions"`
	AccessibleAgents []string            `json:"accessible_agents"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer tokens against a shared HMAC secret and
// places the resulting UserContext on the request.
type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(secret string, logger *zap.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// Middleware rejects requests without a valid bearer token. Mount it on the
// authenticated route groups only; /health, /metrics, /v0.1 and
// /.well-known stay open.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if !strings.HasPrefix(raw, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
				Detail:    "missing bearer token",
				ErrorCode: "forbidden",
				RequestID: c.GetString(requestIDKey),
			})
			return
		}

		user, err := a.Decode(strings.TrimPrefix(raw, "Bearer "))
		if err != nil {
			a.logger.Debug("token rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
				Detail:    "invalid or expired token",
				ErrorCode: "forbidden",
				RequestID: c.GetString(requestIDKey),
			})
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// Decode validates a token string and builds the UserContext.
func (a *Authenticator) Decode(tokenStr string) (*model.UserContext, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	username := claims.Username
	if username == "" {
		username = claims.Subject
	}
	if username == "" {
		return nil, fmt.Errorf("token carries no username")
	}

	return &model.UserContext{
		Username:         username,
		Groups:           claims.Groups,
		Scopes:           claims.Scopes,
		IsAdmin:          claims.IsAdmin,
		UIPermissions:    claims.UIPermissions,
		AccessibleAgents: claims.AccessibleAgents,
	}, nil
}

// CurrentUser returns the authenticated user for the request.
func CurrentUser(c *gin.Context) *model.UserContext {
	if v, ok := c.Get(userContextKey); ok {
		if user, ok := v.(*model.UserContext); ok {
			return user
		}
	}
	return &model.UserContext{}
}
