package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/handler"
	"github.com/gatewaylabs/toolgate/internal/registry/model"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret string, claims *handler.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func adminToken(t *testing.T) string {
	t.Helper()
	return signToken(t, testSecret, &handler.Claims{
		Username: "root",
		IsAdmin:  true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
}

func userToken(t *testing.T, username string, perms map[string][]string) string {
	t.Helper()
	return signToken(t, testSecret, &handler.Claims{
		Username:         username,
		UIPermissions:    perms,
		AccessibleAgents: []string{"all"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
}

func TestAuthenticatorDecode(t *testing.T) {
	auth := handler.NewAuthenticator(testSecret, zap.NewNop())

	user, err := auth.Decode(userToken(t, "alice", map[string][]string{model.PermRate: {"all"}}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if user.Username != "alice" || user.IsAdmin {
		t.Errorf("user: %+v", user)
	}
	if !user.HasPermission(model.PermRate) {
		t.Error("permissions not carried over")
	}
}

func TestAuthenticatorDecode_usernameFallsBackToSubject(t *testing.T) {
	auth := handler.NewAuthenticator(testSecret, zap.NewNop())
	token := signToken(t, testSecret, &handler.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "bob",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	user, err := auth.Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if user.Username != "bob" {
		t.Errorf("username: got %q", user.Username)
	}
}

func TestAuthenticatorDecode_rejections(t *testing.T) {
	auth := handler.NewAuthenticator(testSecret, zap.NewNop())
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other-secret", &handler.Claims{
			Username:         "alice",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future},
		})},
		{"expired", signToken(t, testSecret, &handler.Claims{
			Username: "alice",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})},
		{"missing expiry", signToken(t, testSecret, &handler.Claims{Username: "alice"})},
		{"no username or subject", signToken(t, testSecret, &handler.Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future},
		})},
		{"garbage", "not.a.token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := auth.Decode(tc.token); err == nil {
				t.Error("token accepted")
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	auth := handler.NewAuthenticator(testSecret, zap.NewNop())
	router := gin.New()
	router.Use(handler.RequestID(), auth.Middleware())
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": handler.CurrentUser(c).Username})
	})

	probe := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := probe("Bearer " + adminToken(t))
	if w.Code != http.StatusOK {
		t.Fatalf("valid token: status %d, body %s", w.Code, w.Body)
	}
	var body struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Username != "root" {
		t.Errorf("whoami body: %s", w.Body)
	}

	for name, authorization := range map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"bad token":      "Bearer nope",
	} {
		w := probe(authorization)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s: status %d", name, w.Code)
		}
		var errResp struct {
			ErrorCode string `json:"error_code"`
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
			t.Fatalf("%s: decode body: %v", name, err)
		}
		if errResp.ErrorCode != "forbidden" || errResp.RequestID == "" {
			t.Errorf("%s: body %s", name, w.Body)
		}
	}
}
