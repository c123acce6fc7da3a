package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hubwire/hubwire/internal/endpoint"
	"github.com/hubwire/hubwire/pkg/config"
)

const testSecret = "test-secret"

func testCfg() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{Secret: testSecret, Issuer: "test"},
	}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	claims["exp"] = time.Now().Add(time.Hour).Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// runAuthorizer invokes the authorizer against a synthetic request and
// returns its verdict plus the recorded response.
func runAuthorizer(t *testing.T, req *http.Request, reqs []endpoint.AuthorizationRequirement) (bool, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	authorize := Authorizer(testCfg(), zap.NewNop())
	return authorize(c, reqs), w
}

func TestAuthorizer_NoRequirementsPassesThrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chat/negotiate", nil)

	ok, _ := runAuthorizer(t, req, nil)
	assert.True(t, ok)
}

func TestAuthorizer_MissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chat/negotiate", nil)

	ok, w := runAuthorizer(t, req, []endpoint.AuthorizationRequirement{endpoint.RequireAuthenticated{}})
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorizer_InvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chat/negotiate", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")

	ok, w := runAuthorizer(t, req, []endpoint.AuthorizationRequirement{endpoint.RequireAuthenticated{}})
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorizer_WrongSigningKey(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/chat/negotiate", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	ok, w := runAuthorizer(t, req, []endpoint.AuthorizationRequirement{endpoint.RequireAuthenticated{}})
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorizer_ValidToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"sub": "user-1"})

	req := httptest.NewRequest(http.MethodPost, "/chat/negotiate", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	ok, _ := runAuthorizer(t, req, []endpoint.AuthorizationRequirement{endpoint.RequireAuthenticated{}})
	assert.True(t, ok)
}

func TestAuthorizer_TokenFromQueryParameter(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"sub": "user-1"})

	// Browser websocket clients pass the token as a query parameter.
	req := httptest.NewRequest(http.MethodGet, "/chat?access_token="+signed, nil)

	ok, _ := runAuthorizer(t, req, []endpoint.AuthorizationRequirement{endpoint.RequireAuthenticated{}})
	assert.True(t, ok)
}

func TestAuthorizer_PolicyRequirement(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":      "user-1",
		"policies": []string{"member", "moderator"},
	})

	req := httptest.NewRequest(http.MethodPost, "/chat/negotiate", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	ok, _ := runAuthorizer(t, req, []endpoint.AuthorizationRequirement{
		endpoint.RequirePolicy{Policy: "moderator"},
	})
	assert.True(t, ok)
}

func TestAuthorizer_PolicyRequirementNotMet(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":      "user-1",
		"policies": []string{"member"},
	})

	req := httptest.NewRequest(http.MethodPost, "/chat/negotiate", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	ok, w := runAuthorizer(t, req, []endpoint.AuthorizationRequirement{
		endpoint.RequirePolicy{Policy: "admin"},
	})
	assert.False(t, ok)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthorizer_ClaimRequirement(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"sub": "user-1", "room": "ops"})

	req := httptest.NewRequest(http.MethodPost, "/chat/negotiate", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	ok, _ := runAuthorizer(t, req, []endpoint.AuthorizationRequirement{
		endpoint.RequireClaim{Claim: "room", Value: "ops"},
	})
	assert.True(t, ok)

	ok, w := runAuthorizer(t, req, []endpoint.AuthorizationRequirement{
		endpoint.RequireClaim{Claim: "room", Value: "general"},
	})
	assert.False(t, ok)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
