package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/hubwire/hubwire/internal/endpoint"
	"github.com/hubwire/hubwire/pkg/config"
)

// Authorizer returns the request-time enforcement hook for declared route
// requirements. Routes without requirements pass through untouched. Tokens
// are HMAC-signed JWTs, read from the Authorization header or, for browser
// websocket clients that cannot set headers, the access_token query
// parameter.
func Authorizer(cfg *config.Config, logger *zap.Logger) endpoint.AuthorizeFunc {
	log := logger.Named("authorizer")

	return func(c *gin.Context, reqs []endpoint.AuthorizationRequirement) bool {
		if len(reqs) == 0 {
			return true
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return false
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.JWT.Secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return false
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return false
		}

		for _, req := range reqs {
			if !satisfies(claims, req) {
				log.Warn("Request failed authorization requirement",
					zap.String("requirement", req.RequirementName()),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return false
			}
		}

		if sub, _ := claims["sub"].(string); sub != "" {
			c.Set("subject", sub)
		}
		return true
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>" or the
// access_token query parameter.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("access_token")
}

func satisfies(claims jwt.MapClaims, req endpoint.AuthorizationRequirement) bool {
	switch r := req.(type) {
	case endpoint.RequireAuthenticated:
		return true
	case endpoint.RequirePolicy:
		policies, _ := claims["policies"].([]interface{})
		for _, p := range policies {
			if name, _ := p.(string); name == r.Policy {
				return true
			}
		}
		return false
	case endpoint.RequireClaim:
		value, _ := claims[r.Claim].(string)
		return value == r.Value
	default:
		// Unknown requirement kinds fail closed.
		return false
	}
}
