package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sdr-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const authorizationHeader = "Authorization"

// Verifier is satisfied by *Manager.
type Verifier interface {
	Verify(token string, expected TokenType, now time.Time) (Claims, error)
}

// RequireAccessToken admits requests bearing a valid operator access token and
// puts the operator Identity on the request context. Role checks live in rbac.
func RequireAccessToken(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c.GetHeader(authorizationHeader))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := v.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			reason := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				reason = "token expired"
			}
			logger.FromGin(c).Warn("operator token rejected", "reason", reason, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
			return
		}

		id := claims.Identity()
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		logger.Annotate(c, "operator_id", id.OperatorID, "role", id.Role)

		c.Next()
	}
}

// bearerToken accepts the scheme case-insensitively, as RFC 6750 allows.
func bearerToken(header string) (string, bool) {
	scheme, tok, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
