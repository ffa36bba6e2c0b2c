package jwtmw

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"account_backend/internal/feature/account/usecase"
)

// ContextUserID is the gin context key holding the verified public user id.
const ContextUserID = "userID"

// Verifier is the subset of Codec the middleware needs.
type Verifier interface {
	Verify(token, purpose string, maxAge time.Duration) (string, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return token, token != ""
}

// AuthRequired returns a Gin middleware that admits only requests carrying a
// valid access token. Refresh and confirmation tokens are rejected.
func AuthRequired(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, err := v.Verify(token, usecase.PurposeAccess, 0)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, usecase.ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// UserID returns the id set by AuthRequired.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
