package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/echo-project/echo-signal/internal/app"
	"github.com/echo-project/echo-signal/internal/auth"
)

const subjectKey = "auth_subject"

// BearerAuth verifies the Authorization header and stores the token
// subject. A missing or failed verification is a rejection, never a
// crash; the verifier being unreachable denies the request.
func BearerAuth(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, ok := verifier.Verify(c.Request.Context(), token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(subjectKey, claims.Subject)
		c.Next()
	}
}

// requireOwner enforces that the token subject matches ownerId when one
// was supplied, and falls back to the subject otherwise.
func requireOwner(c *gin.Context, ownerID string) (string, bool) {
	subject := c.GetString(subjectKey)
	if ownerID == "" {
		return subject, true
	}
	if ownerID != subject {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "ownerId mismatch"})
		return "", false
	}
	return ownerID, true
}

// throttle applies the courtesy limiter per subject and operation class.
func throttle(c *gin.Context, limiter *app.RateLimiter, class string) bool {
	if limiter == nil {
		return true
	}
	key := c.GetString(subjectKey) + ":" + class
	if limiter.Allow(key) {
		return true
	}
	retry := int(limiter.RetryAfter(key).Seconds()) + 1
	c.Header("Retry-After", strconv.Itoa(retry))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
	return false
}
