// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides bearer-token authentication. RequireAuth validates the
// Authorization header against a token verifier and stashes the caller's
// identity in the Gin context so downstream middleware (per-user rate
// limiting) and handlers can rely on it.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Context keys for the authenticated identity. The "userID" key is shared
// with the rate limiter and the idempotency validator.
const (
	ctxKeyUserID    = "userID"
	ctxKeyUserEmail = "userEmail"
)

// TokenVerifier validates an access token and returns the subject's user ID
// and email. Implementations must be side-effect free and fast; verification
// runs on every protected request.
type TokenVerifier interface {
	VerifyAccessToken(token string) (userID, email string, err error)
}

// UserIDFrom returns the authenticated user ID stored by RequireAuth.
// The second return value indicates presence.
func UserIDFrom(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// RequireAuth returns a Gin middleware that rejects requests lacking a valid
// bearer access token.
//
// Behavior:
//   - Missing or malformed Authorization header: 401 with code "unauthorized".
//   - Invalid or expired token: 401 with code "unauthorized".
//   - Valid token: stores userID and userEmail in the context and proceeds.
//
// The error body mirrors the shape emitted by the rate limiter so clients
// see one consistent error surface from the middleware chain.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		userID, email, err := verifier.VerifyAccessToken(token)
		if err != nil || userID == "" {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(ctxKeyUserID, userID)
		c.Set(ctxKeyUserEmail, email)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	AbortEnvelope(c, http.StatusUnauthorized, "unauthorized", msg)
}

// AbortEnvelope aborts the request with the uniform error envelope used by
// the handler layer, so middleware rejections and handler failures present
// one consistent shape to clients.
func AbortEnvelope(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":    false,
		"statusCode": status,
		"code":       code,
		"message":    msg,
		"requestId":  c.Writer.Header().Get("X-Request-ID"),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. Scheme matching is case-insensitive.
func bearerToken(h string) string {
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
