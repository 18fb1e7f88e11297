// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints:
// a uniform envelope for success and failure, consistent JSON serialization,
// and helpers for common HTTP patterns. Every endpoint returns the same
// envelope shape, making the API predictable and machine-friendly.
//
// Conventions:
//   - All error responses carry a stable machine-readable `code`.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx responses
//     are logged with request context for observability.
//   - `ok()` and `noContent()` simplify writing success responses in a
//     consistent shape across handlers.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "success": false,
//	  "statusCode": 404,
//	  "code": "not_found",
//	  "message": "session not found",
//	  "requestId": "123e4567-e89b-12d3-a456-426614174000",
//	  "timestamp": "2026-01-02T15:04:05Z",
//	  "path": "/api/v1/sessions/abc",
//	  "method": "GET"
//	}
//
// Example success response:
//
//	HTTP/1.1 201 Created
//	{
//	  "success": true,
//	  "statusCode": 201,
//	  "message": "created",
//	  "data": { "id": "abc123", "title": "Trip Planning" },
//	  "timestamp": "2026-01-02T15:04:05Z",
//	  "path": "/api/v1/sessions",
//	  "method": "POST"
//	}
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rag-chat-backend/internal/http/middleware"
)

// Envelope is the uniform response body returned by all endpoints.
//
// Success responses set Success=true and carry the payload under Data.
// Failures set Success=false, omit Data, and carry a stable Code (see
// errors.go constants) plus a RequestID correlating server logs with
// client-side errors.
type Envelope struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode" example:"200"`
	// Human-readable summary (safe to show to users)
	Message string `json:"message" example:"ok"`
	Data    any    `json:"data,omitempty"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code,omitempty" example:"not_found"`
	// Correlates server logs and client errors
	RequestID string `json:"requestId,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Timestamp string `json:"timestamp" example:"2026-01-02T15:04:05Z"`
	Path      string `json:"path" example:"/api/v1/sessions"`
	Method    string `json:"method" example:"GET"`
}

// fail aborts the request with a structured error envelope and logs
// server-side errors.
//
// Server errors (>=500) are logged using the request-scoped logger from
// middleware.
func fail(c *gin.Context, status int, code, msg string) {
	resp := Envelope{
		Success:    false,
		StatusCode: status,
		Message:    msg,
		Code:       code,
		RequestID:  c.Writer.Header().Get("X-Request-ID"),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       c.Request.URL.Path,
		Method:     c.Request.Method,
	}

	// Log 5xx (server-side) with request-scoped logger
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success envelope with the given status, summary message, and
// payload.
func ok(c *gin.Context, status int, msg string, data any) {
	c.JSON(status, Envelope{
		Success:    true,
		StatusCode: status,
		Message:    msg,
		Data:       data,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       c.Request.URL.Path,
		Method:     c.Request.Method,
	})
}

// noContent writes an HTTP 204 No Content response.
//
// Used when the operation succeeds but there is no response body.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
