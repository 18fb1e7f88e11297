// Session HTTP handlers.
//
// This file exposes REST endpoints for chat session resources:
//   - POST   /sessions                (create)
//   - GET    /sessions                (list, ETag support)
//   - GET    /sessions/{id}           (fetch one)
//   - PUT    /sessions/{id}/rename    (rename)
//   - PUT    /sessions/{id}/favorite  (toggle favorite)
//   - DELETE /sessions/{id}           (soft delete)
//
// Handlers are transport-thin: they validate input, call application services
// with the authenticated user's ID, and translate results into HTTP responses
// (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
	"github.com/tbourn/go-rag-chat-backend/internal/repo"
	"github.com/tbourn/go-rag-chat-backend/internal/services"
	"github.com/tbourn/go-rag-chat-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// SessionService defines session lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SessionService interface {
	// Create starts a new session for userID.
	Create(ctx context.Context, userID, title string, description *string) (*domain.Session, error)
	// List returns all live sessions for a user, most recently updated first.
	List(ctx context.Context, userID string) ([]domain.Session, error)
	// Get fetches one owned session.
	Get(ctx context.Context, id, userID string) (*domain.Session, error)
	// Rename updates the title of an owned session.
	Rename(ctx context.Context, id, userID, title string) (*domain.Session, error)
	// ToggleFavorite flips the favorite flag of an owned session.
	ToggleFavorite(ctx context.Context, id, userID string) (*domain.Session, error)
	// Remove soft-deletes an owned session.
	Remove(ctx context.Context, id, userID string) error
}

// MessageService defines message append/list operations consumed by HTTP
// handlers.
type MessageService interface {
	// Append adds one message to an owned session.
	Append(ctx context.Context, userID, sessionID string, in services.AppendInput) (*domain.Message, error)
	// ListPage returns a page of messages within an owned session and the total count.
	ListPage(ctx context.Context, userID, sessionID string, page, pageSize int) ([]domain.Message, int64, error)
}

// RAGService defines the retrieval-augmented generation operations consumed
// by HTTP handlers.
type RAGService interface {
	// Chat composes a grounded answer for a free-text message.
	Chat(ctx context.Context, userID, message string) (*services.ChatOutput, error)
	// Query runs retrieval only.
	Query(ctx context.Context, query string) (*services.QueryOutput, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for auth, sessions, messages, and RAG.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	authSvc    AuthService
	sessionSvc SessionService
	msgSvc     MessageService
	ragSvc     RAGService

	// IdempotencyTTL bounds how long stored idempotency records replay.
	// Zero falls back to 24h.
	IdempotencyTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(authSvc AuthService, sessionSvc SessionService, msgSvc MessageService, ragSvc RAGService) *Handlers {
	return &Handlers{authSvc: authSvc, sessionSvc: sessionSvc, msgSvc: msgSvc, ragSvc: ragSvc}
}

// userID extracts the authenticated user id from Gin context (set by the auth
// middleware). Protected routes guarantee presence; an empty return means the
// route was wired without RequireAuth, which is a programming error surfaced
// as 401 by the callers.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

//
// DTOs
//

// CreateSessionRequest is the JSON payload for creating a session.
type CreateSessionRequest struct {
	// Title names the session (1-500 chars after trimming).
	Title string `json:"title" binding:"required" example:"Trip Planning"`
	// Description optionally annotates the session (max 1000 chars).
	Description *string `json:"description,omitempty" example:"Planning a trip to Japan"`
}

// RenameSessionRequest is the JSON payload for renaming a session.
type RenameSessionRequest struct {
	// Title is the new session name (1-500 chars after trimming).
	Title string `json:"title" binding:"required" example:"Japan Trip 2026"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
}

//
// Helpers
//

// clampPagination parses and bounds page and pageSize query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("pageSize"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// parseSessionID validates the :id path parameter as a UUID. On failure it
// writes a 400 and returns false.
func parseSessionID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "session id must be a UUID")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// CreateSession godoc
// @ID          createSession
// @Summary     Create a new session
// @Description Creates a chat session for the current user and returns the session resource.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateSessionRequest  true  "Create session payload"
//
// @Success     201  {object}  handlers.Envelope{data=domain.Session}
// @Failure     400  {object}  handlers.Envelope  "Validation failed"
// @Failure     401  {object}  handlers.Envelope  "Unauthorized"
// @Failure     500  {object}  handlers.Envelope  "Internal error"
// @Router      /sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "title required")
		return
	}

	s, err := h.sessionSvc.Create(c.Request.Context(), userID(c), req.Title, req.Description)
	if err != nil {
		switch err {
		case services.ErrTitleInvalid:
			fail(c, http.StatusBadRequest, ErrCodeValidation, "title must be 1-500 characters")
		case services.ErrDescriptionTooLong:
			fail(c, http.StatusBadRequest, ErrCodeValidation, "description must be at most 1000 characters")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not create session")
		}
		return
	}
	ok(c, http.StatusCreated, "created", s)
}

// ListSessions godoc
// @ID          listSessions
// @Summary     List sessions
// @Description Returns the user's live sessions, most recently updated first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} handlers.Envelope{data=[]domain.Session}
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.Envelope "Unauthorized"
// @Failure     500  {object} handlers.Envelope "Internal error"
// @Router      /sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, okSvc := h.sessionSvc.(*services.SessionService); okSvc {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.SessionsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"sessions:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.sessionSvc.List(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list sessions")
		return
	}
	ok(c, http.StatusOK, "ok", items)
}

// GetSession godoc
// @ID          getSession
// @Summary     Fetch a session
// @Description Returns one session owned by the current user.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.Envelope{data=domain.Session}
// @Failure     400  {object} handlers.Envelope "Validation failed"
// @Failure     401  {object} handlers.Envelope "Unauthorized"
// @Failure     404  {object} handlers.Envelope "Session not found"
// @Failure     500  {object} handlers.Envelope "Internal error"
// @Router      /sessions/{id} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	id, okID := parseSessionID(c)
	if !okID {
		return
	}

	s, err := h.sessionSvc.Get(c.Request.Context(), id, userID(c))
	if err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not fetch session")
		}
		return
	}
	ok(c, http.StatusOK, "ok", s)
}

// RenameSession godoc
// @ID          renameSession
// @Summary     Rename a session
// @Description Updates the title of a session owned by the current user.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Session ID (UUID)"  format(uuid)
// @Param       body  body  handlers.RenameSessionRequest  true  "New title"
//
// @Success     200  {object} handlers.Envelope{data=domain.Session}
// @Failure     400  {object} handlers.Envelope "Validation failed"
// @Failure     401  {object} handlers.Envelope "Unauthorized"
// @Failure     404  {object} handlers.Envelope "Session not found"
// @Failure     500  {object} handlers.Envelope "Internal error"
// @Router      /sessions/{id}/rename [put]
func (h *Handlers) RenameSession(c *gin.Context) {
	id, okID := parseSessionID(c)
	if !okID {
		return
	}

	var req RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "title required (1-500 chars)")
		return
	}

	s, err := h.sessionSvc.Rename(c.Request.Context(), id, userID(c), req.Title)
	if err != nil {
		switch err {
		case services.ErrTitleInvalid:
			fail(c, http.StatusBadRequest, ErrCodeValidation, "title must be 1-500 characters")
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not rename session")
		}
		return
	}
	ok(c, http.StatusOK, "renamed", s)
}

// ToggleFavorite godoc
// @ID          toggleFavorite
// @Summary     Toggle session favorite
// @Description Flips the favorite flag of a session owned by the current user.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.Envelope{data=domain.Session}
// @Failure     400  {object} handlers.Envelope "Validation failed"
// @Failure     401  {object} handlers.Envelope "Unauthorized"
// @Failure     404  {object} handlers.Envelope "Session not found"
// @Failure     500  {object} handlers.Envelope "Internal error"
// @Router      /sessions/{id}/favorite [put]
func (h *Handlers) ToggleFavorite(c *gin.Context) {
	id, okID := parseSessionID(c)
	if !okID {
		return
	}

	s, err := h.sessionSvc.ToggleFavorite(c.Request.Context(), id, userID(c))
	if err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not update session")
		}
		return
	}
	ok(c, http.StatusOK, "updated", s)
}

// DeleteSession godoc
// @ID          deleteSession
// @Summary     Delete a session
// @Description Soft-deletes a session owned by the current user. Its messages become unreachable.
// @Tags        Sessions
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.Envelope "Validation failed"
// @Failure     401  {object} handlers.Envelope "Unauthorized"
// @Failure     404  {object} handlers.Envelope "Session not found"
// @Failure     500  {object} handlers.Envelope "Internal error"
// @Router      /sessions/{id} [delete]
func (h *Handlers) DeleteSession(c *gin.Context) {
	id, okID := parseSessionID(c)
	if !okID {
		return
	}

	if err := h.sessionSvc.Remove(c.Request.Context(), id, userID(c)); err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not delete session")
		}
		return
	}
	noContent(c)
}
