// Message HTTP handlers.
//
// This file exposes REST endpoints for session messages:
//   - POST /sessions/{id}/messages   (append a message to an owned session)
//   - GET  /sessions/{id}/messages   (list paginated messages for a session)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (sender, content, length constraints)
//   - delegate to application services (MessageService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, session, key), the handler returns that recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
	"github.com/tbourn/go-rag-chat-backend/internal/http/middleware"
	"github.com/tbourn/go-rag-chat-backend/internal/repo"
	"github.com/tbourn/go-rag-chat-backend/internal/services"
)

//
// DTOs
//

// AppendMessageRequest is the JSON payload for appending a message.
//
// Content is normalized by the handler (line endings and excessive blank
// lines) before being passed to the service layer. The service also enforces
// a maximum rune count.
type AppendMessageRequest struct {
	// Sender is one of "user", "assistant", or "system".
	Sender string `json:"sender" binding:"required" example:"user"`
	// Content is the message body. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"What are the best months to visit Japan?"`
	// RAGContext optionally records the retrieval context behind an assistant reply.
	RAGContext *domain.RAGContext `json:"ragContext,omitempty"`
	// TokenCount optionally records the generation cost.
	TokenCount *int `json:"tokenCount,omitempty"`
	// Metadata carries free-form annotations (e.g., model, timestamp).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListMessagesData contains a page of session messages and pagination metadata.
type ListMessagesData struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes message text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxContentRunes inspects the concrete MessageService for a
// configured content-length limit. If unavailable, it returns a conservative
// fallback.
func discoverMaxContentRunes(msgSvc MessageService) int {
	const fallback = 10000
	if ms, ok := msgSvc.(*services.MessageService); ok {
		if ms.MaxContentRunes > 0 {
			return ms.MaxContentRunes
		}
	}
	return fallback
}

//
// Handlers
//

// AppendMessage godoc
// @ID          appendMessage
// @Summary     Append a message to a session
// @Description Appends one message to a session owned by the current user. The message
// @Description receives the next sequence number and bumps the session's message count.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       body             body    handlers.AppendMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.Envelope{data=domain.Message}
// @Failure     400  {object}  handlers.Envelope  "Validation failed"
// @Failure     401  {object}  handlers.Envelope  "Unauthorized"
// @Failure     404  {object}  handlers.Envelope  "Session not found"
// @Failure     500  {object}  handlers.Envelope  "Internal error"
// @Router      /sessions/{id}/messages [post]
func (h *Handlers) AppendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID, okID := parseSessionID(c)
	if !okID {
		return
	}

	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "sender and content required")
		return
	}
	if !domain.ValidSender(req.Sender) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "sender must be one of: user, assistant, system")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	content := sanitizeContent(req.Content)
	maxRunes := discoverMaxContentRunes(h.msgSvc)
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("content too long: max %d runes", maxRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "content required")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, sessionID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetMessage(svc.DB, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusCreated, "created", prev)
					return
				}
			}
		}
	}

	m, err := h.msgSvc.Append(ctx, currentUser, sessionID, services.AppendInput{
		Sender:     req.Sender,
		Content:    content,
		RAGContext: req.RAGContext,
		TokenCount: req.TokenCount,
		Metadata:   req.Metadata,
	})
	if err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case services.ErrInvalidSender:
			fail(c, http.StatusBadRequest, ErrCodeValidation, "sender must be one of: user, assistant, system")
		case services.ErrEmptyContent:
			fail(c, http.StatusBadRequest, ErrCodeValidation, "content required")
		case services.ErrContentTooLong:
			fail(c, http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("content too long: max %d runes", maxRunes))
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not append message")
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			ttl := h.IdempotencyTTL
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, sessionID, idemKey, m.ID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, "created", m)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a session
// @Description Returns a paginated list of messages in sequence order for a session owned
// @Description by the current user. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id        path   string  true  "Session ID (UUID)"  format(uuid)
// @Param       page      query  int     false "Page number"        minimum(1) default(1)
// @Param       pageSize  query  int     false "Items per page"     minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.Envelope{data=handlers.ListMessagesData}
// @Failure     400  {object} handlers.Envelope "Validation failed"
// @Failure     401  {object} handlers.Envelope "Unauthorized"
// @Failure     404  {object} handlers.Envelope "Session not found"
// @Failure     500  {object} handlers.Envelope "Internal error"
// @Router      /sessions/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID, okID := parseSessionID(c)
	if !okID {
		return
	}

	uid := userID(c)

	// ETag pre-check (best effort). Stats are ownership-scoped so a foreign
	// or deleted session yields no header and falls through to the 404 below.
	var db *gorm.DB
	if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.MessagesStats(ctx, db, sessionID, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, sessionID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListPage(ctx, uid, sessionID, page, pageSize)
	if err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list messages")
		}
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, "ok", ListMessagesData{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
