// RAG HTTP handlers.
//
// This file exposes the retrieval-augmented generation endpoints:
//   - POST /rag/chat   (grounded answer for a free-text message)
//   - POST /rag/query  (retrieval only, for debugging and relevance tuning)
//
// The gateway persists nothing; clients append the exchange to a session via
// the message endpoints when history is wanted.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rag-chat-backend/internal/services"
)

//
// DTOs
//

// RAGChatRequest is the JSON payload for a grounded chat call.
type RAGChatRequest struct {
	// Message is the user's free-text question.
	Message string `json:"message" binding:"required,min=1" example:"What are the best months to visit Japan?"`
}

// RAGQueryRequest is the JSON payload for a retrieval-only call.
type RAGQueryRequest struct {
	// Query is the text to rank chunks against.
	Query string `json:"query" binding:"required,min=1" example:"Japan travel seasons"`
}

//
// Handlers
//

// RAGChat godoc
// @ID          ragChat
// @Summary     Grounded chat
// @Description Retrieves relevant chunks for the message and composes a grounded answer.
// @Description Nothing is persisted; append the exchange to a session if history is wanted.
// @Tags        RAG
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.RAGChatRequest  true  "Chat payload"
//
// @Success     200  {object}  handlers.Envelope{data=services.ChatOutput}
// @Failure     400  {object}  handlers.Envelope  "Validation failed"
// @Failure     401  {object}  handlers.Envelope  "Unauthorized"
// @Failure     503  {object}  handlers.Envelope  "Generation backend unavailable"
// @Router      /rag/chat [post]
func (h *Handlers) RAGChat(c *gin.Context) {
	var req RAGChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "message required")
		return
	}

	out, err := h.ragSvc.Chat(c.Request.Context(), userID(c), req.Message)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyQuery):
			fail(c, http.StatusBadRequest, ErrCodeValidation, "message required")
		case errors.Is(err, services.ErrUpstreamUnavailable):
			fail(c, http.StatusServiceUnavailable, ErrCodeUpstream, "generation backend unavailable")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "chat failed")
		}
		return
	}
	ok(c, http.StatusOK, "ok", out)
}

// RAGQuery godoc
// @ID          ragQuery
// @Summary     Retrieval query
// @Description Returns ranked chunks with similarity scores for the query. No generation step.
// @Tags        RAG
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.RAGQueryRequest  true  "Query payload"
//
// @Success     200  {object}  handlers.Envelope{data=services.QueryOutput}
// @Failure     400  {object}  handlers.Envelope  "Validation failed"
// @Failure     401  {object}  handlers.Envelope  "Unauthorized"
// @Failure     503  {object}  handlers.Envelope  "Retrieval backend unavailable"
// @Router      /rag/query [post]
func (h *Handlers) RAGQuery(c *gin.Context) {
	var req RAGQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "query required")
		return
	}

	out, err := h.ragSvc.Query(c.Request.Context(), req.Query)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyQuery):
			fail(c, http.StatusBadRequest, ErrCodeValidation, "query required")
		case errors.Is(err, services.ErrUpstreamUnavailable):
			fail(c, http.StatusServiceUnavailable, ErrCodeUpstream, "retrieval backend unavailable")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "query failed")
		}
		return
	}
	ok(c, http.StatusOK, "ok", out)
}
