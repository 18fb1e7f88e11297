// Auth HTTP handlers.
//
// This file exposes the credential and token endpoints:
//   - POST /auth/register  (create account, returns user + token pair)
//   - POST /auth/login     (exchange credentials for a token pair)
//   - POST /auth/refresh   (rotate a refresh token into a fresh pair)
//
// Handlers are transport-thin: they validate input shape, call the auth
// service, and translate results into HTTP responses. Credential failures
// never reveal whether the email exists.
package handlers

import (
	"context"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
	"github.com/tbourn/go-rag-chat-backend/internal/services"
)

// AuthService defines the credential/token operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type AuthService interface {
	// Register creates a user and issues an initial token pair.
	Register(ctx context.Context, email, password, firstName, lastName string) (*domain.User, *services.TokenPair, error)
	// Login exchanges credentials for a token pair.
	Login(ctx context.Context, email, password string) (*services.TokenPair, error)
	// Refresh rotates a refresh token into a fresh pair.
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
}

// minPasswordLen is the minimum accepted password length in bytes.
const minPasswordLen = 8

//
// DTOs
//

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	Email     string `json:"email" binding:"required" example:"a@x.com"`
	Password  string `json:"password" binding:"required" example:"pw123456"`
	FirstName string `json:"firstName" example:"Ada"`
	LastName  string `json:"lastName" example:"Lovelace"`
}

// LoginRequest is the JSON payload for exchanging credentials.
type LoginRequest struct {
	Email    string `json:"email" binding:"required" example:"a@x.com"`
	Password string `json:"password" binding:"required" example:"pw123456"`
}

// RefreshRequest is the JSON payload for rotating a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RegisterResponse bundles the created user with its initial token pair.
type RegisterResponse struct {
	User         *domain.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int64        `json:"expiresIn"`
}

//
// Handlers
//

// Register godoc
// @ID          register
// @Summary     Create an account
// @Description Registers a new user and returns the user plus an initial token pair.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RegisterRequest  true  "Registration payload"
//
// @Success     201  {object}  handlers.Envelope{data=handlers.RegisterResponse}
// @Failure     400  {object}  handlers.Envelope  "Validation failed"
// @Failure     409  {object}  handlers.Envelope  "Email already registered"
// @Failure     500  {object}  handlers.Envelope  "Internal error"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "email and password required")
		return
	}
	if !validEmail(req.Email) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "email must be a valid address")
		return
	}
	if len(req.Password) < minPasswordLen {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "password must be at least 8 characters")
		return
	}

	u, pair, err := h.authSvc.Register(c.Request.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		switch err {
		case services.ErrEmailTaken:
			fail(c, http.StatusConflict, ErrCodeConflict, "email already registered")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "registration failed")
		}
		return
	}

	ok(c, http.StatusCreated, "registered", RegisterResponse{
		User:         u,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Exchanges email and password for an access/refresh token pair.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
//
// @Success     200  {object}  handlers.Envelope{data=services.TokenPair}
// @Failure     400  {object}  handlers.Envelope  "Validation failed"
// @Failure     401  {object}  handlers.Envelope  "Invalid credentials"
// @Failure     500  {object}  handlers.Envelope  "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "email and password required")
		return
	}

	pair, err := h.authSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch err {
		case services.ErrInvalidCredentials:
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid email or password")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "login failed")
		}
		return
	}
	ok(c, http.StatusOK, "logged in", pair)
}

// Refresh godoc
// @ID          refresh
// @Summary     Refresh tokens
// @Description Rotates a valid refresh token into a fresh access/refresh pair.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RefreshRequest  true  "Refresh payload"
//
// @Success     200  {object}  handlers.Envelope{data=services.TokenPair}
// @Failure     400  {object}  handlers.Envelope  "Validation failed"
// @Failure     401  {object}  handlers.Envelope  "Invalid or expired token"
// @Failure     500  {object}  handlers.Envelope  "Internal error"
// @Router      /auth/refresh [post]
func (h *Handlers) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "refreshToken required")
		return
	}

	pair, err := h.authSvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch err {
		case services.ErrInvalidToken:
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired refresh token")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "refresh failed")
		}
		return
	}
	ok(c, http.StatusOK, "refreshed", pair)
}

// validEmail reports whether s parses as a bare RFC 5322 address.
func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s
}
