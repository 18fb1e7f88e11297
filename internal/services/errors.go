// Package services defines the business logic for authentication, sessions,
// messages, and the RAG gateway. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Authentication errors.
var (
	// ErrEmailTaken indicates that a registration used an email address that
	// already belongs to an existing user.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned on login when the email is unknown or
	// the password does not match. The two cases are deliberately not
	// distinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when a presented token is malformed,
	// expired, carries the wrong type claim, or fails signature verification.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Session errors.
var (
	// ErrSessionNotFound indicates that the requested session does not exist,
	// is soft-deleted, or is not accessible to the current user. Ownership
	// mismatch and non-existence are indistinguishable on purpose.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTitleInvalid is returned when a session title is empty after
	// trimming or exceeds the maximum length.
	ErrTitleInvalid = errors.New("title must be 1-500 characters")

	// ErrDescriptionTooLong is returned when a session description exceeds
	// the maximum length.
	ErrDescriptionTooLong = errors.New("description too long")
)

// Message errors.
var (
	// ErrInvalidSender is returned when a message sender is not one of
	// "user", "assistant", or "system".
	ErrInvalidSender = errors.New("invalid sender role")

	// ErrEmptyContent is returned when a message append carries no content.
	ErrEmptyContent = errors.New("content is empty")

	// ErrContentTooLong is returned when a message append exceeds the
	// maximum configured length limit.
	ErrContentTooLong = errors.New("content too long")
)

// RAG gateway errors.
var (
	// ErrEmptyQuery is returned when a chat or query request carries no text.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrUpstreamUnavailable indicates that the generation or retrieval
	// backend is unreachable, returned an error, or timed out. The gateway
	// never substitutes a fabricated answer for this failure.
	ErrUpstreamUnavailable = errors.New("generation backend unavailable")
)
