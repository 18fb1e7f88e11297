// Package services – SessionService
//
// This file implements the SessionService, which manages the lifecycle of
// chat sessions. It validates titles and descriptions, enforces ownership
// rules, and coordinates repository operations for creating, listing,
// renaming, favoriting, and soft-deleting sessions.
//
// Service-level errors (e.g., ErrSessionNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionRepo defines the repository contract required by SessionService.
// Implementations are responsible for persistence of session aggregates.
type SessionRepo interface {
	// CreateSession inserts a new session row for the given user.
	CreateSession(ctx context.Context, db *gorm.DB, userID, title string, description *string) (*domain.Session, error)

	// ListSessions returns all live sessions belonging to the user.
	ListSessions(ctx context.Context, db *gorm.DB, userID string) ([]domain.Session, error)

	// GetSession fetches a session by ID ensuring it belongs to the user.
	GetSession(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Session, error)

	// RenameSession updates a session's title (only if it belongs to the user).
	RenameSession(ctx context.Context, db *gorm.DB, id, userID, title string) error

	// ToggleSessionFavorite flips the favorite flag in place.
	ToggleSessionFavorite(ctx context.Context, db *gorm.DB, id, userID string) error

	// DeleteSession soft-deletes a session owned by the user.
	DeleteSession(ctx context.Context, db *gorm.DB, id, userID string) error
}

// SessionService provides session-level operations such as creating,
// listing, renaming, and removing sessions. It enforces title and
// description rules and ensures ownership constraints.
type SessionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the session repository used by this service.
	Repo SessionRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// DescriptionMaxLen caps stored descriptions by rune length.
	DescriptionMaxLen int
}

// NewSessionService constructs a SessionService with default limits.
func NewSessionService(db *gorm.DB, r SessionRepo) *SessionService {
	return &SessionService{
		DB:                db,
		Repo:              r,
		TitleMaxLen:       500,
		DescriptionMaxLen: 1000,
	}
}

// Create inserts a new session owned by userID with the provided title and
// optional description. Titles must be 1 to TitleMaxLen runes after trimming.
func (s *SessionService) Create(ctx context.Context, userID, title string, description *string) (*domain.Session, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	title, err := s.validTitle(title)
	if err != nil {
		return nil, err
	}
	description, err = s.validDescription(description)
	if err != nil {
		return nil, err
	}
	return s.Repo.CreateSession(ctx, s.DB, userID, title, description)
}

// List returns every live session owned by userID, most recently
// updated first.
func (s *SessionService) List(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.Repo.ListSessions(ctx, s.DB, userID)
}

// Get fetches one session by ID, scoped to the owner. A missing or
// foreign-owned session yields ErrSessionNotFound.
func (s *SessionService) Get(ctx context.Context, id, userID string) (*domain.Session, error) {
	sess, err := s.Repo.GetSession(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// Rename updates the title of a session owned by userID and returns the
// refreshed session.
func (s *SessionService) Rename(ctx context.Context, id, userID, title string) (*domain.Session, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Rename",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	title, err := s.validTitle(title)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.RenameSession(ctx, s.DB, id, userID, title); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id, userID)
}

// ToggleFavorite flips the favorite flag of a session owned by userID and
// returns the refreshed session.
func (s *SessionService) ToggleFavorite(ctx context.Context, id, userID string) (*domain.Session, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "ToggleFavorite",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if err := s.Repo.ToggleSessionFavorite(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id, userID)
}

// Remove soft-deletes a session owned by userID. Its messages stay in place
// but become unreachable through the API.
func (s *SessionService) Remove(ctx context.Context, id, userID string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Remove",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if err := s.Repo.DeleteSession(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// validTitle trims and length-checks a title by rune count.
func (s *SessionService) validTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrTitleInvalid
	}
	max := s.TitleMaxLen
	if max <= 0 {
		max = 500
	}
	if utf8.RuneCountInString(title) > max {
		return "", ErrTitleInvalid
	}
	return title, nil
}

// validDescription trims and length-checks an optional description.
// An empty string after trimming is stored as absent.
func (s *SessionService) validDescription(description *string) (*string, error) {
	if description == nil {
		return nil, nil
	}
	d := strings.TrimSpace(*description)
	if d == "" {
		return nil, nil
	}
	max := s.DescriptionMaxLen
	if max <= 0 {
		max = 1000
	}
	if utf8.RuneCountInString(d) > max {
		return nil, ErrDescriptionTooLong
	}
	return &d, nil
}
