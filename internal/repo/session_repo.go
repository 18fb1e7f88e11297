// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Session
// model.
//
// Ownership is enforced at the query level: every lookup filters by both the
// session id and the owner's user id, so a missing row and a row owned by a
// different user are indistinguishable to callers (both surface as
// ErrNotFound, which aliases gorm.ErrRecordNotFound, so errors.Is matches
// either sentinel). Soft-deleted sessions are excluded automatically by
// GORM's DeletedAt handling.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
)

// CreateSession inserts a new Session row owned by userID. The session ID is
// a randomly generated UUID and CreatedAt is set to UTC. Title and
// description are persisted verbatim; validation happens in the service
// layer.
func CreateSession(ctx context.Context, db *gorm.DB, userID, title string, description *string) (*domain.Session, error) {
	now := time.Now().UTC()
	s := &domain.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions returns all non-deleted sessions belonging to userID, ordered
// by most recently updated first. It returns an empty slice when the user has
// no sessions.
func ListSessions(ctx context.Context, db *gorm.DB, userID string) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Find(&out).Error
	return out, err
}

// GetSession fetches a single session by its ID and owner. If the record does
// not exist, is soft-deleted, or belongs to another user, it returns
// ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RenameSession updates the title of a session identified by id and owned by
// userID. If no rows are affected (missing, deleted, or not owned), it
// returns ErrNotFound.
func RenameSession(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ToggleSessionFavorite flips the favorite flag in a single UPDATE so that
// concurrent toggles serialize at the database; each applies on top of
// whatever state the previous one left. Returns ErrNotFound when no row
// matches.
func ToggleSessionFavorite(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_favorite", gorm.Expr("NOT is_favorite"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteSession soft-deletes a session owned by userID. Messages are not
// touched here: they become unreachable because every message read resolves
// the owning, non-deleted session first. Returns ErrNotFound when no row
// matches.
func DeleteSession(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Session{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordMessageAppended bumps the denormalized message aggregates on a
// session: message_count is incremented and last_message_at / updated_at are
// set to the append time. Callers run this inside the same transaction as
// the message insert so the counter can never drift from the message rows.
// Returns ErrNotFound when no row matches.
func RecordMessageAppended(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"message_count":   gorm.Expr("message_count + 1"),
			"last_message_at": at,
			"updated_at":      at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
