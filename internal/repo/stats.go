// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
)

// SessionsStats returns aggregate metadata for a user's non-deleted sessions:
// the total number of rows and the maximum UpdatedAt timestamp among them.
//
// Return values:
//   - count:        total sessions for userID
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          database error, if any
func SessionsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Session{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns aggregate metadata for non-deleted messages within a
// session owned by userID: the total number of rows and the maximum UpdatedAt
// timestamp among them. The session must exist, be live, and belong to
// userID; otherwise gorm.ErrRecordNotFound is returned so callers cannot
// derive counts or timestamps for foreign or deleted sessions.
//
// Return values:
//   - count:        total messages in the owned session
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          gorm.ErrRecordNotFound when the session is not visible to
//     userID, or a database error
func MessagesStats(ctx context.Context, db *gorm.DB, sessionID, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	var owned int64
	if err = db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Count(&owned).Error; err != nil {
		return 0, nil, err
	}
	if owned == 0 {
		return 0, nil, gorm.ErrRecordNotFound
	}

	q := db.WithContext(ctx).Model(&domain.Message{}).Where("session_id = ?", sessionID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
