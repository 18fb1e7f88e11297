// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
)

// NewMessage carries the caller-supplied fields of a message append. The
// repository fills in identity, sequence, and timestamps.
type NewMessage struct {
	Sender     string
	Content    string
	RAGContext *domain.RAGContext
	TokenCount *int
	Metadata   map[string]any
}

// CreateMessage inserts a new message row for the given session and owner.
// seq is the 1-based position within the session; callers derive it from the
// session's message_count inside the append transaction.
func CreateMessage(db *gorm.DB, userID, sessionID string, seq int, in NewMessage) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		UserID:         userID,
		Sender:         in.Sender,
		Content:        in.Content,
		SequenceNumber: &seq,
		TokenCount:     in.TokenCount,
		CreatedAt:      time.Now().UTC(),
	}
	if in.RAGContext != nil {
		jt := datatypes.NewJSONType(*in.RAGContext)
		m.RAGContext = &jt
	}
	if len(in.Metadata) > 0 {
		m.Metadata = datatypes.JSONMap(in.Metadata)
	}
	return m, db.Create(m).Error
}

// ListMessages returns all non-deleted messages for a session ordered
// deterministically (sequence_number ASC, created_at ASC, id ASC).
func ListMessages(db *gorm.DB, sessionID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.Where("session_id = ?", sessionID).
		Order("sequence_number ASC, created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT over non-deleted rows so a missing table
// surfaces as an error rather than a silent zero.
func CountMessages(db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.Raw(
		"SELECT COUNT(*) FROM messages WHERE session_id = ? AND deleted_at IS NULL",
		sessionID,
	).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice in the same deterministic order
// as ListMessages.
func ListMessagesPage(db *gorm.DB, sessionID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("session_id = ?", sessionID).
		Order("sequence_number ASC, created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
