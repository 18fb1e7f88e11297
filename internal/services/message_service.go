// Package services – MessageService
//
// This file implements the MessageService, which appends messages to
// sessions and reads them back in order. Appends verify session ownership,
// validate sender and content, assign a monotonically increasing sequence
// number, and update the parent session's denormalized counters, all inside
// one transaction so a crash can never leave the count and the rows
// disagreeing.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
	"github.com/tbourn/go-rag-chat-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AppendInput carries one message to be appended to a session.
type AppendInput struct {
	Sender     string
	Content    string
	RAGContext *domain.RAGContext
	TokenCount *int
	Metadata   map[string]any
}

// MessageService appends and lists messages within owned sessions.
type MessageService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// MaxContentRunes caps message content by rune length (0 = unlimited).
	MaxContentRunes int

	// now is a seam for tests; defaults to time.Now.
	now func() time.Time
}

// NewMessageService constructs a MessageService with the default content cap.
func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{DB: db, MaxContentRunes: 10000}
}

// Append validates the input, verifies the session belongs to userID, and
// persists the message with the next sequence number. The message insert,
// the session's message_count bump, and its last_message_at update commit
// atomically.
func (s *MessageService) Append(ctx context.Context, userID, sessionID string, in AppendInput) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("user.id", userID),
			attribute.String("sender", in.Sender),
		),
	)
	defer span.End()

	if !domain.ValidSender(in.Sender) {
		return nil, ErrInvalidSender
	}
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return nil, ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(in.Content) > s.MaxContentRunes {
		return nil, ErrContentTooLong
	}

	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Ownership check and counter read happen inside the transaction so
		// two concurrent appends cannot claim the same sequence number.
		sess, err := repo.GetSession(ctx, tx, sessionID, userID)
		if err != nil {
			return err
		}

		seq := sess.MessageCount + 1
		m, err := repo.CreateMessage(tx, userID, sessionID, seq, repo.NewMessage{
			Sender:     in.Sender,
			Content:    in.Content,
			RAGContext: in.RAGContext,
			TokenCount: in.TokenCount,
			Metadata:   in.Metadata,
		})
		if err != nil {
			return err
		}
		msg = m

		return repo.RecordMessageAppended(ctx, tx, sessionID, s.clock())
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return msg, nil
}

// ListBySession returns all live messages in a session in sequence order.
// The session must belong to userID.
func (s *MessageService) ListBySession(ctx context.Context, userID, sessionID string) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListBySession",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := repo.GetSession(ctx, s.DB, sessionID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return repo.ListMessages(s.DB.WithContext(ctx), sessionID, 0)
}

// ListPage returns paginated messages for an owned session plus the total
// live-message count.
func (s *MessageService) ListPage(ctx context.Context, userID, sessionID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetSession(ctx, s.DB, sessionID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrSessionNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), sessionID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), sessionID, offset, pageSize)
	return items, total, err
}

// clock returns the service time source (test seam).
func (s *MessageService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
