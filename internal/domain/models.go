// Package domain defines the persistence models for users, chat sessions, and
// messages. These types are mapped with GORM and form the core data layer of
// the RAG chat storage application.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message sender roles. Stored verbatim in the messages table and enforced by
// a DB check constraint.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// ValidSender reports whether s is one of the accepted sender roles.
func ValidSender(s string) bool {
	switch s {
	case SenderUser, SenderAssistant, SenderSystem:
		return true
	}
	return false
}

// User represents a registered identity. The email is unique; the password is
// stored only as a bcrypt hash. Users are never hard-deleted.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: unique login identifier, lowercased at registration.
//   - PasswordHash: bcrypt hash; never serialized to JSON.
//   - FirstName / LastName: display name parts.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retained for audit; no delete path in
//     the API).
type User struct {
	ID           string         `json:"id"        gorm:"type:char(36);primaryKey"`
	Email        string         `json:"email"     gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email"`
	PasswordHash string         `json:"-"         gorm:"type:varchar(128);not null"`
	FirstName    string         `json:"firstName" gorm:"type:varchar(100);not null"`
	LastName     string         `json:"lastName"  gorm:"type:varchar(100);not null"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `json:"-"         gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Session represents a titled conversation container owned by exactly one
// user. MessageCount and LastMessageAt are denormalized aggregates kept in
// lockstep with message appends (updated in the same transaction as the
// insert).
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: identifier of the owner; indexed for listing.
//   - Title: 1–500 runes, validated before persistence.
//   - Description: optional, up to 1000 runes.
//   - IsFavorite: user-toggled flag.
//   - MessageCount: number of non-deleted messages in the session.
//   - LastMessageAt: creation time of the most recent append, nil when empty.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker; deleted sessions vanish from reads but
//     the row (and its messages) stay in place.
type Session struct {
	ID            string         `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID        string         `json:"userId"        gorm:"type:char(36);not null;index:idx_user_sessions"`
	Title         string         `json:"title"         gorm:"type:varchar(500);not null"`
	Description   *string        `json:"description,omitempty" gorm:"type:varchar(1000)"`
	IsFavorite    bool           `json:"isFavorite"    gorm:"not null;default:false"`
	MessageCount  int            `json:"messageCount"  gorm:"not null;default:0"`
	LastMessageAt *time.Time     `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"     gorm:"index"`
	DeletedAt     gorm.DeletedAt `json:"-"             gorm:"index"`

	// User is the owning identity.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// RetrievedChunk is one unit of retrieval provenance attached to a message:
// the chunk that grounded (part of) an assistant answer.
type RetrievedChunk struct {
	ChunkID         string            `json:"chunk_id"`
	Content         string            `json:"content"`
	SimilarityScore float64           `json:"similarity_score"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// RAGContext records how an assistant message was produced: the retrieval
// query and the chunks that were fed to the generator.
type RAGContext struct {
	Query           string           `json:"query,omitempty"`
	RetrievedChunks []RetrievedChunk `json:"retrievedChunks,omitempty"`
}

// Message represents a single turn within a session. Messages are immutable
// once created except for soft deletion; ordering within a session is by
// sequence number (assigned at append time), falling back to creation time.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - SessionID: foreign key to the owning session (indexed with sequence).
//   - UserID: denormalized owner id, mirrors the session owner.
//   - Sender: one of "user", "assistant", "system" (DB check constraint).
//   - Content: full text of the turn.
//   - SequenceNumber: monotonic position within the session (1-based).
//   - TokenCount: optional token usage reported by the generator.
//   - RAGContext: optional retrieval provenance, stored as JSON.
//   - Metadata: optional free-form JSON attached by the caller.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type Message struct {
	ID             string                              `json:"id"        gorm:"type:char(36);primaryKey"`
	SessionID      string                              `json:"sessionId" gorm:"type:char(36);not null;index:idx_session_msgs,priority:1"`
	UserID         string                              `json:"userId"    gorm:"type:char(36);not null;index"`
	Sender         string                              `json:"sender"    gorm:"type:varchar(16);not null;check:sender IN ('user','assistant','system')"`
	Content        string                              `json:"content"   gorm:"type:text;not null"`
	SequenceNumber *int                                `json:"sequenceNumber,omitempty" gorm:"index:idx_session_msgs,priority:2"`
	TokenCount     *int                                `json:"tokenCount,omitempty"`
	RAGContext     *datatypes.JSONType[RAGContext]     `json:"ragContext,omitempty" gorm:"type:json"`
	Metadata       datatypes.JSONMap                   `json:"metadata,omitempty"   gorm:"type:json"`
	CreatedAt      time.Time                           `json:"createdAt"`
	UpdatedAt      time.Time                           `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt                      `json:"-"         gorm:"index"`

	// Session is the parent conversation. Messages are cascade-deleted only
	// if their session row is ever hard-removed; soft deletion of the session
	// leaves them in place.
	Session Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
