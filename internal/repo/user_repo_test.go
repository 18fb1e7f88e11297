package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
)

func TestCreateUser_SuccessAndDuplicateEmail(t *testing.T) {
	db := newRepoDB(t, &domain.User{})

	u, err := CreateUser(context.Background(), db, "a@b.test", "hash", "A", "B")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.Email != "a@b.test" || u.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", u)
	}

	// Same email again violates the unique index.
	if _, err := CreateUser(context.Background(), db, "a@b.test", "hash2", "C", "D"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetUserByEmail_And_ByID(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	u, err := CreateUser(context.Background(), db, "a@b.test", "hash", "A", "B")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	byEmail, err := GetUserByEmail(context.Background(), db, "a@b.test")
	if err != nil || byEmail.ID != u.ID {
		t.Fatalf("GetUserByEmail: %+v %v", byEmail, err)
	}
	byID, err := GetUserByID(context.Background(), db, u.ID)
	if err != nil || byID.Email != "a@b.test" {
		t.Fatalf("GetUserByID: %+v %v", byID, err)
	}

	if _, err := GetUserByEmail(context.Background(), db, "nobody@b.test"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("missing email: %v", err)
	}
	if _, err := GetUserByID(context.Background(), db, "nope"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("missing id: %v", err)
	}
}

func Test_isUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Fatalf("nil is not a violation")
	}
	if !isUniqueViolation(gorm.ErrDuplicatedKey) {
		t.Fatalf("gorm sentinel not recognized")
	}
	if !isUniqueViolation(errors.New("UNIQUE constraint failed: users.email")) {
		t.Fatalf("sqlite message not recognized")
	}
	if isUniqueViolation(errors.New("disk I/O error")) {
		t.Fatalf("unrelated error misclassified")
	}
}
