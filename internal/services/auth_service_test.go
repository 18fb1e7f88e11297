package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
	"github.com/tbourn/go-rag-chat-backend/internal/repo"
)

// ----- Fake user repo -----

type fakeUserRepo struct {
	createEmail     string
	createHash      string
	createFirstName string
	createLastName  string
	createErr       error

	byEmailArg string
	byEmail    *domain.User
	byEmailErr error

	byIDArg string
	byID    *domain.User
	byIDErr error
}

func (r *fakeUserRepo) CreateUser(_ context.Context, _ *gorm.DB, email, passwordHash, firstName, lastName string) (*domain.User, error) {
	r.createEmail, r.createHash = email, passwordHash
	r.createFirstName, r.createLastName = firstName, lastName
	if r.createErr != nil {
		return nil, r.createErr
	}
	return &domain.User{ID: "u1", Email: email, PasswordHash: passwordHash, FirstName: firstName, LastName: lastName}, nil
}

func (r *fakeUserRepo) GetUserByEmail(_ context.Context, _ *gorm.DB, email string) (*domain.User, error) {
	r.byEmailArg = email
	return r.byEmail, r.byEmailErr
}

func (r *fakeUserRepo) GetUserByID(_ context.Context, _ *gorm.DB, id string) (*domain.User, error) {
	r.byIDArg = id
	return r.byID, r.byIDErr
}

func newTestAuth(r UserRepo) *AuthService {
	s := NewAuthService(nil, r, []byte("test-secret"), "test-issuer")
	s.BcryptCost = bcrypt.MinCost // keep hashing cheap in tests
	return s
}

// ----- Register -----

func TestAuthService_Register_Success(t *testing.T) {
	r := &fakeUserRepo{}
	s := newTestAuth(r)

	u, pair, err := s.Register(context.Background(), "  Alice@Example.COM ", "s3cret-pass", " Alice ", " Doe ")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if r.createEmail != "alice@example.com" {
		t.Fatalf("email not normalized: %q", r.createEmail)
	}
	if r.createFirstName != "Alice" || r.createLastName != "Doe" {
		t.Fatalf("names not trimmed: %q %q", r.createFirstName, r.createLastName)
	}
	if r.createHash == "s3cret-pass" || r.createHash == "" {
		t.Fatalf("password stored un-hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(r.createHash), []byte("s3cret-pass")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
	if u == nil || u.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if pair == nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected a full token pair, got %+v", pair)
	}
	if pair.ExpiresIn != int64(s.AccessTTL.Seconds()) {
		t.Fatalf("ExpiresIn = %d; want %d", pair.ExpiresIn, int64(s.AccessTTL.Seconds()))
	}
}

func TestAuthService_Register_EmailTaken(t *testing.T) {
	r := &fakeUserRepo{createErr: repo.ErrDuplicate}
	s := newTestAuth(r)

	_, _, err := s.Register(context.Background(), "a@b.test", "password1", "A", "B")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestAuthService_Register_RepoErrorPassesThrough(t *testing.T) {
	boom := errors.New("disk full")
	r := &fakeUserRepo{createErr: boom}
	s := newTestAuth(r)

	_, _, err := s.Register(context.Background(), "a@b.test", "password1", "A", "B")
	if !errors.Is(err, boom) {
		t.Fatalf("expected raw repo error, got %v", err)
	}
}

// ----- Login -----

func seedHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

func TestAuthService_Login_Success(t *testing.T) {
	r := &fakeUserRepo{
		byEmail: &domain.User{ID: "u1", Email: "a@b.test", PasswordHash: seedHash(t, "correct-horse")},
	}
	s := newTestAuth(r)

	pair, err := s.Login(context.Background(), " A@B.TEST ", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if r.byEmailArg != "a@b.test" {
		t.Fatalf("lookup email not normalized: %q", r.byEmailArg)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}
}

func TestAuthService_Login_UnknownEmailAndBadPasswordIndistinguishable(t *testing.T) {
	// Unknown email
	r1 := &fakeUserRepo{byEmailErr: gorm.ErrRecordNotFound}
	s1 := newTestAuth(r1)
	_, err1 := s1.Login(context.Background(), "nobody@b.test", "whatever")

	// Wrong password
	r2 := &fakeUserRepo{
		byEmail: &domain.User{ID: "u1", Email: "a@b.test", PasswordHash: seedHash(t, "right")},
	}
	s2 := newTestAuth(r2)
	_, err2 := s2.Login(context.Background(), "a@b.test", "wrong")

	if !errors.Is(err1, ErrInvalidCredentials) || !errors.Is(err2, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", err1, err2)
	}
}

// ----- Token verification -----

func TestAuthService_Authenticate_RoundTrip(t *testing.T) {
	r := &fakeUserRepo{}
	s := newTestAuth(r)

	u, pair, err := s.Register(context.Background(), "a@b.test", "password1", "A", "B")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	id, err := s.Authenticate(pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.UserID != u.ID || id.Email != u.Email {
		t.Fatalf("identity mismatch: %+v", id)
	}

	// The transport adapter returns the same identity.
	uid, email, err := s.VerifyAccessToken(pair.AccessToken)
	if err != nil || uid != u.ID || email != u.Email {
		t.Fatalf("VerifyAccessToken = %q %q %v", uid, email, err)
	}
}

func TestAuthService_Authenticate_RejectsRefreshToken(t *testing.T) {
	s := newTestAuth(&fakeUserRepo{})
	_, pair, err := s.Register(context.Background(), "a@b.test", "password1", "A", "B")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := s.Authenticate(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not pass access verification, got %v", err)
	}
}

func TestAuthService_Authenticate_RejectsGarbageAndForeignKey(t *testing.T) {
	s := newTestAuth(&fakeUserRepo{})
	if _, err := s.Authenticate("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: %v", err)
	}

	// Token signed with a different secret.
	other := newTestAuth(&fakeUserRepo{})
	other.Secret = []byte("different-secret")
	_, pair, err := other.Register(context.Background(), "a@b.test", "password1", "A", "B")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.Authenticate(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign-key token: %v", err)
	}
}

func TestAuthService_Authenticate_ExpiredToken(t *testing.T) {
	s := newTestAuth(&fakeUserRepo{})
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	_, pair, err := s.Register(context.Background(), "a@b.test", "password1", "A", "B")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Advance past the access TTL.
	s.now = func() time.Time { return issued.Add(s.AccessTTL + time.Minute) }
	if _, err := s.Authenticate(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiry rejection, got %v", err)
	}
}

// ----- Refresh -----

func TestAuthService_Refresh_RotatesPair(t *testing.T) {
	r := &fakeUserRepo{}
	s := newTestAuth(r)
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	u, pair, err := s.Register(context.Background(), "a@b.test", "password1", "A", "B")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.byID = u

	// Later moment so the rotated tokens differ from the originals.
	s.now = func() time.Time { return issued.Add(time.Minute) }
	next, err := s.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if r.byIDArg != u.ID {
		t.Fatalf("refresh looked up %q; want %q", r.byIDArg, u.ID)
	}
	if next.AccessToken == pair.AccessToken || next.RefreshToken == pair.RefreshToken {
		t.Fatalf("expected rotated tokens")
	}
	// The new access token verifies.
	if _, err := s.Authenticate(next.AccessToken); err != nil {
		t.Fatalf("rotated access token invalid: %v", err)
	}
}

func TestAuthService_Refresh_RejectsAccessToken(t *testing.T) {
	r := &fakeUserRepo{}
	s := newTestAuth(r)
	u, pair, err := s.Register(context.Background(), "a@b.test", "password1", "A", "B")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.byID = u

	if _, err := s.Refresh(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token must not refresh, got %v", err)
	}
}

func TestAuthService_Refresh_UserGone(t *testing.T) {
	r := &fakeUserRepo{}
	s := newTestAuth(r)
	_, pair, err := s.Register(context.Background(), "a@b.test", "password1", "A", "B")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.byIDErr = gorm.ErrRecordNotFound

	if _, err := s.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for deleted user, got %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Foo.Bar@Example.COM  "); got != "foo.bar@example.com" {
		t.Fatalf("NormalizeEmail = %q", got)
	}
	if got := NormalizeEmail(strings.Repeat(" ", 3)); got != "" {
		t.Fatalf("blank input = %q", got)
	}
}
