// Package services – AuthService
//
// This file implements the AuthService, which owns the credential and token
// lifecycle: registration with bcrypt password hashing, login, stateless JWT
// access/refresh pairs, refresh rotation, and local access-token verification
// for protected endpoints.
//
// Refresh semantics: rotate-on-use, stateless. A refresh call validates the
// presented refresh token (signature, expiry, type claim), confirms the user
// still exists, and issues a brand-new pair. No revocation list is kept; a
// superseded refresh token remains usable until its own expiry.
//
// Service-level errors (ErrEmailTaken, ErrInvalidCredentials,
// ErrInvalidToken) are returned for predictable cases so handlers can map
// them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
	"github.com/tbourn/go-rag-chat-backend/internal/repo"

	"go.opentelemetry.io/otel"
)

// Token type claims embedded under "typ" to keep the two halves of a pair
// from being used interchangeably.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenPair is an access/refresh token pair bound to one user identity and
// issuance time.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // access token lifetime in seconds
}

// Identity is the authenticated caller extracted from a valid access token.
type Identity struct {
	UserID string
	Email  string
}

// UserRepo defines the repository contract required by AuthService.
type UserRepo interface {
	// CreateUser inserts a new user row; repo.ErrDuplicate on a taken email.
	CreateUser(ctx context.Context, db *gorm.DB, email, passwordHash, firstName, lastName string) (*domain.User, error)

	// GetUserByEmail fetches a user by exact email match.
	GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error)

	// GetUserByID fetches a user by primary key.
	GetUserByID(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)
}

// AuthService issues and validates tokens against stored user credentials.
type AuthService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the user repository used by this service.
	Repo UserRepo

	// Secret is the HMAC key signing both token types.
	Secret []byte
	// Issuer is embedded as the "iss" claim.
	Issuer string
	// AccessTTL / RefreshTTL control token lifetimes.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// BcryptCost selects the hashing cost; <= 0 uses bcrypt.DefaultCost.
	BcryptCost int

	// now is a seam for tests; defaults to time.Now.
	now func() time.Time
}

// NewAuthService constructs an AuthService with sane defaults for token
// lifetimes.
func NewAuthService(db *gorm.DB, r UserRepo, secret []byte, issuer string) *AuthService {
	return &AuthService{
		DB:         db,
		Repo:       r,
		Secret:     secret,
		Issuer:     issuer,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

// Register creates a new user from the given credentials and returns the user
// together with a fresh token pair. The email is lowercased and trimmed; the
// password is stored only as a bcrypt hash. A taken email yields
// ErrEmailTaken.
func (s *AuthService) Register(ctx context.Context, email, password, firstName, lastName string) (*domain.User, *TokenPair, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Register")
	defer span.End()

	email = NormalizeEmail(email)

	cost := s.BcryptCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, nil, err
	}

	u, err := s.Repo.CreateUser(ctx, s.DB, email, string(hash), strings.TrimSpace(firstName), strings.TrimSpace(lastName))
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, err
	}

	pair, err := s.issuePair(u)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// Login verifies the email/password combination and issues a fresh token
// pair. Unknown email and hash mismatch both yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	u, err := s.Repo.GetUserByEmail(ctx, s.DB, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issuePair(u)
}

// Refresh validates a refresh token and rotates it: a new access/refresh pair
// is issued for the same user. Any validation failure yields ErrInvalidToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Refresh")
	defer span.End()

	claims, err := s.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrInvalidToken
	}

	// The subject must still resolve to a live user.
	u, err := s.Repo.GetUserByID(ctx, s.DB, sub)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return s.issuePair(u)
}

// Authenticate verifies an access token and returns the caller's identity.
// Verification is purely local (HMAC + claims); no I/O is performed.
func (s *AuthService) Authenticate(accessToken string) (*Identity, error) {
	claims, err := s.parse(accessToken, tokenTypeAccess)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	return &Identity{UserID: sub, Email: email}, nil
}

// VerifyAccessToken adapts Authenticate to the transport layer's verifier
// contract, returning the caller's user ID and email.
func (s *AuthService) VerifyAccessToken(token string) (string, string, error) {
	id, err := s.Authenticate(token)
	if err != nil {
		return "", "", err
	}
	return id.UserID, id.Email, nil
}

// issuePair signs a fresh access/refresh pair bound to the user and the
// current time.
func (s *AuthService) issuePair(u *domain.User) (*TokenPair, error) {
	now := s.clock()

	access, err := s.sign(u, tokenTypeAccess, now, s.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(u, tokenTypeRefresh, now, s.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.AccessTTL.Seconds()),
	}, nil
}

// sign builds and signs one JWT of the given type.
func (s *AuthService) sign(u *domain.User, typ string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"typ":   typ,
		"iss":   s.Issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.Secret)
}

// parse verifies signature, expiry, and the "typ" claim of a token.
func (s *AuthService) parse(tokenString, wantType string) (jwt.MapClaims, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.Secret, nil
	}, jwt.WithTimeFunc(s.clock))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != wantType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// clock returns the service time source (test seam).
func (s *AuthService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// NormalizeEmail lowercases and trims an email address for storage and
// lookup. Validation of the shape happens at the handler layer.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
