// Package auth issues and verifies the access tokens presented by clients
// and handymen when they open a realtime connection.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTokenTTL = 24 * time.Hour

// TokenClaims represents verified JWT token claims
type TokenClaims struct {
	UserID   uuid.UUID
	Role     string
	IssuedAt time.Time
	ExpireAt time.Time
}

// Service provides authentication
type Service interface {
	// GenerateToken creates a new JWT token
	GenerateToken(userID uuid.UUID, role string) (string, error)

	// ValidateToken validates and parses a JWT token
	ValidateToken(token string) (*TokenClaims, error)
}

// AuthError represents an authentication error
type AuthError struct {
	Code    string
	Message string
}

func (e AuthError) Error() string {
	return e.Message
}

var (
	ErrMissingToken = AuthError{Code: "MISSING_TOKEN", Message: "missing token"}
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid token"}
)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// JWTService signs HS256 tokens whose subject is the user ID
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTService(secret string, ttl time.Duration) (*JWTService, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *JWTService) GenerateToken(userID uuid.UUID, role string) (string, error) {
	if userID == uuid.Nil {
		return "", errors.New("user ID is required")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role: role,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken accepts only unexpired HS256 tokens with a user ID subject
func (s *JWTService) ValidateToken(token string) (*TokenClaims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil || userID == uuid.Nil {
		return nil, fmt.Errorf("%w: subject is not a user ID", ErrInvalidToken)
	}

	out := &TokenClaims{UserID: userID, Role: c.Role}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpireAt = c.ExpiresAt.Time
	}
	return out, nil
}
