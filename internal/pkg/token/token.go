package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/echovoice/echovoice/internal/pkg/env"
)

const (
	// AccessTokenTTL is how long an access token stays valid.
	AccessTokenTTL = 15 * time.Minute
	// RefreshTokenTTL is how long a refresh token stays valid.
	RefreshTokenTTL = 7 * 24 * time.Hour

	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrInvalidToken  = errors.New("token: invalid token")
	ErrWrongTokenUse = errors.New("token: token used for wrong purpose")
)

// Claims is the payload carried in both access and refresh tokens.
type Claims struct {
	UserID    uint   `json:"uid"`
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and verifies the session tokens the API hands out after
// login.
type Manager struct {
	secret []byte
	issuer string
}

func NewManager(secret, issuer string) *Manager {
	return &Manager{secret: []byte(secret), issuer: issuer}
}

func NewManagerFromEnv() *Manager {
	return NewManager(
		strings.TrimSpace(env.GetEnv("JWT_SECRET", "")),
		env.GetEnv("JWT_ISSUER", "echovoice"),
	)
}

// Pair is an access/refresh token pair.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// IssuePair creates a fresh access and refresh token for the user.
func (m *Manager) IssuePair(userID uint, email string) (*Pair, error) {
	access, err := m.issue(userID, email, TypeAccess, AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := m.issue(userID, email, TypeRefresh, RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(AccessTokenTTL.Seconds()),
	}, nil
}

func (m *Manager) issue(userID uint, email, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		Email:     email,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// VerifyAccess parses an access token and returns its claims.
func (m *Manager) VerifyAccess(raw string) (*Claims, error) {
	return m.verify(raw, TypeAccess)
}

// VerifyRefresh parses a refresh token and returns its claims.
func (m *Manager) VerifyRefresh(raw string) (*Claims, error) {
	return m.verify(raw, TypeRefresh)
}

func (m *Manager) verify(raw, wantType string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrWrongTokenUse
	}
	return claims, nil
}
