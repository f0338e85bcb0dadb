// Package jwt issues and validates the HS256 session tokens handed out after
// an invitation is accepted.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptyUserID is returned when user_id is empty.
	ErrEmptyUserID = errors.New("user_id cannot be empty")
	// ErrEmptyTenantID is returned when tenant_id is empty.
	ErrEmptyTenantID = errors.New("tenant_id cannot be empty")
	// ErrInvalidTokenType is returned when token type is invalid.
	ErrInvalidTokenType = errors.New("invalid token type")
)

// TokenType represents the type of JWT token.
type TokenType string

const (
	// TokenTypeAccess is a session access token.
	TokenTypeAccess TokenType = "access"
)

// Claims is the session token payload: who the user is, which tenant the
// session is bound to and which roles were granted there.
type Claims struct {
	UserID    string    `json:"id"`
	TenantID  string    `json:"tenant"`
	Email     string    `json:"email,omitempty"`
	RoleIDs   []string  `json:"roles,omitempty"`
	TokenType TokenType `json:"token_type,omitempty"`

	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry the role id.
func (c *Claims) HasRole(roleID string) bool {
	for _, r := range c.RoleIDs {
		if r == roleID {
			return true
		}
	}
	return false
}

// TokenConfig holds configuration for token generation.
type TokenConfig struct {
	Secret              string
	Issuer              string
	AccessTokenDuration time.Duration
}

// SessionSubject identifies whom a session token is issued to.
type SessionSubject struct {
	UserID   string
	TenantID string
	Email    string
	RoleIDs  []string
}

// IssuedToken is a signed token and its expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// Generator handles JWT token generation and validation.
type Generator struct {
	config TokenConfig
	now    func() time.Time
}

// NewGenerator creates a new token generator.
func NewGenerator(config TokenConfig) *Generator {
	if config.AccessTokenDuration <= 0 {
		config.AccessTokenDuration = 15 * time.Minute
	}
	return &Generator{config: config, now: time.Now}
}

// GenerateSessionToken signs an access token bound to one tenant.
func (g *Generator) GenerateSessionToken(sub SessionSubject) (*IssuedToken, error) {
	if sub.UserID == "" {
		return nil, ErrEmptyUserID
	}
	if sub.TenantID == "" {
		return nil, ErrEmptyTenantID
	}

	now := g.now()
	expiresAt := now.Add(g.config.AccessTokenDuration)

	claims := Claims{
		UserID:    sub.UserID,
		TenantID:  sub.TenantID,
		Email:     sub.Email,
		RoleIDs:   sub.RoleIDs,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    g.config.Issuer,
			Subject:   sub.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(g.config.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &IssuedToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// ValidateAccessToken validates an access token and returns its claims.
func (g *Generator) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := ValidateToken(tokenString, g.config.Secret, g.config.Issuer)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

// ValidateToken validates the signature, expiry and, when non-empty, the issuer.
func ValidateToken(tokenString, secret, issuer string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
