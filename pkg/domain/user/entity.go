// Package user provides the tenant user domain model.
package user

import (
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/invitations/pkg/domain/shared"
)

// AuthProvider is how a user signs in.
type AuthProvider string

const (
	// AuthProviderLocal indicates email/password authentication.
	AuthProviderLocal AuthProvider = "local"
	// AuthProviderGoogle indicates Google OAuth authentication.
	AuthProviderGoogle AuthProvider = "google"
)

// IsValid checks if the auth provider is valid.
func (p AuthProvider) IsValid() bool {
	return p == AuthProviderLocal || p == AuthProviderGoogle
}

// String returns the string representation of the auth provider.
func (p AuthProvider) String() string {
	return string(p)
}

// User is an account that belongs to exactly one tenant.
type User struct {
	id                 shared.ID
	tenantID           shared.ID
	email              string
	firstName          string
	lastName           string
	passwordHash       string
	authProvider       AuthProvider
	externalID         string // provider subject for OAuth users
	emailVerified      bool
	verificationSecret string
	createdAt          time.Time
	updatedAt          time.Time
}

// NewLocalUser creates a password user. The email is not yet verified.
func NewLocalUser(tenantID shared.ID, email, firstName, lastName, passwordHash string) (*User, error) {
	if passwordHash == "" {
		return nil, fmt.Errorf("%w: password hash is required", shared.ErrValidation)
	}
	u, err := newUser(tenantID, email, firstName, lastName, AuthProviderLocal)
	if err != nil {
		return nil, err
	}
	u.passwordHash = passwordHash
	return u, nil
}

// NewGoogleUser creates a user authenticated by Google. The identity provider
// has already confirmed the address, so the user starts verified.
func NewGoogleUser(tenantID shared.ID, email, firstName, lastName, subject string) (*User, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: google subject is required", shared.ErrValidation)
	}
	u, err := newUser(tenantID, email, firstName, lastName, AuthProviderGoogle)
	if err != nil {
		return nil, err
	}
	u.externalID = subject
	u.emailVerified = true
	return u, nil
}

func newUser(tenantID shared.ID, email, firstName, lastName string, provider AuthProvider) (*User, error) {
	if tenantID.IsZero() {
		return nil, fmt.Errorf("%w: tenantID is required", shared.ErrValidation)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", shared.ErrValidation)
	}

	now := time.Now().UTC()
	return &User{
		id:           shared.NewID(),
		tenantID:     tenantID,
		email:        email,
		firstName:    strings.TrimSpace(firstName),
		lastName:     strings.TrimSpace(lastName),
		authProvider: provider,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// Reconstitute recreates a User from persistence.
func Reconstitute(
	id, tenantID shared.ID,
	email, firstName, lastName, passwordHash string,
	authProvider AuthProvider,
	externalID string,
	emailVerified bool,
	verificationSecret string,
	createdAt, updatedAt time.Time,
) *User {
	return &User{
		id:                 id,
		tenantID:           tenantID,
		email:              email,
		firstName:          firstName,
		lastName:           lastName,
		passwordHash:       passwordHash,
		authProvider:       authProvider,
		externalID:         externalID,
		emailVerified:      emailVerified,
		verificationSecret: verificationSecret,
		createdAt:          createdAt,
		updatedAt:          updatedAt,
	}
}

// ID returns the user ID.
func (u *User) ID() shared.ID {
	return u.id
}

// TenantID returns the tenant the user belongs to.
func (u *User) TenantID() shared.ID {
	return u.tenantID
}

// Email returns the user's email.
func (u *User) Email() string {
	return u.email
}

func (u *User) FirstName() string {
	return u.firstName
}

func (u *User) LastName() string {
	return u.lastName
}

// Name returns the display name, falling back to the email.
func (u *User) Name() string {
	name := strings.TrimSpace(u.firstName + " " + u.lastName)
	if name == "" {
		return u.email
	}
	return name
}

// PasswordHash returns the bcrypt hash, empty for OAuth users.
func (u *User) PasswordHash() string {
	return u.passwordHash
}

func (u *User) AuthProvider() AuthProvider {
	return u.authProvider
}

// ExternalID returns the identity provider subject.
func (u *User) ExternalID() string {
	return u.externalID
}

func (u *User) EmailVerified() bool {
	return u.emailVerified
}

// VerificationSecret returns the secret backing email verification codes.
func (u *User) VerificationSecret() string {
	return u.verificationSecret
}

func (u *User) CreatedAt() time.Time {
	return u.createdAt
}

func (u *User) UpdatedAt() time.Time {
	return u.updatedAt
}

// SetVerificationSecret stores the secret used to derive verification codes.
func (u *User) SetVerificationSecret(secret string) {
	u.verificationSecret = secret
	u.updatedAt = time.Now().UTC()
}

// MarkEmailVerified flags the email as verified and drops the secret.
func (u *User) MarkEmailVerified() {
	u.emailVerified = true
	u.verificationSecret = ""
	u.updatedAt = time.Now().UTC()
}
