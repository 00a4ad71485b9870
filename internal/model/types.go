package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Business is the tenant boundary. Every user belongs to exactly one
// business and inherits its security policy.
type Business struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
}

// SecurityPolicy is the per-tenant authentication policy.
type SecurityPolicy struct {
	BusinessID            uuid.UUID
	MFARequired           bool
	SessionTimeoutMinutes int
	MaxLoginAttempts      int
}

// Role is a named permission set. "*" grants everything.
type Role struct {
	ID          uuid.UUID
	Name        string
	Permissions pq.StringArray
}

// User represents a dashboard user account.
type User struct {
	ID            uuid.UUID
	BusinessID    uuid.UUID
	RoleID        uuid.UUID
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	PasswordHash  string
	Active        bool
	EmailVerified *time.Time
	LastLogin     *time.Time
	CreatedAt     time.Time

	// Joined fields populated by repo lookups.
	RoleName       string
	Permissions    pq.StringArray
	BusinessActive bool
	MFAEnabled     bool
}

// MFASettings is the at-most-one per-user MFA record.
type MFASettings struct {
	UserID    uuid.UUID
	Enabled   bool
	UpdatedAt time.Time
}

// AuthSession is one logical login session. Revocation is monotonic:
// revoked_at is set once and never cleared.
type AuthSession struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	AccessToken  string
	RefreshToken string
	DeviceInfo   *string
	IPAddress    *string
	UserAgent    *string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
}

// Live reports whether the session is usable at the given instant.
func (s AuthSession) Live(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// LoginAttempt is an append-only audit row. Success and user id are
// attached retroactively once identity is resolved.
type LoginAttempt struct {
	ID        uuid.UUID
	Email     string
	IPAddress string
	UserAgent string
	Success   bool
	UserID    *uuid.UUID
	CreatedAt time.Time
}

// OneTimeCode is the single live code per (email, purpose). Only the
// salted hash of the code is stored.
type OneTimeCode struct {
	Email     string
	Purpose   string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordResetToken is the single live reset token per user.
type PasswordResetToken struct {
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// VerificationToken is the single live email-verification token per user.
type VerificationToken struct {
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}
