package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateEmail is returned by InsertUser when the email column already
// holds the given value.
var ErrDuplicateEmail = errors.New("store: duplicate email")

// User is the engine's snapshot of one row of the discovered user table.
// Core fields are extracted via the [SchemaMapping]; every other mapped column
// rides along in Fields keyed by physical column name.
type User struct {
	ID           int64
	Email        string
	PasswordHash string

	LastLoginAt          *time.Time
	VerifyToken          string // sha256 digest, never the raw token
	VerifyTokenExpiresAt *time.Time
	VerifiedAt           *time.Time

	Fields map[string]any
}

// Verified reports whether the account completed email verification.
func (u *User) Verified() bool {
	return u != nil && u.VerifiedAt != nil
}

// RememberToken is one issued remember-me credential. TokenHash is the
// sha256 of the cookie value; the raw value is transmitted exactly once.
type RememberToken struct {
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// OAuthAccount links a local user to a federated identity.
// (Provider, ProviderID) is globally unique.
type OAuthAccount struct {
	UserID     int64
	Provider   string
	ProviderID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ResetRecord is one password reset request. A record is active while
// UsedAt is nil and ExpiresAt is in the future.
type ResetRecord struct {
	Email     string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// Active reports whether the record can still authorize a reset at now.
func (r *ResetRecord) Active(now time.Time) bool {
	return r != nil && r.UsedAt == nil && r.ExpiresAt.After(now)
}

// Store is the persistence contract consumed by the authgate engine. Every
// implementation must honor case-insensitive email lookup, the
// (provider, provider_id) uniqueness invariant, and the conditional
// consume semantics of ConsumeResetRecord.
type Store interface {
	Mapping() SchemaMapping

	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id int64) (*User, error)
	// FindUserByVerifyToken looks up by the sha256 digest of a verification token.
	FindUserByVerifyToken(ctx context.Context, tokenHash string) (*User, error)
	// InsertUser writes a row from physical-column-keyed fields. Columns absent
	// from the detected mapping are dropped, not errors.
	InsertUser(ctx context.Context, fields map[string]any) (int64, error)
	UpdateUser(ctx context.Context, id int64, fields map[string]any) error
	DeleteUser(ctx context.Context, id int64) error

	CreateRememberToken(ctx context.Context, token RememberToken) error
	// FindRememberToken returns only unexpired rows.
	FindRememberToken(ctx context.Context, tokenHash string) (*RememberToken, error)
	DeleteRememberToken(ctx context.Context, tokenHash string) error
	DeleteRememberTokensForUser(ctx context.Context, userID int64) error
	PurgeExpiredRememberTokens(ctx context.Context) (int64, error)

	FindOAuthAccount(ctx context.Context, provider, providerID string) (*OAuthAccount, error)
	// LinkOAuthAccount is upsert-safe: relinking an existing
	// (provider, providerID) pair is a no-op update, never an error.
	LinkOAuthAccount(ctx context.Context, userID int64, provider, providerID string) error
	DeleteOAuthAccountsForUser(ctx context.Context, userID int64) error

	CreateResetRecord(ctx context.Context, record ResetRecord) error
	// CountActiveResetRecords counts unused, unexpired records for email
	// created at or after since.
	CountActiveResetRecords(ctx context.Context, email string, since time.Time) (int, error)
	FindActiveResetRecord(ctx context.Context, email, tokenHash string) (*ResetRecord, error)
	// ConsumeResetRecord stamps used_at on the matching active record and
	// reports whether this call performed the consumption. A record consumed
	// once can never authorize a second reset.
	ConsumeResetRecord(ctx context.Context, email, tokenHash string) (bool, error)
	PurgeExpiredResetRecords(ctx context.Context) (int64, error)
}
