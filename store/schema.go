package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Candidate column names per logical field, ordered by priority. The first
// physical column matching a candidate wins unless the caller configured an
// explicit override.
var (
	primaryKeyCandidates   = []string{"id", "user_id", "uid"}
	emailCandidates        = []string{"email", "user_email", "usermail", "login"}
	passwordCandidates     = []string{"password", "user_password", "pass", "passwd", "password_hash"}
	lastLoginCandidates    = []string{"last_login", "last_login_at", "logged_in_at"}
	verifyTokenCandidates  = []string{"verification_token", "verify_token", "email_verification_token"}
	verifyExpireCandidates = []string{"verification_expires", "verify_expires_at", "verification_token_expires_at"}
	verifiedAtCandidates   = []string{"verified_at", "email_verified_at"}
	nameCandidates         = []string{"name", "username", "display_name", "full_name"}
	avatarCandidates       = []string{"avatar", "avatar_url", "picture"}
)

const (
	createdAtColumn = "created_at"
	updatedAtColumn = "updated_at"
)

// SchemaConfig carries the user table name and optional explicit column
// overrides that bypass candidate matching. An override naming a column the
// table does not have fails detection.
type SchemaConfig struct {
	Table string `env:"AUTHGATE_USERS_TABLE"`

	PrimaryKey          string `env:"AUTHGATE_PK_COLUMN"`
	EmailColumn         string `env:"AUTHGATE_EMAIL_COLUMN"`
	PasswordColumn      string `env:"AUTHGATE_PASSWORD_COLUMN"`
	LastLoginColumn     string `env:"AUTHGATE_LAST_LOGIN_COLUMN"`
	VerifyTokenColumn   string `env:"AUTHGATE_VERIFY_TOKEN_COLUMN"`
	VerifyExpiresColumn string `env:"AUTHGATE_VERIFY_EXPIRES_COLUMN"`
	VerifiedAtColumn    string `env:"AUTHGATE_VERIFIED_AT_COLUMN"`
	NameColumn          string `env:"AUTHGATE_NAME_COLUMN"`
	AvatarColumn        string `env:"AUTHGATE_AVATAR_COLUMN"`
}

// SchemaMapping is the immutable result of schema detection: which physical
// columns serve each logical field. Optional fields are empty strings when the
// table has no matching column.
type SchemaMapping struct {
	Table      string
	PrimaryKey string

	EmailColumn    string
	PasswordColumn string

	LastLoginColumn     string
	VerifyTokenColumn   string
	VerifyExpiresColumn string
	VerifiedAtColumn    string
	NameColumn          string
	AvatarColumn        string

	CreatedAtColumn string
	UpdatedAtColumn string
	HasTimestamps   bool

	columns map[string]struct{}
}

// HasColumn reports whether the physical column exists on the user table.
func (m SchemaMapping) HasColumn(name string) bool {
	_, ok := m.columns[strings.ToLower(name)]
	return ok
}

// Columns returns the full physical column set of the user table.
func (m SchemaMapping) Columns() []string {
	out := make([]string, 0, len(m.columns))
	for c := range m.columns {
		out = append(out, c)
	}
	return out
}

// DetectSchema introspects the user table through the dialect and resolves the
// mapping. It fails, rather than guessing, when the table cannot be read or
// when no email or password column can be resolved.
func DetectSchema(ctx context.Context, db *sql.DB, dialect Dialect, cfg SchemaConfig) (SchemaMapping, error) {
	table := cfg.Table
	if table == "" {
		table = "users"
	}

	columns, err := dialect.TableColumns(ctx, db, table)
	if err != nil {
		return SchemaMapping{}, fmt.Errorf("introspect table %q: %w", table, err)
	}
	if len(columns) == 0 {
		return SchemaMapping{}, fmt.Errorf("introspect table %q: table has no columns or does not exist", table)
	}

	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[strings.ToLower(c)] = struct{}{}
	}

	m := SchemaMapping{Table: table, columns: set}

	m.PrimaryKey, err = resolveColumn(set, cfg.PrimaryKey, primaryKeyCandidates, true)
	if err != nil {
		return SchemaMapping{}, fmt.Errorf("primary key column: %w", err)
	}
	m.EmailColumn, err = resolveColumn(set, cfg.EmailColumn, emailCandidates, true)
	if err != nil {
		return SchemaMapping{}, fmt.Errorf("email column: %w", err)
	}
	m.PasswordColumn, err = resolveColumn(set, cfg.PasswordColumn, passwordCandidates, true)
	if err != nil {
		return SchemaMapping{}, fmt.Errorf("password column: %w", err)
	}

	m.LastLoginColumn, err = resolveColumn(set, cfg.LastLoginColumn, lastLoginCandidates, false)
	if err != nil {
		return SchemaMapping{}, fmt.Errorf("last login column: %w", err)
	}
	m.VerifyTokenColumn, err = resolveColumn(set, cfg.VerifyTokenColumn, verifyTokenCandidates, false)
	if err != nil {
		return SchemaMapping{}, fmt.Errorf("verification token column: %w", err)
	}
	m.VerifyExpiresColumn, err = resolveColumn(set, cfg.VerifyExpiresColumn, verifyExpireCandidates, false)
	if err != nil {
		return SchemaMapping{}, fmt.Errorf("verification expiry column: %w", err)
	}
	m.VerifiedAtColumn, err = resolveColumn(set, cfg.VerifiedAtColumn, verifiedAtCandidates, false)
	if err != nil {
		return SchemaMapping{}, fmt.Errorf("verified-at column: %w", err)
	}
	m.NameColumn, err = resolveColumn(set, cfg.NameColumn, nameCandidates, false)
	if err != nil {
		return SchemaMapping{}, fmt.Errorf("name column: %w", err)
	}
	m.AvatarColumn, err = resolveColumn(set, cfg.AvatarColumn, avatarCandidates, false)
	if err != nil {
		return SchemaMapping{}, fmt.Errorf("avatar column: %w", err)
	}

	if _, ok := set[createdAtColumn]; ok {
		m.CreatedAtColumn = createdAtColumn
	}
	if _, ok := set[updatedAtColumn]; ok {
		m.UpdatedAtColumn = updatedAtColumn
	}
	m.HasTimestamps = m.CreatedAtColumn != "" && m.UpdatedAtColumn != ""

	return m, nil
}

// resolveColumn applies the override-then-candidates rule. A configured
// override must exist; a missing optional field resolves to "".
func resolveColumn(set map[string]struct{}, override string, candidates []string, required bool) (string, error) {
	if override != "" {
		name := strings.ToLower(override)
		if _, ok := set[name]; !ok {
			return "", fmt.Errorf("configured column %q does not exist", override)
		}
		return name, nil
	}

	for _, candidate := range candidates {
		if _, ok := set[candidate]; ok {
			return candidate, nil
		}
	}

	if required {
		return "", fmt.Errorf("no column matched candidates %v", candidates)
	}
	return "", nil
}

// staticMapping builds a mapping without a live table, for in-memory stores.
func staticMapping(table string, columns []string, cfg SchemaConfig) (SchemaMapping, error) {
	fake := fakeColumnDialect{table: table, columns: columns}
	return DetectSchema(context.Background(), nil, fake, cfg)
}

type fakeColumnDialect struct {
	table   string
	columns []string
}

func (d fakeColumnDialect) Name() string { return "static" }

func (d fakeColumnDialect) TableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	if table != d.table {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return d.columns, nil
}

func (d fakeColumnDialect) AuxiliaryDDL() []string { return nil }

func (d fakeColumnDialect) UpsertOAuthAccountSQL() string { return "" }
