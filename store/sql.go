package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// userTableTimeLayout is how time values are written to the discovered user
// table. Both shipped dialects accept it for DATETIME/TEXT columns.
const userTableTimeLayout = "2006-01-02 15:04:05"

// SQL implements [Store] over database/sql with a [Dialect].
//
// SQL instances are intended to be configured during initialization and then
// treated as immutable.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	mapping SchemaMapping
	nowFunc func() time.Time
}

// NewSQL introspects the user table and returns a ready store. Detection
// failure is returned as-is: the caller must treat it as fatal.
func NewSQL(ctx context.Context, db *sql.DB, dialect Dialect, cfg SchemaConfig) (*SQL, error) {
	mapping, err := DetectSchema(ctx, db, dialect, cfg)
	if err != nil {
		return nil, err
	}

	return &SQL{
		db:      db,
		dialect: dialect,
		mapping: mapping,
		nowFunc: time.Now,
	}, nil
}

// EnsureAuxiliaryTables creates the authgate-owned tables when absent.
func (s *SQL) EnsureAuxiliaryTables(ctx context.Context) error {
	for _, ddl := range s.dialect.AuxiliaryDDL() {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("auxiliary ddl: %w", err)
		}
	}
	return nil
}

// Mapping returns the detected schema mapping.
func (s *SQL) Mapping() SchemaMapping { return s.mapping }

// SetNowFunc overrides the clock, for tests.
func (s *SQL) SetNowFunc(now func() time.Time) { s.nowFunc = now }

/*
====================================
USER OPERATIONS
====================================
*/

func (s *SQL) userColumns() []string {
	cols := s.mapping.Columns()
	sort.Strings(cols)
	return cols
}

func (s *SQL) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	cols := s.userColumns()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE LOWER(%s) = ? LIMIT 1",
		strings.Join(cols, ", "), s.mapping.Table, s.mapping.EmailColumn)
	return s.scanUser(ctx, cols, query, strings.ToLower(strings.TrimSpace(email)))
}

func (s *SQL) FindUserByID(ctx context.Context, id int64) (*User, error) {
	cols := s.userColumns()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1",
		strings.Join(cols, ", "), s.mapping.Table, s.mapping.PrimaryKey)
	return s.scanUser(ctx, cols, query, id)
}

func (s *SQL) FindUserByVerifyToken(ctx context.Context, tokenHash string) (*User, error) {
	if s.mapping.VerifyTokenColumn == "" {
		return nil, ErrNotFound
	}
	cols := s.userColumns()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1",
		strings.Join(cols, ", "), s.mapping.Table, s.mapping.VerifyTokenColumn)
	return s.scanUser(ctx, cols, query, tokenHash)
}

func (s *SQL) scanUser(ctx context.Context, cols []string, query string, args ...any) (*User, error) {
	holders := make([]any, len(cols))
	for i := range holders {
		holders[i] = new(any)
	}

	err := s.db.QueryRowContext(ctx, query, args...).Scan(holders...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	row := make(map[string]any, len(cols))
	for i, c := range cols {
		row[c] = *(holders[i].(*any))
	}

	return buildUser(s.mapping, row)
}

func buildUser(m SchemaMapping, row map[string]any) (*User, error) {
	id, err := coerceInt64(row[m.PrimaryKey])
	if err != nil {
		return nil, fmt.Errorf("primary key %q: %w", m.PrimaryKey, err)
	}

	u := &User{
		ID:           id,
		Email:        coerceString(row[m.EmailColumn]),
		PasswordHash: coerceString(row[m.PasswordColumn]),
		Fields:       map[string]any{},
	}

	if m.LastLoginColumn != "" {
		u.LastLoginAt = coerceTime(row[m.LastLoginColumn])
	}
	if m.VerifyTokenColumn != "" {
		u.VerifyToken = coerceString(row[m.VerifyTokenColumn])
	}
	if m.VerifyExpiresColumn != "" {
		u.VerifyTokenExpiresAt = coerceTime(row[m.VerifyExpiresColumn])
	}
	if m.VerifiedAtColumn != "" {
		u.VerifiedAt = coerceTime(row[m.VerifiedAtColumn])
	}

	core := map[string]struct{}{
		m.PrimaryKey: {}, m.EmailColumn: {}, m.PasswordColumn: {},
	}
	if m.LastLoginColumn != "" {
		core[m.LastLoginColumn] = struct{}{}
	}
	if m.VerifyTokenColumn != "" {
		core[m.VerifyTokenColumn] = struct{}{}
	}
	if m.VerifyExpiresColumn != "" {
		core[m.VerifyExpiresColumn] = struct{}{}
	}
	if m.VerifiedAtColumn != "" {
		core[m.VerifiedAtColumn] = struct{}{}
	}
	for col, value := range row {
		if _, ok := core[col]; ok {
			continue
		}
		u.Fields[col] = normalizeFieldValue(value)
	}

	return u, nil
}

func (s *SQL) InsertUser(ctx context.Context, fields map[string]any) (int64, error) {
	now := s.nowFunc().UTC()

	filtered := s.filterToSchema(fields)
	if s.mapping.HasTimestamps {
		if _, ok := filtered[s.mapping.CreatedAtColumn]; !ok {
			filtered[s.mapping.CreatedAtColumn] = now
		}
		if _, ok := filtered[s.mapping.UpdatedAtColumn]; !ok {
			filtered[s.mapping.UpdatedAtColumn] = now
		}
	}
	if len(filtered) == 0 {
		return 0, errors.New("no insertable columns")
	}

	cols := make([]string, 0, len(filtered))
	for c := range filtered {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		marks[i] = "?"
		args[i] = writeValue(filtered[c])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.mapping.Table, strings.Join(cols, ", "), strings.Join(marks, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isDuplicateError(err) {
			return 0, ErrDuplicateEmail
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQL) UpdateUser(ctx context.Context, id int64, fields map[string]any) error {
	filtered := s.filterToSchema(fields)
	delete(filtered, s.mapping.PrimaryKey)
	if s.mapping.HasTimestamps {
		if _, ok := filtered[s.mapping.UpdatedAtColumn]; !ok {
			filtered[s.mapping.UpdatedAtColumn] = s.nowFunc().UTC()
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	cols := make([]string, 0, len(filtered))
	for c := range filtered {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = c + " = ?"
		args = append(args, writeValue(filtered[c]))
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		s.mapping.Table, strings.Join(sets, ", "), s.mapping.PrimaryKey)

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil && isDuplicateError(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (s *SQL) DeleteUser(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", s.mapping.Table, s.mapping.PrimaryKey)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// filterToSchema drops fields naming columns the table does not have. The
// mass-assignment filter lives here as well as in the engine: unknown
// caller-supplied fields never reach SQL text.
func (s *SQL) filterToSchema(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		lower := strings.ToLower(name)
		if s.mapping.HasColumn(lower) {
			out[lower] = value
		}
	}
	return out
}

/*
====================================
REMEMBER TOKENS
====================================
*/

func (s *SQL) CreateRememberToken(ctx context.Context, token RememberToken) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO remember_tokens (token_hash, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)",
		token.TokenHash, token.UserID, token.ExpiresAt.Unix(), token.CreatedAt.Unix())
	return err
}

func (s *SQL) FindRememberToken(ctx context.Context, tokenHash string) (*RememberToken, error) {
	var (
		token     RememberToken
		expiresAt int64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT token_hash, user_id, expires_at, created_at FROM remember_tokens WHERE token_hash = ? AND expires_at > ? LIMIT 1",
		tokenHash, s.nowFunc().Unix()).
		Scan(&token.TokenHash, &token.UserID, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	token.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	token.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &token, nil
}

func (s *SQL) DeleteRememberToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM remember_tokens WHERE token_hash = ?", tokenHash)
	return err
}

func (s *SQL) DeleteRememberTokensForUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM remember_tokens WHERE user_id = ?", userID)
	return err
}

func (s *SQL) PurgeExpiredRememberTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM remember_tokens WHERE expires_at <= ?", s.nowFunc().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

/*
====================================
OAUTH ACCOUNTS
====================================
*/

func (s *SQL) FindOAuthAccount(ctx context.Context, provider, providerID string) (*OAuthAccount, error) {
	var (
		account   OAuthAccount
		createdAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, provider, provider_id, created_at, updated_at FROM oauth_accounts WHERE provider = ? AND provider_id = ? LIMIT 1",
		provider, providerID).
		Scan(&account.UserID, &account.Provider, &account.ProviderID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	account.CreatedAt = time.Unix(createdAt, 0).UTC()
	account.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &account, nil
}

func (s *SQL) LinkOAuthAccount(ctx context.Context, userID int64, provider, providerID string) error {
	now := s.nowFunc().Unix()
	_, err := s.db.ExecContext(ctx, s.dialect.UpsertOAuthAccountSQL(),
		userID, provider, providerID, now, now)
	return err
}

func (s *SQL) DeleteOAuthAccountsForUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM oauth_accounts WHERE user_id = ?", userID)
	return err
}

/*
====================================
PASSWORD RESET RECORDS
====================================
*/

func (s *SQL) CreateResetRecord(ctx context.Context, record ResetRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO password_resets (email, token_hash, expires_at, used_at, ip_address, user_agent, created_at) VALUES (?, ?, ?, NULL, ?, ?, ?)",
		strings.ToLower(record.Email), record.TokenHash, record.ExpiresAt.Unix(),
		record.IP, record.UserAgent, record.CreatedAt.Unix())
	return err
}

func (s *SQL) CountActiveResetRecords(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM password_resets WHERE email = ? AND used_at IS NULL AND expires_at > ? AND created_at >= ?",
		strings.ToLower(email), s.nowFunc().Unix(), since.Unix()).
		Scan(&count)
	return count, err
}

func (s *SQL) FindActiveResetRecord(ctx context.Context, email, tokenHash string) (*ResetRecord, error) {
	var (
		record    ResetRecord
		expiresAt int64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT email, token_hash, expires_at, ip_address, user_agent, created_at FROM password_resets WHERE email = ? AND token_hash = ? AND used_at IS NULL AND expires_at > ? LIMIT 1",
		strings.ToLower(email), tokenHash, s.nowFunc().Unix()).
		Scan(&record.Email, &record.TokenHash, &expiresAt, &record.IP, &record.UserAgent, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &record, nil
}

// ConsumeResetRecord is a conditional atomic update: the WHERE clause requires
// the record to still be active, so two racing consumers cannot both win.
func (s *SQL) ConsumeResetRecord(ctx context.Context, email, tokenHash string) (bool, error) {
	now := s.nowFunc().Unix()
	res, err := s.db.ExecContext(ctx,
		"UPDATE password_resets SET used_at = ? WHERE email = ? AND token_hash = ? AND used_at IS NULL AND expires_at > ?",
		now, strings.ToLower(email), tokenHash, now)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQL) PurgeExpiredResetRecords(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM password_resets WHERE expires_at <= ?", s.nowFunc().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

/*
====================================
VALUE COERCION
====================================
*/

func isDuplicateError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "1062") || strings.Contains(msg, "unique")
}

func coerceInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case []byte:
		var n int64
		_, err := fmt.Sscan(string(v), &n)
		return n, err
	case string:
		var n int64
		_, err := fmt.Sscan(v, &n)
		return n, err
	default:
		return 0, fmt.Errorf("unsupported integer value %T", value)
	}
}

func coerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// coerceTime accepts the representations drivers hand back for timestamp-ish
// columns: native time, unix seconds, or formatted text. nil and zero map to nil.
func coerceTime(value any) *time.Time {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		if v.IsZero() {
			return nil
		}
		t := v.UTC()
		return &t
	case int64:
		if v == 0 {
			return nil
		}
		t := time.Unix(v, 0).UTC()
		return &t
	case []byte:
		return parseTimeString(string(v))
	case string:
		return parseTimeString(v)
	default:
		return nil
	}
}

func parseTimeString(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{userTableTimeLayout, time.RFC3339, "2006-01-02T15:04:05Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func normalizeFieldValue(value any) any {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

// writeValue serializes engine values for the user table: times become
// formatted UTC strings, everything else passes through.
func writeValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(userTableTimeLayout)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.UTC().Format(userTableTimeLayout)
	default:
		return value
	}
}
