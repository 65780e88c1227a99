package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultMemoryColumns is the simulated user table used when NewMemory is
// given no explicit column set.
var DefaultMemoryColumns = []string{
	"id", "email", "password", "name", "avatar",
	"last_login", "verification_token", "verification_expires", "verified_at",
	"created_at", "updated_at",
}

// Memory is an in-process [Store] for tests and demos. It mirrors the SQL
// implementation's semantics: case-insensitive email lookup, unexpired-only
// remember token reads, upsert-safe OAuth linking, and conditional reset
// consumption.
type Memory struct {
	mu      sync.Mutex
	mapping SchemaMapping
	nowFunc func() time.Time

	nextID   int64
	users    map[int64]map[string]any
	remember map[string]RememberToken
	oauth    map[string]OAuthAccount
	resets   []*ResetRecord
}

// NewMemory builds an in-memory store whose simulated user table has the given
// columns (DefaultMemoryColumns when nil).
func NewMemory(columns []string, cfg SchemaConfig) (*Memory, error) {
	if columns == nil {
		columns = DefaultMemoryColumns
	}
	table := cfg.Table
	if table == "" {
		table = "users"
	}

	mapping, err := staticMapping(table, columns, cfg)
	if err != nil {
		return nil, err
	}

	return &Memory{
		mapping:  mapping,
		nowFunc:  time.Now,
		nextID:   1,
		users:    map[int64]map[string]any{},
		remember: map[string]RememberToken{},
		oauth:    map[string]OAuthAccount{},
	}, nil
}

func (s *Memory) Mapping() SchemaMapping { return s.mapping }

// SetNowFunc overrides the clock, for tests.
func (s *Memory) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
}

func (s *Memory) now() time.Time { return s.nowFunc() }

func (s *Memory) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(email))
	for _, row := range s.users {
		if strings.ToLower(coerceString(row[s.mapping.EmailColumn])) == needle {
			return buildUser(s.mapping, cloneRow(row))
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) FindUserByID(ctx context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return buildUser(s.mapping, cloneRow(row))
}

func (s *Memory) FindUserByVerifyToken(ctx context.Context, tokenHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.mapping.VerifyTokenColumn
	if col == "" || tokenHash == "" {
		return nil, ErrNotFound
	}
	for _, row := range s.users {
		if coerceString(row[col]) == tokenHash {
			return buildUser(s.mapping, cloneRow(row))
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) InsertUser(ctx context.Context, fields map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := map[string]any{}
	for name, value := range fields {
		lower := strings.ToLower(name)
		if s.mapping.HasColumn(lower) {
			row[lower] = value
		}
	}

	email := strings.ToLower(coerceString(row[s.mapping.EmailColumn]))
	for _, existing := range s.users {
		if strings.ToLower(coerceString(existing[s.mapping.EmailColumn])) == email {
			return 0, ErrDuplicateEmail
		}
	}

	if s.mapping.HasTimestamps {
		now := s.now().UTC()
		if _, ok := row[s.mapping.CreatedAtColumn]; !ok {
			row[s.mapping.CreatedAtColumn] = now
		}
		if _, ok := row[s.mapping.UpdatedAtColumn]; !ok {
			row[s.mapping.UpdatedAtColumn] = now
		}
	}

	id := s.nextID
	s.nextID++
	row[s.mapping.PrimaryKey] = id
	s.users[id] = row
	return id, nil
}

func (s *Memory) UpdateUser(ctx context.Context, id int64, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	for name, value := range fields {
		lower := strings.ToLower(name)
		if lower == s.mapping.PrimaryKey || !s.mapping.HasColumn(lower) {
			continue
		}
		row[lower] = value
	}
	if s.mapping.HasTimestamps {
		row[s.mapping.UpdatedAtColumn] = s.now().UTC()
	}
	return nil
}

func (s *Memory) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

func (s *Memory) CreateRememberToken(ctx context.Context, token RememberToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remember[token.TokenHash] = token
	return nil
}

func (s *Memory) FindRememberToken(ctx context.Context, tokenHash string) (*RememberToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.remember[tokenHash]
	if !ok || !token.ExpiresAt.After(s.now()) {
		return nil, ErrNotFound
	}
	out := token
	return &out, nil
}

func (s *Memory) DeleteRememberToken(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.remember, tokenHash)
	return nil
}

func (s *Memory) DeleteRememberTokensForUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, token := range s.remember {
		if token.UserID == userID {
			delete(s.remember, hash)
		}
	}
	return nil
}

func (s *Memory) PurgeExpiredRememberTokens(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	now := s.now()
	for hash, token := range s.remember {
		if !token.ExpiresAt.After(now) {
			delete(s.remember, hash)
			purged++
		}
	}
	return purged, nil
}

func oauthKey(provider, providerID string) string {
	return provider + "\x00" + providerID
}

func (s *Memory) FindOAuthAccount(ctx context.Context, provider, providerID string) (*OAuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.oauth[oauthKey(provider, providerID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := account
	return &out, nil
}

func (s *Memory) LinkOAuthAccount(ctx context.Context, userID int64, provider, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := oauthKey(provider, providerID)
	now := s.now().UTC()
	if existing, ok := s.oauth[key]; ok {
		existing.UpdatedAt = now
		s.oauth[key] = existing
		return nil
	}
	s.oauth[key] = OAuthAccount{
		UserID:     userID,
		Provider:   provider,
		ProviderID: providerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (s *Memory) DeleteOAuthAccountsForUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, account := range s.oauth {
		if account.UserID == userID {
			delete(s.oauth, key)
		}
	}
	return nil
}

func (s *Memory) CreateResetRecord(ctx context.Context, record ResetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Email = strings.ToLower(record.Email)
	s.resets = append(s.resets, &record)
	return nil
}

func (s *Memory) CountActiveResetRecords(ctx context.Context, email string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(email)
	now := s.now()
	count := 0
	for _, record := range s.resets {
		if record.Email == needle && record.Active(now) && !record.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Memory) FindActiveResetRecord(ctx context.Context, email, tokenHash string) (*ResetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.findReset(strings.ToLower(email), tokenHash)
	if record == nil || !record.Active(s.now()) {
		return nil, ErrNotFound
	}
	out := *record
	return &out, nil
}

func (s *Memory) ConsumeResetRecord(ctx context.Context, email, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.findReset(strings.ToLower(email), tokenHash)
	if record == nil || !record.Active(s.now()) {
		return false, nil
	}
	used := s.now().UTC()
	record.UsedAt = &used
	return true, nil
}

func (s *Memory) PurgeExpiredResetRecords(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	kept := s.resets[:0]
	var purged int64
	for _, record := range s.resets {
		if record.ExpiresAt.After(now) {
			kept = append(kept, record)
		} else {
			purged++
		}
	}
	s.resets = kept
	return purged, nil
}

func (s *Memory) findReset(email, tokenHash string) *ResetRecord {
	for _, record := range s.resets {
		if record.Email == email && record.TokenHash == tokenHash {
			return record
		}
	}
	return nil
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
