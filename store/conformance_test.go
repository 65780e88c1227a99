package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// The conformance suite runs against every Store implementation; the SQL and
// Memory stores must be behaviorally interchangeable.

func newSQLStore(t *testing.T) Store {
	t.Helper()

	db := newTestDB(t)
	createUsersTable(t, db)

	s, err := NewSQL(context.Background(), db, SQLite{}, SchemaConfig{})
	if err != nil {
		t.Fatalf("NewSQL failed: %v", err)
	}
	if err := s.EnsureAuxiliaryTables(context.Background()); err != nil {
		t.Fatalf("EnsureAuxiliaryTables failed: %v", err)
	}
	return s
}

func newMemoryStore(t *testing.T) Store {
	t.Helper()

	s, err := NewMemory(nil, SchemaConfig{})
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	return s
}

func eachStore(t *testing.T, run func(t *testing.T, s Store)) {
	t.Run("sql", func(t *testing.T) { run(t, newSQLStore(t)) })
	t.Run("memory", func(t *testing.T) { run(t, newMemoryStore(t)) })
}

func TestUserLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.InsertUser(ctx, map[string]any{
			"email":    "alice@example.com",
			"password": "$argon2id$fake",
			"name":     "Alice",
			"is_admin": true, // not a physical column, must be dropped
		})
		if err != nil {
			t.Fatalf("InsertUser failed: %v", err)
		}
		if id == 0 {
			t.Fatal("expected non-zero user id")
		}

		u, err := s.FindUserByEmail(ctx, "ALICE@Example.COM")
		if err != nil {
			t.Fatalf("case-insensitive FindUserByEmail failed: %v", err)
		}
		if u.ID != id || u.Email != "alice@example.com" || u.PasswordHash != "$argon2id$fake" {
			t.Fatalf("unexpected user: %+v", u)
		}
		if _, ok := u.Fields["is_admin"]; ok {
			t.Fatal("unknown column must not survive insert")
		}
		if name := u.Fields["name"]; name != "Alice" {
			t.Fatalf("expected name field, got %v", name)
		}

		if _, err := s.InsertUser(ctx, map[string]any{
			"email":    "Alice@example.com",
			"password": "x",
		}); !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("expected ErrDuplicateEmail, got %v", err)
		}

		if err := s.UpdateUser(ctx, id, map[string]any{"password": "$argon2id$new", "bogus": 1}); err != nil {
			t.Fatalf("UpdateUser failed: %v", err)
		}
		u, err = s.FindUserByID(ctx, id)
		if err != nil {
			t.Fatalf("FindUserByID failed: %v", err)
		}
		if u.PasswordHash != "$argon2id$new" {
			t.Fatalf("password update not applied: %q", u.PasswordHash)
		}

		if err := s.DeleteUser(ctx, id); err != nil {
			t.Fatalf("DeleteUser failed: %v", err)
		}
		if _, err := s.FindUserByID(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestVerificationTokenLookup(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

		id, err := s.InsertUser(ctx, map[string]any{
			"email":                "bob@example.com",
			"password":             "h",
			"verification_token":   "tokhash123",
			"verification_expires": expires,
		})
		if err != nil {
			t.Fatalf("InsertUser failed: %v", err)
		}

		u, err := s.FindUserByVerifyToken(ctx, "tokhash123")
		if err != nil {
			t.Fatalf("FindUserByVerifyToken failed: %v", err)
		}
		if u.ID != id || u.VerifyToken != "tokhash123" {
			t.Fatalf("unexpected user: %+v", u)
		}
		if u.VerifyTokenExpiresAt == nil || !u.VerifyTokenExpiresAt.Equal(expires) {
			t.Fatalf("expected expiry %v, got %v", expires, u.VerifyTokenExpiresAt)
		}
		if u.Verified() {
			t.Fatal("user must not be verified yet")
		}

		if _, err := s.FindUserByVerifyToken(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRememberTokenLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		live := RememberToken{UserID: 7, TokenHash: "livehash", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
		dead := RememberToken{UserID: 7, TokenHash: "deadhash", ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}
		other := RememberToken{UserID: 8, TokenHash: "otherhash", ExpiresAt: now.Add(time.Hour), CreatedAt: now}

		for _, token := range []RememberToken{live, dead, other} {
			if err := s.CreateRememberToken(ctx, token); err != nil {
				t.Fatalf("CreateRememberToken failed: %v", err)
			}
		}

		got, err := s.FindRememberToken(ctx, "livehash")
		if err != nil {
			t.Fatalf("FindRememberToken failed: %v", err)
		}
		if got.UserID != 7 {
			t.Fatalf("unexpected token owner: %d", got.UserID)
		}

		if _, err := s.FindRememberToken(ctx, "deadhash"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected expired token to be invisible, got %v", err)
		}

		if err := s.DeleteRememberTokensForUser(ctx, 7); err != nil {
			t.Fatalf("DeleteRememberTokensForUser failed: %v", err)
		}
		if _, err := s.FindRememberToken(ctx, "livehash"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected revoked token to be gone, got %v", err)
		}
		if _, err := s.FindRememberToken(ctx, "otherhash"); err != nil {
			t.Fatalf("other user's token must survive revocation: %v", err)
		}

		purged, err := s.PurgeExpiredRememberTokens(ctx)
		if err != nil {
			t.Fatalf("PurgeExpiredRememberTokens failed: %v", err)
		}
		if purged != 1 {
			t.Fatalf("expected 1 purged token, got %d", purged)
		}
	})
}

func TestOAuthLinkUpsert(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if err := s.LinkOAuthAccount(ctx, 42, "github", "gh-123"); err != nil {
			t.Fatalf("LinkOAuthAccount failed: %v", err)
		}
		// Replaying the link must be a no-op update, never an error.
		if err := s.LinkOAuthAccount(ctx, 42, "github", "gh-123"); err != nil {
			t.Fatalf("duplicate link must not fail: %v", err)
		}

		account, err := s.FindOAuthAccount(ctx, "github", "gh-123")
		if err != nil {
			t.Fatalf("FindOAuthAccount failed: %v", err)
		}
		if account.UserID != 42 {
			t.Fatalf("unexpected linked user: %d", account.UserID)
		}

		if _, err := s.FindOAuthAccount(ctx, "google", "gh-123"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("provider must scope the lookup, got %v", err)
		}

		if err := s.DeleteOAuthAccountsForUser(ctx, 42); err != nil {
			t.Fatalf("DeleteOAuthAccountsForUser failed: %v", err)
		}
		if _, err := s.FindOAuthAccount(ctx, "github", "gh-123"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected link removed, got %v", err)
		}
	})
}

func TestResetRecordConsumeOnce(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		record := ResetRecord{
			Email:     "Carol@example.com",
			TokenHash: "resethash",
			ExpiresAt: now.Add(30 * time.Minute),
			IP:        "198.51.100.7",
			UserAgent: "test-agent",
			CreatedAt: now,
		}
		if err := s.CreateResetRecord(ctx, record); err != nil {
			t.Fatalf("CreateResetRecord failed: %v", err)
		}

		found, err := s.FindActiveResetRecord(ctx, "carol@example.com", "resethash")
		if err != nil {
			t.Fatalf("FindActiveResetRecord failed: %v", err)
		}
		if found.IP != "198.51.100.7" || found.UserAgent != "test-agent" {
			t.Fatalf("requester metadata lost: %+v", found)
		}

		consumed, err := s.ConsumeResetRecord(ctx, "carol@example.com", "resethash")
		if err != nil || !consumed {
			t.Fatalf("expected first consume to succeed, consumed=%v err=%v", consumed, err)
		}
		consumed, err = s.ConsumeResetRecord(ctx, "carol@example.com", "resethash")
		if err != nil {
			t.Fatalf("ConsumeResetRecord failed: %v", err)
		}
		if consumed {
			t.Fatal("a consumed record must never authorize a second reset")
		}
		if _, err := s.FindActiveResetRecord(ctx, "carol@example.com", "resethash"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("consumed record must not be active, got %v", err)
		}
	})
}

func TestResetThrottleWindowCount(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		records := []ResetRecord{
			{Email: "dan@example.com", TokenHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(-10 * time.Second)},
			{Email: "dan@example.com", TokenHash: "h2", ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(-5 * time.Second)},
			// outside the window
			{Email: "dan@example.com", TokenHash: "h3", ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(-2 * time.Minute)},
			// expired
			{Email: "dan@example.com", TokenHash: "h4", ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-5 * time.Second)},
			// different email
			{Email: "eve@example.com", TokenHash: "h5", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		}
		for _, record := range records {
			if err := s.CreateResetRecord(ctx, record); err != nil {
				t.Fatalf("CreateResetRecord failed: %v", err)
			}
		}

		count, err := s.CountActiveResetRecords(ctx, "dan@example.com", now.Add(-time.Minute))
		if err != nil {
			t.Fatalf("CountActiveResetRecords failed: %v", err)
		}
		if count != 2 {
			t.Fatalf("expected 2 active in-window records, got %d", count)
		}

		// Consuming one must shrink the active count.
		if _, err := s.ConsumeResetRecord(ctx, "dan@example.com", "h1"); err != nil {
			t.Fatalf("ConsumeResetRecord failed: %v", err)
		}
		count, err = s.CountActiveResetRecords(ctx, "dan@example.com", now.Add(-time.Minute))
		if err != nil {
			t.Fatalf("CountActiveResetRecords failed: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 active record after consume, got %d", count)
		}
	})
}
