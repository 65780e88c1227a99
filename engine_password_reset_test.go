package authgate

import (
	"context"
	"errors"
	"testing"

	"github.com/hexlane/authgate/store"
)

func TestRequestPasswordResetKnownAddress(t *testing.T) {
	ctx := context.Background()
	engine, _, mail := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	mustRegister(t, auth, "kay@example.com", "a strong password")

	req, err := auth.RequestPasswordReset(ctx, "kay@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if req.Message != engine.config.PasswordReset.GenericMessage || req.Throttled {
		t.Fatalf("unexpected result: %+v", req)
	}

	sent := mail.last(t)
	if sent.To != "kay@example.com" || sent.Kind != "password_reset" || sent.Token == "" {
		t.Fatalf("unexpected reset mail: %+v", sent)
	}
}

func TestRequestPasswordResetUnknownAddress(t *testing.T) {
	ctx := context.Background()
	engine, _, mail := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	mustRegister(t, auth, "kay@example.com", "a strong password")

	known, err := auth.RequestPasswordReset(ctx, "kay@example.com")
	if err != nil {
		t.Fatalf("known-address request failed: %v", err)
	}
	before := mail.count()

	unknown, err := auth.RequestPasswordReset(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("unknown-address request must not error, got %v", err)
	}
	if unknown.Message != known.Message {
		t.Fatalf("messages differ: %q vs %q", unknown.Message, known.Message)
	}
	if mail.count() != before {
		t.Fatal("unknown address must not trigger mail")
	}
}

func TestRequestPasswordResetThrottled(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	mustRegister(t, auth, "lee@example.com", "a strong password")

	for i := 0; i < engine.config.PasswordReset.MaxAttempts; i++ {
		if _, err := auth.RequestPasswordReset(ctx, "lee@example.com"); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}

	req, err := auth.RequestPasswordReset(ctx, "lee@example.com")
	if !errors.Is(err, ErrPasswordResetThrottled) {
		t.Fatalf("expected ErrPasswordResetThrottled, got %v", err)
	}
	if !req.Throttled || req.Message != engine.config.PasswordReset.GenericMessage {
		t.Fatalf("throttled result still carries the generic message: %+v", req)
	}
}

func TestRequestPasswordResetRejectsBadEmail(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)

	if _, err := auth.RequestPasswordReset(ctx, "not an address"); !errors.Is(err, ErrEmailInvalid) {
		t.Fatalf("expected ErrEmailInvalid, got %v", err)
	}
}

func TestVerifyResetToken(t *testing.T) {
	ctx := context.Background()
	engine, _, mail := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	mustRegister(t, auth, "mia@example.com", "a strong password")

	if _, err := auth.RequestPasswordReset(ctx, "mia@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := mail.last(t).Token

	if err := auth.VerifyResetToken(ctx, "mia@example.com", token); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if err := auth.VerifyResetToken(ctx, "mia@example.com", "wrong"); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid for wrong token, got %v", err)
	}
	if err := auth.VerifyResetToken(ctx, "other@example.com", token); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid for wrong email, got %v", err)
	}

	// Pre-validation does not consume; the token continues to work.
	if err := auth.VerifyResetToken(ctx, "mia@example.com", token); err != nil {
		t.Fatalf("token consumed by verification: %v", err)
	}
}

func TestResetPasswordSingleUse(t *testing.T) {
	ctx := context.Background()
	engine, _, mail := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	mustRegister(t, auth, "noa@example.com", "a strong password")

	if _, err := auth.RequestPasswordReset(ctx, "noa@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := mail.last(t).Token

	if err := auth.ResetPassword(ctx, "noa@example.com", token, "a brand new password"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if notice := mail.last(t); notice.Kind != "password_changed" || notice.To != "noa@example.com" {
		t.Fatalf("expected a password change notice after reset, got %+v", notice)
	}

	fresh := newTestAuth(t, engine)
	if _, err := fresh.Login(ctx, "noa@example.com", "a strong password", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := fresh.Login(ctx, "noa@example.com", "a brand new password", false); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	if err := auth.ResetPassword(ctx, "noa@example.com", token, "yet another password"); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid on replay, got %v", err)
	}
}

func TestResetPasswordRejectsWeakPassword(t *testing.T) {
	ctx := context.Background()
	engine, _, mail := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	mustRegister(t, auth, "ona@example.com", "a strong password")

	if _, err := auth.RequestPasswordReset(ctx, "ona@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := mail.last(t).Token

	if err := auth.ResetPassword(ctx, "ona@example.com", token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	// The failed attempt must not consume the token.
	if err := auth.ResetPassword(ctx, "ona@example.com", token, "a brand new password"); err != nil {
		t.Fatalf("token was consumed by the rejected attempt: %v", err)
	}
}

func TestResetPasswordRevokesRememberTokens(t *testing.T) {
	ctx := context.Background()
	engine, mem, mail := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	mustRegister(t, auth, "pam@example.com", "a strong password")

	device := newTestAuth(t, engine)
	user, err := device.Login(ctx, "pam@example.com", "a strong password", true)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := auth.RequestPasswordReset(ctx, "pam@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := auth.ResetPassword(ctx, "pam@example.com", mail.last(t).Token, "a brand new password"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	cookie := device.cookies.Get(engine.config.Remember.CookieName)
	if cookie == "" {
		t.Fatal("remember cookie missing")
	}
	if _, err := mem.FindRememberToken(ctx, hashToken(cookie)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("remember token for user %d survived the reset: %v", user.ID, err)
	}
}

func TestResetPasswordDisabled(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, func(cfg *Config) {
		cfg.PasswordReset.Enabled = false
	})
	auth := newTestAuth(t, engine)

	if _, err := auth.RequestPasswordReset(ctx, "a@example.com"); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid, got %v", err)
	}
	if err := auth.ResetPassword(ctx, "a@example.com", "t", "a brand new password"); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid, got %v", err)
	}
}
