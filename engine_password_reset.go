package authgate

import (
	"context"
	"errors"
	"log"

	"github.com/hexlane/authgate/internal"
	"github.com/hexlane/authgate/store"
)

// ResetRequest is the caller-visible outcome of a password reset request.
// Message is identical for known and unknown addresses.
type ResetRequest struct {
	Message   string
	Throttled bool
}

// RequestPasswordReset describes the requestpasswordreset operation and its observable behavior.
//
// RequestPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// RequestPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) (ResetRequest, error) {
	e := a.engine
	cfg := e.config.PasswordReset

	if !cfg.Enabled {
		return ResetRequest{}, ErrPasswordResetInvalid
	}
	if err := e.validate.Var(email, "required,email"); err != nil {
		return ResetRequest{}, ErrEmailInvalid
	}

	since := e.now().Add(-cfg.ThrottleWindow)
	count, err := e.store.CountActiveResetRecords(ctx, email, since)
	if err != nil {
		return ResetRequest{}, errors.Join(ErrPasswordResetUnavailable, err)
	}
	if count >= cfg.MaxAttempts {
		e.metricInc(MetricPasswordResetThrottled)
		e.emitAudit(ctx, auditEventPasswordResetThrottle, false, 0, a.sess.ID(), ErrPasswordResetThrottled, func() map[string]string {
			return map[string]string{"email": email}
		})
		return ResetRequest{Message: cfg.GenericMessage, Throttled: true}, ErrPasswordResetThrottled
	}

	user, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unknown addresses get the same answer as known ones.
			return ResetRequest{Message: cfg.GenericMessage}, nil
		}
		return ResetRequest{}, errors.Join(ErrPasswordResetUnavailable, err)
	}

	plain, err := internal.NewHexToken(cfg.TokenLength)
	if err != nil {
		return ResetRequest{}, err
	}

	record := store.ResetRecord{
		Email:     user.Email,
		TokenHash: hashToken(plain),
		ExpiresAt: e.now().Add(cfg.ResetTTL),
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		CreatedAt: e.now(),
	}
	if err := e.store.CreateResetRecord(ctx, record); err != nil {
		return ResetRequest{}, errors.Join(ErrPasswordResetUnavailable, err)
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, a.sess.ID(), nil, nil)

	if err := e.mailer.Send(ctx, Mail{
		To:      user.Email,
		Subject: "Reset your password",
		Token:   plain,
		Kind:    "password_reset",
	}); err != nil {
		log.Print("authgate: reset mail send failed: ", err)
	}

	return ResetRequest{Message: cfg.GenericMessage}, nil
}

// VerifyResetToken checks a token without consuming it, for pre-validating
// the reset form before the user types a new password.
func (a *Auth) VerifyResetToken(ctx context.Context, email, token string) error {
	e := a.engine

	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetInvalid
	}
	if token == "" {
		return ErrPasswordResetInvalid
	}

	record, err := e.store.FindActiveResetRecord(ctx, email, hashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrPasswordResetInvalid
		}
		return errors.Join(ErrPasswordResetUnavailable, err)
	}

	// The store already matched on the digest; recheck in constant time
	// before trusting the row.
	if !internal.TokenHashesEqual(record.TokenHash, hashToken(token)) {
		return ErrPasswordResetInvalid
	}
	return nil
}

// ResetPassword describes the resetpassword operation and its observable behavior.
//
// ResetPassword may return an error when input validation, dependency calls, or security checks fail.
// ResetPassword does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (a *Auth) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	e := a.engine

	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetInvalid
	}
	if err := checkPasswordPolicy(newPassword); err != nil {
		return err
	}
	if err := a.VerifyResetToken(ctx, email, token); err != nil {
		return err
	}

	user, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrPasswordResetInvalid
		}
		return errors.Join(ErrPasswordResetUnavailable, err)
	}

	// Consume first. The conditional update makes a concurrent double
	// submit lose here instead of rewriting the password twice.
	consumed, err := e.store.ConsumeResetRecord(ctx, email, hashToken(token))
	if err != nil {
		return errors.Join(ErrPasswordResetUnavailable, err)
	}
	if !consumed {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, user.ID, a.sess.ID(), ErrPasswordResetInvalid, func() map[string]string {
			return map[string]string{"reason": "replay"}
		})
		return ErrPasswordResetInvalid
	}

	hash, err := e.policy.Hash(newPassword)
	if err != nil {
		return err
	}
	m := e.store.Mapping()
	if err := e.store.UpdateUser(ctx, user.ID, map[string]any{m.PasswordColumn: hash}); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	a.revokeAllRememberTokens(ctx, user.ID)

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, user.ID, a.sess.ID(), nil, nil)

	if err := e.mailer.Send(ctx, Mail{
		To:      user.Email,
		Subject: "Your password was changed",
		Kind:    "password_changed",
	}); err != nil {
		log.Print("authgate: password change notice send failed: ", err)
	}
	return nil
}
