package authgate

import (
	"context"
	"errors"
	"log"

	"github.com/hexlane/authgate/internal"
	"github.com/hexlane/authgate/store"
)

// newVerificationToken picks the challenge shape from configuration: short
// lengths become numeric codes suitable for typing, longer ones hex tokens
// suitable for links.
func (e *Engine) newVerificationToken() (string, error) {
	length := e.config.EmailVerification.TokenLength
	if length <= 10 {
		return internal.NewOTP(length)
	}
	return internal.NewHexToken(length)
}

// VerifyEmail describes the verifyemail operation and its observable behavior.
//
// VerifyEmail may return an error when input validation, dependency calls, or security checks fail.
// VerifyEmail does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (a *Auth) VerifyEmail(ctx context.Context, token string) (*store.User, error) {
	e := a.engine

	if !e.config.EmailVerification.Enabled {
		return nil, ErrEmailVerificationDisabled
	}
	if token == "" {
		return nil, ErrEmailVerificationInvalid
	}

	user, err := e.store.FindUserByVerifyToken(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricVerificationFailure)
			e.emitAudit(ctx, auditEventVerificationConfirm, false, 0, a.sess.ID(), ErrEmailVerificationInvalid, nil)
			return nil, ErrEmailVerificationInvalid
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	// A token presented twice after a successful verify resolves to the
	// already-verified account; treat that as success rather than an error.
	if user.Verified() {
		return user, nil
	}

	if user.VerifyTokenExpiresAt != nil && user.VerifyTokenExpiresAt.Before(e.now()) {
		e.metricInc(MetricVerificationFailure)
		e.emitAudit(ctx, auditEventVerificationConfirm, false, user.ID, a.sess.ID(), ErrEmailVerificationInvalid, func() map[string]string {
			return map[string]string{"reason": "expired"}
		})
		return nil, ErrEmailVerificationInvalid
	}

	// The token digest is retained after success so that a replayed challenge
	// still resolves to its now-verified row and hits the idempotent branch
	// above. Only the expiry is dropped.
	m := e.store.Mapping()
	updates := map[string]any{}
	if m.VerifiedAtColumn != "" {
		updates[m.VerifiedAtColumn] = e.now()
	}
	if m.VerifyExpiresColumn != "" {
		updates[m.VerifyExpiresColumn] = nil
	}
	if err := e.store.UpdateUser(ctx, user.ID, updates); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	user, err = e.store.FindUserByID(ctx, user.ID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricVerificationSuccess)
	e.emitAudit(ctx, auditEventVerificationConfirm, true, user.ID, a.sess.ID(), nil, nil)

	if e.config.EmailVerification.AutoLoginOnVerify {
		if err := a.establishSession(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// ResendVerification mints a fresh challenge for an unverified account. The
// previous token stops working immediately.
func (a *Auth) ResendVerification(ctx context.Context, email string) error {
	e := a.engine

	if !e.config.EmailVerification.Enabled {
		return ErrEmailVerificationDisabled
	}

	user, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Silent no-op so the endpoint cannot be used to probe for
			// registered addresses.
			return nil
		}
		return errors.Join(ErrStoreUnavailable, err)
	}
	if user.Verified() {
		return ErrAlreadyVerified
	}

	m := e.store.Mapping()
	if m.VerifyTokenColumn == "" {
		return ErrEmailVerificationDisabled
	}

	plain, err := e.newVerificationToken()
	if err != nil {
		return err
	}

	updates := map[string]any{m.VerifyTokenColumn: hashToken(plain)}
	if m.VerifyExpiresColumn != "" {
		updates[m.VerifyExpiresColumn] = e.now().Add(e.config.EmailVerification.VerificationTTL)
	}
	if err := e.store.UpdateUser(ctx, user.ID, updates); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricVerificationRequest)
	e.emitAudit(ctx, auditEventVerificationRequest, true, user.ID, a.sess.ID(), nil, nil)

	if err := e.mailer.Send(ctx, Mail{
		To:      user.Email,
		Subject: "Verify your email address",
		Token:   plain,
		Kind:    "verification",
	}); err != nil {
		log.Print("authgate: verification mail send failed: ", err)
	}
	return nil
}
