package authgate

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/hexlane/authgate/store"
)

// ChangePassword describes the changepassword operation and its observable behavior.
//
// ChangePassword may return an error when input validation, dependency calls, or security checks fail.
// ChangePassword does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (a *Auth) ChangePassword(ctx context.Context, current, newPassword string) error {
	e := a.engine

	if !a.Check() {
		return ErrNotAuthenticated
	}

	ok, err := e.policy.Verify(current, a.user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChange, false, a.user.ID, a.sess.ID(), ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := checkPasswordPolicy(newPassword); err != nil {
		return err
	}
	if same, err := e.policy.Verify(newPassword, a.user.PasswordHash); err == nil && same {
		e.emitAudit(ctx, auditEventPasswordChange, false, a.user.ID, a.sess.ID(), ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	hash, err := e.policy.Hash(newPassword)
	if err != nil {
		return err
	}
	m := e.store.Mapping()
	if err := e.store.UpdateUser(ctx, a.user.ID, map[string]any{m.PasswordColumn: hash}); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	a.user.PasswordHash = hash

	// Everything presented before the credential change is retired: all
	// remember tokens plus this session's old identifier.
	a.revokeAllRememberTokens(ctx, a.user.ID)
	if err := a.sess.Renew(); err == nil {
		if err := a.sess.Save(ctx); err != nil {
			log.Print("authgate: session rotation after password change failed: ", err)
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, a.user.ID, a.sess.ID(), nil, nil)

	if err := e.mailer.Send(ctx, Mail{
		To:      a.user.Email,
		Subject: "Your password was changed",
		Kind:    "password_changed",
	}); err != nil {
		log.Print("authgate: password change notice send failed: ", err)
	}
	return nil
}

// protectedColumns are never writable through UpdateProfile, even when the
// allow-list names them. Credentials and verification state move only through
// their dedicated flows.
func (a *Auth) protectedColumns() map[string]struct{} {
	m := a.engine.store.Mapping()
	protected := map[string]struct{}{
		m.PrimaryKey:     {},
		m.PasswordColumn: {},
	}
	if m.VerifyTokenColumn != "" {
		protected[m.VerifyTokenColumn] = struct{}{}
	}
	if m.VerifyExpiresColumn != "" {
		protected[m.VerifyExpiresColumn] = struct{}{}
	}
	if m.VerifiedAtColumn != "" {
		protected[m.VerifiedAtColumn] = struct{}{}
	}
	if m.LastLoginColumn != "" {
		protected[m.LastLoginColumn] = struct{}{}
	}
	protected[m.EmailColumn] = struct{}{}
	return protected
}

// writableProfileColumns is the configured allow-list intersected with the
// detected user table, minus the protected set.
func (a *Auth) writableProfileColumns() map[string]struct{} {
	m := a.engine.store.Mapping()
	protected := a.protectedColumns()

	writable := map[string]struct{}{}
	for _, col := range a.engine.config.Profile.WritableColumns {
		col = strings.ToLower(strings.TrimSpace(col))
		if col == "" {
			continue
		}
		if _, blocked := protected[col]; blocked {
			continue
		}
		if !m.HasColumn(col) {
			continue
		}
		writable[col] = struct{}{}
	}
	return writable
}

// UpdateProfile writes caller-supplied profile fields. Only columns on the
// configured allow-list that also exist on the user table are written;
// everything else is silently dropped.
func (a *Auth) UpdateProfile(ctx context.Context, fields map[string]any) (*store.User, error) {
	e := a.engine

	if !a.Check() {
		return nil, ErrNotAuthenticated
	}

	writable := a.writableProfileColumns()
	updates := map[string]any{}
	for k, v := range fields {
		col := strings.ToLower(k)
		if _, ok := writable[col]; !ok {
			continue
		}
		updates[col] = v
	}
	if len(updates) == 0 {
		return a.user, nil
	}

	if err := e.store.UpdateUser(ctx, a.user.ID, updates); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	user, err := e.store.FindUserByID(ctx, a.user.ID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	a.user = user

	e.metricInc(MetricProfileUpdated)
	e.emitAudit(ctx, auditEventProfileUpdate, true, user.ID, a.sess.ID(), nil, nil)
	return user, nil
}

// DeleteAccount removes the authenticated user's record plus every credential
// derived from it, then ends the session.
func (a *Auth) DeleteAccount(ctx context.Context, current string) error {
	e := a.engine

	if !a.Check() {
		return ErrNotAuthenticated
	}

	ok, err := e.policy.Verify(current, a.user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	userID := a.user.ID

	if err := e.store.DeleteRememberTokensForUser(ctx, userID); err != nil {
		log.Print("authgate: remember token cleanup on delete failed: ", err)
	}
	if err := e.store.DeleteOAuthAccountsForUser(ctx, userID); err != nil {
		log.Print("authgate: oauth link cleanup on delete failed: ", err)
	}
	if err := e.store.DeleteUser(ctx, userID); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, userID, a.sess.ID(), nil, nil)

	return a.Logout(ctx)
}

// PurgeExpired drops expired remember tokens and reset records. Intended to
// run from a periodic job.
func (e *Engine) PurgeExpired(ctx context.Context) (remember int64, resets int64, err error) {
	if e == nil || e.store == nil {
		return 0, 0, ErrEngineNotReady
	}

	remember, err = e.store.PurgeExpiredRememberTokens(ctx)
	if err != nil {
		return 0, 0, err
	}
	resets, err = e.store.PurgeExpiredResetRecords(ctx)
	if err != nil {
		return remember, 0, err
	}
	return remember, resets, nil
}
