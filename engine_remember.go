package authgate

import (
	"context"
	"errors"
	"log"

	"github.com/hexlane/authgate/internal"
	"github.com/hexlane/authgate/store"
)

// issueRememberToken mints a fresh random secret, stores only its hash, and
// ships the plaintext to the client as a cookie.
func (a *Auth) issueRememberToken(ctx context.Context, userID int64) error {
	e := a.engine

	plain, err := internal.NewToken(internal.RememberSecretSize)
	if err != nil {
		return err
	}

	token := store.RememberToken{
		UserID:    userID,
		TokenHash: hashToken(plain),
		ExpiresAt: e.now().Add(e.config.Remember.TTL),
		CreatedAt: e.now(),
	}
	if err := e.store.CreateRememberToken(ctx, token); err != nil {
		return err
	}

	a.cookies.Set(
		e.config.Remember.CookieName,
		plain,
		e.config.Remember.TTL,
		e.config.Remember.Secure,
		e.config.Remember.HTTPOnly,
	)
	e.metricInc(MetricRememberIssued)
	return nil
}

// LoginFromRemember describes the loginfromremember operation and its observable behavior.
//
// LoginFromRemember may return an error when input validation, dependency calls, or security checks fail.
// LoginFromRemember does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (a *Auth) LoginFromRemember(ctx context.Context) (*store.User, error) {
	e := a.engine

	if !e.config.Remember.Enabled {
		return nil, ErrRememberInvalid
	}
	if a.Check() {
		return a.user, nil
	}

	plain := a.cookies.Get(e.config.Remember.CookieName)
	if plain == "" {
		return nil, ErrRememberInvalid
	}

	record, err := e.store.FindRememberToken(ctx, hashToken(plain))
	if err != nil {
		a.cookies.Clear(e.config.Remember.CookieName)
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricRememberLoginFailure)
			e.emitAudit(ctx, auditEventRememberFailure, false, 0, a.sess.ID(), ErrRememberInvalid, nil)
			return nil, ErrRememberInvalid
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	user, err := e.store.FindUserByID(ctx, record.UserID)
	if err != nil {
		a.cookies.Clear(e.config.Remember.CookieName)
		if derr := e.store.DeleteRememberToken(ctx, record.TokenHash); derr != nil {
			log.Print("authgate: orphaned remember token cleanup failed: ", derr)
		}
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricRememberLoginFailure)
			return nil, ErrRememberInvalid
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	// Reads never rotate the token: it stays valid until its expiry or until a
	// credential change revokes the whole set. Rotation happens only where a
	// new token is minted, at login with remember set.
	if err := a.establishSession(ctx, user); err != nil {
		return nil, err
	}

	e.metricInc(MetricRememberLoginSuccess)
	e.emitAudit(ctx, auditEventRememberLogin, true, user.ID, a.sess.ID(), nil, nil)
	return user, nil
}

// clearRememberToken retires the presented token and its cookie. Best effort.
func (a *Auth) clearRememberToken(ctx context.Context) {
	e := a.engine

	plain := a.cookies.Get(e.config.Remember.CookieName)
	if plain == "" {
		return
	}
	if err := e.store.DeleteRememberToken(ctx, hashToken(plain)); err != nil {
		log.Print("authgate: remember token delete failed: ", err)
	}
	a.cookies.Clear(e.config.Remember.CookieName)
}

// revokeAllRememberTokens drops every outstanding remember token for a user.
// Called after any credential change.
func (a *Auth) revokeAllRememberTokens(ctx context.Context, userID int64) {
	if err := a.engine.store.DeleteRememberTokensForUser(ctx, userID); err != nil {
		log.Print("authgate: remember token revocation failed: ", err)
	}
	a.cookies.Clear(a.engine.config.Remember.CookieName)
}

func hashToken(token string) string {
	return internal.HashToken(token)
}
