package authgate

import (
	"context"
	"errors"
	"log"

	"github.com/hexlane/authgate/internal"
	"github.com/hexlane/authgate/oauth"
	"github.com/hexlane/authgate/store"
)

// OAuthAuthorizationURL mints a CSRF state secret, parks it in the session
// and returns the provider authorization URL to redirect the visitor to.
func (a *Auth) OAuthAuthorizationURL(ctx context.Context, providerName string) (string, error) {
	e := a.engine

	if !e.config.OAuth.Enabled || e.registry == nil {
		return "", ErrOAuthDisabled
	}
	provider, err := e.registry.Provider(providerName)
	if err != nil {
		return "", ErrOAuthProviderUnknown
	}

	state, err := internal.NewToken(internal.StateSecretSize)
	if err != nil {
		return "", err
	}

	a.sess.Set(sessionKeyOAuthState, state)
	a.sess.Set(sessionKeyOAuthProvider, providerName)
	if err := a.sess.Save(ctx); err != nil {
		return "", errors.Join(ErrSessionUnavailable, err)
	}

	return provider.AuthCodeURL(state), nil
}

// HandleOAuthCallback describes the handleoauthcallback operation and its observable behavior.
//
// HandleOAuthCallback may return an error when input validation, dependency calls, or security checks fail.
// HandleOAuthCallback does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (a *Auth) HandleOAuthCallback(ctx context.Context, providerName, state, code string) (*store.User, error) {
	e := a.engine

	if !e.config.OAuth.Enabled || e.registry == nil {
		return nil, ErrOAuthDisabled
	}

	// State is checked before anything else and cleared either way so a
	// failed callback cannot be replayed.
	storedState, _ := a.sess.Get(sessionKeyOAuthState)
	storedProvider, _ := a.sess.Get(sessionKeyOAuthProvider)
	a.sess.Delete(sessionKeyOAuthState)
	a.sess.Delete(sessionKeyOAuthProvider)
	if err := a.sess.Save(ctx); err != nil {
		return nil, errors.Join(ErrSessionUnavailable, err)
	}

	if storedState == "" || state == "" || !internal.TokenHashesEqual(hashToken(storedState), hashToken(state)) || storedProvider != providerName {
		e.metricInc(MetricOAuthStateMismatch)
		e.emitAudit(ctx, auditEventOAuthFailure, false, 0, a.sess.ID(), ErrOAuthStateMismatch, func() map[string]string {
			return map[string]string{"provider": providerName}
		})
		return nil, ErrOAuthStateMismatch
	}

	profile, err := e.registry.Exchange(ctx, providerName, code)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			return nil, ErrOAuthProviderUnknown
		}
		e.metricInc(MetricOAuthLoginFailure)
		e.emitAudit(ctx, auditEventOAuthFailure, false, 0, a.sess.ID(), ErrOAuthExchangeFailed, func() map[string]string {
			return map[string]string{"provider": providerName}
		})
		return nil, errors.Join(ErrOAuthExchangeFailed, err)
	}

	user, created, err := a.resolveFederatedUser(ctx, profile)
	if err != nil {
		e.metricInc(MetricOAuthLoginFailure)
		e.emitAudit(ctx, auditEventOAuthFailure, false, 0, a.sess.ID(), err, func() map[string]string {
			return map[string]string{"provider": providerName}
		})
		return nil, err
	}

	if err := a.establishSession(ctx, user); err != nil {
		return nil, err
	}
	a.touchLastLogin(ctx, user)

	if created {
		e.metricInc(MetricOAuthAccountCreated)
		e.emitAudit(ctx, auditEventOAuthAccountCreated, true, user.ID, a.sess.ID(), nil, func() map[string]string {
			return map[string]string{"provider": providerName}
		})
	}
	e.metricInc(MetricOAuthLoginSuccess)
	e.emitAudit(ctx, auditEventOAuthLogin, true, user.ID, a.sess.ID(), nil, func() map[string]string {
		return map[string]string{"provider": providerName}
	})
	return user, nil
}

// resolveFederatedUser maps a provider profile to a local account. Precedence:
// an existing provider link, then an email match, then account creation.
func (a *Auth) resolveFederatedUser(ctx context.Context, profile *oauth.Profile) (*store.User, bool, error) {
	e := a.engine

	link, err := e.store.FindOAuthAccount(ctx, profile.Provider, profile.ID)
	switch {
	case err == nil:
		user, err := e.store.FindUserByID(ctx, link.UserID)
		if err == nil {
			return user, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, errors.Join(ErrStoreUnavailable, err)
		}
		// Orphaned link: the local account is gone. Drop it and fall
		// through to the email path.
		if derr := e.store.DeleteOAuthAccountsForUser(ctx, link.UserID); derr != nil {
			log.Print("authgate: orphaned oauth link cleanup failed: ", derr)
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, errors.Join(ErrStoreUnavailable, err)
	}

	if profile.Email == "" {
		return nil, false, ErrOAuthProfileIncomplete
	}

	user, err := e.store.FindUserByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		if err := a.linkOAuthAccount(ctx, user.ID, profile); err != nil {
			return nil, false, err
		}
		return user, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, errors.Join(ErrStoreUnavailable, err)
	}

	if !e.config.OAuth.AutoCreateAccounts {
		return nil, false, ErrOAuthSignupDisabled
	}

	user, err = a.createFederatedUser(ctx, profile)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (a *Auth) linkOAuthAccount(ctx context.Context, userID int64, profile *oauth.Profile) error {
	if err := a.engine.store.LinkOAuthAccount(ctx, userID, profile.Provider, profile.ID); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// createFederatedUser provisions a local account around a provider profile.
// The password column gets an unguessable random credential so the account
// cannot be entered via the password path until a reset.
func (a *Auth) createFederatedUser(ctx context.Context, profile *oauth.Profile) (*store.User, error) {
	e := a.engine
	m := e.store.Mapping()

	randomSecret, err := internal.NewToken(internal.RememberSecretSize)
	if err != nil {
		return nil, err
	}
	hash, err := e.policy.Hash(randomSecret)
	if err != nil {
		return nil, err
	}

	row := map[string]any{
		m.EmailColumn:    profile.Email,
		m.PasswordColumn: hash,
	}
	if m.NameColumn != "" && profile.Name != "" {
		row[m.NameColumn] = profile.Name
	}
	if m.AvatarColumn != "" && profile.Avatar != "" {
		row[m.AvatarColumn] = profile.Avatar
	}
	// The provider already verified this address.
	if m.VerifiedAtColumn != "" {
		row[m.VerifiedAtColumn] = e.now()
	}

	id, err := e.store.InsertUser(ctx, row)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			// Raced with a concurrent signup for the same address; link to
			// the winner instead.
			user, ferr := e.store.FindUserByEmail(ctx, profile.Email)
			if ferr != nil {
				return nil, errors.Join(ErrStoreUnavailable, ferr)
			}
			if lerr := a.linkOAuthAccount(ctx, user.ID, profile); lerr != nil {
				return nil, lerr
			}
			return user, nil
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	if err := a.linkOAuthAccount(ctx, id, profile); err != nil {
		return nil, err
	}

	user, err := e.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return user, nil
}
