package authgate

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hexlane/authgate/oauth"
	"github.com/hexlane/authgate/password"
	"github.com/hexlane/authgate/session"
	"github.com/hexlane/authgate/store"
)

// Session keys the engine owns inside a caller-provided session.
const (
	sessionKeyOAuthState        = "oauth_state"
	sessionKeyOAuthProvider     = "oauth_provider"
	sessionKeyPendingVerifyMail = "pending_verification_email"
)

// Engine defines a public type used by authgate APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config   Config
	store    store.Store
	policy   *password.Policy
	registry *oauth.Registry
	mailer   Mailer
	audit    *auditDispatcher
	metrics  *Metrics
	validate *validator.Validate

	// nowFunc is overridden in tests.
	nowFunc func() time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// Store exposes the engine's user store for maintenance operations such as
// expired token purges.
func (e *Engine) Store() store.Store {
	if e == nil {
		return nil
	}
	return e.store
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e.nowFunc != nil {
		return e.nowFunc()
	}
	return time.Now()
}

// Auth is the per-request handle. It binds one session and one cookie jar to
// the engine and caches the authenticated user for the rest of the request.
//
// An Auth value is not safe for concurrent use; create one per request.
type Auth struct {
	engine  *Engine
	sess    session.Session
	cookies CookieJar
	user    *store.User
}

// NewAuth binds a session and cookie jar for the duration of one request. The
// session's stored user id is resolved eagerly; a stale id (deleted account)
// is cleared rather than surfaced as an error.
func (e *Engine) NewAuth(ctx context.Context, sess session.Session, cookies CookieJar) (*Auth, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if sess == nil {
		return nil, errors.New("session required")
	}
	if cookies == nil {
		cookies = newMapCookies()
	}

	a := &Auth{engine: e, sess: sess, cookies: cookies}
	a.loadUserFromSession(ctx)
	return a, nil
}

func (a *Auth) loadUserFromSession(ctx context.Context) {
	raw, ok := a.sess.Get(a.engine.config.Session.UserIDKey)
	if !ok || raw == "" {
		return
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		a.sess.Delete(a.engine.config.Session.UserIDKey)
		return
	}

	user, err := a.engine.store.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.sess.Delete(a.engine.config.Session.UserIDKey)
			return
		}
		// Transient store failure: keep the session key, land as guest.
		log.Print("authgate: session user hydration failed: ", err)
		return
	}
	a.user = user
}

// Check reports whether the bound session carries an authenticated user.
func (a *Auth) Check() bool {
	return a != nil && a.user != nil
}

// Guest reports the inverse of Check.
func (a *Auth) Guest() bool {
	return !a.Check()
}

// UserID returns the authenticated user's id, or 0 for guests.
func (a *Auth) UserID() int64 {
	if a == nil || a.user == nil {
		return 0
	}
	return a.user.ID
}

// User returns the authenticated user record, or nil for guests.
func (a *Auth) User() *store.User {
	if a == nil {
		return nil
	}
	return a.user
}

// Session returns the session bound to this request.
func (a *Auth) Session() session.Session {
	if a == nil {
		return nil
	}
	return a.sess
}

// Register describes the register operation and its observable behavior.
//
// Register may return an error when input validation, dependency calls, or security checks fail.
// Register does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (a *Auth) Register(ctx context.Context, email, plaintext string, fields map[string]any) (*store.User, error) {
	e := a.engine

	if err := e.validate.Var(email, "required,email"); err != nil {
		return nil, ErrEmailInvalid
	}
	if err := checkPasswordPolicy(plaintext); err != nil {
		return nil, err
	}

	hash, err := e.policy.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	m := e.store.Mapping()
	row := map[string]any{
		m.EmailColumn:    email,
		m.PasswordColumn: hash,
	}
	for k, v := range fields {
		if k == m.EmailColumn || k == m.PasswordColumn {
			continue
		}
		row[k] = v
	}

	var plainToken string
	verifying := e.config.EmailVerification.Enabled && m.VerifyTokenColumn != ""
	if verifying {
		plainToken, err = e.newVerificationToken()
		if err != nil {
			return nil, err
		}
		row[m.VerifyTokenColumn] = hashToken(plainToken)
		if m.VerifyExpiresColumn != "" {
			row[m.VerifyExpiresColumn] = e.now().Add(e.config.EmailVerification.VerificationTTL)
		}
	}

	id, err := e.store.InsertUser(ctx, row)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailure, false, 0, a.sess.ID(), ErrAccountExists, func() map[string]string {
				return map[string]string{"email": email}
			})
			return nil, ErrAccountExists
		}
		return nil, err
	}

	user, err := e.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, id, a.sess.ID(), nil, nil)

	if verifying {
		e.metricInc(MetricVerificationRequest)
		a.sess.Set(sessionKeyPendingVerifyMail, email)
		if err := a.sess.Save(ctx); err != nil {
			log.Print("authgate: failed to persist pending verification marker: ", err)
		}
		if err := e.mailer.Send(ctx, Mail{
			To:      email,
			Subject: "Verify your email address",
			Token:   plainToken,
			Kind:    "verification",
		}); err != nil {
			log.Print("authgate: verification mail send failed: ", err)
		}
	}

	// Registration never signs the visitor in. A session is established by
	// Login, or by a verification auto-login when that is configured.
	return user, nil
}

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (a *Auth) Login(ctx context.Context, email, plaintext string, remember bool) (*store.User, error) {
	e := a.engine

	fail := func(reason string, err error) (*store.User, error) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, 0, a.sess.ID(), err, func() map[string]string {
			return map[string]string{"email": email, "reason": reason}
		})
		return nil, err
	}

	if plaintext == "" {
		return fail("empty_password", ErrInvalidCredentials)
	}

	user, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Same error as a wrong password so that callers cannot probe
			// which addresses have accounts.
			return fail("user_not_found", ErrInvalidCredentials)
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	ok, err := e.policy.Verify(plaintext, user.PasswordHash)
	if err != nil || !ok {
		return fail("password_mismatch", ErrInvalidCredentials)
	}

	if e.config.EmailVerification.RequireForLogin && !user.Verified() {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, a.sess.ID(), ErrAccountUnverified, nil)
		// Park the address so a resend form can pick it up from the session.
		a.sess.Set(sessionKeyPendingVerifyMail, user.Email)
		if err := a.sess.Save(ctx); err != nil {
			log.Print("authgate: failed to persist pending verification marker: ", err)
		}
		return nil, ErrAccountUnverified
	}

	a.maybeRehash(ctx, user, plaintext)
	a.touchLastLogin(ctx, user)

	if err := a.establishSession(ctx, user); err != nil {
		return nil, err
	}

	if remember && e.config.Remember.Enabled {
		if err := a.issueRememberToken(ctx, user.ID); err != nil {
			log.Print("authgate: remember token issue failed: ", err)
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, a.sess.ID(), nil, nil)
	return user, nil
}

// Logout describes the logout operation and its observable behavior.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (a *Auth) Logout(ctx context.Context) error {
	e := a.engine
	userID := a.UserID()

	a.clearRememberToken(ctx)

	a.sess.Delete(e.config.Session.UserIDKey)
	if err := a.sess.Renew(); err != nil {
		return errors.Join(ErrSessionUnavailable, err)
	}
	if err := a.sess.Save(ctx); err != nil {
		return errors.Join(ErrSessionUnavailable, err)
	}
	a.user = nil

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, a.sess.ID(), nil, nil)
	return nil
}

// establishSession rotates the session identifier and records the user id.
// Rotation happens on every privilege boundary crossing.
func (a *Auth) establishSession(ctx context.Context, user *store.User) error {
	e := a.engine

	if e.config.Session.RotateOnLogin {
		if err := a.sess.Renew(); err != nil {
			return errors.Join(ErrSessionUnavailable, err)
		}
	}
	a.sess.Set(e.config.Session.UserIDKey, strconv.FormatInt(user.ID, 10))
	a.sess.Delete(sessionKeyPendingVerifyMail)
	if err := a.sess.Save(ctx); err != nil {
		return errors.Join(ErrSessionUnavailable, err)
	}
	a.user = user
	return nil
}

// maybeRehash transparently upgrades stored digests that no longer meet the
// configured cost. Failures never fail the login.
func (a *Auth) maybeRehash(ctx context.Context, user *store.User, plaintext string) {
	e := a.engine

	needs, err := e.policy.NeedsRehash(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.policy.Hash(plaintext)
	if err != nil {
		log.Print("authgate: password rehash failed: ", err)
		return
	}
	m := e.store.Mapping()
	if err := e.store.UpdateUser(ctx, user.ID, map[string]any{m.PasswordColumn: newHash}); err != nil {
		log.Print("authgate: password rehash persist failed: ", err)
		return
	}
	user.PasswordHash = newHash
	e.metricInc(MetricPasswordRehash)
}

func (a *Auth) touchLastLogin(ctx context.Context, user *store.User) {
	e := a.engine
	m := e.store.Mapping()
	if m.LastLoginColumn == "" {
		return
	}
	now := e.now()
	if err := e.store.UpdateUser(ctx, user.ID, map[string]any{m.LastLoginColumn: now}); err != nil {
		log.Print("authgate: last login update failed: ", err)
		return
	}
	user.LastLoginAt = &now
}

func checkPasswordPolicy(plaintext string) error {
	if len(plaintext) < 8 {
		return ErrPasswordPolicy
	}
	return nil
}
