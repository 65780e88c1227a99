package authgate

import "errors"

var (
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotAuthenticated is an exported constant or variable used by the authentication engine.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAccountExists is an exported constant or variable used by the authentication engine.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountUnverified is an exported constant or variable used by the authentication engine.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrAlreadyVerified is an exported constant or variable used by the authentication engine.
	ErrAlreadyVerified = errors.New("account already verified")
	// ErrEmailInvalid is an exported constant or variable used by the authentication engine.
	ErrEmailInvalid = errors.New("invalid email address")
	// ErrEmailVerificationInvalid is an exported constant or variable used by the authentication engine.
	ErrEmailVerificationInvalid = errors.New("email verification challenge invalid")
	// ErrEmailVerificationDisabled is an exported constant or variable used by the authentication engine.
	ErrEmailVerificationDisabled = errors.New("email verification disabled")
	// ErrPasswordPolicy is an exported constant or variable used by the authentication engine.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is an exported constant or variable used by the authentication engine.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrPasswordResetInvalid is an exported constant or variable used by the authentication engine.
	ErrPasswordResetInvalid = errors.New("password reset challenge invalid")
	// ErrPasswordResetThrottled is an exported constant or variable used by the authentication engine.
	ErrPasswordResetThrottled = errors.New("password reset rate limited")
	// ErrPasswordResetUnavailable is an exported constant or variable used by the authentication engine.
	ErrPasswordResetUnavailable = errors.New("password reset backend unavailable")
	// ErrRememberInvalid is an exported constant or variable used by the authentication engine.
	ErrRememberInvalid = errors.New("invalid remember token")
	// ErrOAuthDisabled is an exported constant or variable used by the authentication engine.
	ErrOAuthDisabled = errors.New("oauth federation disabled")
	// ErrOAuthProviderUnknown is an exported constant or variable used by the authentication engine.
	ErrOAuthProviderUnknown = errors.New("oauth provider not registered")
	// ErrOAuthStateMismatch is an exported constant or variable used by the authentication engine.
	ErrOAuthStateMismatch = errors.New("oauth state mismatch")
	// ErrOAuthExchangeFailed is an exported constant or variable used by the authentication engine.
	ErrOAuthExchangeFailed = errors.New("oauth code exchange failed")
	// ErrOAuthProfileIncomplete is an exported constant or variable used by the authentication engine.
	ErrOAuthProfileIncomplete = errors.New("oauth profile missing required fields")
	// ErrOAuthSignupDisabled is an exported constant or variable used by the authentication engine.
	ErrOAuthSignupDisabled = errors.New("oauth account creation disabled")
	// ErrSessionUnavailable is an exported constant or variable used by the authentication engine.
	ErrSessionUnavailable = errors.New("session backend unavailable")
	// ErrStoreUnavailable is an exported constant or variable used by the authentication engine.
	ErrStoreUnavailable = errors.New("user store unavailable")
	// ErrSchemaDetection is an exported constant or variable used by the authentication engine.
	ErrSchemaDetection = errors.New("user table schema detection failed")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
