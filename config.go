package authgate

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hexlane/authgate/password"
	"github.com/hexlane/authgate/store"
)

// Config defines a public type used by authgate APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Session           SessionConfig
	Password          password.Config
	Remember          RememberConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	Profile           ProfileConfig
	OAuth             OAuthConfig
	Schema            store.SchemaConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by authgate APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	// UserIDKey is the session key the authenticated user id is stored under.
	UserIDKey string `env:"AUTHGATE_SESSION_USER_ID_KEY"`
	// RotateOnLogin renews the session identifier on every privilege change.
	RotateOnLogin bool `env:"AUTHGATE_SESSION_ROTATE_ON_LOGIN"`
	Lifetime      time.Duration
}

/*
====================================
REMEMBER CONFIG
====================================
*/

// RememberConfig defines a public type used by authgate APIs.
//
// RememberConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RememberConfig struct {
	Enabled    bool `env:"AUTHGATE_REMEMBER_ENABLED"`
	CookieName string
	TTL        time.Duration
	// Secure controls the Secure attribute on the remember cookie.
	Secure   bool
	HTTPOnly bool
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig defines a public type used by authgate APIs.
//
// PasswordResetConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordResetConfig struct {
	Enabled  bool `env:"AUTHGATE_RESET_ENABLED"`
	ResetTTL time.Duration
	// MaxAttempts caps reset requests per email within ThrottleWindow.
	MaxAttempts    int `env:"AUTHGATE_RESET_MAX_ATTEMPTS"`
	ThrottleWindow time.Duration
	TokenLength    int
	// GenericMessage is returned for every request so that callers cannot
	// probe which addresses have accounts.
	GenericMessage string
}

/*
====================================
EMAIL VERIFICATION CONFIG
====================================
*/

// EmailVerificationConfig defines a public type used by authgate APIs.
//
// EmailVerificationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type EmailVerificationConfig struct {
	Enabled         bool `env:"AUTHGATE_VERIFICATION_ENABLED"`
	RequireForLogin bool `env:"AUTHGATE_VERIFICATION_REQUIRE_FOR_LOGIN"`
	VerificationTTL time.Duration
	// TokenLength <= 10 produces a numeric OTP of that many digits; larger
	// values produce a hex token of that many bytes.
	TokenLength int `env:"AUTHGATE_VERIFICATION_TOKEN_LENGTH"`
	// AutoLoginOnVerify establishes a session right after a successful verify.
	AutoLoginOnVerify bool
}

/*
====================================
PROFILE CONFIG
====================================
*/

// ProfileConfig defines a public type used by authgate APIs.
//
// ProfileConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ProfileConfig struct {
	// WritableColumns is the allow-list of physical columns UpdateProfile may
	// write. Names without a matching column on the detected user table are
	// ignored; credential and verification columns are never writable even
	// when listed.
	WritableColumns []string `env:"AUTHGATE_PROFILE_WRITABLE_COLUMNS" envSeparator:","`
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthConfig defines a public type used by authgate APIs.
//
// OAuthConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type OAuthConfig struct {
	Enabled bool `env:"AUTHGATE_OAUTH_ENABLED"`
	// AutoCreateAccounts permits creating a local account from a federated
	// profile that carries an email.
	AutoCreateAccounts bool
	StateLifetime      time.Duration
}

// AuditConfig defines a public type used by authgate APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `env:"AUTHGATE_AUDIT_ENABLED"`
	BufferSize int  `env:"AUTHGATE_AUDIT_BUFFER_SIZE"`
	DropIfFull bool
}

// MetricsConfig defines a public type used by authgate APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool `env:"AUTHGATE_METRICS_ENABLED"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			UserIDKey:     "user_id",
			RotateOnLogin: true,
			Lifetime:      24 * time.Hour,
		},
		Password: password.DefaultConfig(),
		Remember: RememberConfig{
			Enabled:    true,
			CookieName: "remember_me",
			TTL:        30 * 24 * time.Hour,
			Secure:     true,
			HTTPOnly:   true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:        true,
			ResetTTL:       time.Hour,
			MaxAttempts:    3,
			ThrottleWindow: time.Hour,
			TokenLength:    32,
			GenericMessage: "If that email address is registered, a reset message is on its way.",
		},
		EmailVerification: EmailVerificationConfig{
			Enabled:           false,
			RequireForLogin:   false,
			VerificationTTL:   24 * time.Hour,
			TokenLength:       32,
			AutoLoginOnVerify: true,
		},
		Profile: ProfileConfig{
			WritableColumns: []string{"name", "avatar"},
		},
		OAuth: OAuthConfig{
			Enabled:            false,
			AutoCreateAccounts: true,
			StateLifetime:      10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// ConfigFromEnv returns the default configuration overlaid with any
// AUTHGATE_* environment variables.
func ConfigFromEnv() (Config, error) {
	cfg := defaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Session
	if c.Session.UserIDKey == "" {
		return errors.New("Session UserIDKey must not be empty")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}

	// Remember
	if c.Remember.Enabled {
		if c.Remember.CookieName == "" {
			return errors.New("Remember CookieName must not be empty")
		}
		if c.Remember.TTL <= 0 {
			return errors.New("Remember TTL must be > 0")
		}
	}

	// Password Reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.ResetTTL <= 0 {
			return errors.New("PasswordReset ResetTTL must be > 0")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset MaxAttempts must be > 0")
		}
		if c.PasswordReset.ThrottleWindow <= 0 {
			return errors.New("PasswordReset ThrottleWindow must be > 0")
		}
		if c.PasswordReset.TokenLength < 16 {
			return errors.New("PasswordReset TokenLength must be >= 16")
		}
		if c.PasswordReset.GenericMessage == "" {
			return errors.New("PasswordReset GenericMessage must not be empty")
		}
	}

	// Email Verification
	if c.EmailVerification.Enabled {
		if c.EmailVerification.VerificationTTL <= 0 {
			return errors.New("EmailVerification VerificationTTL must be > 0")
		}
		if c.EmailVerification.TokenLength <= 10 {
			if c.EmailVerification.TokenLength < 4 {
				return errors.New("EmailVerification TokenLength must be >= 4 digits in OTP mode")
			}
		} else if c.EmailVerification.TokenLength < 16 {
			return errors.New("EmailVerification TokenLength must be >= 16 bytes in token mode")
		}
	}
	if c.EmailVerification.RequireForLogin && !c.EmailVerification.Enabled {
		return errors.New("EmailVerification RequireForLogin requires EmailVerification Enabled")
	}

	// OAuth
	if c.OAuth.Enabled && c.OAuth.StateLifetime <= 0 {
		return errors.New("OAuth StateLifetime must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
