package authgate

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/hexlane/authgate/oauth"
	"github.com/hexlane/authgate/password"
	"github.com/hexlane/authgate/store"
)

// Builder defines a public type used by authgate APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config

	userStore store.Store
	db        *sql.DB
	dialect   store.Dialect

	mailer     Mailer
	auditSink  AuditSink
	httpClient *http.Client

	providers map[string]oauth.Credentials

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config:    defaultConfig(),
		providers: map[string]oauth.Credentials{},
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore describes the withstore operation and its observable behavior.
//
// WithStore may return an error when input validation, dependency calls, or security checks fail.
// WithStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.userStore = s
	return b
}

// WithDB wires a raw database handle. Build runs schema detection against it
// and refuses to start when the user table cannot be mapped.
func (b *Builder) WithDB(db *sql.DB, dialect store.Dialect) *Builder {
	b.db = db
	b.dialect = dialect
	return b
}

// WithMailer describes the withmailer operation and its observable behavior.
//
// WithMailer may return an error when input validation, dependency calls, or security checks fail.
// WithMailer does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithHTTPClient overrides the client used for federation calls. TLS
// verification stays on regardless.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithOAuthProvider registers a federation provider by name. Unknown names
// fail at Build.
func (b *Builder) WithOAuthProvider(name string, creds oauth.Credentials) *Builder {
	b.providers[name] = creds
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	return b.BuildContext(context.Background())
}

// BuildContext is Build with a caller-supplied context covering schema
// detection queries.
func (b *Builder) BuildContext(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// -------- USER STORE --------
	userStore := b.userStore
	if userStore == nil {
		if b.db == nil {
			return nil, errors.New("user store or database handle required")
		}
		if b.dialect == nil {
			return nil, errors.New("database dialect required")
		}
		sqlStore, err := store.NewSQL(ctx, b.db, b.dialect, cfg.Schema)
		if err != nil {
			return nil, errors.Join(ErrSchemaDetection, err)
		}
		if err := sqlStore.EnsureAuxiliaryTables(ctx); err != nil {
			return nil, err
		}
		userStore = sqlStore
	}

	// -------- PASSWORD POLICY --------
	policy, err := password.New(cfg.Password)
	if err != nil {
		return nil, err
	}

	// -------- OAUTH REGISTRY --------
	var registry *oauth.Registry
	if cfg.OAuth.Enabled {
		if len(b.providers) == 0 {
			return nil, errors.New("OAuth enabled with no registered providers")
		}
		registry = oauth.NewRegistry(b.httpClient)
		for name, creds := range b.providers {
			if err := registry.Register(name, creds); err != nil {
				return nil, err
			}
		}
	}

	mailer := b.mailer
	if mailer == nil {
		mailer = LogMailer{}
	}

	engine := &Engine{
		config:   cfg,
		store:    userStore,
		policy:   policy,
		registry: registry,
		mailer:   mailer,
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:  NewMetrics(cfg.Metrics),
		validate: validator.New(),
	}

	b.built = true

	return engine, nil
}
