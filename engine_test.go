package authgate

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hexlane/authgate/password"
	"github.com/hexlane/authgate/session"
	"github.com/hexlane/authgate/store"
)

type capturedMail struct {
	mu    sync.Mutex
	mails []Mail
}

func (c *capturedMail) Send(ctx context.Context, mail Mail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mails = append(c.mails, mail)
	return nil
}

func (c *capturedMail) last(t *testing.T) Mail {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.mails) == 0 {
		t.Fatal("no mail captured")
	}
	return c.mails[len(c.mails)-1]
}

func (c *capturedMail) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mails)
}

func testPasswordConfig() password.Config {
	return password.Config{
		Algorithm:   password.AlgorithmArgon2id,
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func newTestEngine(t *testing.T, mutate func(cfg *Config)) (*Engine, *store.Memory, *capturedMail) {
	t.Helper()

	mem, err := store.NewMemory(nil, store.SchemaConfig{})
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}

	cfg := defaultConfig()
	cfg.Password = testPasswordConfig()
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	policy, err := password.New(cfg.Password)
	if err != nil {
		t.Fatalf("password.New failed: %v", err)
	}

	mailer := &capturedMail{}
	engine := &Engine{
		config:   cfg,
		store:    mem,
		policy:   policy,
		mailer:   mailer,
		metrics:  NewMetrics(cfg.Metrics),
		validate: validator.New(),
	}
	return engine, mem, mailer
}

func newTestAuth(t *testing.T, engine *Engine) *Auth {
	t.Helper()

	sess, err := session.NewMemoryStore().Load(context.Background(), "")
	if err != nil {
		t.Fatalf("session load failed: %v", err)
	}
	auth, err := engine.NewAuth(context.Background(), sess, newMapCookies())
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}
	return auth
}

func mustRegister(t *testing.T, auth *Auth, email, pass string) *store.User {
	t.Helper()
	user, err := auth.Register(context.Background(), email, pass, nil)
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return user
}

// registerAndLogin creates the account and signs the bound session in, for
// tests that need an authenticated caller.
func registerAndLogin(t *testing.T, auth *Auth, email, pass string) *store.User {
	t.Helper()
	mustRegister(t, auth, email, pass)
	user, err := auth.Login(context.Background(), email, pass, false)
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", email, err)
	}
	return user
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)

	user := mustRegister(t, auth, "alice@example.com", "correct horse battery")
	if user.ID == 0 {
		t.Fatal("expected a non-zero user id")
	}
	if auth.Check() {
		t.Fatal("registration must not establish a session")
	}
	if _, ok := auth.Session().Get(engine.config.Session.UserIDKey); ok {
		t.Fatal("registration wrote a user id into the session")
	}

	// Fresh request, same store.
	auth2 := newTestAuth(t, engine)
	got, err := auth2.Login(ctx, "alice@example.com", "correct horse battery", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("logged in as user %d, want %d", got.ID, user.ID)
	}
	if engine.MetricsSnapshot().Counters[MetricLoginSuccess] != 1 {
		t.Fatal("expected login success metric increment")
	}
}

func TestLoginUniformErrorForUnknownUserAndBadPassword(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	mustRegister(t, auth, "bob@example.com", "a strong password")

	auth2 := newTestAuth(t, engine)
	_, unknownErr := auth2.Login(ctx, "nobody@example.com", "whatever12", false)
	_, wrongErr := auth2.Login(ctx, "bob@example.com", "wrong password!", false)

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown user error = %v, want ErrInvalidCredentials", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v, want ErrInvalidCredentials", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("error text differs between unknown user (%q) and bad password (%q)", unknownErr, wrongErr)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	mustRegister(t, auth, "carol@example.com", "a strong password")

	auth2 := newTestAuth(t, engine)
	if _, err := auth2.Register(ctx, "CAROL@example.com", "another password", nil); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists for case-variant duplicate, got %v", err)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)

	if _, err := auth.Register(ctx, "not-an-email", "a strong password", nil); !errors.Is(err, ErrEmailInvalid) {
		t.Fatalf("expected ErrEmailInvalid, got %v", err)
	}
	if _, err := auth.Register(ctx, "dave@example.com", "short", nil); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestLoginRotatesSessionID(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, nil)
	setup := newTestAuth(t, engine)
	mustRegister(t, setup, "erin@example.com", "a strong password")

	auth := newTestAuth(t, engine)
	before := auth.Session().ID()
	if _, err := auth.Login(ctx, "erin@example.com", "a strong password", false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if auth.Session().ID() == before {
		t.Fatal("session id was not rotated on login")
	}
}

func TestLogoutClearsSessionUser(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	registerAndLogin(t, auth, "frank@example.com", "a strong password")

	loggedInID := auth.Session().ID()
	if err := auth.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if auth.Check() {
		t.Fatal("expected guest state after logout")
	}
	if auth.Session().ID() == loggedInID {
		t.Fatal("session id was not rotated on logout")
	}
	if _, ok := auth.Session().Get(engine.config.Session.UserIDKey); ok {
		t.Fatal("user id key survived logout")
	}
}

func TestNewAuthHydratesFromSession(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, nil)
	sessions := session.NewMemoryStore()

	sess, _ := sessions.Load(ctx, "")
	auth, err := engine.NewAuth(ctx, sess, newMapCookies())
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}
	user := registerAndLogin(t, auth, "grace@example.com", "a strong password")

	// Simulate the next request: reload by id, rebind.
	reloaded, err := sessions.Load(ctx, auth.Session().ID())
	if err != nil {
		t.Fatalf("session reload failed: %v", err)
	}
	auth2, err := engine.NewAuth(ctx, reloaded, newMapCookies())
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}
	if !auth2.Check() || auth2.UserID() != user.ID {
		t.Fatalf("expected hydrated user %d, got %d (check=%v)", user.ID, auth2.UserID(), auth2.Check())
	}
}

func TestStaleSessionUserIDCleared(t *testing.T) {
	ctx := context.Background()
	engine, mem, _ := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	user := registerAndLogin(t, auth, "henry@example.com", "a strong password")

	if err := mem.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	auth2, err := engine.NewAuth(ctx, auth.Session(), newMapCookies())
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}
	if auth2.Check() {
		t.Fatal("expected guest state for deleted account")
	}
	if _, ok := auth2.Session().Get(engine.config.Session.UserIDKey); ok {
		t.Fatal("stale user id key was not cleared")
	}
}

func TestLoginRehashesLegacyDigest(t *testing.T) {
	ctx := context.Background()
	engine, mem, _ := newTestEngine(t, nil)

	// Seed a user whose digest was produced under bcrypt.
	legacy, err := password.New(password.Config{Algorithm: password.AlgorithmBcrypt, BcryptCost: 4})
	if err != nil {
		t.Fatalf("legacy policy: %v", err)
	}
	oldHash, err := legacy.Hash("a strong password")
	if err != nil {
		t.Fatalf("legacy hash: %v", err)
	}
	m := mem.Mapping()
	id, err := mem.InsertUser(ctx, map[string]any{
		m.EmailColumn:    "iris@example.com",
		m.PasswordColumn: oldHash,
	})
	if err != nil {
		t.Fatalf("InsertUser failed: %v", err)
	}

	auth := newTestAuth(t, engine)
	if _, err := auth.Login(ctx, "iris@example.com", "a strong password", false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	updated, err := mem.FindUserByID(ctx, id)
	if err != nil {
		t.Fatalf("FindUserByID failed: %v", err)
	}
	if updated.PasswordHash == oldHash {
		t.Fatal("digest was not upgraded on login")
	}
	ok, err := engine.policy.Verify("a strong password", updated.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("upgraded digest does not verify, ok=%v err=%v", ok, err)
	}
	if engine.MetricsSnapshot().Counters[MetricPasswordRehash] != 1 {
		t.Fatal("expected rehash metric increment")
	}
}

func TestLoginTouchesLastLogin(t *testing.T) {
	ctx := context.Background()
	engine, mem, _ := newTestEngine(t, nil)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine.nowFunc = func() time.Time { return fixed }

	auth := newTestAuth(t, engine)
	mustRegister(t, auth, "judy@example.com", "a strong password")

	auth2 := newTestAuth(t, engine)
	user, err := auth2.Login(ctx, "judy@example.com", "a strong password", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.LastLoginAt == nil || !user.LastLoginAt.Equal(fixed) {
		t.Fatalf("LastLoginAt = %v, want %v", user.LastLoginAt, fixed)
	}

	stored, err := mem.FindUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindUserByID failed: %v", err)
	}
	if stored.LastLoginAt == nil {
		t.Fatal("last login not persisted")
	}
}

// failingUserStore forces user lookups to fail while everything else keeps
// working.
type failingUserStore struct {
	store.Store
	err error
}

func (f *failingUserStore) FindUserByID(ctx context.Context, id int64) (*store.User, error) {
	return nil, f.err
}

func TestTransientHydrationFailureLoggedAndKeyRetained(t *testing.T) {
	ctx := context.Background()
	engine, mem, _ := newTestEngine(t, nil)
	auth := newTestAuth(t, engine)
	registerAndLogin(t, auth, "kara@example.com", "a strong password")

	engine.store = &failingUserStore{Store: mem, err: errors.New("connection refused")}

	var buf syncBuffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	auth2, err := engine.NewAuth(ctx, auth.Session(), newMapCookies())
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}
	if auth2.Check() {
		t.Fatal("expected guest state while the store is unavailable")
	}
	if !buf.Contains("hydration failed") {
		t.Fatal("store failure during hydration was not logged")
	}
	// Only a deleted account clears the key; a flaky store must not.
	if _, ok := auth2.Session().Get(engine.config.Session.UserIDKey); !ok {
		t.Fatal("user id was cleared on a transient store failure")
	}
}
