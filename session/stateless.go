package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrTokenInvalid reports a stateless session token that failed signature or
// claim validation.
var ErrTokenInvalid = errors.New("session token invalid")

// Codec issues and validates HMAC-signed session tokens. It allows running
// without a shared session backend: the whole session state travels inside
// the signed cookie value.
//
// Codec instances are intended to be configured during initialization and
// then treated as immutable.
type Codec struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewCodec returns a codec signing tokens with secret. A zero TTL defaults to
// 24 hours.
func NewCodec(secret []byte, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Codec{secret: secret, ttl: ttl, issuer: "authgate"}
}

type statelessClaims struct {
	jwt.RegisteredClaims
	SID    string            `json:"sid"`
	Values map[string]string `json:"vals,omitempty"`
}

// New returns an empty stateless session under a fresh identifier.
func (c *Codec) New() *StatelessSession {
	return &StatelessSession{codec: c, id: uuid.NewString(), values: map[string]string{}}
}

// Decode validates token and returns the session it carries. An empty or
// invalid token yields a fresh session rather than an error so that a bad
// cookie degrades to the guest state.
func (c *Codec) Decode(token string) *StatelessSession {
	if token == "" {
		return c.New()
	}
	sess, err := c.decode(token)
	if err != nil {
		return c.New()
	}
	return sess
}

func (c *Codec) decode(token string) (*StatelessSession, error) {
	claims := &statelessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return c.secret, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid || claims.SID == "" {
		return nil, ErrTokenInvalid
	}
	values := claims.Values
	if values == nil {
		values = map[string]string{}
	}
	return &StatelessSession{codec: c, id: claims.SID, values: values}, nil
}

// StatelessSession is a Session whose state lives entirely in a signed token.
// Save re-signs the state; the caller ships Token() back to the client.
type StatelessSession struct {
	codec  *Codec
	id     string
	values map[string]string
	token  string
}

func (s *StatelessSession) ID() string { return s.id }

func (s *StatelessSession) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *StatelessSession) Set(key, value string) { s.values[key] = value }

func (s *StatelessSession) Delete(key string) { delete(s.values, key) }

// Renew assigns a new identifier. Tokens signed under the previous identifier
// stay cryptographically valid until they expire; callers that need hard
// revocation should use a backed store instead.
func (s *StatelessSession) Renew() error {
	s.id = uuid.NewString()
	return nil
}

// Save signs the current state. The resulting token is available via Token.
func (s *StatelessSession) Save(ctx context.Context) error {
	now := time.Now()
	claims := statelessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.codec.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.codec.ttl)),
		},
		SID:    s.id,
		Values: s.values,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.codec.secret)
	if err != nil {
		return err
	}
	s.token = token
	return nil
}

// Token returns the signed token produced by the last Save.
func (s *StatelessSession) Token() string { return s.token }
