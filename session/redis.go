package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport failures talking to the session backend.
var ErrRedisUnavailable = errors.New("session redis unavailable")

// RedisStore persists sessions as JSON values with a TTL.
//
// RedisStore instances are intended to be configured during initialization and
// then treated as immutable.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store writing keys under prefix with the given TTL.
// A zero TTL defaults to 24 hours.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ags"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

// Load returns the session for id, or a fresh empty session under a new
// identifier when id is empty or unknown. Backend unavailability is an error;
// a missing key is not.
func (s *RedisStore) Load(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return &redisSession{store: s, id: uuid.NewString(), values: map[string]string{}}, nil
	}

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &redisSession{store: s, id: uuid.NewString(), values: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		// Corrupt payloads behave like a missing session rather than locking
		// the visitor out.
		return &redisSession{store: s, id: uuid.NewString(), values: map[string]string{}}, nil
	}
	return &redisSession{store: s, id: id, values: values}, nil
}

type redisSession struct {
	store  *RedisStore
	id     string
	oldID  string
	values map[string]string
}

func (r *redisSession) ID() string { return r.id }

func (r *redisSession) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *redisSession) Set(key, value string) { r.values[key] = value }

func (r *redisSession) Delete(key string) { delete(r.values, key) }

func (r *redisSession) Renew() error {
	if r.oldID == "" {
		r.oldID = r.id
	}
	r.id = uuid.NewString()
	return nil
}

func (r *redisSession) Save(ctx context.Context) error {
	data, err := json.Marshal(r.values)
	if err != nil {
		return err
	}

	pipe := r.store.client.TxPipeline()
	if r.oldID != "" && r.oldID != r.id {
		pipe.Del(ctx, r.store.key(r.oldID))
	}
	pipe.Set(ctx, r.store.key(r.id), data, r.store.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	r.oldID = ""
	return nil
}
