package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test", time.Hour)
}

func TestMemorySessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess, err := store.Load(ctx, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.Set("user_id", "42")
	if err := sess.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := store.Load(ctx, sess.ID())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if v, ok := again.Get("user_id"); !ok || v != "42" {
		t.Fatalf("expected user_id=42, got %q (ok=%v)", v, ok)
	}
}

func TestMemorySessionRenewDropsOldID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess, _ := store.Load(ctx, "")
	sess.Set("k", "v")
	if err := sess.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	oldID := sess.ID()

	if err := sess.Renew(); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if sess.ID() == oldID {
		t.Fatal("renew did not change the session id")
	}
	if err := sess.Save(ctx); err != nil {
		t.Fatalf("save after renew: %v", err)
	}

	stale, _ := store.Load(ctx, oldID)
	if _, ok := stale.Get("k"); ok {
		t.Fatal("old session id still resolves after rotation")
	}
	fresh, _ := store.Load(ctx, sess.ID())
	if v, ok := fresh.Get("k"); !ok || v != "v" {
		t.Fatalf("rotated session lost its values: %q (ok=%v)", v, ok)
	}
}

func TestRedisSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestRedis(t)

	sess, err := store.Load(ctx, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.Set("user_id", "7")
	sess.Set("theme", "dark")
	sess.Delete("theme")
	if err := sess.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := store.Load(ctx, sess.ID())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if v, ok := again.Get("user_id"); !ok || v != "7" {
		t.Fatalf("expected user_id=7, got %q (ok=%v)", v, ok)
	}
	if _, ok := again.Get("theme"); ok {
		t.Fatal("deleted key survived the round trip")
	}
}

func TestRedisSessionRenewDeletesOldKey(t *testing.T) {
	ctx := context.Background()
	store := newTestRedis(t)

	sess, _ := store.Load(ctx, "")
	sess.Set("user_id", "9")
	if err := sess.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	oldID := sess.ID()

	if err := sess.Renew(); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if err := sess.Save(ctx); err != nil {
		t.Fatalf("save after renew: %v", err)
	}

	stale, err := store.Load(ctx, oldID)
	if err != nil {
		t.Fatalf("load stale: %v", err)
	}
	if _, ok := stale.Get("user_id"); ok {
		t.Fatal("rotated-away session id still resolves")
	}
	fresh, _ := store.Load(ctx, sess.ID())
	if v, ok := fresh.Get("user_id"); !ok || v != "9" {
		t.Fatalf("rotated session lost its values: %q (ok=%v)", v, ok)
	}
}

func TestRedisUnknownIDYieldsFreshSession(t *testing.T) {
	ctx := context.Background()
	store := newTestRedis(t)

	sess, err := store.Load(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.ID() == "does-not-exist" {
		t.Fatal("unknown id was not replaced with a fresh one")
	}
	if _, ok := sess.Get("user_id"); ok {
		t.Fatal("fresh session carried values")
	}
}

func TestStatelessRoundTrip(t *testing.T) {
	ctx := context.Background()
	codec := NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)

	sess := codec.New()
	sess.Set("user_id", "3")
	if err := sess.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	token := sess.Token()
	if token == "" {
		t.Fatal("save produced an empty token")
	}

	again := codec.Decode(token)
	if again.ID() != sess.ID() {
		t.Fatalf("decoded id %q, want %q", again.ID(), sess.ID())
	}
	if v, ok := again.Get("user_id"); !ok || v != "3" {
		t.Fatalf("expected user_id=3, got %q (ok=%v)", v, ok)
	}
}

func TestStatelessRejectsTamperedToken(t *testing.T) {
	ctx := context.Background()
	codec := NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	other := NewCodec([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)

	sess := codec.New()
	sess.Set("user_id", "3")
	if err := sess.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	decoded := other.Decode(sess.Token())
	if _, ok := decoded.Get("user_id"); ok {
		t.Fatal("token signed with a different secret was accepted")
	}
	if decoded.ID() == sess.ID() {
		t.Fatal("rejected token kept its original session id")
	}
}

func TestStatelessExpiredToken(t *testing.T) {
	ctx := context.Background()
	codec := NewCodec([]byte("0123456789abcdef0123456789abcdef"), -time.Minute)

	sess := codec.New()
	sess.Set("user_id", "3")
	if err := sess.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh := NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	decoded := fresh.Decode(sess.Token())
	if _, ok := decoded.Get("user_id"); ok {
		t.Fatal("expired token was accepted")
	}
}
