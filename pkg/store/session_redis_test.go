package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const testSessionSecret = "test-session-secret-0123456789"

func newTestSessionStore(t *testing.T, ttl time.Duration) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := NewRedisSessionStore(client, testSessionSecret, ttl)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s, mr
}

func TestRedisSessionStoreLifecycle(t *testing.T) {
	s, _ := newTestSessionStore(t, time.Hour)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	uid, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok || uid != "user-1" {
		t.Fatalf("resolve = %q %v %v", uid, ok, err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err != nil || ok {
		t.Fatalf("deleted session still resolves: ok=%v err=%v", ok, err)
	}
}

func TestRedisSessionStoreExpiresWithRedisTTL(t *testing.T) {
	s, mr := newTestSessionStore(t, time.Minute)
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatalf("expired session still resolves")
	}
}

func TestRedisSessionStoreRejectsForgedTokens(t *testing.T) {
	s, _ := newTestSessionStore(t, time.Hour)
	if _, err := s.NewSession("user-1"); err != nil {
		t.Fatalf("new session: %v", err)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ID:        "anything",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("another-secret-entirely-000"))
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}
	for _, token := range []string{"", "garbage", forged} {
		if _, ok, err := s.GetUserIDByToken(token); ok || err != nil {
			t.Fatalf("token %q resolved: ok=%v err=%v", token, ok, err)
		}
		if err := s.DeleteSession(token); err != nil {
			t.Fatalf("delete unknown token: %v", err)
		}
	}
}

func TestNewRedisSessionStoreValidatesInput(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	if _, err := NewRedisSessionStore(client, "short", time.Hour); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	if _, err := NewRedisSessionStore(nil, testSessionSecret, time.Hour); err == nil {
		t.Fatalf("expected nil client to be rejected")
	}
	if _, err := NewRedisSessionStore(client, testSessionSecret, 0); err == nil {
		t.Fatalf("expected zero ttl to be rejected")
	}
}
