package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"marefa/internal/util"
)

const defaultSessionPrefix = "marefa:session"

var errInvalidSession = errors.New("invalid session token")

// RedisSessionStore issues HS256-signed session tokens whose jti names a
// Redis key holding the user id. Deleting the key ends the session even
// while the token itself has not expired.
type RedisSessionStore struct {
	client redis.UniversalClient
	secret []byte
	ttl    time.Duration
	prefix string
}

// NewRedisSessionStore builds a session store on an existing Redis client.
func NewRedisSessionStore(client redis.UniversalClient, secret string, ttl time.Duration) (*RedisSessionStore, error) {
	if client == nil {
		return nil, errors.New("session store requires a redis client")
	}
	if len(strings.TrimSpace(secret)) < 16 {
		return nil, errors.New("session secret must be at least 16 characters")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &RedisSessionStore{
		client: client,
		secret: []byte(secret),
		ttl:    ttl,
		prefix: defaultSessionPrefix,
	}, nil
}

// NewSession writes sid -> userID with TTL and returns the signed token.
func (s *RedisSessionStore) NewSession(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("session user id required")
	}
	now := time.Now().UTC()
	sid := util.NewID()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        sid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, s.key(sid), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// GetUserIDByToken resolves a token to its user. A token that fails
// verification or whose session was deleted reports ok=false without error.
func (s *RedisSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	val, err := s.client.Get(ctx, s.key(claims.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load session: %w", err)
	}
	if val != claims.Subject {
		return "", false, nil
	}
	return val, true, nil
}

// DeleteSession removes the session behind token. Unknown tokens are ignored.
func (s *RedisSessionStore) DeleteSession(token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, s.key(claims.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errInvalidSession
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return claims, errInvalidSession
	}
	if claims.ID == "" || claims.Subject == "" {
		return claims, errInvalidSession
	}
	return claims, nil
}

func (s *RedisSessionStore) key(sid string) string {
	return s.prefix + ":" + sid
}
