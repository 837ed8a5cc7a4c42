package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// TokenKey is the key under which the client credentials token is cached in Redis
	TokenKey = "busticket:api_token"
	// TokenExpiryBuffer is how long before actual expiry a cached token stops being used
	TokenExpiryBuffer = 60 * time.Second
)

// TokenCache represents a cached token with its expiry time
type TokenCache struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsValid checks if the token is still valid with a buffer time before expiry
func (tc *TokenCache) IsValid() bool {
	if tc == nil || tc.Token == "" {
		return false
	}
	return time.Now().Add(TokenExpiryBuffer).Before(tc.ExpiresAt)
}

// TokenStore keeps the last issued token between calls (and, for Redis, between
// processes sharing the same client credentials).
type TokenStore interface {
	GetToken(ctx context.Context) (*TokenCache, error)
	SetToken(ctx context.Context, token string, expiresAt time.Time) error
}

type MemoryTokenStore struct {
	mu    sync.Mutex
	cache *TokenCache
}

func (m *MemoryTokenStore) GetToken(ctx context.Context) (*TokenCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cache.IsValid() {
		return nil, nil
	}
	tc := *m.cache
	return &tc, nil
}

func (m *MemoryTokenStore) SetToken(ctx context.Context, token string, expiresAt time.Time) error {
	m.mu.Lock()
	m.cache = &TokenCache{Token: token, ExpiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

// RedisTokenStore implements token caching using Redis
type RedisTokenStore struct {
	Client *redis.Client
	Key    string
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{Client: client, Key: TokenKey}
}

// GetToken returns nil, nil when nothing usable is cached.
func (c *RedisTokenStore) GetToken(ctx context.Context) (*TokenCache, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}

	tokenJSON, err := c.Client.Get(ctx, c.Key).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token from Redis: %w", err)
	}

	var tokenCache TokenCache
	if err := json.Unmarshal([]byte(tokenJSON), &tokenCache); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token cache: %w", err)
	}

	if !tokenCache.IsValid() {
		return nil, nil
	}

	return &tokenCache, nil
}

func (c *RedisTokenStore) SetToken(ctx context.Context, token string, expiresAt time.Time) error {
	if c.Client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	tokenJSON, err := json.Marshal(&TokenCache{Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}

	// Keep the key a little longer than the token for clock skew; IsValid guards reads.
	ttl := time.Until(expiresAt) + TokenExpiryBuffer
	if ttl <= 0 {
		return nil
	}
	if err := c.Client.Set(ctx, c.Key, tokenJSON, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}

	return nil
}
