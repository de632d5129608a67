package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionCache persists the current session so a restart can resolve it again.
type SessionCache interface {
	// Load returns nil, nil when nothing is cached.
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

// RedisSessionCache keeps one session per client under session:<clientID>.
type RedisSessionCache struct {
	client   *redis.Client
	clientID string
	prefix   string
}

func NewRedisSessionCache(client *redis.Client, clientID string) *RedisSessionCache {
	return &RedisSessionCache{
		client:   client,
		clientID: clientID,
		prefix:   "session:",
	}
}

func (r *RedisSessionCache) key() string {
	return r.prefix + r.clientID
}

func (r *RedisSessionCache) Load(ctx context.Context) (*Session, error) {
	val, err := r.client.Get(ctx, r.key()).Result()
	if err == redis.Nil {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &s, nil
}

func (r *RedisSessionCache) Save(ctx context.Context, s Session) error {
	if s.Identity.ID == "" {
		return fmt.Errorf("session: missing identity id")
	}

	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	return r.client.Set(ctx, r.key(), data, ttl).Err()
}

func (r *RedisSessionCache) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key()).Err()
}

// MemorySessionCache is a process-local SessionCache.
type MemorySessionCache struct {
	mu      sync.Mutex
	session *Session
}

func (m *MemorySessionCache) Load(context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemorySessionCache) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

func (m *MemorySessionCache) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
