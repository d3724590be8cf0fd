// Package idempotency suppresses duplicate submissions of the same request
// for a short window. The database uniqueness constraints stay the
// authority; a guard only turns a racing double submit into a clean
// conflict before any work is done.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 30 * time.Second
	keyPrefix  = "idem:"
)

type Guard interface {
	// Acquire claims token for the guard's TTL. It returns false when the
	// token is already held.
	Acquire(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

// Token is the content hash of the parts, joined with '|'.
func Token(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])
}

type RedisGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisGuard(client redis.Cmdable, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, token string) (bool, error) {
	return g.client.SetNX(ctx, keyPrefix+token, "1", g.ttl).Result()
}

func (g *RedisGuard) Release(ctx context.Context, token string) error {
	return g.client.Del(ctx, keyPrefix+token).Err()
}

// MemoryGuard is the single-process fallback used when Redis is not
// configured.
type MemoryGuard struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryGuard{ttl: ttl, now: time.Now, tokens: make(map[string]time.Time)}
}

func (g *MemoryGuard) Acquire(ctx context.Context, token string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for t, expires := range g.tokens {
		if !now.Before(expires) {
			delete(g.tokens, t)
		}
	}
	if _, held := g.tokens[token]; held {
		return false, nil
	}
	g.tokens[token] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, token string) error {
	g.mu.Lock()
	delete(g.tokens, token)
	g.mu.Unlock()
	return nil
}
