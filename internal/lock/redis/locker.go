// Package redis implements an output directory lock on top of Redis so
// several gateway replicas sharing one output volume exclude each other.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/docgen-gateway/internal/lock"
)

const (
	defaultTTL       = 10 * time.Minute
	defaultKeyPrefix = "docgen:lock:"
	minBackoff       = 50 * time.Millisecond
	maxBackoff       = time.Second
	releaseTimeout   = 2 * time.Second
)

// Only the owner may delete the key.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TokenGenerator produces unique owner tokens.
type TokenGenerator interface {
	NewID() (string, error)
}

// Config controls the Redis locker.
type Config struct {
	URL       string
	KeyPrefix string
	// TTL caps how long a crashed holder can block others. It should exceed
	// the longest expected worker run.
	TTL time.Duration
}

// Locker is a lock.Locker backed by SET NX PX.
type Locker struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	tokens TokenGenerator
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, tokens TokenGenerator) (*Locker, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewWithClient(client, cfg, tokens)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, cfg Config, tokens TokenGenerator) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token generator is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl, tokens: tokens}, nil
}

// Close shuts down the Redis client.
func (l *Locker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	if err := l.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (l *Locker) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Lock polls until the key is acquired or ctx ends.
func (l *Locker) Lock(ctx context.Context, resource string) (lock.Release, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return nil, fmt.Errorf("resource required")
	}
	token, err := l.tokens.NewID()
	if err != nil {
		return nil, fmt.Errorf("lock token: %w", err)
	}
	key := l.prefix + resource

	backoff := minBackoff
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("acquire lock %q: %w", resource, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("wait for lock %q: %w", resource, ctx.Err())
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *Locker) releaser(key, token string) lock.Release {
	return func() error {
		// The request context may already be gone; release regardless.
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		return nil
	}
}
