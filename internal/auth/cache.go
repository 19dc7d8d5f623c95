package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/whispa/internal/model"
)

// SessionCache はセッションIDから解決済みユーザーを引くキャッシュ。
// Getはキャッシュミスの場合nil, nilを返す。
type SessionCache interface {
	Get(ctx context.Context, sessionID string) (*model.Identity, error)
	Set(ctx context.Context, sessionID string, identity *model.Identity, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisSessionCache はRedisを使用したSessionCache実装。
// 保持期間はmaxTTLとセッション残り期間の短い方。
type RedisSessionCache struct {
	client    redis.Cmdable
	keyPrefix string
	maxTTL    time.Duration
}

// NewRedisSessionCache はRedisSessionCacheを生成する。
func NewRedisSessionCache(client redis.Cmdable, keyPrefix string, maxTTL time.Duration) *RedisSessionCache {
	return &RedisSessionCache{
		client:    client,
		keyPrefix: keyPrefix,
		maxTTL:    maxTTL,
	}
}

// NewRedisClient はURLからRedisクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func (c *RedisSessionCache) key(sessionID string) string {
	return c.keyPrefix + ":session:" + sessionID
}

// Get はキャッシュ済みのユーザーを返す。
func (c *RedisSessionCache) Get(ctx context.Context, sessionID string) (*model.Identity, error) {
	raw, err := c.client.Get(ctx, c.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached session: %w", err)
	}

	var identity model.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("failed to decode cached session: %w", err)
	}
	return &identity, nil
}

// Set はユーザーをキャッシュする。ttlが0以下の場合は何もしない。
func (c *RedisSessionCache) Set(ctx context.Context, sessionID string, identity *model.Identity, ttl time.Duration) error {
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	if ttl <= 0 || identity == nil {
		return nil
	}

	raw, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := c.client.Set(ctx, c.key(sessionID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}
	return nil
}

// Delete はキャッシュを削除する。
func (c *RedisSessionCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionCache = (*RedisSessionCache)(nil)
