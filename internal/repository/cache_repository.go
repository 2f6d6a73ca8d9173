package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
)

// CacheRepository wraps Redis for cached payloads and the short-lived chat
// presence keys. A nil client degrades to cache-miss behaviour so the API
// keeps working without Redis.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	return &CacheRepository{client: client, logger: logger}
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}

	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// Delete removes a single cache entry.
func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// DeleteByPattern removes cached entries matching the provided pattern.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.client == nil {
		return nil
	}

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}

	return nil
}

func typingKey(chatID, userID string) string {
	return fmt.Sprintf("chat:typing:%s:%s", chatID, userID)
}

// SetTyping records a typing signal as a TTL key. The indicator expires on
// its own when the client stops pinging.
func (r *CacheRepository) SetTyping(ctx context.Context, chatID, userID string, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Set(ctx, typingKey(chatID, userID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set typing %s: %w", chatID, err)
	}
	return nil
}

// IsTyping reports whether anyone other than the viewer currently holds a
// live typing key for the chat, returning the first such user id.
func (r *CacheRepository) IsTyping(ctx context.Context, chatID, viewerID string) (string, bool, error) {
	if r.client == nil {
		return "", false, nil
	}
	pattern := fmt.Sprintf("chat:typing:%s:*", chatID)
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	prefix := fmt.Sprintf("chat:typing:%s:", chatID)
	for iter.Next(ctx) {
		userID := iter.Val()[len(prefix):]
		if userID != viewerID {
			return userID, true, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", false, fmt.Errorf("redis scan typing %s: %w", chatID, err)
	}
	return "", false, nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
