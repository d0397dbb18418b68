package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"circles-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const profileKeyPrefix = "circles:profile:"

// ProfileCache caches profiles by id
type ProfileCache interface {
	// Get returns the cached profile and whether it was present
	Get(ctx context.Context, id string) (*models.Profile, bool, error)
	Set(ctx context.Context, p *models.Profile) error
	Invalidate(ctx context.Context, id string) error
}

// RedisProfileCache stores profiles as JSON strings with a TTL
type RedisProfileCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisProfileCache creates a profile cache backed by rdb
func NewRedisProfileCache(rdb *redis.Client, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{rdb: rdb, ttl: ttl}
}

// cachedProfile keeps the fields models.Profile hides from JSON
type cachedProfile struct {
	models.Profile
	PasswordHash string `json:"password_hash"`
}

func (c *RedisProfileCache) Get(ctx context.Context, id string) (*models.Profile, bool, error) {
	data, err := c.rdb.Get(ctx, profileKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached profile: %w", err)
	}

	var cp cachedProfile
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached profile: %w", err)
	}
	p := cp.Profile
	p.PasswordHash = cp.PasswordHash
	return &p, true, nil
}

func (c *RedisProfileCache) Set(ctx context.Context, p *models.Profile) error {
	data, err := json.Marshal(cachedProfile{Profile: *p, PasswordHash: p.PasswordHash})
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := c.rdb.Set(ctx, profileKeyPrefix+p.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}
	return nil
}

func (c *RedisProfileCache) Invalidate(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, profileKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to invalidate profile: %w", err)
	}
	return nil
}
