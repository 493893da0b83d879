// Package cache keeps related-wallet results and refresh-job state in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// Default expirations.
const (
	DefaultRelatedTTL = 600 * time.Second
	DefaultJobTTL     = 24 * time.Hour
)

const (
	relatedKeyPrefix = "related_wallets:"
	jobKeyPrefix     = "refresh_job:"
)

// Options configures RedisCache.
type Options struct {
	Addr       string
	Password   string
	DB         int
	RelatedTTL time.Duration
	JobTTL     time.Duration
}

// RedisCache implements storage.RelatedCache and storage.JobStore on Redis.
type RedisCache struct {
	client     *redis.Client
	relatedTTL time.Duration
	jobTTL     time.Duration
}

// Ensure RedisCache implements the cache interfaces
var (
	_ storage.RelatedCache = (*RedisCache)(nil)
	_ storage.JobStore     = (*RedisCache)(nil)
)

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts Options) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, opts.RelatedTTL, opts.JobTTL), nil
}

// NewWithClient wraps an existing client. Zero TTLs fall back to the defaults.
func NewWithClient(client *redis.Client, relatedTTL, jobTTL time.Duration) *RedisCache {
	if relatedTTL <= 0 {
		relatedTTL = DefaultRelatedTTL
	}
	if jobTTL <= 0 {
		jobTTL = DefaultJobTTL
	}
	return &RedisCache{client: client, relatedTTL: relatedTTL, jobTTL: jobTTL}
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetRelated returns a cached result. Returns storage.ErrNotFound on miss.
func (c *RedisCache) GetRelated(ctx context.Context, address string) (*domain.RelatedWallets, error) {
	var r domain.RelatedWallets
	if err := c.getJSON(ctx, relatedKeyPrefix+address, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SetRelated stores r for the related TTL.
func (c *RedisCache) SetRelated(ctx context.Context, address string, r *domain.RelatedWallets) error {
	return c.setJSON(ctx, relatedKeyPrefix+address, r, c.relatedTTL)
}

// Save stores a job snapshot for the job TTL.
func (c *RedisCache) Save(ctx context.Context, job *domain.RefreshJob) error {
	if job == nil || job.ID == "" {
		return storage.ErrInvalidInput
	}
	return c.setJSON(ctx, jobKeyPrefix+job.ID, job, c.jobTTL)
}

// Get returns a job. Returns storage.ErrNotFound if unknown or expired.
func (c *RedisCache) Get(ctx context.Context, id string) (*domain.RefreshJob, error) {
	var job domain.RefreshJob
	if err := c.getJSON(ctx, jobKeyPrefix+id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *RedisCache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) getJSON(ctx context.Context, key string, v any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}
