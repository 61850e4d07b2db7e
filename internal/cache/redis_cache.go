package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"excisepos/backend/internal/domain"
)

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisCatalogCache struct {
	client *redis.Client
}

func NewRedisCatalogCache(client *redis.Client) *RedisCatalogCache {
	return &RedisCatalogCache{client: client}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) Get(ctx context.Context, companyID string, itemCode string) (*domain.CatalogItem, bool, error) {
	val, err := c.client.Get(ctx, catalogKey(companyID, itemCode)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var item domain.CatalogItem
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, false, err
	}
	return &item, true, nil
}

func (c *RedisCatalogCache) Set(ctx context.Context, item domain.CatalogItem, ttl time.Duration) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, catalogKey(item.CompanyID, item.ItemCode), payload, ttl).Err()
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context, companyID string, itemCode string) error {
	return c.client.Del(ctx, catalogKey(companyID, itemCode)).Err()
}

// RedisSubmissionGuard shares the duplicate-submission window between
// server instances using SET NX with expiry.
type RedisSubmissionGuard struct {
	client *redis.Client
}

func NewRedisSubmissionGuard(client *redis.Client) *RedisSubmissionGuard {
	return &RedisSubmissionGuard{client: client}
}

func (g *RedisSubmissionGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

func (g *RedisSubmissionGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, key).Err()
}
