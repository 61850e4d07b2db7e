package cart

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"excisepos/backend/internal/domain"
)

// RedisStore keeps carts as JSON values that expire after ttl of inactivity.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, companyID string, sessionID string) (*domain.Cart, error) {
	val, err := s.client.Get(ctx, cartKey(companyID, sessionID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}

	var cart domain.Cart
	if err := json.Unmarshal([]byte(val), &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (s *RedisStore) Save(ctx context.Context, cart domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, cartKey(cart.CompanyID, cart.SessionID), payload, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, companyID string, sessionID string) error {
	return s.client.Del(ctx, cartKey(companyID, sessionID)).Err()
}
