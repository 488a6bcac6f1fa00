package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"laundrypos/backend/internal/domain"
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

func (c *RedisCatalogCache) GetService(ctx context.Context, id string) (*domain.Service, bool, error) {
	var svc domain.Service
	ok, err := c.get(ctx, serviceKey(id), &svc)
	if !ok || err != nil {
		return nil, false, err
	}
	return &svc, true, nil
}

func (c *RedisCatalogCache) SetService(ctx context.Context, svc domain.Service, ttl time.Duration) error {
	return c.set(ctx, serviceKey(svc.ID), svc, ttl)
}

func (c *RedisCatalogCache) GetProduct(ctx context.Context, id string) (*domain.Product, bool, error) {
	var p domain.Product
	ok, err := c.get(ctx, productKey(id), &p)
	if !ok || err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (c *RedisCatalogCache) SetProduct(ctx context.Context, product domain.Product, ttl time.Duration) error {
	return c.set(ctx, productKey(product.ID), product, ttl)
}

func (c *RedisCatalogCache) get(ctx context.Context, key string, dst any) (bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCatalogCache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
