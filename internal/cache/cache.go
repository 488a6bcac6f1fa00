package cache

import (
	"context"
	"time"

	"laundrypos/backend/internal/domain"
)

// CatalogCache holds catalog entries keyed by id. A miss is (nil, false, nil).
type CatalogCache interface {
	GetService(ctx context.Context, id string) (*domain.Service, bool, error)
	SetService(ctx context.Context, svc domain.Service, ttl time.Duration) error
	GetProduct(ctx context.Context, id string) (*domain.Product, bool, error)
	SetProduct(ctx context.Context, product domain.Product, ttl time.Duration) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetService(_ context.Context, _ string) (*domain.Service, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetService(_ context.Context, _ domain.Service, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) GetProduct(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetProduct(_ context.Context, _ domain.Product, _ time.Duration) error {
	return nil
}

func serviceKey(id string) string { return "catalog:service:" + id }

func productKey(id string) string { return "catalog:product:" + id }
