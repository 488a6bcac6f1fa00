// Package catalog resolves service and product ids to their current price and
// identity, reading through a cache.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"laundrypos/backend/internal/cache"
	"laundrypos/backend/internal/domain"
	"laundrypos/backend/internal/store"
)

var ErrNotFound = errors.New("catalog entry not found")

type Source interface {
	GetService(ctx context.Context, id string) (*domain.Service, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type Reader struct {
	source Source
	cache  cache.CatalogCache
	ttl    time.Duration
}

func NewReader(source Source, c cache.CatalogCache, ttl time.Duration) *Reader {
	if c == nil {
		c = cache.NoopCatalogCache{}
	}
	return &Reader{source: source, cache: c, ttl: ttl}
}

// LookupService returns an active service. Unknown and inactive ids both
// yield ErrNotFound.
func (r *Reader) LookupService(ctx context.Context, id string) (*domain.Service, error) {
	if svc, ok, err := r.cache.GetService(ctx, id); err != nil {
		log.Printf("[catalog] WARN: cache read failed service=%s: %v", id, err)
	} else if ok {
		return activeService(svc, id)
	}

	svc, err := r.source.GetService(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: service %s", ErrNotFound, id)
		}
		return nil, err
	}
	if r.ttl > 0 {
		if err := r.cache.SetService(ctx, *svc, r.ttl); err != nil {
			log.Printf("[catalog] WARN: cache write failed service=%s: %v", id, err)
		}
	}
	return activeService(svc, id)
}

func (r *Reader) LookupProduct(ctx context.Context, id string) (*domain.Product, error) {
	if p, ok, err := r.cache.GetProduct(ctx, id); err != nil {
		log.Printf("[catalog] WARN: cache read failed product=%s: %v", id, err)
	} else if ok {
		return activeProduct(p, id)
	}

	p, err := r.source.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, id)
		}
		return nil, err
	}
	if r.ttl > 0 {
		if err := r.cache.SetProduct(ctx, *p, r.ttl); err != nil {
			log.Printf("[catalog] WARN: cache write failed product=%s: %v", id, err)
		}
	}
	return activeProduct(p, id)
}

func activeService(svc *domain.Service, id string) (*domain.Service, error) {
	if !svc.Active {
		return nil, fmt.Errorf("%w: service %s is inactive", ErrNotFound, id)
	}
	return svc, nil
}

func activeProduct(p *domain.Product, id string) (*domain.Product, error) {
	if !p.Active {
		return nil, fmt.Errorf("%w: product %s is inactive", ErrNotFound, id)
	}
	return p, nil
}
