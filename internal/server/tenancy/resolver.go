package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CacheKeyPrefix namespaces cached tenant records in Redis.
const CacheKeyPrefix = "tenantry:tenant:"

const lookupTimeout = 10 * time.Second

// TenantFinder is the catalog lookup the resolver needs.
type TenantFinder interface {
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
}

// RedisClient is the subset of go-redis used by the resolver cache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Resolver maps a tenant slug to an active tenant record. Results may be
// cached in Redis; cache failures are logged and the catalog is used instead.
type Resolver struct {
	finder TenantFinder
	cache  RedisClient
	ttl    time.Duration
	logger logging.Logger
	group  singleflight.Group
}

// NewResolver builds a Resolver. cache may be nil to disable caching.
func NewResolver(finder TenantFinder, cache RedisClient, ttl time.Duration, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Resolver{
		finder: finder,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("module", "resolver"),
	}
}

// Resolve returns the active tenant for slug, or common.ErrorNotFound when
// there is none. Concurrent calls for one slug share a single lookup.
func (r *Resolver) Resolve(ctx context.Context, slug string) (*models.Tenant, error) {
	if slug == "" {
		return nil, common.ErrorNotFound
	}

	if t, ok := r.fromCache(ctx, slug); ok {
		return t, nil
	}

	// The shared lookup outlives any single caller; each caller stops
	// waiting when its own ctx ends.
	ch := r.group.DoChan(slug, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		t, err := r.finder.FindBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("resolve tenant %q: %w", slug, err)
		}
		if t == nil || !t.IsActive {
			return nil, fmt.Errorf("tenant %q: %w", slug, common.ErrorNotFound)
		}
		r.toCache(ctx, t)
		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		t := *res.Val.(*models.Tenant)
		return &t, nil
	}
}

// Invalidate drops the cached record for slug. Callers invoke it after any
// catalog change to the tenant.
func (r *Resolver) Invalidate(ctx context.Context, slug string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, CacheKeyPrefix+slug).Err(); err != nil {
		r.logger.Warn(ctx, "tenant cache invalidation failed", "slug", slug, "error", err)
	}
}

func (r *Resolver) fromCache(ctx context.Context, slug string) (*models.Tenant, bool) {
	if r.cache == nil {
		return nil, false
	}

	raw, err := r.cache.Get(ctx, CacheKeyPrefix+slug).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn(ctx, "tenant cache read failed", "slug", slug, "error", err)
		}
		return nil, false
	}

	var t models.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		r.logger.Warn(ctx, "tenant cache entry is corrupt", "slug", slug, "error", err)
		return nil, false
	}
	return &t, true
}

func (r *Resolver) toCache(ctx context.Context, t *models.Tenant) {
	if r.cache == nil {
		return
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, CacheKeyPrefix+t.Slug, raw, r.ttl).Err(); err != nil {
		r.logger.Warn(ctx, "tenant cache write failed", "slug", t.Slug, "error", err)
	}
}
