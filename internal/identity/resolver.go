package identity

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kelmah/apigateway/internal/observability"
)

// DefaultLookupTimeout bounds a shared store lookup.
const DefaultLookupTimeout = 5 * time.Second

// Resolver hydrates user ids through the cache and the store.
type Resolver struct {
	cache         *Cache
	store         Store
	group         singleflight.Group
	logger        observability.Logger
	metrics       *Metrics
	lookupTimeout time.Duration
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger.
func WithResolverLogger(logger observability.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithResolverMetrics sets the metrics.
func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithLookupTimeout bounds each store lookup. Lookups are shared between
// concurrent callers, so they do not inherit any caller's deadline.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

// NewResolver creates a Resolver. The cache is owned by the caller.
func NewResolver(cache *Cache, store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:         cache,
		store:         store,
		logger:        observability.NopLogger(),
		lookupTimeout: DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the identity for id. Store failures are returned as-is
// and are not retried. Concurrent misses for one id share a single lookup
// that outlives any one caller; a caller whose context ends stops waiting
// and gets its context error while the others keep the result.
func (r *Resolver) Resolve(ctx context.Context, id string) (Identity, error) {
	if u, ok := r.cache.Get(ctx, id); ok {
		return u, nil
	}

	ch := r.group.DoChan(id, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()

		u, err := r.store.FindUser(lookupCtx, id)
		if err != nil {
			return Identity{}, err
		}
		return r.cache.Set(lookupCtx, id, u), nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		r.metrics.recordLookup("canceled")
		return Identity{}, ctx.Err()
	}

	v, err, shared := res.Val, res.Err, res.Shared
	switch {
	case err == nil:
		r.metrics.recordLookup("found")
	case errors.Is(err, ErrUserNotFound):
		r.metrics.recordLookup("not_found")
		return Identity{}, err
	default:
		r.metrics.recordLookup("error")
		r.logger.WithContext(ctx).Error("identity lookup failed",
			observability.String("user_id", id),
			observability.Bool("shared", shared),
			observability.Error(err))
		return Identity{}, err
	}

	return v.(Identity), nil
}

// Invalidate drops id from the local cache.
func (r *Resolver) Invalidate(id string) {
	r.cache.Delete(id)
}
