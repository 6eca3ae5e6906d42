package identity

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kelmah/apigateway/internal/observability"
)

// Cache defaults.
const (
	DefaultCacheCapacity = 500
	DefaultCacheTTL      = 300 * time.Second
	defaultSweepInterval = time.Minute
)

const tracerName = "apigateway/identity"

// Cache is a bounded identity cache with first-in-first-out eviction.
// Reads never change an entry's position; when an insert would exceed the
// capacity the earliest inserted entry is dropped. Entries older than the
// TTL read as misses and are removed.
type Cache struct {
	capacity      int
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        observability.Logger
	metrics       *Metrics

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List

	stopCh   chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	id       string
	identity Identity
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCapacity sets the maximum number of entries.
func WithCapacity(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithTTL sets how long an entry stays fresh.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithSweepInterval sets how often expired entries are purged in the
// background. Zero or negative disables the sweeper.
func WithSweepInterval(d time.Duration) CacheOption {
	return func(c *Cache) {
		c.sweepInterval = d
	}
}

// WithCacheClock overrides the time source.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger observability.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithCacheMetrics sets the metrics.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// NewCache creates a Cache. Call Close to stop the background sweeper.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		capacity:      DefaultCacheCapacity,
		ttl:           DefaultCacheTTL,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		logger:        observability.NopLogger(),
		entries:       make(map[string]*list.Element),
		order:         list.New(),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.sweepInterval > 0 {
		go c.sweepLoop()
	}

	c.logger.Info("identity cache initialized",
		observability.Int("capacity", c.capacity),
		observability.Duration("ttl", c.ttl))

	return c
}

// Get returns the cached identity for id. A stale entry is removed and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, id string) (Identity, bool) {
	_, span := otel.Tracer(tracerName).Start(ctx, "identity.cache.Get",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[id]
	if !ok {
		c.metrics.recordMiss()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return Identity{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.identity.CachedAt) > c.ttl {
		c.remove(elem)
		c.metrics.recordMiss()
		c.metrics.setSize(c.order.Len())
		span.SetAttributes(attribute.Bool("cache.hit", false), attribute.Bool("cache.stale", true))
		return Identity{}, false
	}

	c.metrics.recordHit()
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return entry.identity, true
}

// Set stores identity under id, stamping CachedAt, and returns the stored
// value. Overwriting an existing id keeps its insertion position;
// concurrent writers for the same id resolve last-writer-wins.
func (c *Cache) Set(ctx context.Context, id string, identity Identity) Identity {
	_, span := otel.Tracer(tracerName).Start(ctx, "identity.cache.Set",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	identity.CachedAt = c.now()

	if elem, ok := c.entries[id]; ok {
		elem.Value.(*cacheEntry).identity = identity
		return identity
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Front(); oldest != nil {
			c.remove(oldest)
			c.metrics.recordEviction()
			c.logger.Debug("identity cache evicted oldest entry",
				observability.String("user_id", oldest.Value.(*cacheEntry).id))
		}
	}

	c.entries[id] = c.order.PushBack(&cacheEntry{id: id, identity: identity})
	c.metrics.setSize(c.order.Len())
	return identity
}

// Delete removes id from the cache.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		c.remove(elem)
		c.metrics.setSize(c.order.Len())
	}
}

// Len returns the number of entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns cached ids from earliest to latest inserted.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*cacheEntry).id)
	}
	return keys
}

// Close stops the sweeper and drops all entries.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.metrics.setSize(0)
	return nil
}

// remove must be called with c.mu held.
func (c *Cache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*cacheEntry).id)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		if now.Sub(e.Value.(*cacheEntry).identity.CachedAt) > c.ttl {
			c.remove(e)
			removed++
		}
		e = next
	}
	if removed > 0 {
		c.metrics.setSize(c.order.Len())
		c.logger.Debug("identity cache swept expired entries", observability.Int("removed", removed))
	}
}
