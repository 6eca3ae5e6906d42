package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kelmah/apigateway/internal/observability"
)

// Shared tier defaults.
const (
	DefaultRedisKeyPrefix = "gateway:identity:"
	DefaultRedisTTL       = 300 * time.Second
	defaultTTLJitter      = 0.1
)

// RedisStore is a read-through Store that shares hydrated identities
// between gateway replicas. Redis failures degrade to the wrapped store.
// Not-found results are never written to Redis.
type RedisStore struct {
	client    redis.UniversalClient
	next      Store
	keyPrefix string
	ttl       time.Duration
	ttlJitter float64
	logger    observability.Logger
	metrics   *Metrics
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisKeyPrefix sets the key prefix.
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// WithRedisTTL sets the entry TTL in Redis.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRedisTTLJitter sets the TTL jitter factor in [0, 1].
func WithRedisTTLJitter(f float64) RedisOption {
	return func(s *RedisStore) {
		s.ttlJitter = f
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// WithRedisMetrics sets the metrics.
func WithRedisMetrics(m *Metrics) RedisOption {
	return func(s *RedisStore) {
		s.metrics = m
	}
}

// NewRedisStore wraps next with a Redis tier.
func NewRedisStore(client redis.UniversalClient, next Store, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		next:      next,
		keyPrefix: DefaultRedisKeyPrefix,
		ttl:       DefaultRedisTTL,
		ttlJitter: defaultTTLJitter,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisClient parses a redis:// URL and returns a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// FindUser implements Store.
func (s *RedisStore) FindUser(ctx context.Context, id string) (Identity, error) {
	key := s.keyPrefix + id

	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var u Identity
		if jerr := json.Unmarshal(data, &u); jerr == nil {
			s.metrics.recordShared("hit")
			return u, nil
		}
		s.logger.Warn("discarding undecodable shared identity", observability.String("key", key))
		s.metrics.recordShared("corrupt")
	case errors.Is(err, redis.Nil):
		s.metrics.recordShared("miss")
	default:
		s.metrics.recordShared("error")
		s.logger.Warn("shared identity tier unavailable",
			observability.String("key", key),
			observability.Error(err))
	}

	u, err := s.next.FindUser(ctx, id)
	if err != nil {
		return Identity{}, err
	}

	u.CachedAt = time.Time{}
	if payload, merr := json.Marshal(u); merr == nil {
		if serr := s.client.Set(ctx, key, payload, s.jitteredTTL()).Err(); serr != nil {
			s.logger.Warn("failed to populate shared identity tier",
				observability.String("key", key),
				observability.Error(serr))
		}
	}
	return u, nil
}

// Invalidate removes id from the shared tier.
func (s *RedisStore) Invalidate(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.keyPrefix+id).Err()
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) jitteredTTL() time.Duration {
	f := s.ttlJitter
	if f <= 0 {
		return s.ttl
	}
	if f > 1 {
		f = 1
	}
	//nolint:gosec // jitter does not need cryptographic randomness
	d := s.ttl + time.Duration(float64(s.ttl)*f*(2*rand.Float64()-1))
	if d <= 0 {
		return s.ttl
	}
	return d
}
