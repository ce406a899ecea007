package infra

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"coordination-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisCounterClient é o subconjunto do go-redis usado pelo contador.
// *redis.Client, *redis.ClusterClient e redis.UniversalClient satisfazem.
type RedisCounterClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ domain.CounterStore = (*RedisCounterStore)(nil)

// RedisCounterStore guarda os contadores de janela fixa no Redis, compartilhados
// entre todas as instâncias.
//
// Increment usa INCR (atômico no servidor); nunca GET seguido de SET.
// Erros de transporte/protocolo voltam sem modificação.
type RedisCounterStore struct {
	rdb    RedisCounterClient
	prefix string
}

type RedisCounterOption func(*RedisCounterStore)

// WithCounterPrefix define o namespace das chaves. O separador ':' final é
// garantido.
func WithCounterPrefix(prefix string) RedisCounterOption {
	return func(s *RedisCounterStore) { s.prefix = normalizePrefix(prefix, s.prefix) }
}

func NewRedisCounterStore(rdb RedisCounterClient, opts ...RedisCounterOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:    rdb,
		prefix: "ratelimit:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) Prefix() string { return s.prefix }

func (s *RedisCounterStore) key(bucket string) string { return s.prefix + bucket }

func (s *RedisCounterStore) Increment(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, s.key(key)).Result()
}

func (s *RedisCounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.PExpire(ctx, s.key(key), ttl).Err()
}

// TTL segue o PTTL: -2 para chave ausente, -1 para chave sem expiração.
func (s *RedisCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.rdb.PTTL(ctx, s.key(key)).Result()
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *RedisCounterStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

func normalizePrefix(prefix, def string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return def
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix
}
