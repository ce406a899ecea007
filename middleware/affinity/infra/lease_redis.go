package infra

import (
	"context"
	"errors"
	"strings"
	"time"

	"coordination-gateway/middleware/affinity/domain"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
)

// DefaultLeasePrefix é o namespace usado quando nenhum prefixo é configurado.
const DefaultLeasePrefix = "gateway:session:"

// RedisLeaseClient é o subconjunto do go-redis usado pelo lease store.
// *redis.Client e *redis.ClusterClient satisfazem.
type RedisLeaseClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

var _ domain.LeaseStore = (*RedisLeaseStore)(nil)

// RedisLeaseStore guarda leases como chaves prefix+sessionId com TTL nativo do
// Redis. SET é incondicional: o último escritor vence.
//
// sessionId é validado antes de montar a chave; um id inválido falha sem
// nenhuma chamada de rede.
type RedisLeaseStore struct {
	rdb        RedisLeaseClient
	prefix     string
	defaultTTL time.Duration
	logger     logr.Logger
}

type RedisLeaseOption func(*RedisLeaseStore)

// WithLeasePrefix define o namespace das chaves, sempre terminado em ':'.
func WithLeasePrefix(prefix string) RedisLeaseOption {
	return func(s *RedisLeaseStore) { s.prefix = NormalizePrefix(prefix) }
}

func WithLeaseTTL(d time.Duration) RedisLeaseOption {
	return func(s *RedisLeaseStore) {
		if d > 0 {
			s.defaultTTL = d
		}
	}
}

func WithLeaseLogger(l logr.Logger) RedisLeaseOption {
	return func(s *RedisLeaseStore) { s.logger = l }
}

func NewRedisLeaseStore(rdb RedisLeaseClient, opts ...RedisLeaseOption) *RedisLeaseStore {
	s := &RedisLeaseStore{
		rdb:        rdb,
		prefix:     DefaultLeasePrefix,
		defaultTTL: domain.DefaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizePrefix garante o separador ':' no fim. Vazio vira DefaultLeasePrefix.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return DefaultLeasePrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix
}

func (s *RedisLeaseStore) Prefix() string { return s.prefix }

func (s *RedisLeaseStore) key(sessionID string) (string, error) {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return s.prefix + sessionID, nil
}

func (s *RedisLeaseStore) SetOwner(ctx context.Context, sessionID, instanceID string, ttl time.Duration) error {
	key, err := s.key(sessionID)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.rdb.Set(ctx, key, instanceID, ttl).Err()
}

func (s *RedisLeaseStore) GetOwner(ctx context.Context, sessionID string) (string, bool, error) {
	key, err := s.key(sessionID)
	if err != nil {
		return "", false, err
	}
	owner, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

func (s *RedisLeaseStore) DeleteOwner(ctx context.Context, sessionID string) error {
	key, err := s.key(sessionID)
	if err != nil {
		return err
	}
	return s.rdb.Del(ctx, key).Err()
}

// Close fecha o cliente Redis. O store é dono do cliente que recebeu.
func (s *RedisLeaseStore) Close() error {
	s.logger.V(1).Info("closing redis lease store", "prefix", s.prefix)
	return s.rdb.Close()
}
