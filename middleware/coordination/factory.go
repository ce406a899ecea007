package coordination

import (
	"context"
	"fmt"

	affdomain "coordination-gateway/middleware/affinity/domain"
	affinfra "coordination-gateway/middleware/affinity/infra"
	rldomain "coordination-gateway/middleware/ratelimit/domain"
	rlinfra "coordination-gateway/middleware/ratelimit/infra"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
)

// Backends reúne os stores escolhidos pela fábrica.
type Backends struct {
	Kind Kind
	// Config é a configuração efetiva (com defaults aplicados); quem monta os
	// middlewares lê janela, limite e TTL daqui.
	Config Config

	Leases   affdomain.LeaseStore
	Counters rldomain.CounterStore
	// Redis é o cliente compartilhado (nil no backend em memória), exposto
	// para quem quiser gravar estatísticas no mesmo servidor.
	Redis *redis.Client

	stop context.CancelFunc
}

// Close para os janitors e libera o backend (o cliente Redis é fechado pelo
// lease store, dono dele).
func (b *Backends) Close() error {
	if b.stop != nil {
		b.stop()
	}
	if b.Leases == nil {
		return nil
	}
	return b.Leases.Close()
}

// New monta os backends de cfg. Com Redis, faz um PING limitado por
// DialTimeout e falha cedo se o servidor não responde.
func New(ctx context.Context, cfg Config, logger logr.Logger) (*Backends, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case KindRedis:
		return newRedis(ctx, cfg, logger)
	default:
		return newMemory(ctx, cfg, logger), nil
	}
}

func newMemory(ctx context.Context, cfg Config, logger logr.Logger) *Backends {
	jctx, cancel := context.WithCancel(ctx)

	leases := affinfra.NewMemoryLeaseStore(
		affinfra.WithDefaultTTL(cfg.LeaseTTL),
		affinfra.WithCleanupEvery(cfg.CleanupEvery),
		affinfra.WithLogger(logger.WithName("leases")),
	)
	leases.StartJanitor(jctx)

	counters := rlinfra.NewMemoryCounterStore(rlinfra.WithCounterCleanupEvery(cfg.CleanupEvery))
	counters.StartJanitor(jctx)

	logger.Info("coordination backend ready", "backend", KindMemory,
		"note", "rate limits and session ownership are local to this instance")
	return &Backends{Kind: KindMemory, Config: cfg, Leases: leases, Counters: counters, stop: cancel}
}

func newRedis(ctx context.Context, cfg Config, logger logr.Logger) (*Backends, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	err := rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	leases := affinfra.NewRedisLeaseStore(rdb,
		affinfra.WithLeasePrefix(cfg.LeasePrefix()),
		affinfra.WithLeaseTTL(cfg.LeaseTTL),
		affinfra.WithLeaseLogger(logger.WithName("leases")),
	)
	counters := rlinfra.NewRedisCounterStore(rdb, rlinfra.WithCounterPrefix(cfg.CounterPrefix()))

	logger.Info("coordination backend ready", "backend", KindRedis, "addr", cfg.RedisAddr, "prefix", cfg.KeyPrefix)
	return &Backends{Kind: KindRedis, Config: cfg, Leases: leases, Counters: counters, Redis: rdb}, nil
}
