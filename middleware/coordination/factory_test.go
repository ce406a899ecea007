package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	affinfra "coordination-gateway/middleware/affinity/infra"
	rlinfra "coordination-gateway/middleware/ratelimit/infra"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": KindMemory, "in-process": KindMemory, "Redis": KindRedis, "remote": KindRedis} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKind("etcd")
	assert.Error(t, err)
}

func TestConfig_DefaultsAndPrefixes(t *testing.T) {
	cfg := Config{KeyPrefix: "mcp"}
	cfg.ApplyDefaults()

	assert.Equal(t, KindMemory, cfg.Backend)
	assert.Equal(t, "mcp:session:", cfg.LeasePrefix())
	assert.Equal(t, "mcp:ratelimit:", cfg.CounterPrefix())
	assert.Positive(t, cfg.LeaseTTL)
	assert.Positive(t, cfg.RateWindow)
	assert.Positive(t, cfg.RateMaxRequests)
	require.NoError(t, cfg.Validate())
}

func TestConfig_RedisRequiresAddr(t *testing.T) {
	cfg := Config{Backend: KindRedis}
	cfg.ApplyDefaults()
	assert.Error(t, cfg.Validate())
}

func TestNew_Memory(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, Config{LeaseTTL: time.Minute}, testr.New(t))
	require.NoError(t, err)

	assert.Equal(t, KindMemory, b.Kind)
	assert.IsType(t, &affinfra.MemoryLeaseStore{}, b.Leases)
	assert.IsType(t, &rlinfra.MemoryCounterStore{}, b.Counters)
	assert.Nil(t, b.Redis)
	assert.Equal(t, time.Minute, b.Config.LeaseTTL)
	assert.Positive(t, b.Config.RateMaxRequests, "defaults are visible to callers")

	require.NoError(t, b.Leases.SetOwner(ctx, "s1", "inst-a", 0))
	require.NoError(t, b.Close())
	_, ok, err := b.Leases.GetOwner(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "close clears in-process leases")
}

func TestNew_RedisUnreachableFailsFast(t *testing.T) {
	_, err := New(context.Background(), Config{
		Backend:     KindRedis,
		RedisAddr:   "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	}, testr.New(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}
