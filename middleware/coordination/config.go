package coordination

import (
	"errors"
	"fmt"
	"strings"
	"time"

	affdomain "coordination-gateway/middleware/affinity/domain"
	"coordination-gateway/middleware/ratelimit/application"
)

// Kind identifica o backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

// ParseKind aceita "memory" / "in-process" e "redis" / "remote".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "memory", "in-process", "inprocess", "local":
		return KindMemory, nil
	case "redis", "remote":
		return KindRedis, nil
	}
	return "", fmt.Errorf("unknown coordination backend %q", s)
}

// Config é a superfície de configuração entregue pela aplicação.
type Config struct {
	Backend Kind

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DialTimeout   time.Duration

	// KeyPrefix é o namespace comum; leases ficam em <prefix>session: e
	// contadores em <prefix>ratelimit:.
	KeyPrefix string

	LeaseTTL        time.Duration
	RateWindow      time.Duration
	RateMaxRequests int64

	// CleanupEvery controla a varredura periódica dos backends em memória.
	CleanupEvery time.Duration
}

// ApplyDefaults preenche os campos zerados.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = KindMemory
	}
	if strings.TrimSpace(c.KeyPrefix) == "" {
		c.KeyPrefix = "gateway"
	}
	if !strings.HasSuffix(c.KeyPrefix, ":") {
		c.KeyPrefix += ":"
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = affdomain.DefaultLeaseTTL
	}
	if c.RateWindow <= 0 {
		c.RateWindow = application.DefaultWindow
	}
	if c.RateMaxRequests <= 0 {
		c.RateMaxRequests = application.DefaultMaxRequests
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.CleanupEvery == 0 {
		c.CleanupEvery = time.Minute
	}
}

func (c Config) Validate() error {
	switch c.Backend {
	case KindMemory:
	case KindRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("redis address is required when backend=redis")
		}
	default:
		return fmt.Errorf("unknown coordination backend %q", c.Backend)
	}
	if c.RedisDB < 0 {
		return errors.New("redis db must be >= 0")
	}
	return nil
}

func (c Config) LeasePrefix() string   { return c.KeyPrefix + "session:" }
func (c Config) CounterPrefix() string { return c.KeyPrefix + "ratelimit:" }
