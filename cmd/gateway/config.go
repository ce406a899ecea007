package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"coordination-gateway/middleware/coordination"
	"coordination-gateway/middleware/ratelimit/infra"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type config struct {
	listenAddr  string
	upstreamURL *url.URL
	instanceID  string
	selfURL     string
	peers       map[string]*url.URL
	metricsAddr string

	coordination coordination.Config

	affinityEnabled bool
	sessionHeader   string
	forwardSecret   string

	rateEnabled  bool
	rateFailOpen bool
	rateResource string
	userHeader   string
	clientHeader string
	trustXFF     bool
	addHeaders   bool

	concurrencyMax     int
	concurrencyTimeout time.Duration

	rateStatsEnabled   bool
	rateStatsPrefix    string
	rateStatsTTL       time.Duration
	rateStatsBucket    string
	rateStatsTrackKeys bool
}

func readConfig(v *viper.Viper) (config, error) {
	cfg := config{}
	cfg.listenAddr = v.GetString("listen-addr")
	cfg.selfURL = v.GetString("self-url")
	cfg.metricsAddr = v.GetString("metrics-addr")

	raw := strings.TrimSpace(v.GetString("upstream-url"))
	if raw == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	target, err := url.Parse(raw)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return config{}, fmt.Errorf("invalid UPSTREAM_URL %q", raw)
	}
	cfg.upstreamURL = target

	cfg.instanceID = strings.TrimSpace(v.GetString("instance-id"))
	if cfg.instanceID == "" {
		cfg.instanceID = uuid.NewString()
	}
	cfg.peers, err = parsePeers(v.GetString("peers"))
	if err != nil {
		return config{}, err
	}

	kind, err := coordination.ParseKind(v.GetString("backend"))
	if err != nil {
		return config{}, err
	}
	cfg.coordination = coordination.Config{
		Backend:         kind,
		RedisAddr:       v.GetString("redis-addr"),
		RedisPassword:   v.GetString("redis-password"),
		RedisDB:         v.GetInt("redis-db"),
		DialTimeout:     v.GetDuration("dial-timeout"),
		KeyPrefix:       v.GetString("key-prefix"),
		LeaseTTL:        v.GetDuration("lease-ttl"),
		RateWindow:      v.GetDuration("rate-window"),
		RateMaxRequests: v.GetInt64("rate-max-requests"),
	}
	cfg.coordination.ApplyDefaults()
	if err := cfg.coordination.Validate(); err != nil {
		return config{}, err
	}

	cfg.affinityEnabled = v.GetBool("affinity-enabled")
	cfg.sessionHeader = v.GetString("session-header")
	cfg.forwardSecret = v.GetString("forward-secret")

	cfg.rateEnabled = v.GetBool("rate-enabled")
	cfg.rateFailOpen = v.GetBool("rate-fail-open")
	cfg.rateResource = v.GetString("rate-resource")
	cfg.userHeader = v.GetString("user-header")
	cfg.clientHeader = v.GetString("client-header")
	cfg.trustXFF = v.GetBool("trust-xff")
	cfg.addHeaders = v.GetBool("add-ratelimit-headers")

	cfg.concurrencyMax = v.GetInt("concurrency-max")
	cfg.concurrencyTimeout = v.GetDuration("concurrency-timeout")

	cfg.rateStatsEnabled = v.GetBool("rate-stats-enabled")
	cfg.rateStatsPrefix = v.GetString("rate-stats-prefix")
	cfg.rateStatsTTL = v.GetDuration("rate-stats-ttl")
	cfg.rateStatsBucket, err = infra.ParseStatsBucket(v.GetString("rate-stats-bucket"))
	if err != nil {
		return config{}, fmt.Errorf("RATE_STATS_BUCKET: %w", err)
	}
	cfg.rateStatsTrackKeys = v.GetBool("rate-stats-track-keys")

	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.coordination.RedisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

// parsePeers lê "id=url,id=url". Entradas vazias são ignoradas.
func parsePeers(s string) (map[string]*url.URL, error) {
	peers := map[string]*url.URL{}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, raw, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		raw = strings.TrimSpace(raw)
		if !ok || id == "" || raw == "" {
			return nil, fmt.Errorf("invalid PEERS entry %q (want id=url)", entry)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid PEERS url for %q: %q", id, raw)
		}
		if _, dup := peers[id]; dup {
			return nil, fmt.Errorf("duplicate PEERS id %q", id)
		}
		peers[id] = u
	}
	return peers, nil
}
