package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"os/signal"
	"syscall"
	"time"

	"coordination-gateway/middleware/affinity"
	"coordination-gateway/middleware/coordination"
	"coordination-gateway/middleware/ratelimit"
	"coordination-gateway/middleware/ratelimit/domain"
	"coordination-gateway/middleware/ratelimit/infra"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func run(parent context.Context, cfg config, log logr.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backends, err := coordination.New(ctx, cfg.coordination, log.WithName("coordination"))
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Error(err, "closing coordination backend")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	stats, closeStats, err := buildStats(ctx, cfg, backends, reg)
	if err != nil {
		return err
	}
	defer closeStats()

	proxy := httputil.NewSingleHostReverseProxy(cfg.upstreamURL)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error(err, "proxy error", "path", r.URL.Path)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	h, err := buildHandler(cfg, proxy, backends, stats, reg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
	servers := []*http.Server{srv}
	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metrics := &http.Server{Addr: cfg.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		servers = append(servers, metrics)
		go func() {
			log.Info("metrics listening", "addr", cfg.metricsAddr)
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "metrics server")
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, s := range servers {
			_ = s.Shutdown(shutdownCtx)
		}
	}()

	log.Info("gateway listening", "addr", cfg.listenAddr, "upstream", cfg.upstreamURL.String(), "instance", cfg.instanceID, "selfURL", cfg.selfURL)
	log.Info("affinity", "enabled", cfg.affinityEnabled, "backend", backends.Kind, "leaseTTL", cfg.coordination.LeaseTTL, "header", cfg.sessionHeader, "peers", len(cfg.peers))
	log.Info("rate", "enabled", cfg.rateEnabled, "window", cfg.coordination.RateWindow, "max", cfg.coordination.RateMaxRequests, "failOpen", cfg.rateFailOpen, "trustXFF", cfg.trustXFF)
	log.Info("rate-stats", "enabled", cfg.rateStatsEnabled, "bucket", cfg.rateStatsBucket, "ttl", cfg.rateStatsTTL, "trackKeys", cfg.rateStatsTrackKeys)
	log.Info("concurrency", "max", cfg.concurrencyMax, "acquireTimeout", cfg.concurrencyTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildStats junta Prometheus (sempre) e Redis (quando habilitado). Reaproveita
// o cliente do backend quando ele já é Redis.
func buildStats(ctx context.Context, cfg config, b *coordination.Backends, reg prometheus.Registerer) (domain.StatsStore, func(), error) {
	prom, err := infra.NewPrometheusStats(reg)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.rateStatsEnabled {
		return prom, func() {}, nil
	}

	rdb := b.Redis
	closeFn := func() {}
	if rdb == nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:        cfg.coordination.RedisAddr,
			Password:    cfg.coordination.RedisPassword,
			DB:          cfg.coordination.RedisDB,
			DialTimeout: cfg.coordination.DialTimeout,
		})
		closeFn = func() { _ = rdb.Close() }

		pingCtx, cancel := context.WithTimeout(ctx, cfg.coordination.DialTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			closeFn()
			return nil, nil, err
		}
	}

	redisStats := infra.NewRedisStatsStore(
		rdb,
		infra.WithStatsPrefix(cfg.rateStatsPrefix),
		infra.WithStatsTTL(cfg.rateStatsTTL),
		infra.WithStatsBucket(cfg.rateStatsBucket),
		infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
	)
	return infra.MultiStats{prom, redisStats}, closeFn, nil
}

// buildHandler monta a cadeia (de fora para dentro): afinidade -> rate limit
// -> concorrência -> proxy. A afinidade vem primeiro para que a requisição
// seja contada só na instância que a atende.
func buildHandler(cfg config, proxy http.Handler, b *coordination.Backends, stats domain.StatsStore, reg prometheus.Registerer, log logr.Logger) (http.Handler, error) {
	h := proxy
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.concurrencyTimeout,
		Logger:         log.WithName("concurrency"),
		Registerer:     reg,
	})(h)

	if cfg.rateEnabled {
		var resourceFn ratelimit.ResourceFunc = ratelimit.FirstPathSegment
		if cfg.rateResource != "" {
			resourceFn = ratelimit.StaticResource(cfg.rateResource)
		}
		h = ratelimit.Middleware(ratelimit.Options{
			Store:               b.Counters,
			Window:              b.Config.RateWindow,
			MaxRequests:         b.Config.RateMaxRequests,
			Stats:               stats,
			Logger:              log.WithName("ratelimit"),
			UserHeader:          cfg.userHeader,
			ClientHeader:        cfg.clientHeader,
			TrustXForwardedFor:  cfg.trustXFF,
			ResourceFn:          resourceFn,
			FailOpen:            cfg.rateFailOpen,
			AddRateLimitHeaders: cfg.addHeaders,
		})(h)
	}

	if cfg.affinityEnabled {
		mw, err := affinity.Middleware(affinity.Options{
			Self:          cfg.instanceID,
			Store:         b.Leases,
			TTL:           b.Config.LeaseTTL,
			Peers:         cfg.peers,
			SessionHeader: cfg.sessionHeader,
			ForwardSecret: cfg.forwardSecret,
			Logger:        log.WithName("affinity"),
			Registerer:    reg,
		})
		if err != nil {
			return nil, err
		}
		h = mw(h)
	}
	return h, nil
}
