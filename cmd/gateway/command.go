package main

import (
	goflag "flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

// configKeys são as chaves ligadas a flag e a variável de ambiente
// (listen-addr <-> LISTEN_ADDR).
var configKeys = []string{
	"listen-addr", "upstream-url", "instance-id", "self-url", "peers", "metrics-addr",
	"backend", "redis-addr", "redis-password", "redis-db", "key-prefix", "dial-timeout",
	"affinity-enabled", "lease-ttl", "session-header", "forward-secret",
	"rate-enabled", "rate-window", "rate-max-requests", "rate-fail-open", "rate-resource",
	"user-header", "client-header", "trust-xff", "add-ratelimit-headers",
	"concurrency-max", "concurrency-timeout",
	"rate-stats-enabled", "rate-stats-prefix", "rate-stats-ttl", "rate-stats-bucket", "rate-stats-track-keys",
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Reverse proxy with session affinity and shared rate limiting",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(v)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return run(cmd.Context(), cfg, klog.NewKlogr().WithName("gateway"))
		},
	}

	flags := cmd.Flags()
	addFlags(flags)

	gofs := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(gofs)
	cmd.PersistentFlags().AddGoFlagSet(gofs)

	if err := bindFlags(v, flags); err != nil {
		panic(err)
	}
	return cmd
}

func addFlags(flags *pflag.FlagSet) {
	flags.String("listen-addr", ":8080", "address the gateway listens on")
	flags.String("upstream-url", "", "upstream base URL (required)")
	flags.String("instance-id", "", "id of this instance in the lease store (random UUID when empty)")
	flags.String("self-url", "", "URL peers use to reach this instance (informational)")
	flags.String("peers", "", "peer instances as id=url,id=url")
	flags.String("metrics-addr", "", "address for /metrics (disabled when empty)")

	flags.String("backend", "memory", "coordination backend: memory or redis")
	flags.String("redis-addr", "", "redis address (host:port)")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-db", 0, "redis database")
	flags.String("key-prefix", "gateway:", "namespace for every key written to redis")
	flags.Duration("dial-timeout", 2*time.Second, "redis dial and ping timeout")

	flags.Bool("affinity-enabled", true, "route session-scoped requests to the owning instance")
	flags.Duration("lease-ttl", 30*time.Minute, "session lease TTL")
	flags.String("session-header", "Mcp-Session-Id", "header carrying the session id")
	flags.String("forward-secret", "", "shared token peers must present when forwarding (recommended when clients can reach instances directly)")

	flags.Bool("rate-enabled", true, "enable the fixed-window rate limiter")
	flags.Duration("rate-window", time.Minute, "rate limit window")
	flags.Int64("rate-max-requests", 60, "requests allowed per identity and resource within a window")
	flags.Bool("rate-fail-open", true, "admit requests when the counter backend fails")
	flags.String("rate-resource", "", "static resource key (empty uses the first path segment)")
	flags.String("user-header", "X-User-Id", "header carrying the authenticated user id")
	flags.String("client-header", "X-Client-Id", "header carrying the client id")
	flags.Bool("trust-xff", false, "use X-Forwarded-For for the client IP")
	flags.Bool("add-ratelimit-headers", false, "add X-RateLimit-* headers to responses")

	flags.Int("concurrency-max", 100, "max in-flight requests on this instance (0 disables)")
	flags.Duration("concurrency-timeout", 0, "how long to wait for a slot")

	flags.Bool("rate-stats-enabled", false, "record decisions in redis")
	flags.String("rate-stats-prefix", "ratelimit:stats", "redis prefix for decision stats")
	flags.Duration("rate-stats-ttl", 24*time.Hour, "TTL of each stats bucket")
	flags.String("rate-stats-bucket", "minute", "stats bucket granularity: minute, hour, day or none")
	flags.Bool("rate-stats-track-keys", false, "also count decisions per identity key")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, name := range configKeys {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("flag %q not found", name)
		}
		if err := v.BindPFlag(name, f); err != nil {
			return err
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}
