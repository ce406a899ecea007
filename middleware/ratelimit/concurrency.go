package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"coordination-gateway/middleware/ratelimit/application"
	"coordination-gateway/middleware/ratelimit/infra"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	Logger         logr.Logger

	// Registerer recebe gateway_inflight_requests e
	// gateway_concurrency_rejected_total. nil desliga as métricas.
	Registerer prometheus.Registerer
}

// ConcurrencyMiddleware limita requisições simultâneas nesta instância.
// Max <= 0 desliga o limite.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	pool := infra.NewChanPool(opts.Max)
	svc := application.ConcurrencyService{
		Pool:           pool,
		AcquireTimeout: opts.AcquireTimeout,
	}
	rejected := registerConcurrencyMetrics(opts.Registerer, pool, opts.Logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				if rejected != nil {
					rejected.Inc()
				}
				opts.Logger.V(1).Info("concurrency slot not acquired", "max", opts.Max, "inFlight", pool.InFlight(), "path", r.URL.Path)
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}

// registerConcurrencyMetrics registra o gauge de vagas e o contador de
// rejeições. Falha de registro só é logada: o limite continua valendo.
func registerConcurrencyMetrics(reg prometheus.Registerer, pool *infra.ChanPool, log logr.Logger) prometheus.Counter {
	if reg == nil {
		return nil
	}
	inflight := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_inflight_requests",
		Help: "requests currently holding a concurrency slot",
	}, func() float64 { return float64(pool.InFlight()) })
	if err := reg.Register(inflight); err != nil {
		log.Error(err, "registering in-flight gauge")
	}

	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_concurrency_rejected_total",
		Help: "requests rejected for lack of a concurrency slot",
	})
	if err := reg.Register(rejected); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
		log.Error(err, "registering concurrency rejection counter")
		return nil
	}
	return rejected
}
