package ratelimit

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"coordination-gateway/middleware/ratelimit/application"
	"coordination-gateway/middleware/ratelimit/domain"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
)

// ResourceFunc devolve o resourceKey (ex: nome da ferramenta, rota) de uma requisição.
type ResourceFunc func(r *http.Request) string

// StaticResource usa o mesmo resource para toda requisição.
func StaticResource(name string) ResourceFunc {
	return func(*http.Request) string { return name }
}

// FirstPathSegment usa o primeiro segmento do path ("/tools/x" -> "tools").
// Path vazio vira "root".
func FirstPathSegment(r *http.Request) string {
	p := strings.TrimPrefix(r.URL.Path, "/")
	seg, _, _ := strings.Cut(p, "/")
	if seg == "" {
		return "root"
	}
	return seg
}

type Options struct {
	Store       domain.CounterStore
	Window      time.Duration
	MaxRequests int64

	Stats  domain.StatsStore
	Logger logr.Logger

	IdentityFn         IdentityFunc
	UserHeader         string
	ClientHeader       string
	TrustXForwardedFor bool

	ResourceFn ResourceFunc

	RejectStatus int
	// FailOpen deixa a requisição passar quando o backend está fora do ar.
	// Sem FailOpen responde 503.
	FailOpen            bool
	AddRateLimitHeaders bool
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.IdentityFn == nil {
		opts.IdentityFn = DefaultIdentityFunc(opts.UserHeader, opts.ClientHeader, opts.TrustXForwardedFor)
	}
	if opts.ResourceFn == nil {
		opts.ResourceFn = StaticResource("default")
	}

	svc := application.Service{
		Store:       opts.Store,
		Window:      opts.Window,
		MaxRequests: opts.MaxRequests,
		Logger:      opts.Logger,
	}
	errLog := &rate.Sometimes{First: 1, Interval: 10 * time.Second}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resource := opts.ResourceFn(r)

			dec, err := svc.Check(r.Context(), resource, opts.IdentityFn(r))
			if le, ok := domain.AsLimitExceeded(err); ok {
				record(r, opts.Stats, le.Key, resource, false)
				if opts.AddRateLimitHeaders {
					setRateHeaders(w, le.Key, le.Limit, 0, le.RetryAfter)
				}
				w.Header().Set("Retry-After", formatInt(retryAfterSeconds(le.RetryAfter)))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			if errors.Is(err, domain.ErrInvalidResource) {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			if err != nil {
				errLog.Do(func() {
					opts.Logger.Error(err, "rate limit backend unavailable", "resource", resource, "failOpen", opts.FailOpen)
				})
				if !opts.FailOpen {
					http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			record(r, opts.Stats, dec.Key, resource, true)
			if opts.AddRateLimitHeaders {
				setRateHeaders(w, dec.Key, dec.Limit, dec.Remaining, dec.ResetIn)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func record(r *http.Request, stats domain.StatsStore, key domain.Key, resource string, allowed bool) {
	if stats == nil {
		return
	}
	_ = stats.Record(r.Context(), domain.StatsEvent{
		Key:      key,
		Resource: resource,
		Allowed:  allowed,
		Method:   r.Method,
		Path:     r.URL.Path,
		At:       time.Now(),
	})
}

func setRateHeaders(w http.ResponseWriter, key domain.Key, limit, remaining int64, reset time.Duration) {
	h := w.Header()
	h.Set("X-RateLimit-Key", string(key))
	h.Set("X-RateLimit-Limit", formatInt64(limit))
	h.Set("X-RateLimit-Remaining", formatInt64(remaining))
	h.Set("X-RateLimit-Reset", formatInt(retryAfterSeconds(reset)))
}
