package affinity

import (
	"crypto/subtle"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"coordination-gateway/middleware/affinity/application"
	"coordination-gateway/middleware/affinity/domain"

	"github.com/felixge/httpsnoop"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	DefaultSessionHeader = "Mcp-Session-Id"
	// ForwardedHeader marca requisições já repassadas por outra instância
	// (evita loop quando as instâncias discordam sobre o dono). O valor é o
	// id da instância que repassou e só vale se for um peer configurado.
	ForwardedHeader = "X-Affinity-Forwarded"
	// ForwardTokenHeader carrega Options.ForwardSecret nos repasses.
	ForwardTokenHeader = "X-Affinity-Forward-Token"
)

type Options struct {
	Self  string
	Store domain.LeaseStore
	TTL   time.Duration

	// Peers mapeia instanceId -> URL base da instância.
	Peers map[string]*url.URL
	// Transport usado nos repasses; nil usa http.DefaultTransport.
	Transport http.RoundTripper

	SessionHeader string

	// ForwardSecret, quando não vazio, é exigido em ForwardTokenHeader para
	// aceitar ForwardedHeader. Todas as instâncias devem usar o mesmo valor.
	ForwardSecret string

	Logger     logr.Logger
	Registerer prometheus.Registerer
}

// Middleware devolve o middleware de afinidade. Só falha ao registrar métricas.
func Middleware(opts Options) (func(next http.Handler) http.Handler, error) {
	if opts.SessionHeader == "" {
		opts.SessionHeader = DefaultSessionHeader
	}
	metrics, err := newRouteMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	router := application.Router{
		Self:   opts.Self,
		Store:  opts.Store,
		TTL:    opts.TTL,
		Logger: opts.Logger,
	}
	errLog := &rate.Sometimes{First: 1, Interval: 10 * time.Second}

	proxies := make(map[string]*httputil.ReverseProxy, len(opts.Peers))
	for id, target := range opts.Peers {
		if id == opts.Self || target == nil {
			continue
		}
		proxies[id] = newPeerProxy(id, target, opts, router, metrics)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := strings.TrimSpace(r.Header.Get(opts.SessionHeader))
			if sid == "" {
				stripForwardHeaders(r)
				serveNewSession(w, r, next, opts, router, metrics)
				return
			}
			if err := domain.ValidateSessionID(sid); err != nil {
				metrics.inc(outcomeInvalid)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			forwarded := trustedForward(r, opts)
			if forwarded {
				r = withForwardedClient(r)
			}

			route, err := router.Resolve(r.Context(), sid)
			if err != nil {
				metrics.inc(outcomeStoreError)
				errLog.Do(func() {
					opts.Logger.Error(err, "lease store unavailable, serving session locally", "session", sid)
				})
				serveLocal(w, r, next, sid, router, metrics, false)
				return
			}

			if route.Known && !route.Local && !forwarded {
				if proxy, ok := proxies[route.Owner]; ok {
					metrics.inc(outcomeForwarded)
					opts.Logger.V(1).Info("forwarding session request", "session", sid, "owner", route.Owner)
					r.Header.Set(ForwardedHeader, opts.Self)
					if opts.ForwardSecret != "" {
						r.Header.Set(ForwardTokenHeader, opts.ForwardSecret)
					}
					proxy.ServeHTTP(w, r)
					return
				}
				opts.Logger.Info("session owner is not a known peer, taking over", "session", sid, "owner", route.Owner)
			}
			if route.Known && !route.Local {
				metrics.inc(outcomeTakeover)
			}

			serveLocal(w, r, next, sid, router, metrics, true)
		})
	}, nil
}

// serveNewSession atende requisições sem sessão. Se a resposta cria uma, o
// lease é gravado antes dos headers saírem: com resposta em streaming, um
// follow-up em outra instância já encontra o dono.
func serveNewSession(w http.ResponseWriter, r *http.Request, next http.Handler, opts Options, router application.Router, metrics *routeMetrics) {
	var once sync.Once
	claim := func(code int) {
		once.Do(func() {
			sid := strings.TrimSpace(w.Header().Get(opts.SessionHeader))
			if sid == "" || code >= http.StatusBadRequest {
				return
			}
			if err := router.Claim(r.Context(), sid); err != nil {
				opts.Logger.Error(err, "failed to register new session lease", "session", sid)
				return
			}
			metrics.inc(outcomeNewSession)
		})
	}

	hooked := httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				// 1xx não fecha os headers da resposta final
				if code >= http.StatusOK {
					claim(code)
				}
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				claim(http.StatusOK)
				return next(b)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				claim(http.StatusOK)
				return next(src)
			}
		},
		Flush: func(next httpsnoop.FlushFunc) httpsnoop.FlushFunc {
			return func() {
				claim(http.StatusOK)
				next()
			}
		},
	})

	next.ServeHTTP(hooked, r)
	// handler que não escreveu nada: net/http responde 200 ao retornar
	claim(http.StatusOK)
}

// trustedForward diz se a requisição veio de um peer configurado (e com o
// token certo, se houver segredo). Marcadores não confiáveis são removidos.
func trustedForward(r *http.Request, opts Options) bool {
	from := strings.TrimSpace(r.Header.Get(ForwardedHeader))
	token := r.Header.Get(ForwardTokenHeader)
	r.Header.Del(ForwardTokenHeader)
	if from == "" {
		return false
	}

	ok := from != opts.Self && opts.Peers[from] != nil
	if ok && opts.ForwardSecret != "" {
		ok = subtle.ConstantTimeCompare([]byte(token), []byte(opts.ForwardSecret)) == 1
	}
	if !ok {
		opts.Logger.V(1).Info("ignoring untrusted forward marker", "from", from, "remote", r.RemoteAddr)
		r.Header.Del(ForwardedHeader)
	}
	return ok
}

func stripForwardHeaders(r *http.Request) {
	r.Header.Del(ForwardedHeader)
	r.Header.Del(ForwardTokenHeader)
}

// withForwardedClient devolve uma cópia de r com RemoteAddr apontando para o
// cliente original, tirado da última entrada do X-Forwarded-For (a que o
// proxy do peer acrescentou). Assim o rate limit e o upstream desta instância
// veem o mesmo cliente que o peer viu.
func withForwardedClient(r *http.Request) *http.Request {
	xff := strings.Join(r.Header.Values("X-Forwarded-For"), ",")
	rest, last := "", xff
	if i := strings.LastIndex(xff, ","); i >= 0 {
		rest, last = xff[:i], xff[i+1:]
	}
	ip := net.ParseIP(strings.TrimSpace(last))
	if ip == nil {
		return r
	}

	r2 := r.WithContext(r.Context())
	r2.Header = r.Header.Clone()
	r2.RemoteAddr = net.JoinHostPort(ip.String(), "0")
	if rest = strings.TrimSpace(rest); rest != "" {
		r2.Header.Set("X-Forwarded-For", rest)
	} else {
		r2.Header.Del("X-Forwarded-For")
	}
	return r2
}

func serveLocal(w http.ResponseWriter, r *http.Request, next http.Handler, sid string, router application.Router, metrics *routeMetrics, claim bool) {
	ctx := r.Context()
	if claim && r.Method != http.MethodDelete {
		if err := router.Claim(ctx, sid); err != nil {
			router.Logger.Error(err, "failed to refresh session lease", "session", sid)
		}
	}

	m := httpsnoop.CaptureMetrics(next, w, r)
	metrics.inc(outcomeLocal)

	if r.Method == http.MethodDelete && m.Code < http.StatusBadRequest {
		if err := router.Release(ctx, sid); err != nil {
			router.Logger.Error(err, "failed to release session lease", "session", sid)
			return
		}
		metrics.inc(outcomeReleased)
	}
}

// newPeerProxy repassa para a instância dona. Se ela não responde, esta
// instância assume o lease e o cliente pode repetir a requisição.
func newPeerProxy(id string, target *url.URL, opts Options, router application.Router, metrics *routeMetrics) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	if opts.Transport != nil {
		proxy.Transport = opts.Transport
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		metrics.inc(outcomeProxyError)
		sid := strings.TrimSpace(r.Header.Get(opts.SessionHeader))
		opts.Logger.Error(err, "session owner unreachable, taking over", "session", sid, "owner", id)
		if cerr := router.Claim(r.Context(), sid); cerr != nil {
			opts.Logger.Error(cerr, "failed to take over session lease", "session", sid)
		}
		w.Header().Set("Retry-After", "0")
		http.Error(w, "session owner unreachable", http.StatusServiceUnavailable)
	}
	return proxy
}
