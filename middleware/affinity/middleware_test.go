package affinity

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coordination-gateway/middleware/affinity/domain"
	"coordination-gateway/middleware/affinity/infra"
)

// instance monta um handler que responde com o nome da instância e cria uma
// sessão quando a requisição chega sem header.
func instance(t *testing.T, name string, store domain.LeaseStore, peers map[string]*url.URL, reg prometheus.Registerer) http.Handler {
	t.Helper()
	return instanceWith(t, Options{Self: name, Store: store, Peers: peers, Registerer: reg}, nil)
}

// instanceWith aceita Options completas; app nil usa a resposta padrão.
func instanceWith(t *testing.T, opts Options, app http.Handler) http.Handler {
	t.Helper()
	if app == nil {
		app = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(DefaultSessionHeader) == "" {
				w.Header().Set(DefaultSessionHeader, "sess-"+opts.Self)
			}
			_, _ = io.WriteString(w, opts.Self)
		})
	}
	if opts.TTL == 0 {
		opts.TTL = time.Minute
	}
	opts.Logger = testr.New(t)
	mw, err := Middleware(opts)
	require.NoError(t, err)
	return mw(app)
}

func do(h http.Handler, method, sid string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "http://gw/mcp", nil)
	if sid != "" {
		r.Header.Set(DefaultSessionHeader, sid)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_NewSessionIsClaimed(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryLeaseStore()
	reg := prometheus.NewRegistry()
	h := instance(t, "inst-a", store, nil, reg)

	w := do(h, http.MethodPost, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "sess-inst-a", w.Header().Get(DefaultSessionHeader))

	owner, ok, err := store.GetOwner(ctx, "sess-inst-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "inst-a", owner)
	assert.Equal(t, 1.0, testutil.ToFloat64(mustCounter(t, reg).WithLabelValues(outcomeNewSession)))
}

func TestMiddleware_ForwardsToOwner(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryLeaseStore()

	srvA := httptest.NewServer(instance(t, "inst-a", store, nil, nil))
	defer srvA.Close()
	urlA, _ := url.Parse(srvA.URL)

	hB := instance(t, "inst-b", store, map[string]*url.URL{"inst-a": urlA}, nil)

	require.NoError(t, store.SetOwner(ctx, "s1", "inst-a", time.Minute))

	w := do(hB, http.MethodPost, "s1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inst-a", w.Body.String(), "request must be served by the owner")

	owner, _, _ := store.GetOwner(ctx, "s1")
	assert.Equal(t, "inst-a", owner, "forwarding does not move the lease")
}

func TestMiddleware_TakesOverUnknownOwner(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryLeaseStore()
	h := instance(t, "inst-b", store, nil, nil)

	require.NoError(t, store.SetOwner(ctx, "s1", "inst-gone", time.Minute))

	w := do(h, http.MethodPost, "s1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inst-b", w.Body.String())

	owner, _, _ := store.GetOwner(ctx, "s1")
	assert.Equal(t, "inst-b", owner)
}

func TestMiddleware_ForwardedRequestIsServedLocally(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryLeaseStore()
	urlA, _ := url.Parse("http://127.0.0.1:1")
	h := instance(t, "inst-b", store, map[string]*url.URL{"inst-a": urlA}, nil)

	require.NoError(t, store.SetOwner(ctx, "s1", "inst-a", time.Minute))

	r := httptest.NewRequest(http.MethodPost, "http://gw/mcp", nil)
	r.Header.Set(DefaultSessionHeader, "s1")
	r.Header.Set(ForwardedHeader, "inst-a")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "inst-b", w.Body.String(), "no second hop")
}

func TestMiddleware_DeleteReleasesLease(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryLeaseStore()
	h := instance(t, "inst-a", store, nil, nil)

	require.NoError(t, store.SetOwner(ctx, "s1", "inst-a", time.Minute))
	w := do(h, http.MethodDelete, "s1")
	require.Equal(t, http.StatusOK, w.Code)

	_, ok, err := store.GetOwner(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMiddleware_InvalidSessionIsBadRequest(t *testing.T) {
	h := instance(t, "inst-a", infra.NewMemoryLeaseStore(), nil, nil)

	w := do(h, http.MethodPost, "../../etc/passwd")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type downStore struct{ domain.LeaseStore }

func (downStore) GetOwner(context.Context, string) (string, bool, error) {
	return "", false, errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
}

func TestMiddleware_StoreDownServesLocally(t *testing.T) {
	h := instance(t, "inst-a", downStore{}, nil, nil)

	w := do(h, http.MethodPost, "s1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inst-a", w.Body.String())
}

func TestMiddleware_UnreachableOwnerIsTakenOver(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryLeaseStore()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL, _ := url.Parse(dead.URL)
	dead.Close()

	h := instance(t, "inst-b", store, map[string]*url.URL{"inst-a": deadURL}, nil)
	require.NoError(t, store.SetOwner(ctx, "s1", "inst-a", time.Minute))

	w := do(h, http.MethodPost, "s1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	owner, _, _ := store.GetOwner(ctx, "s1")
	assert.Equal(t, "inst-b", owner)

	w = do(h, http.MethodPost, "s1")
	assert.Equal(t, "inst-b", w.Body.String(), "retry is served by the new owner")
}

func TestMiddleware_MetricsRegistrationIsReusable(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := Middleware(Options{Self: "a", Registerer: reg})
	require.NoError(t, err)
	_, err = Middleware(Options{Self: "a", Registerer: reg})
	require.NoError(t, err)
}

func TestMiddleware_NewSessionClaimedBeforeStreamEnds(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryLeaseStore()

	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(DefaultSessionHeader, "s1")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "data: ready\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(instanceWith(t, Options{Self: "inst-a", Store: store}, stream))
	defer srv.Close()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "s1", resp.Header.Get(DefaultSessionHeader))

	owner, ok, err := store.GetOwner(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok, "lease must exist while the stream is open")
	assert.Equal(t, "inst-a", owner)
}

func TestMiddleware_ErrorResponseDoesNotClaim(t *testing.T) {
	store := infra.NewMemoryLeaseStore()
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(DefaultSessionHeader, "s1")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	})
	h := instanceWith(t, Options{Self: "inst-a", Store: store}, failing)

	w := do(h, http.MethodPost, "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 0, store.Len())
}

func TestMiddleware_SilentHandlerStillClaims(t *testing.T) {
	store := infra.NewMemoryLeaseStore()
	silent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(DefaultSessionHeader, "s1")
	})
	h := instanceWith(t, Options{Self: "inst-a", Store: store}, silent)

	do(h, http.MethodPost, "")
	owner, ok, err := store.GetOwner(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "inst-a", owner)
}

func TestMiddleware_UntrustedForwardMarkerIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryLeaseStore()

	srvA := httptest.NewServer(instance(t, "inst-a", store, nil, nil))
	defer srvA.Close()
	urlA, _ := url.Parse(srvA.URL)
	hB := instance(t, "inst-b", store, map[string]*url.URL{"inst-a": urlA}, nil)

	require.NoError(t, store.SetOwner(ctx, "s1", "inst-a", time.Minute))

	for _, marker := range []string{"evil", "inst-b", "inst-c"} {
		r := httptest.NewRequest(http.MethodPost, "http://gw/mcp", nil)
		r.Header.Set(DefaultSessionHeader, "s1")
		r.Header.Set(ForwardedHeader, marker)
		w := httptest.NewRecorder()
		hB.ServeHTTP(w, r)

		assert.Equal(t, "inst-a", w.Body.String(), "marker %q must not skip forwarding", marker)
		owner, _, _ := store.GetOwner(ctx, "s1")
		assert.Equal(t, "inst-a", owner, "marker %q must not take the session over", marker)
	}
}

func TestMiddleware_ForwardSecretIsRequired(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryLeaseStore()

	srvA := httptest.NewServer(instanceWith(t, Options{Self: "inst-a", Store: store, ForwardSecret: "s3cret"}, nil))
	defer srvA.Close()
	urlA, _ := url.Parse(srvA.URL)
	hB := instanceWith(t, Options{
		Self:          "inst-b",
		Store:         store,
		Peers:         map[string]*url.URL{"inst-a": urlA},
		ForwardSecret: "s3cret",
	}, nil)

	require.NoError(t, store.SetOwner(ctx, "s1", "inst-a", time.Minute))

	send := func(token string) string {
		r := httptest.NewRequest(http.MethodPost, "http://gw/mcp", nil)
		r.Header.Set(DefaultSessionHeader, "s1")
		r.Header.Set(ForwardedHeader, "inst-a")
		if token != "" {
			r.Header.Set(ForwardTokenHeader, token)
		}
		w := httptest.NewRecorder()
		hB.ServeHTTP(w, r)
		return w.Body.String()
	}

	assert.Equal(t, "inst-a", send(""), "missing token")
	assert.Equal(t, "inst-a", send("wrong"), "wrong token")
	assert.Equal(t, "inst-a", send(""), "owner unchanged after rejected markers")

	assert.Equal(t, "inst-b", send("s3cret"), "valid peer forward is served locally")
}

func TestMiddleware_ForwardedRequestKeepsClientAddress(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryLeaseStore()

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, _ := net.SplitHostPort(r.RemoteAddr)
		_, _ = io.WriteString(w, host+"|"+r.Header.Get("X-Forwarded-For"))
	})
	placeholder, _ := url.Parse("http://127.0.0.1:1")
	srvB := httptest.NewServer(instanceWith(t, Options{
		Self:  "inst-b",
		Store: store,
		Peers: map[string]*url.URL{"inst-a": placeholder},
	}, echo))
	defer srvB.Close()
	urlB, _ := url.Parse(srvB.URL)
	hA := instance(t, "inst-a", store, map[string]*url.URL{"inst-b": urlB}, nil)

	require.NoError(t, store.SetOwner(ctx, "s1", "inst-b", time.Minute))

	r := httptest.NewRequest(http.MethodPost, "http://gw/mcp", nil)
	r.RemoteAddr = "203.0.113.1:40000"
	r.Header.Set(DefaultSessionHeader, "s1")
	w := httptest.NewRecorder()
	hA.ServeHTTP(w, r)
	assert.Equal(t, "203.0.113.1|", w.Body.String())

	r = httptest.NewRequest(http.MethodPost, "http://gw/mcp", nil)
	r.RemoteAddr = "198.51.100.7:40000"
	r.Header.Set(DefaultSessionHeader, "s1")
	r.Header.Set("X-Forwarded-For", "10.9.9.9")
	w = httptest.NewRecorder()
	hA.ServeHTTP(w, r)
	assert.Equal(t, "198.51.100.7|10.9.9.9", w.Body.String(), "client-supplied chain is preserved")
}

func TestWithForwardedClient_IgnoresGarbage(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Same(t, r, withForwardedClient(r))
}

func mustCounter(t *testing.T, reg prometheus.Registerer) *prometheus.CounterVec {
	t.Helper()
	m, err := newRouteMetrics(reg)
	require.NoError(t, err)
	return m.routes
}
