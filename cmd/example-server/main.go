package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coordination-gateway/middleware/affinity"
	"coordination-gateway/middleware/coordination"
	"coordination-gateway/middleware/ratelimit"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/klog/v2"
)

func main() {
	// Exemplo: middlewares montados direto no seu webserver (sem proxy), com
	// backends em memória. Contagens e posse de sessão valem só para este processo.
	log := klog.NewKlogr().WithName("example")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backends, err := coordination.New(ctx, coordination.Config{
		Backend:         coordination.KindMemory,
		RateWindow:      10 * time.Second,
		RateMaxRequests: 5,
	}, log)
	if err != nil {
		klog.Fatalf("coordination: %v", err)
	}
	defer func() { _ = backends.Close() }()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(affinity.DefaultSessionHeader) == "" {
			w.Header().Set(affinity.DefaultSessionHeader, uuid.NewString())
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := http.Handler(mux)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50, Logger: log})(h)
	limits := backends.Config
	h = ratelimit.Middleware(ratelimit.Options{
		Store:               backends.Counters,
		Window:              limits.RateWindow,
		MaxRequests:         limits.RateMaxRequests,
		Logger:              log.WithName("ratelimit"),
		UserHeader:          "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor:  true,
		ResourceFn:          ratelimit.FirstPathSegment,
		AddRateLimitHeaders: true,
	})(h)
	withAffinity, err := affinity.Middleware(affinity.Options{
		Self:   "example",
		Store:  backends.Leases,
		TTL:    limits.LeaseTTL,
		Logger: log.WithName("affinity"),
	})
	if err != nil {
		klog.Fatalf("affinity: %v", err)
	}
	h = withAffinity(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// O mesmo contador protege um servidor gRPC (aqui só o health check).
	gs := grpc.NewServer(grpc.UnaryInterceptor(ratelimit.UnaryServerInterceptor(ratelimit.GRPCOptions{
		Store:       backends.Counters,
		Window:      limits.RateWindow,
		MaxRequests: limits.RateMaxRequests,
		Logger:      log.WithName("grpc"),
		UserKey:     "x-api-key",
		FailOpen:    true,
	})))
	healthpb.RegisterHealthServer(gs, health.NewServer())

	grpcAddr := ":9091"
	if v := os.Getenv("GRPC_ADDR"); v != "" {
		grpcAddr = v
	}
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		klog.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := gs.Serve(lis); err != nil {
			log.Error(err, "grpc server")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gs.GracefulStop()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example server listening", "http", addr, "grpc", grpcAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		klog.Fatalf("server error: %v", err)
	}
}
