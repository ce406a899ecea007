package ratelimit

import (
	"context"
	"errors"
	"net"
	"path"
	"strings"
	"time"

	"coordination-gateway/middleware/ratelimit/application"
	"coordination-gateway/middleware/ratelimit/domain"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// GRPCOptions configura o interceptor de admissão para servidores gRPC.
type GRPCOptions struct {
	Store       domain.CounterStore
	Window      time.Duration
	MaxRequests int64

	Stats  domain.StatsStore
	Logger logr.Logger

	// UserKey / ClientKey são chaves de metadata (minúsculas).
	UserKey   string
	ClientKey string

	// IdentityFn substitui a extração padrão (metadata + peer).
	IdentityFn func(ctx context.Context) domain.Identity
	// ResourceFn recebe o FullMethod; padrão é o nome do método.
	ResourceFn func(fullMethod string) string

	FailOpen bool
}

// IdentityFromMetadata lê usuário/cliente da metadata de entrada e o IP do peer.
func IdentityFromMetadata(userKey, clientKey string) func(ctx context.Context) domain.Identity {
	return func(ctx context.Context) domain.Identity {
		var id domain.Identity
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			id.UserID = firstMD(md, userKey)
			id.ClientID = firstMD(md, clientKey)
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			addr := p.Addr.String()
			if host, _, err := net.SplitHostPort(addr); err == nil {
				addr = host
			}
			id.IP = addr
		}
		return id
	}
}

func firstMD(md metadata.MD, key string) string {
	if key == "" {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// UnaryServerInterceptor aplica o mesmo contador de janela fixa do middleware
// HTTP às chamadas unárias.
//
// Limite excedido vira ResourceExhausted com trailer "retry-after" (segundos);
// backend fora do ar vira Unavailable, a menos que FailOpen.
func UnaryServerInterceptor(opts GRPCOptions) grpc.UnaryServerInterceptor {
	if opts.UserKey == "" {
		opts.UserKey = "x-user-id"
	}
	if opts.ClientKey == "" {
		opts.ClientKey = "x-client-id"
	}
	if opts.IdentityFn == nil {
		opts.IdentityFn = IdentityFromMetadata(opts.UserKey, opts.ClientKey)
	}
	if opts.ResourceFn == nil {
		opts.ResourceFn = path.Base
	}

	svc := application.Service{
		Store:       opts.Store,
		Window:      opts.Window,
		MaxRequests: opts.MaxRequests,
		Logger:      opts.Logger,
	}
	errLog := &rate.Sometimes{First: 1, Interval: 10 * time.Second}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resource := opts.ResourceFn(info.FullMethod)

		dec, err := svc.Check(ctx, resource, opts.IdentityFn(ctx))
		if le, ok := domain.AsLimitExceeded(err); ok {
			recordGRPC(ctx, opts.Stats, le.Key, resource, info.FullMethod, false)
			_ = grpc.SetTrailer(ctx, metadata.Pairs("retry-after", formatInt(retryAfterSeconds(le.RetryAfter))))
			return nil, status.Error(codes.ResourceExhausted, le.Error())
		}
		if errors.Is(err, domain.ErrInvalidResource) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if err != nil {
			errLog.Do(func() {
				opts.Logger.Error(err, "rate limit backend unavailable", "method", info.FullMethod, "failOpen", opts.FailOpen)
			})
			if !opts.FailOpen {
				return nil, status.Error(codes.Unavailable, "rate limit backend unavailable")
			}
			return handler(ctx, req)
		}

		recordGRPC(ctx, opts.Stats, dec.Key, resource, info.FullMethod, true)
		return handler(ctx, req)
	}
}

func recordGRPC(ctx context.Context, stats domain.StatsStore, key domain.Key, resource, method string, allowed bool) {
	if stats == nil {
		return
	}
	_ = stats.Record(ctx, domain.StatsEvent{
		Key:      key,
		Resource: resource,
		Allowed:  allowed,
		Method:   "grpc",
		Path:     method,
		At:       time.Now(),
	})
}
