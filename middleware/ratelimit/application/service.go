package application

import (
	"context"
	"strings"
	"time"

	"coordination-gateway/middleware/ratelimit/domain"

	"github.com/go-logr/logr"
)

const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 60

	// mesma convenção do PTTL do Redis
	ttlNoExpiry = time.Duration(-1)
)

// Service concentra a regra do contador de janela fixa.
//
// Ele não sabe nada sobre HTTP/gRPC: Check admite (Decision, nil) ou rejeita
// com *domain.LimitExceededError. Qualquer outro erro é de infraestrutura e
// volta sem modificação.
//
// Com um CounterStore em memória o limite vale apenas para esta instância;
// não existe cota global entre instâncias sem o backend compartilhado.
//
// Janela fixa permite até 2x MaxRequests em volta da virada de janela
// (MaxRequests no fim de uma e MaxRequests no começo da próxima).
type Service struct {
	Store       domain.CounterStore
	Window      time.Duration
	MaxRequests int64
	Logger      logr.Logger
}

func (s Service) window() time.Duration {
	if s.Window <= 0 {
		return DefaultWindow
	}
	return s.Window
}

func (s Service) limit() int64 {
	if s.MaxRequests <= 0 {
		return DefaultMaxRequests
	}
	return s.MaxRequests
}

// Check incrementa o contador de (resource, identidade) e decide.
func (s Service) Check(ctx context.Context, resource string, id domain.Identity) (domain.Decision, error) {
	if strings.TrimSpace(resource) == "" {
		return domain.Decision{}, domain.ErrInvalidResource
	}

	key := ResolveKey(id)
	bucket := BucketKey(resource, key)
	limit := s.limit()

	if s.Store == nil {
		return domain.Decision{Allowed: true, Key: key, Bucket: bucket, Limit: limit, Remaining: limit}, nil
	}

	window := s.window()

	count, err := s.Store.Increment(ctx, bucket)
	if err != nil {
		return domain.Decision{}, err
	}
	if count == 1 {
		if err := s.Store.Expire(ctx, bucket, window); err != nil {
			return domain.Decision{}, err
		}
	}

	ttl, err := s.Store.TTL(ctx, bucket)
	if err != nil {
		return domain.Decision{}, err
	}
	if ttl < 0 {
		// contador sem expiração: quem criou a janela caiu entre Increment e Expire
		if ttl == ttlNoExpiry {
			if err := s.Store.Expire(ctx, bucket, window); err != nil {
				return domain.Decision{}, err
			}
		}
		ttl = window
	}

	if count > limit {
		s.Logger.V(1).Info("rate limit exceeded", "bucket", bucket, "count", count, "limit", limit, "retryAfter", ttl)
		return domain.Decision{Key: key, Bucket: bucket, Limit: limit, Count: count, ResetIn: ttl},
			&domain.LimitExceededError{Key: key, Bucket: bucket, Limit: limit, RetryAfter: ttl}
	}

	return domain.Decision{
		Allowed:   true,
		Key:       key,
		Bucket:    bucket,
		Limit:     limit,
		Count:     count,
		Remaining: limit - count,
		ResetIn:   ttl,
	}, nil
}

// Status lê o contador sem incrementar.
func (s Service) Status(ctx context.Context, resource string, id domain.Identity) (domain.Decision, error) {
	if strings.TrimSpace(resource) == "" {
		return domain.Decision{}, domain.ErrInvalidResource
	}

	key := ResolveKey(id)
	bucket := BucketKey(resource, key)
	limit := s.limit()
	dec := domain.Decision{Key: key, Bucket: bucket, Limit: limit}
	if s.Store == nil {
		dec.Allowed = true
		dec.Remaining = limit
		return dec, nil
	}

	count, err := s.Store.Get(ctx, bucket)
	if err != nil {
		return domain.Decision{}, err
	}
	dec.Count = count
	dec.Allowed = count < limit
	if count < limit {
		dec.Remaining = limit - count
	}
	if count > 0 {
		ttl, err := s.Store.TTL(ctx, bucket)
		if err != nil {
			return domain.Decision{}, err
		}
		if ttl > 0 {
			dec.ResetIn = ttl
		}
	}
	return dec, nil
}

// Reset descarta a janela atual do bucket.
func (s Service) Reset(ctx context.Context, resource string, id domain.Identity) error {
	if strings.TrimSpace(resource) == "" {
		return domain.ErrInvalidResource
	}
	if s.Store == nil {
		return nil
	}
	return s.Store.Delete(ctx, BucketKey(resource, ResolveKey(id)))
}
