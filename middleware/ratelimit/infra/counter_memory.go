package infra

import (
	"context"
	"sync"
	"time"

	"coordination-gateway/middleware/ratelimit/domain"
)

const (
	ttlMissing   = time.Duration(-2)
	ttlNoExpiry  = time.Duration(-1)
	defaultSweep = 2 * time.Minute
)

var _ domain.CounterStore = (*MemoryCounterStore)(nil)

// MemoryCounterStore é o backend de contadores em memória da instância.
//
// Os contadores só existem neste processo: o limite vale por instância e não
// há cota global quando várias instâncias atendem a mesma identidade.
// A expiração é preguiçosa (checada em cada acesso) e o janitor apenas
// remove o que ninguém mais tocou.
type MemoryCounterStore struct {
	mu           sync.Mutex
	entries      map[string]*counterEntry
	now          func() time.Time
	cleanupEvery time.Duration
}

type counterEntry struct {
	count     int64
	expiresAt time.Time // zero: sem expiração
}

type MemoryCounterOption func(*MemoryCounterStore)

// WithCounterClock troca o relógio (útil em testes).
func WithCounterClock(now func() time.Time) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func WithCounterCleanupEvery(d time.Duration) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryCounterOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		entries:      make(map[string]*counterEntry),
		now:          time.Now,
		cleanupEvery: defaultSweep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live retorna a entrada se ainda não expirou. Chamar com mu travado.
func (s *MemoryCounterStore) live(key string, now time.Time) (*counterEntry, bool) {
	ent, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return ent, true
}

func (s *MemoryCounterStore) Increment(_ context.Context, key string) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.live(key, now)
	if !ok {
		ent = &counterEntry{}
		s.entries[key] = ent
	}
	ent.count++
	return ent.count, nil
}

func (s *MemoryCounterStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.live(key, now)
	if !ok {
		return nil
	}
	if ttl <= 0 {
		delete(s.entries, key)
		return nil
	}
	ent.expiresAt = now.Add(ttl)
	return nil
}

func (s *MemoryCounterStore) TTL(_ context.Context, key string) (time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.live(key, now)
	if !ok {
		return ttlMissing, nil
	}
	if ent.expiresAt.IsZero() {
		return ttlNoExpiry, nil
	}
	return ent.expiresAt.Sub(now), nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.live(key, now); ok {
		return ent.count, nil
	}
	return 0, nil
}

func (s *MemoryCounterStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len retorna quantos buckets estão em memória (inclui expirados ainda não varridos).
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup remove as janelas já expiradas.
func (s *MemoryCounterStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		s.live(k, now)
	}
}

// StartJanitor inicia uma goroutine que varre janelas expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}
