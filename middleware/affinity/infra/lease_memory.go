package infra

import (
	"context"
	"sync"
	"time"

	"coordination-gateway/middleware/affinity/domain"

	"github.com/go-logr/logr"
)

var _ domain.LeaseStore = (*MemoryLeaseStore)(nil)

// MemoryLeaseStore guarda leases só nesta instância. Serve para um único
// processo (ou testes); outras instâncias não enxergam estas posses.
type MemoryLeaseStore struct {
	mu     sync.Mutex
	leases map[string]domain.Lease

	now          func() time.Time
	defaultTTL   time.Duration
	cleanupEvery time.Duration
	logger       logr.Logger

	stopJanitor context.CancelFunc
}

type MemoryLeaseOption func(*MemoryLeaseStore)

func WithClock(now func() time.Time) MemoryLeaseOption {
	return func(s *MemoryLeaseStore) { s.now = now }
}

func WithDefaultTTL(d time.Duration) MemoryLeaseOption {
	return func(s *MemoryLeaseStore) {
		if d > 0 {
			s.defaultTTL = d
		}
	}
}

func WithCleanupEvery(d time.Duration) MemoryLeaseOption {
	return func(s *MemoryLeaseStore) { s.cleanupEvery = d }
}

func WithLogger(l logr.Logger) MemoryLeaseOption {
	return func(s *MemoryLeaseStore) { s.logger = l }
}

func NewMemoryLeaseStore(opts ...MemoryLeaseOption) *MemoryLeaseStore {
	s := &MemoryLeaseStore{
		leases:       make(map[string]domain.Lease),
		now:          time.Now,
		defaultTTL:   domain.DefaultLeaseTTL,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryLeaseStore) SetOwner(_ context.Context, sessionID, instanceID string, ttl time.Duration) error {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.now()

	s.mu.Lock()
	s.leases[sessionID] = domain.Lease{SessionID: sessionID, Owner: instanceID, ExpiresAt: now.Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryLeaseStore) GetOwner(_ context.Context, sessionID string) (string, bool, error) {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return "", false, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[sessionID]
	if !ok {
		return "", false, nil
	}
	if l.Expired(now) {
		delete(s.leases, sessionID)
		return "", false, nil
	}
	return l.Owner, true, nil
}

func (s *MemoryLeaseStore) DeleteOwner(_ context.Context, sessionID string) error {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.leases, sessionID)
	s.mu.Unlock()
	return nil
}

// Len conta os leases em memória, incluindo expirados ainda não varridos.
func (s *MemoryLeaseStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leases)
}

// Sweep remove os leases expirados e devolve quantos removeu.
func (s *MemoryLeaseStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, l := range s.leases {
		if l.Expired(now) {
			delete(s.leases, id)
			n++
		}
	}
	return n
}

// StartJanitor varre leases expirados a cada cleanupEvery até ctx encerrar
// ou Close ser chamado. Chamadas repetidas substituem o janitor anterior.
func (s *MemoryLeaseStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}
	jctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.stopJanitor != nil {
		s.stopJanitor()
	}
	s.stopJanitor = cancel
	s.mu.Unlock()

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-jctx.Done():
				return
			case <-t.C:
				if n := s.Sweep(); n > 0 {
					s.logger.V(1).Info("expired session leases swept", "count", n)
				}
			}
		}
	}()
}

// Close para o janitor e descarta todos os leases.
func (s *MemoryLeaseStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopJanitor != nil {
		s.stopJanitor()
		s.stopJanitor = nil
	}
	clear(s.leases)
	return nil
}
