package domain

import (
	"context"
	"time"
)

// DefaultLeaseTTL é usado quando SetOwner recebe ttl <= 0 e o store não foi
// configurado com outro valor.
const DefaultLeaseTTL = 30 * time.Minute

// Lease associa uma sessão à instância dona até ExpiresAt.
type Lease struct {
	SessionID string
	Owner     string
	ExpiresAt time.Time
}

// Expired reporta se o lease já não vale em now.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// LeaseStore é o registro de posse de sessões.
//
//   - SetOwner sobrescreve incondicionalmente e renova a expiração para now+ttl
//     (ttl <= 0 usa o padrão do store).
//   - GetOwner devolve ok=false quando nunca foi definido ou já expirou.
//   - DeleteOwner é idempotente.
//   - Close libera recursos do backend.
//
// Erros de transporte/protocolo voltam sem modificação; quem chama decide o
// fallback (ex: tratar como "sem dono conhecido").
type LeaseStore interface {
	SetOwner(ctx context.Context, sessionID, instanceID string, ttl time.Duration) error
	GetOwner(ctx context.Context, sessionID string) (owner string, ok bool, err error)
	DeleteOwner(ctx context.Context, sessionID string) error
	Close() error
}
