package application

import (
	"context"
	"time"

	"coordination-gateway/middleware/affinity/domain"

	"github.com/go-logr/logr"
)

// Route é a visão de posse de uma sessão no momento da leitura.
type Route struct {
	SessionID string
	Owner     string
	// Known: existe lease válido.
	Known bool
	// Local: o dono é esta instância.
	Local bool
}

// Router aplica o lease store ao roteamento. Não sabe nada de HTTP.
//
// A posse é consultiva: Claim sobrescreve quem estiver lá (último escritor
// vence), tanto ao aceitar uma sessão nova quanto ao assumir uma existente.
type Router struct {
	Self   string
	Store  domain.LeaseStore
	TTL    time.Duration
	Logger logr.Logger
}

// Resolve consulta o dono atual. Em erro de backend devolve a rota sem dono
// e o erro original; quem chama decide se atende localmente.
func (r Router) Resolve(ctx context.Context, sessionID string) (Route, error) {
	route := Route{SessionID: sessionID}
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return route, err
	}
	if r.Store == nil {
		return route, nil
	}

	owner, ok, err := r.Store.GetOwner(ctx, sessionID)
	if err != nil {
		return route, err
	}
	route.Owner = owner
	route.Known = ok
	route.Local = ok && owner == r.Self
	return route, nil
}

// Claim registra (ou renova) esta instância como dona da sessão.
func (r Router) Claim(ctx context.Context, sessionID string) error {
	if r.Store == nil {
		return domain.ValidateSessionID(sessionID)
	}
	if err := r.Store.SetOwner(ctx, sessionID, r.Self, r.TTL); err != nil {
		return err
	}
	r.Logger.V(2).Info("session lease claimed", "session", sessionID, "owner", r.Self)
	return nil
}

// Release remove o lease no encerramento gracioso da sessão.
func (r Router) Release(ctx context.Context, sessionID string) error {
	if r.Store == nil {
		return domain.ValidateSessionID(sessionID)
	}
	if err := r.Store.DeleteOwner(ctx, sessionID); err != nil {
		return err
	}
	r.Logger.V(1).Info("session lease released", "session", sessionID, "owner", r.Self)
	return nil
}
