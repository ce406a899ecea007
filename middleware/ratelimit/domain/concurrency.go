package domain

import "context"

// SlotPool representa um recurso com capacidade finita (ex: requisições em voo
// na instância).
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar; a função de
// release retornada deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
