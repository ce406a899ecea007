package domain

// Camada de domínio do rate limit.
//
// Contratos e tipos sem dependência de net/http, gRPC ou Redis.

import (
	"context"
	"time"
)

// Key é a identidade do bucket (ex: "user:42", "ip:10.0.0.1", "anonymous").
type Key string

// Identity é o contexto de identidade (somente leitura) de uma requisição.
// Qualquer campo pode estar vazio; a precedência de resolução é
// UserID > ClientID > IP > anônimo.
type Identity struct {
	UserID   string
	ClientID string
	IP       string
}

// CounterStore é a capacidade mínima que o contador de janela fixa precisa do
// backend (memória local ou Redis).
//
// Increment deve ser atômico: nunca uma leitura seguida de uma escrita
// separada, porque várias instâncias podem incrementar o mesmo bucket ao
// mesmo tempo.
//
// TTL retorna um valor negativo quando a chave não existe ou não tem expiração
// (mesma convenção do PTTL do Redis: -2 ausente, -1 sem expiração).
type CounterStore interface {
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Get(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Decision é o resultado de uma verificação admitida (ou de um Status).
type Decision struct {
	Allowed bool
	Key     Key
	Bucket  string

	Limit     int64
	Count     int64
	Remaining int64

	// ResetIn é o tempo restante da janela atual. 0 quando desconhecido.
	ResetIn time.Duration
}
