package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Ele é "agnóstico de transporte": Method/Path são strings genéricas e podem
// vir de HTTP ou de um método gRPC.
//
// Cuidado com cardinalidade: salvar Key/Path sem controle pode explodir o
// número de séries/chaves no Redis ou no Prometheus.
type StatsEvent struct {
	Key      Key
	Resource string
	Allowed  bool

	Method string
	Path   string

	At time.Time
}

// StatsStore persiste estatísticas de decisão.
// O middleware trata erro como best-effort (não derruba a request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
