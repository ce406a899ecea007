// Package infra contém implementações concretas para os contratos do pacote
// domain.
//
//   - MemoryCounterStore: contadores de janela fixa na memória da instância
//   - RedisCounterStore: contadores compartilhados no Redis (INCR/PEXPIRE/PTTL)
//   - ChanPool: semáforo simples para limite de concorrência
//   - MemoryStatsStore / RedisStatsStore / PrometheusStats: estatísticas de decisão
package infra
