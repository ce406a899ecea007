// Package infra contém os lease stores concretos:
//
//   - MemoryLeaseStore: mapa na memória da instância, expiração preguiçosa
//     (checada no GetOwner) e varredura periódica opcional
//   - RedisLeaseStore: chaves prefix+sessionId com TTL no Redis, compartilhadas
//     entre instâncias
package infra
