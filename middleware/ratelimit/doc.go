// Package ratelimit fornece adapters (net/http e gRPC) para o rate limit de
// janela fixa e para o limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (Identity, CounterStore, LimitExceededError)
//   - application: resolução de chave e o algoritmo de janela fixa, sem net/http
//   - infra: backends concretos (memória, Redis), semáforo, estatísticas
//   - ratelimit (este pacote): middlewares + extração de identidade + tradução
//     para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a identidade (usuário, cliente, IP) da requisição
//  2. application.Service.Check resolve um único bucket e incrementa o contador
//  3. Se excedido, responde 429 com Retry-After = tempo restante da janela
//  4. Se o backend falhar, responde 503 ou deixa passar (FailOpen)
//  5. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Com o backend em memória o limite é por instância; a cota só é global
// quando todas as instâncias apontam para o mesmo Redis.
package ratelimit
