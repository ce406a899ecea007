// Package domain define contratos e tipos de domínio para rate limit de janela
// fixa e limite de concorrência.
//
// Este pacote não depende de net/http, gRPC nem de implementações concretas
// (memória/Redis), o que permite testes de unidade puros.
package domain
