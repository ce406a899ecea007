// Package domain define o contrato do registro de posse de sessões (lease
// store) usado para afinidade de roteamento entre instâncias.
//
// Leases são consultivos: expiram por TTL e o último SetOwner vence, sem
// compare-and-swap. Não é um protocolo de consenso.
package domain
