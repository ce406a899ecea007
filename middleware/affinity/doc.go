// Package affinity fornece o middleware net/http de afinidade de sessão.
//
// Cada requisição com header de sessão é atendida pela instância dona do
// lease: se o dono é outra instância conhecida, a requisição é repassada via
// reverse proxy; se não há dono (ou o dono sumiu), esta instância assume.
// Sessões novas (header de sessão na resposta) são registradas em nome desta
// instância e DELETE bem-sucedido libera o lease.
//
// Falha no lease store nunca derruba a requisição: ela é atendida localmente.
package affinity
