// Package application contém os casos de uso do rate limit e do limite de
// concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http nem Redis.
// Ex.: Service.Check(ctx, "search", identity) admite ou devolve
// *domain.LimitExceededError com o retry-after da janela.
package application
