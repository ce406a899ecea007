package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"coordination-gateway/middleware/ratelimit/domain"
)

// IdentityFunc extrai o contexto de identidade de uma requisição HTTP.
type IdentityFunc func(r *http.Request) domain.Identity

// DefaultIdentityFunc lê o usuário e o cliente de headers (vazio desliga) e o
// IP de X-Forwarded-For (se confiável) ou de RemoteAddr.
//
// A precedência entre eles é aplicada depois, por application.ResolveKey.
func DefaultIdentityFunc(userHeader, clientHeader string, trustXFF bool) IdentityFunc {
	return func(r *http.Request) domain.Identity {
		var id domain.Identity
		if userHeader != "" {
			id.UserID = strings.TrimSpace(r.Header.Get(userHeader))
		}
		if clientHeader != "" {
			id.ClientID = strings.TrimSpace(r.Header.Get(clientHeader))
		}
		id.IP = ClientIP(r, trustXFF)
		return id
	}
}

// ClientIP retorna o IP do cliente. Com trustXFF pega o primeiro IP do
// X-Forwarded-For (cliente original).
func ClientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
