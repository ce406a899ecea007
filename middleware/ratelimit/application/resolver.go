package application

import (
	"strings"

	"coordination-gateway/middleware/ratelimit/domain"
)

// AnonymousKey é o bucket usado quando a requisição não traz nenhuma identidade.
const AnonymousKey domain.Key = "anonymous"

// ResolveKey deriva exatamente um bucket por requisição, com a precedência
// fixa UserID > ClientID > IP > anônimo.
//
// Toda instância precisa usar esta mesma função, senão a mesma identidade
// lógica cai em buckets diferentes dependendo de quem atendeu. Valores
// distintos geram Keys distintas (domain.EncodeKeyPart não é lossy).
func ResolveKey(id domain.Identity) domain.Key {
	if v := strings.TrimSpace(id.UserID); v != "" {
		return domain.Key("user:" + domain.EncodeKeyPart(v, true))
	}
	if v := strings.TrimSpace(id.ClientID); v != "" {
		return domain.Key("client:" + domain.EncodeKeyPart(v, true))
	}
	if v := strings.TrimSpace(id.IP); v != "" {
		return domain.Key("ip:" + domain.EncodeKeyPart(v, true))
	}
	return AnonymousKey
}

// BucketKey combina o resourceKey com a identidade resolvida. O resource
// codificado não tem ':', então o primeiro ':' sempre separa as duas partes.
func BucketKey(resource string, key domain.Key) string {
	return domain.EncodeResource(resource) + ":" + string(key)
}
