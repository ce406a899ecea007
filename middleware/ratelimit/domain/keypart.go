package domain

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// MaxKeyPart é o maior valor guardado de forma legível numa chave.
const MaxKeyPart = 128

// Marcadores das formas codificadas. Nenhum deles pertence ao alfabeto
// literal nem ao base64url, então as três formas nunca se confundem.
const (
	encodedMark = '~'
	hashedMark  = '#'
)

// EncodeKeyPart leva um valor vindo de header para uma forma segura em
// chaves do Redis e em headers de resposta, sem perder distinção:
//
//   - só [A-Za-z0-9_.-] (e ':' quando allowColon), até MaxKeyPart bytes: literal;
//   - outros valores até MaxKeyPart bytes: '~' + base64url;
//   - valores maiores: '#' + sha256 em hex.
func EncodeKeyPart(s string, allowColon bool) string {
	if len(s) > MaxKeyPart {
		sum := sha256.Sum256([]byte(s))
		return string(hashedMark) + hex.EncodeToString(sum[:])
	}
	if isLiteralKeyPart(s, allowColon) {
		return s
	}
	return string(encodedMark) + base64.RawURLEncoding.EncodeToString([]byte(s))
}

// EncodeResource é a forma do resource usada em chaves de contador e de
// stats. Nunca contém ':'.
func EncodeResource(resource string) string {
	return EncodeKeyPart(strings.TrimSpace(resource), false)
}

func isLiteralKeyPart(s string, allowColon bool) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '-', c == '.':
		case c == ':' && allowColon:
		default:
			return false
		}
	}
	return true
}
