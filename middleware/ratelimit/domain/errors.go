package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited é o sentinel de "limite excedido". Use errors.Is.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidResource indica um resourceKey vazio.
	ErrInvalidResource = errors.New("invalid resource key")
)

// LimitExceededError carrega o necessário para montar a resposta ao cliente
// sem consultar o backend de novo.
type LimitExceededError struct {
	Key        Key
	Bucket     string
	Limit      int64
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: limit %d, retry after %s", e.Key, e.Limit, e.RetryAfter)
}

func (e *LimitExceededError) Is(target error) bool { return target == ErrRateLimited }

// AsLimitExceeded extrai o *LimitExceededError de uma cadeia de erros.
func AsLimitExceeded(err error) (*LimitExceededError, bool) {
	var le *LimitExceededError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsInfrastructure reporta se err é uma falha de backend (Redis fora do ar,
// erro de protocolo, ...), ou seja, nem limite excedido nem erro de entrada.
func IsInfrastructure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrInvalidResource)
}
