package domain

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidSessionID é o sentinel dos erros de validação de sessão.
var ErrInvalidSessionID = errors.New("invalid session id")

const maxSessionIDLen = 256

var safeSessionID = regexp.MustCompile(`^[A-Za-z0-9_:-]+$`)

// ValidationError indica um identificador rejeitado antes de qualquer I/O.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidSessionID }

// IsValidation reporta se err é (ou embrulha) um erro de validação de sessão.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSessionID)
}

// ValidateSessionID aceita apenas letras, dígitos, '-', '_' e ':'.
// Qualquer outra coisa (ex: "../", espaços, '*') é rejeitada.
func ValidateSessionID(id string) error {
	if id == "" {
		return &ValidationError{Field: "sessionId", Reason: "empty"}
	}
	if len(id) > maxSessionIDLen {
		return &ValidationError{Field: "sessionId", Value: id[:32] + "...", Reason: "too long"}
	}
	if !safeSessionID.MatchString(id) {
		return &ValidationError{Field: "sessionId", Value: id, Reason: "must match [A-Za-z0-9_:-]+"}
	}
	return nil
}
