package chain

import (
	"errors"
	"fmt"
)

// Error vocabulary shared by adapters, the orchestrator and the reconciliation engine.
var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrUnsupportedNetwork   = errors.New("unsupported network")
	ErrExternalService      = errors.New("external service error")
	ErrDerivation           = errors.New("derivation error")
	ErrInternal             = errors.New("internal error")
)

// External wraps a transport or library failure as ErrExternalService
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrExternalService, err))
}

// Derivation wraps a key derivation failure as ErrDerivation
func Derivation(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to derive credential: %w", errors.Join(ErrDerivation, err))
}

// Insufficient builds an ErrInsufficientFunds error with the balance and requested amount
func Insufficient(balance, amount fmt.Stringer) error {
	return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, balance, amount)
}

// Invalid builds an ErrValidation error
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
