package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrProviderFailure     = errors.New("generation provider failure")
	ErrGenerationBusy      = errors.New("user already has a generation in flight")
	ErrInvalidExecContext  = errors.New("invalid executor context")
	ErrReadDatabaseRow     = errors.New("failed to read database row")
)

// InsufficientCreditsError reports how far short the balance fell.
// errors.Is(err, ErrInsufficientCredits) matches it.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d (short %d)", e.Required, e.Available, e.Shortfall())
}

func (e *InsufficientCreditsError) Shortfall() int64 { return e.Required - e.Available }

func (e *InsufficientCreditsError) Is(target error) bool { return target == ErrInsufficientCredits }

// ProviderError wraps a failure from an external generation provider so callers
// can still match ErrProviderFailure while keeping the provider detail.
type ProviderError struct {
	Provider string
	Detail   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Detail)
}

func (e *ProviderError) Is(target error) bool { return target == ErrProviderFailure }
