package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrInvalidProduct      = errors.New("invalid product")
	ErrInvalidState        = errors.New("operation not allowed in current state")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInconsistency       = errors.New("stock inconsistency")
	ErrAlreadyOpen         = errors.New("cash session already open")
	ErrNoOpenSession       = errors.New("no open cash session")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidType         = errors.New("invalid movement type")
	ErrNoValidItems        = errors.New("no valid items to return")
	ErrZeroAmount          = errors.New("credit note total must be positive")

	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
)

// notFound maps gorm's missing-row error onto ErrNotFound and wraps anything else.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", ErrValidation, field)
	}
	return id, nil
}

func parseOptionalID(raw *string, field string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := parseID(*raw, field)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
