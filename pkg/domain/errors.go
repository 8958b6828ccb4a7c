package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationMissing matches ConfigurationMissingError.
	ErrConfigurationMissing = errors.New("rotting not configured")
	// ErrInvalidOperator matches InvalidOperatorError.
	ErrInvalidOperator = errors.New("use equality on rotting")
)

// ErrNotFound reports a missing record or category.
type ErrNotFound struct {
	Entity EntityType
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// IsNotFound reports whether err wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// ConfigurationMissingError is returned when rotting is searched on a type
// where it is not enabled.
type ConfigurationMissingError struct {
	Entity EntityType
	Reason string
}

func (e ConfigurationMissingError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Entity, ErrConfigurationMissing)
	}
	return fmt.Sprintf("%s: %v: %s", e.Entity, ErrConfigurationMissing, e.Reason)
}

func (e ConfigurationMissingError) Is(target error) bool {
	return target == ErrConfigurationMissing
}

// UserMessage is the text shown to end users.
func (e ConfigurationMissingError) UserMessage() string {
	return "Rotting is not configured for this record type."
}

// InvalidOperatorError is returned when rotting is searched with an operator
// other than set membership.
type InvalidOperatorError struct {
	Entity   EntityType
	Operator string
}

func (e InvalidOperatorError) Error() string {
	return fmt.Sprintf("%s: operator %q: %v", e.Entity, e.Operator, ErrInvalidOperator)
}

func (e InvalidOperatorError) Is(target error) bool {
	return target == ErrInvalidOperator
}

// UserMessage is the text shown to end users.
func (e InvalidOperatorError) UserMessage() string {
	return "For performance reasons, use equality on rotting."
}
