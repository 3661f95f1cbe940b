package model

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every error that reports malformed scenario
// or session input (unknown condition types, bad orbital elements, invalid
// time scales). Callers should check it with errors.Is.
var ErrConfiguration = errors.New("configuration error")

// ConfigError describes a rejected configuration value.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

// NewConfigError builds a ConfigError that wraps the optional sentinel err.
func NewConfigError(field, reason string, err error) *ConfigError {
	return &ConfigError{Field: field, Reason: reason, Err: err}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Is reports true for ErrConfiguration and for the wrapped sentinel.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfiguration {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

func (e *ConfigError) Unwrap() error { return e.Err }
