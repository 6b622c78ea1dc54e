package model

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by this package wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	// ErrConfig marks an invalid configuration. Only raised by New and
	// Config.Validate.
	ErrConfig = errors.New("invalid configuration")
	// ErrShape marks a cache entry that does not fit the layer it was
	// handed to.
	ErrShape = errors.New("shape mismatch")
	// ErrInput marks malformed forward input, such as an out-of-range token.
	ErrInput = errors.New("invalid input")
)

// ConfigError describes one rejected configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ShapeError reports an incompatible cache entry. Layer is -1 when the
// problem is with the cache as a whole.
type ShapeError struct {
	Layer  int
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Layer < 0 {
		return fmt.Sprintf("cache: %s", e.Reason)
	}
	return fmt.Sprintf("cache: layer %d: %s", e.Layer, e.Reason)
}

func (e *ShapeError) Unwrap() error { return ErrShape }

func shapeErrorf(layer int, format string, args ...any) error {
	return &ShapeError{Layer: layer, Reason: fmt.Sprintf(format, args...)}
}

// InputError reports malformed token input.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return "input: " + e.Reason }

func (e *InputError) Unwrap() error { return ErrInput }

func inputErrorf(format string, args ...any) error {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}
