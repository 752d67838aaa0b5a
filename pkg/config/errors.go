package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks across the load path.
var (
	ErrConfigNotFound = errors.New("configuration file not found")

	ErrInvalidYAML = errors.New("invalid YAML syntax")

	ErrValidationFailed = errors.New("configuration validation failed")

	ErrMissingRequiredField = errors.New("missing required field")

	ErrInvalidValue = errors.New("invalid field value")
)

// ValidationError reports which config section and field failed validation.
type ValidationError struct {
	Component string // section: server, llm, function_hub, agent, session
	Field     string // optional
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field '%s': %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func NewValidationError(component, field string, err error) *ValidationError {
	return &ValidationError{
		Component: component,
		Field:     field,
		Err:       err,
	}
}

// LoadError carries the file name alongside a read or parse failure.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func NewLoadError(file string, err error) *LoadError {
	return &LoadError{
		File: file,
		Err:  err,
	}
}
