package config

import (
	"fmt"
	"strings"

	"github.com/coral-mesh/clustertls/internal/logging"
	"github.com/coral-mesh/clustertls/internal/provision"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// Validate validates Config.
func (c *Config) Validate() error {
	var errors []ValidationError

	if _, err := provision.ParseMode(c.Mode); err != nil {
		errors = append(errors, ValidationError{Field: "mode", Message: err.Error()})
	}

	if c.Dir == "" {
		errors = append(errors, ValidationError{Field: "dir", Message: "working directory is required"})
	}

	if c.Truststore == "" {
		errors = append(errors, ValidationError{Field: "truststore", Message: "truststore file is required"})
	}

	if err := ValidatePassphrase(c.RootPass); err != nil {
		errors = append(errors, ValidationError{Field: "root_pass", Message: err.Error()})
	}
	if err := ValidatePassphrase(c.StorePass); err != nil {
		errors = append(errors, ValidationError{Field: "store_pass", Message: err.Error()})
	}

	if c.Parallelism < 1 {
		errors = append(errors, ValidationError{
			Field:   "parallelism",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Parallelism),
		})
	}

	if c.Log.Level != "" && !logging.ValidLevel(c.Log.Level) {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unknown level %q", c.Log.Level),
		})
	}

	if len(errors) > 0 {
		return &MultiValidationError{Errors: errors}
	}
	return nil
}
