package errors

import (
	stderrors "errors"
	"fmt"
)

// UsageError reports an invocation that cannot be acted on. Nothing has been
// attempted when it is returned.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}

// Usagef builds a UsageError.
func Usagef(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// IsUsage reports whether err is, or wraps, a UsageError.
func IsUsage(err error) bool {
	var ue *UsageError
	return stderrors.As(err, &ue)
}

// ToolError is a failed key-generation, signing or store operation.
// It aborts the whole provisioning run.
type ToolError struct {
	// Op names the capability that failed, e.g. "genkeypair" or "importcert".
	Op string
	// Path is the artifact the operation was writing or reading.
	Path string
	Err  error
}

func (e *ToolError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Tool wraps err as a ToolError. A nil err stays nil.
func Tool(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var te *ToolError
	if stderrors.As(err, &te) {
		return err
	}
	return &ToolError{Op: op, Path: path, Err: err}
}

// IsTool reports whether err is, or wraps, a ToolError.
func IsTool(err error) bool {
	var te *ToolError
	return stderrors.As(err, &te)
}
