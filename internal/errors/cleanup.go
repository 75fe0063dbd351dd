// Package errors provides the error taxonomy and cleanup helpers used across clustertls.
package errors

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/clustertls/internal/safe"
)

// DeferRemove deletes a transient file (signing request, staging keystore) with logging.
// A file that is already gone is not an error.
func DeferRemove(logger zerolog.Logger, path string) {
	if path == "" {
		return
	}
	if err := safe.RemoveIfExists(path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to remove transient file")
	}
}

// Must panics if error is not nil.
// Use only for initialization code where failure should halt the program.
func Must(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("%s: %v", msg, err))
	}
}
