// Package fslock serializes writers of a shared artifact (the truststore, a
// shared authority's key and serial file) within a process and across
// processes.
package fslock

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/coral-mesh/clustertls/internal/constants"
	"github.com/coral-mesh/clustertls/internal/retry"
)

// ErrContended is returned by a single lock attempt when another process
// holds the lock.
var ErrContended = errors.New("lock is held by another process")

// Lock guards one artifact. The zero value is not usable; use New.
type Lock struct {
	path  string
	sem   chan struct{}
	retry retry.Config
}

// New returns a lock backed by the file at path (usually "<artifact>.lock").
// The file is created on first acquisition and left in place afterwards.
func New(path string) *Lock {
	return &Lock{
		path: path,
		sem:  make(chan struct{}, 1),
		retry: retry.Config{
			MaxAttempts:    constants.DefaultLockAttempts,
			InitialBackoff: constants.DefaultLockBackoff,
			MaxBackoff:     constants.DefaultLockMaxBackoff,
		},
	}
}

// ForArtifact returns a lock for the artifact at path.
func ForArtifact(path string) *Lock {
	return New(path + constants.LockSuffix)
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the in-process lock and then the OS file lock. The returned
// release function must be called exactly once.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// #nosec G304 - lock path is derived from the artifact layout.
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		<-l.sem
		return nil, fmt.Errorf("failed to open lock file %s: %w", l.path, err)
	}

	err = retry.Do(ctx, l.retry, func() error {
		return tryLockFile(f)
	}, func(err error) bool {
		return errors.Is(err, ErrContended)
	})
	if err != nil {
		_ = f.Close()
		<-l.sem
		return nil, fmt.Errorf("failed to lock %s: %w", l.path, err)
	}

	return func() {
		_ = unlockFile(f)
		_ = f.Close()
		<-l.sem
	}, nil
}

// With runs fn while holding the lock.
func (l *Lock) With(ctx context.Context, fn func() error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
