// Package privilege hands provisioned artifacts back to the user who invoked
// clustertls through sudo.
package privilege

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

// Owner is the user that should own the artifacts.
type Owner struct {
	Username string
	UID      int
	GID      int
}

// LookupEnv reads an environment variable.
type LookupEnv func(key string) string

// DetectInvoker returns the user behind sudo. ok is false when the process
// was not started through sudo.
func DetectInvoker(env LookupEnv) (owner *Owner, ok bool, err error) {
	sudoUser := env("SUDO_USER")
	if sudoUser == "" {
		return nil, false, nil
	}

	uidStr := env("SUDO_UID")
	gidStr := env("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return nil, false, fmt.Errorf("SUDO_USER set but SUDO_UID or SUDO_GID missing")
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, false, fmt.Errorf("invalid SUDO_UID: %w", err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, false, fmt.Errorf("invalid SUDO_GID: %w", err)
	}

	return &Owner{Username: sudoUser, UID: uid, GID: gid}, true, nil
}

// IsRoot checks if the current process is running with root privileges (euid
// == 0).
func IsRoot() bool {
	return os.Geteuid() == 0
}

// chown is replaced in tests.
var chown = os.Lchown

// Plan lists the paths to hand back. Missing paths are skipped and symlinks
// are never followed.
type Plan struct {
	// Trees are given with everything below them.
	Trees []string
	// Entries are given alone, without descending into directories.
	Entries []string
}

// Chown gives the paths of plan to owner.
func Chown(plan Plan, owner Owner) (int, error) {
	changed := 0
	for _, path := range plan.Entries {
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := chown(path, owner.UID, owner.GID); err != nil {
			return changed, fmt.Errorf("failed to chown %s to %d:%d: %w", path, owner.UID, owner.GID, err)
		}
		changed++
	}
	for _, root := range plan.Trees {
		if _, err := os.Lstat(root); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := chown(path, owner.UID, owner.GID); err != nil {
				return fmt.Errorf("failed to chown %s to %d:%d: %w", path, owner.UID, owner.GID, err)
			}
			changed++
			return nil
		})
		if err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// HandBack gives the paths of plan to the sudo invoker. It is a no-op unless
// the process runs as root through sudo.
func HandBack(plan Plan, logger zerolog.Logger) error {
	if !IsRoot() {
		return nil
	}
	owner, ok, err := DetectInvoker(os.Getenv)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	changed, err := Chown(plan, *owner)
	if err != nil {
		return err
	}
	logger.Debug().
		Str("user", owner.Username).
		Int("paths", changed).
		Msg("Handed artifacts back to sudo user")
	return nil
}
