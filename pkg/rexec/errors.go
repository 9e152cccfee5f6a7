package rexec

import (
	"errors"
	"fmt"

	"github.com/nicklasfrahm/sshrunas/pkg/lockfile"
)

var (
	// ErrConfigInvalid is wrapped by every ConfigError.
	ErrConfigInvalid = errors.New("configuration invalid")
	// ErrLockHeld is returned if the lock file already exists.
	ErrLockHeld = lockfile.ErrHeld
	// ErrSession is wrapped by every SessionError.
	ErrSession = errors.New("session failed")
	// ErrCancelled is returned if the run was cancelled by the caller.
	ErrCancelled = errors.New("command cancelled")
	// ErrAmbiguousTermination is returned together with the result if the
	// command ended without an exit code and without an exit signal.
	ErrAmbiguousTermination = errors.New("command ended without exit code or exit signal")
)

// SessionError describes a failure of the session collaborator.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s failed: %v", e.Op, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *SessionError) Unwrap() []error {
	return []error{ErrSession, e.Err}
}
