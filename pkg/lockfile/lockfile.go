// Package lockfile implements an advisory marker file that prevents
// overlapping invocations against the same configured resource.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrHeld is returned when a marker already exists at the lock path.
var ErrHeld = errors.New("lock file exists")

// HeldError reports the path of a lock file that is already present.
type HeldError struct {
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lock file at '%s' exists, command will not be run", e.Path)
}

// Unwrap allows errors.Is(err, ErrHeld).
func (e *HeldError) Unwrap() error {
	return ErrHeld
}

// Lock is an advisory marker file. It is NOT an OS-level lock: by default
// the existence check and the write are two separate steps, so two
// processes racing for the same path may both succeed. Use WithExclusive
// to create the marker atomically instead.
type Lock struct {
	*Options

	Path string
}

// New creates a lock for the given path. An empty path disables locking.
func New(path string, options ...Option) (*Lock, error) {
	opts, err := GetDefaultOptions().Apply(options...)
	if err != nil {
		return nil, err
	}

	return &Lock{
		Options: opts,
		Path:    path,
	}, nil
}

// Acquire creates the marker file. The file content is the current
// process identifier and is informational only.
func (l *Lock) Acquire() error {
	if l.Path == "" {
		l.Logger.Debug().Msg("Lock file not specified, not creating one")
		return nil
	}

	if _, err := os.Stat(l.Path); err == nil {
		return &HeldError{Path: l.Path}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to inspect lock file: %w", err)
	}

	l.Logger.Info().Str("path", l.Path).Msg("Creating lock file")

	pid := []byte(strconv.Itoa(os.Getpid()))
	if l.Exclusive {
		if err := writeExclusive(l.Path, pid); err != nil {
			if errors.Is(err, os.ErrExist) {
				return &HeldError{Path: l.Path}
			}
			return fmt.Errorf("failed to create lock file: %w", err)
		}
	} else if err := os.WriteFile(l.Path, pid, 0644); err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	l.Logger.Info().Str("path", l.Path).Msg("Lock file created")

	return nil
}

// Release removes the marker file. A missing marker is logged and
// otherwise ignored, so calling Release repeatedly is safe.
func (l *Lock) Release() error {
	if l.Path == "" {
		l.Logger.Debug().Msg("Lock file not specified, not deleting one")
		return nil
	}

	if _, err := os.Stat(l.Path); os.IsNotExist(err) {
		l.Logger.Warn().Str("path", l.Path).Msg("Lock file specified, but does not exist, can not delete")
		return nil
	}

	l.Logger.Info().Str("path", l.Path).Msg("Deleting lock file")
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete lock file: %w", err)
	}

	return nil
}

func writeExclusive(path string, content []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	if _, err := file.Write(content); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}

	return file.Close()
}
