// Package rexec provides APIs to execute commands on remote machines.
package rexec

import (
	"context"
	"io"
	"os"

	"github.com/nicklasfrahm/sshrunas/pkg/sshx"
)

// Command represents a command that was started on the remote
// host. The API is similar to a started os/exec.Cmd.
type Command interface {
	// Stdout is the standard output of the command.
	Stdout() io.Reader
	// Stderr is the standard error of the command.
	Stderr() io.Reader
	// Done is closed once the command ended on the remote side.
	Done() <-chan struct{}
	// Cancel asks the command to stop. It may be called more than once.
	Cancel() error
	// Finalize waits for the command and reports its exit code or the
	// signal that terminated it. Both may be absent.
	Finalize() (exitCode *int, exitSignal string, err error)
}

// Session is an open connection to the execution environment.
type Session interface {
	// Upload copies a file to the execution environment. It stops
	// early if the context is done.
	Upload(ctx context.Context, target string, content io.Reader, mode os.FileMode) error
	// Start starts a command without waiting for it.
	Start(cmd *sshx.Cmd) (Command, error)
	// Close closes the connection.
	Close() error
}

// Dialer is the interface for opening sessions. This can be
// for example via SSH or an in-memory fake in tests.
type Dialer interface {
	// Dial establishes a connection to the execution environment.
	Dial(ctx context.Context, config *Config) (Session, error)
}
