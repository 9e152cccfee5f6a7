package sshx

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Cmd describes a command to be executed on the remote host.
type Cmd struct {
	Cmd string
	Env map[string]string
}

// String compiles the command to be executed.
func (c *Cmd) String() string {
	cmd := c.Cmd

	// Note that we also need to wrap the command in a
	// shell if we want to inject environment variables.
	if len(c.Env) > 0 {
		cmd = "sh -c " + quote(c.Cmd)

		keys := make([]string, 0, len(c.Env))
		for k := range c.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		assignments := make([]string, 0, len(keys))
		for _, k := range keys {
			assignments = append(assignments, fmt.Sprintf("%s=%s", k, quote(c.Env[k])))
		}

		cmd = fmt.Sprintf("env %s %s", strings.Join(assignments, " "), cmd)
	}

	return cmd
}

// quote wraps a value in single quotes for a POSIX shell.
func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// Process is a command that was started on the remote host.
type Process struct {
	session *ssh.Session
	stdout  io.Reader
	stderr  io.Reader

	done chan struct{}
	err  error

	cancelOnce sync.Once
	cancelErr  error
}

// Start starts the command without waiting for it to finish. The output
// of the command must be consumed via Stdout and Stderr.
func (client *Client) Start(cmd *Cmd) (*Process, error) {
	if client.Client == nil {
		return nil, errors.New("not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := session.Start(cmd.String()); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	process := &Process{
		session: session,
		stdout:  stdout,
		stderr:  stderr,
		done:    make(chan struct{}),
	}

	go func() {
		process.err = session.Wait()
		close(process.done)
	}()

	return process, nil
}

// Stdout returns the standard output of the command.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Stderr returns the standard error of the command.
func (p *Process) Stderr() io.Reader {
	return p.stderr
}

// Done is closed once the remote side reported that the command ended.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Cancel asks the remote command to terminate and closes the session,
// which also unblocks readers of the output streams.
func (p *Process) Cancel() error {
	p.cancelOnce.Do(func() {
		// Many servers ignore signal requests, closing the session
		// is what actually stops the command.
		_ = p.session.Signal(ssh.SIGTERM)

		if err := p.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			p.cancelErr = err
		}
	})

	return p.cancelErr
}

// Finalize waits for the command to end and returns how it ended. Either
// value may be absent if the server did not report it.
func (p *Process) Finalize() (*int, string, error) {
	<-p.done

	// The channel is already closed by the server in most cases.
	_ = p.session.Close()

	return ExitStatus(p.err)
}

// ExitStatus interprets the error returned when waiting for a session.
// A termination signal takes precedence over the synthetic exit code the
// SSH library derives from it.
func ExitStatus(err error) (*int, string, error) {
	if err == nil {
		code := 0
		return &code, "", nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		if signal := exitErr.Signal(); signal != "" {
			return nil, signal, nil
		}

		code := exitErr.ExitStatus()
		return &code, "", nil
	}

	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		return nil, "", nil
	}

	return nil, "", err
}
