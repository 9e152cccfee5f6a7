package rexec

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/nicklasfrahm/sshrunas/pkg/sshx"
)

// fakeCommand is an in-memory command whose output is fed by the test.
type fakeCommand struct {
	stdout, stderr             *io.PipeReader
	stdoutWriter, stderrWriter *io.PipeWriter

	done      chan struct{}
	doneOnce  sync.Once
	cancelled chan struct{}
	cancel    sync.Once

	exitCode    *int
	exitSignal  string
	finalizeErr error
}

func newFakeCommand() *fakeCommand {
	c := &fakeCommand{
		done:      make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	c.stdout, c.stdoutWriter = io.Pipe()
	c.stderr, c.stderrWriter = io.Pipe()
	return c
}

// exit closes the output streams and marks the command as finished.
func (c *fakeCommand) exit(code *int, signal string) {
	c.exitCode = code
	c.exitSignal = signal
	c.stdoutWriter.Close()
	c.stderrWriter.Close()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *fakeCommand) Stdout() io.Reader     { return c.stdout }
func (c *fakeCommand) Stderr() io.Reader     { return c.stderr }
func (c *fakeCommand) Done() <-chan struct{} { return c.done }

func (c *fakeCommand) Cancel() error {
	c.cancel.Do(func() {
		close(c.cancelled)
		c.stdoutWriter.Close()
		c.stderrWriter.Close()
	})
	return nil
}

func (c *fakeCommand) Finalize() (*int, string, error) {
	<-c.done
	return c.exitCode, c.exitSignal, c.finalizeErr
}

type fakeSession struct {
	mu       sync.Mutex
	command  *fakeCommand
	startErr error
	started  *sshx.Cmd
	uploads  map[string][]byte
	modes    map[string]os.FileMode
	onUpload func(target string)
	closed   bool
}

func (s *fakeSession) Upload(ctx context.Context, target string, content io.Reader, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploads == nil {
		s.uploads = make(map[string][]byte)
		s.modes = make(map[string]os.FileMode)
	}
	s.uploads[target] = buf.Bytes()
	s.modes[target] = mode

	if s.onUpload != nil {
		s.onUpload(target)
	}
	return nil
}

func (s *fakeSession) Start(cmd *sshx.Cmd) (Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.started = cmd
	return s.command, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	session *fakeSession
	err     error
	onDial  func()
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, config *Config) (Session, error) {
	d.dials++
	if d.onDial != nil {
		d.onDial()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}
