// Package relay copies one output stream of a remote command to a local
// sink while the command is running.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	chunkSize    = 32 * 1024
	chunkBacklog = 16
)

// ErrFailed is wrapped by every error caused by a broken source or sink.
var ErrFailed = errors.New("relay failed")

// Error describes a failure of a single relay.
type Error struct {
	Stream string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s relay failed: %v", e.Stream, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	return []error{ErrFailed, e.Err}
}

// Flusher is implemented by sinks that buffer writes.
type Flusher interface {
	Flush() error
}

// Relay copies bytes from a source to a sink. A relay is used for a
// single run and owns both ends exclusively.
type Relay struct {
	*Options

	Name   string
	Source io.Reader
	Sink   io.Writer
}

// New creates a relay. The name is only used for diagnostics.
func New(name string, source io.Reader, sink io.Writer, options ...Option) (*Relay, error) {
	if source == nil || sink == nil {
		return nil, errors.New("relay needs both a source and a sink")
	}

	opts, err := GetDefaultOptions().Apply(options...)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.With().Str("stream", name).Logger()
	opts.Logger = &logger

	return &Relay{
		Options: opts,
		Name:    name,
		Source:  source,
		Sink:    sink,
	}, nil
}

// Run copies the source to the sink once per interval until the source is
// exhausted, the context is cancelled or finished is closed. Closing
// finished triggers a final drain of everything the source still holds.
func (r *Relay) Run(ctx context.Context, finished <-chan struct{}) error {
	chunks := make(chan []byte, chunkBacklog)
	stopped := make(chan struct{})
	defer close(stopped)

	// readErr is written by the pump before it closes chunks and only
	// read here after chunks was observed closed.
	var readErr error
	go r.pump(chunks, stopped, &readErr)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Logger.Info().Msg("Relay cancelled")
			return ctx.Err()
		case <-finished:
			return r.drain(ctx, chunks, &readErr)
		case <-ticker.C:
			open, err := r.copyPending(chunks)
			if err != nil {
				return r.fail(err)
			}
			if !open {
				return r.exhausted(readErr)
			}
		}
	}
}

// pump reads the source into chunks. Once the relay stopped, the rest of
// the source is discarded so that the remote side never blocks on a full
// channel window.
func (r *Relay) pump(chunks chan<- []byte, stopped <-chan struct{}, readErr *error) {
	defer close(chunks)

	buf := make([]byte, chunkSize)
	for {
		n, err := r.Source.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case chunks <- chunk:
			case <-stopped:
				io.Copy(io.Discard, r.Source)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				*readErr = err
			}
			return
		}
	}
}

// copyPending writes every chunk that is available right now and flushes
// the sink. It reports false once the source is exhausted.
func (r *Relay) copyPending(chunks <-chan []byte) (bool, error) {
	written := false
	defer func() {
		if written {
			r.flush()
		}
	}()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return false, nil
			}
			if _, err := r.Sink.Write(chunk); err != nil {
				return true, err
			}
			written = true
		default:
			return true, nil
		}
	}
}

func (r *Relay) drain(ctx context.Context, chunks <-chan []byte, readErr *error) error {
	r.Logger.Debug().Msg("Command finished, draining remaining output")

	timeout := time.NewTimer(r.DrainTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Logger.Info().Msg("Relay cancelled")
			return ctx.Err()
		case <-timeout.C:
			r.flush()
			r.Logger.Warn().Dur("timeout", r.DrainTimeout).Msg("Output did not end after the command finished, giving up")
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				r.flush()
				return r.exhausted(*readErr)
			}
			if _, err := r.Sink.Write(chunk); err != nil {
				return r.fail(err)
			}
		}
	}
}

func (r *Relay) flush() {
	flusher, ok := r.Sink.(Flusher)
	if !ok {
		return
	}
	if err := flusher.Flush(); err != nil {
		r.Logger.Debug().Err(err).Msg("Failed to flush sink")
	}
}

func (r *Relay) exhausted(readErr error) error {
	if readErr != nil {
		return r.fail(readErr)
	}
	r.Logger.Debug().Msg("Output stream ended")
	return nil
}

func (r *Relay) fail(err error) error {
	r.Logger.Warn().Err(err).Msg("An output stream has failed, output will stop, but the command is still running")
	return &Error{Stream: r.Name, Err: err}
}
