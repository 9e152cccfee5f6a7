package rexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicklasfrahm/sshrunas/pkg/lockfile"
	"github.com/nicklasfrahm/sshrunas/pkg/relay"
	"github.com/nicklasfrahm/sshrunas/pkg/sshx"
)

// Result describes how the remote command ended. For a normal
// termination exactly one of the two fields is set.
type Result struct {
	// ExitCode is the exit status reported by the server, if any.
	ExitCode *int
	// ExitSignal is the name of the signal that terminated the
	// command, if any, e.g. "KILL" or "TERM".
	ExitSignal string
}

// Ambiguous reports whether the server sent neither an exit code
// nor an exit signal.
func (r *Result) Ambiguous() bool {
	return r.ExitCode == nil && r.ExitSignal == ""
}

// Runner runs a single command per call to Run. It holds no state
// between runs.
type Runner struct {
	*Options

	Dialer Dialer
}

// NewRunner creates a runner that opens sessions with the given dialer.
func NewRunner(dialer Dialer, options ...Option) (*Runner, error) {
	if dialer == nil {
		return nil, errors.New("dialer must not be nil")
	}

	opts, err := GetDefaultOptions().Apply(options...)
	if err != nil {
		return nil, err
	}

	return &Runner{
		Options: opts,
		Dialer:  dialer,
	}, nil
}

// Run validates the configuration, acquires the lock file, opens a session
// and runs the command while relaying its output. Once the lock file was
// created it is removed again on every return path.
func (r *Runner) Run(ctx context.Context, config *Config) (result *Result, err error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	lock, err := lockfile.New(config.LockFile,
		lockfile.WithLogger(r.Logger),
		lockfile.WithExclusive(r.ExclusiveLock),
	)
	if err != nil {
		return nil, err
	}

	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			r.Logger.Error().Err(releaseErr).Msg("Failed to release lock file")
			if err == nil {
				err = releaseErr
			}
		}
	}()

	if ctx.Err() != nil {
		return nil, ErrCancelled
	}

	r.Logger.Info().Str("address", config.SSH.Address()).Msg("Opening session")
	session, err := r.Dialer.Dial(ctx, config)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, &SessionError{Op: "open", Err: err}
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			r.Logger.Debug().Err(closeErr).Msg("Failed to close session")
		}
	}()

	for _, upload := range config.Uploads {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		if err := r.upload(ctx, session, upload); err != nil {
			if ctx.Err() != nil {
				return nil, ErrCancelled
			}
			return nil, err
		}
	}

	r.Logger.Debug().Str("command", config.Command).Msg("Starting command")
	command, err := session.Start(&sshx.Cmd{
		Cmd: config.Command,
		Env: config.Env,
	})
	if err != nil {
		return nil, &SessionError{Op: "start", Err: err}
	}

	return r.execute(ctx, command)
}

// execute relays the output of a started command and waits for both
// relays and the command to finish, or for the context to be cancelled.
func (r *Runner) execute(ctx context.Context, command Command) (*Result, error) {
	stdout, err := relay.New("STDOUT", command.Stdout(), r.Stdout, r.relayOptions()...)
	if err != nil {
		command.Cancel()
		return nil, fmt.Errorf("failed to set up relay: %w", err)
	}

	stderr, err := relay.New("STDERR", command.Stderr(), r.Stderr, r.relayOptions()...)
	if err != nil {
		command.Cancel()
		return nil, fmt.Errorf("failed to set up relay: %w", err)
	}

	// The relays never cancel each other, a failing relay is logged by
	// the relay itself and the command keeps running.
	var group errgroup.Group
	for _, rl := range []*relay.Relay{stdout, stderr} {
		group.Go(func() error {
			return rl.Run(ctx, command.Done())
		})
	}

	relaysDone := make(chan error, 1)
	go func() {
		relaysDone <- group.Wait()
	}()

	select {
	case <-ctx.Done():
		return nil, r.cancel(command, relaysDone)
	case err := <-relaysDone:
		if err != nil {
			r.Logger.Debug().Err(err).Msg("Output relay ended early")
		}
	}

	select {
	case <-ctx.Done():
		return nil, r.cancel(command, nil)
	case <-command.Done():
	}

	exitCode, exitSignal, err := command.Finalize()
	if err != nil {
		return nil, &SessionError{Op: "wait", Err: err}
	}

	result := &Result{
		ExitCode:   exitCode,
		ExitSignal: exitSignal,
	}

	switch {
	case exitSignal != "":
		r.Logger.Info().Str("signal", exitSignal).Msg("Process was terminated by a signal")
	case exitCode != nil:
		r.Logger.Info().Int("exit_code", *exitCode).Msg("Process exited")
	default:
		r.Logger.Warn().Msg("Process exited without exit code or exit signal")
		return result, ErrAmbiguousTermination
	}

	return result, nil
}

// cancel asks the command to stop and waits a bounded amount of time for
// the relays, which observe the same cancellation.
func (r *Runner) cancel(command Command, relaysDone <-chan error) error {
	r.Logger.Warn().Msg("Cancelling command")

	if err := command.Cancel(); err != nil {
		r.Logger.Warn().Err(err).Msg("Failed to cancel command")
	}

	if relaysDone != nil {
		timeout := time.NewTimer(r.ShutdownTimeout)
		defer timeout.Stop()

		select {
		case <-relaysDone:
			r.Logger.Debug().Msg("Output relays stopped")
		case <-timeout.C:
			r.Logger.Warn().Dur("timeout", r.ShutdownTimeout).Msg("Output relays did not stop in time")
		}
	}

	r.Logger.Info().Msg("Command cancelled")

	return ErrCancelled
}

func (r *Runner) upload(ctx context.Context, session Session, upload Upload) error {
	file, err := os.Open(upload.Source)
	if err != nil {
		return fmt.Errorf("failed to open upload source: %w", err)
	}
	defer file.Close()

	mode := upload.Mode
	if mode == 0 {
		if info, err := file.Stat(); err == nil {
			mode = info.Mode().Perm()
		}
	}

	r.Logger.Info().Str("source", upload.Source).Str("target", upload.Target).Msg("Uploading file")
	if err := session.Upload(ctx, upload.Target, file, mode); err != nil {
		return &SessionError{Op: "upload", Err: err}
	}

	return nil
}

func (r *Runner) relayOptions() []relay.Option {
	return []relay.Option{
		relay.WithLogger(r.Logger),
		relay.WithInterval(r.PollInterval),
		relay.WithDrainTimeout(r.DrainTimeout),
	}
}
