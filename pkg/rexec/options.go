package rexec

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nicklasfrahm/sshrunas/pkg/relay"
)

const (
	// DefaultShutdownTimeout bounds how long a cancelled run waits
	// for the output relays.
	DefaultShutdownTimeout = 2 * time.Second
)

// Options contains the configuration for an operation.
type Options struct {
	Logger *zerolog.Logger
	Stdout io.Writer
	Stderr io.Writer

	PollInterval    time.Duration
	DrainTimeout    time.Duration
	ShutdownTimeout time.Duration
	ExclusiveLock   bool

	Timeout time.Duration
	Retries int
}

// Option applies a configuration option
// for the execution of an operation.
type Option func(options *Options) error

// Apply applies the option functions to the current set of options.
func (o *Options) Apply(options ...Option) (*Options, error) {
	for _, option := range options {
		if err := option(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// GetDefaultOptions returns the default options
// for all operations of this library.
func GetDefaultOptions() *Options {
	logger := log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})

	return &Options{
		Logger:          &logger,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
		PollInterval:    relay.DefaultInterval,
		DrainTimeout:    relay.DefaultDrainTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Timeout:         time.Second * 5,
	}
}

// WithLogger allows to use a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(options *Options) error {
		if logger != nil {
			options.Logger = logger
		}
		return nil
	}
}

// WithStdout sets the sink for the standard output of the command.
func WithStdout(stdout io.Writer) Option {
	return func(options *Options) error {
		if stdout == nil {
			return errors.New("stdout sink must not be nil")
		}
		options.Stdout = stdout
		return nil
	}
}

// WithStderr sets the sink for the standard error of the command.
func WithStderr(stderr io.Writer) Option {
	return func(options *Options) error {
		if stderr == nil {
			return errors.New("stderr sink must not be nil")
		}
		options.Stderr = stderr
		return nil
	}
}

// WithPollInterval sets the delay between two copy cycles of the relays.
func WithPollInterval(interval time.Duration) Option {
	return func(options *Options) error {
		if interval > 0 {
			options.PollInterval = interval
		}
		return nil
	}
}

// WithDrainTimeout bounds the final drain of the relays.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(options *Options) error {
		if timeout > 0 {
			options.DrainTimeout = timeout
		}
		return nil
	}
}

// WithShutdownTimeout bounds how long a cancelled run waits for the relays.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(options *Options) error {
		if timeout > 0 {
			options.ShutdownTimeout = timeout
		}
		return nil
	}
}

// WithExclusiveLock creates the lock file atomically.
func WithExclusiveLock(exclusive bool) Option {
	return func(options *Options) error {
		options.ExclusiveLock = exclusive
		return nil
	}
}

// WithTimeout allows to set a custom connection timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(options *Options) error {
		if timeout > 0 {
			options.Timeout = timeout
		}
		return nil
	}
}

// WithRetries sets how often a failed connection attempt is repeated.
func WithRetries(retries int) Option {
	return func(options *Options) error {
		if retries < 0 {
			return errors.New("retries must not be negative")
		}
		options.Retries = retries
		return nil
	}
}
