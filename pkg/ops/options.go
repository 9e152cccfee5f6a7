package ops

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nicklasfrahm/sshrunas/pkg/rexec"
)

const (
	// Program is the name of the program as shown in logs and help texts.
	Program = "sshrunas"
)

// Options contains the configuration for an operation.
type Options struct {
	ConfigPath    string
	Settings      Settings
	Logger        *zerolog.Logger
	Stdout        io.Writer
	Stderr        io.Writer
	ExclusiveLock bool
	Dialer        rexec.Dialer
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
		Logger: &logger,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// WithConfigPath loads additional settings from a YAML file. Settings
// passed via WithSettings take precedence over the file.
func WithConfigPath(configPath string) Option {
	return func(options *Options) error {
		options.ConfigPath = configPath
		return nil
	}
}

// WithSettings sets the settings of the run, usually taken from
// command line flags.
func WithSettings(settings Settings) Option {
	return func(options *Options) error {
		options.Settings = settings
		return nil
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(options *Options) error {
		if logger != nil {
			options.Logger = logger
		}
		return nil
	}
}

// WithStdout overrides where the standard output of the command is written to.
func WithStdout(stdout io.Writer) Option {
	return func(options *Options) error {
		if stdout == nil {
			return errors.New("stdout sink must not be nil")
		}
		options.Stdout = stdout
		return nil
	}
}

// WithStderr overrides where the standard error of the command is written to.
func WithStderr(stderr io.Writer) Option {
	return func(options *Options) error {
		if stderr == nil {
			return errors.New("stderr sink must not be nil")
		}
		options.Stderr = stderr
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

// WithDialer replaces the SSH dialer.
func WithDialer(dialer rexec.Dialer) Option {
	return func(options *Options) error {
		options.Dialer = dialer
		return nil
	}
}
