package relay

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the delay between two copy cycles.
	DefaultInterval = 250 * time.Millisecond
	// DefaultDrainTimeout bounds the final drain after the command finished.
	DefaultDrainTimeout = 5 * time.Second
)

// Options contains the configuration for a relay.
type Options struct {
	Logger       *zerolog.Logger
	Interval     time.Duration
	DrainTimeout time.Duration
}

// Option applies a configuration option to a relay.
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

// GetDefaultOptions returns the default options for a relay.
func GetDefaultOptions() *Options {
	logger := zerolog.Nop()

	return &Options{
		Logger:       &logger,
		Interval:     DefaultInterval,
		DrainTimeout: DefaultDrainTimeout,
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

// WithInterval sets the delay between two copy cycles.
func WithInterval(interval time.Duration) Option {
	return func(options *Options) error {
		if interval <= 0 {
			return errors.New("relay interval must be positive")
		}
		options.Interval = interval
		return nil
	}
}

// WithDrainTimeout bounds how long the final drain may take.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(options *Options) error {
		if timeout <= 0 {
			return errors.New("relay drain timeout must be positive")
		}
		options.DrainTimeout = timeout
		return nil
	}
}
