package lockfile

import "github.com/rs/zerolog"

// Options contains the configuration for a lock.
type Options struct {
	Logger    *zerolog.Logger
	Exclusive bool
}

// Option applies a configuration option to a lock.
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

// GetDefaultOptions returns the default options for a lock.
func GetDefaultOptions() *Options {
	logger := zerolog.Nop()

	return &Options{
		Logger: &logger,
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

// WithExclusive creates the marker with O_EXCL, which closes the race
// window between the existence check and the write.
func WithExclusive(exclusive bool) Option {
	return func(options *Options) error {
		options.Exclusive = exclusive
		return nil
	}
}
