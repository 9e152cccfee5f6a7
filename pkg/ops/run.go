package ops

import (
	"context"

	"github.com/google/uuid"

	"github.com/nicklasfrahm/sshrunas/pkg/rexec"
)

// Run executes a single remote command. The settings passed via options
// are completed with the settings file, if one is configured.
func Run(ctx context.Context, options ...Option) (*rexec.Result, error) {
	// Fetch the options for this operation.
	opts, err := GetDefaultOptions().Apply(options...)
	if err != nil {
		return nil, err
	}

	settings := opts.Settings

	// Load the settings file.
	if opts.ConfigPath != "" {
		file, err := LoadSettings(opts.ConfigPath)
		if err != nil {
			return nil, &rexec.ConfigError{Violations: []string{"settings file " + opts.ConfigPath + ": " + err.Error()}}
		}

		if err := settings.Merge(file); err != nil {
			return nil, err
		}
	}

	config, err := settings.Resolve()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.With().Str("run", uuid.NewString()).Logger()

	dialer := opts.Dialer
	if dialer == nil {
		if dialer, err = rexec.NewSSH(
			rexec.WithLogger(&logger),
			rexec.WithTimeout(settings.Timeout),
			rexec.WithRetries(settings.Retries),
		); err != nil {
			return nil, err
		}
	}

	runner, err := rexec.NewRunner(dialer,
		rexec.WithLogger(&logger),
		rexec.WithStdout(opts.Stdout),
		rexec.WithStderr(opts.Stderr),
		rexec.WithPollInterval(settings.PollInterval),
		rexec.WithExclusiveLock(opts.ExclusiveLock),
	)
	if err != nil {
		return nil, err
	}

	return runner.Run(ctx, config)
}
