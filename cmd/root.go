package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nicklasfrahm/sshrunas/pkg/ops"
	"github.com/nicklasfrahm/sshrunas/pkg/rexec"
)

var version = "dev"
var help bool

// exitCode is the exit code of the process after the command has run.
var exitCode int

var flags = &runFlags{}

var rootCmd = &cobra.Command{
	Use:   ops.Program,
	Short: "Run a command on a remote host via SSH",
	Long: `Run a single command on a remote host via SSH and
relay its output to the local terminal. The remote exit
code is passed through, a remote signal N is reported
as exit code 128+N.

Credentials are read from environment variables, the
flags only name them. A lock file may be used to make
sure that only one instance runs at a time.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if help {
			cmd.Help()
			os.Exit(0)
		}
	},
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(flags.verbosity)

		settings, err := flags.settings(cmd)
		if err != nil {
			return report(&logger, nil, err)
		}

		// The first signal cancels the run, a second one terminates
		// the process immediately.
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		stopNotice := context.AfterFunc(ctx, func() {
			cancel()
			logger.Warn().Msg("Received interrupt, press CTRL+C again to exit immediately")
		})
		defer stopNotice()

		result, err := ops.Run(ctx,
			ops.WithLogger(&logger),
			ops.WithConfigPath(flags.configPath),
			ops.WithSettings(settings),
			ops.WithExclusiveLock(flags.exclusiveLock),
		)

		return report(&logger, result, err)
	},
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&help, "help", "h", false, "display help for command")
	flags.register(rootCmd.Flags())
}

// newLogger creates a console logger on stderr. Stdout is reserved for the
// output of the remote command.
func newLogger(verbosity int) zerolog.Logger {
	level := zerolog.WarnLevel
	switch {
	case verbosity >= 2:
		level = zerolog.DebugLevel
	case verbosity == 1:
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	}).Level(level).With().Timestamp().Logger()
}

// report logs the outcome of a run and records the exit code.
func report(logger *zerolog.Logger, result *rexec.Result, err error) error {
	exitCode = ops.ExitCode(result, err)
	outcome := ops.Outcome(result, err)

	event := logger.Info()
	if exitCode != 0 {
		event = logger.Error().Err(err)
	}
	event.Str("outcome", outcome).Int("exit_code", exitCode).Msg("Run finished")

	return err
}

// Execute starts the invocation of the command line interface.
func Execute() {
	if err := rootCmd.Execute(); err != nil && exitCode == 0 {
		// Errors of the flag parser never reach the run.
		rootCmd.PrintErrln("Error:", err)
		exitCode = ops.ExitInvalidConfig
	}

	os.Exit(exitCode)
}
