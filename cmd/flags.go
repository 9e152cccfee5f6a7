package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nicklasfrahm/sshrunas/pkg/ops"
	"github.com/nicklasfrahm/sshrunas/pkg/rexec"
	"github.com/nicklasfrahm/sshrunas/pkg/sshx"
)

// runFlags holds the raw values of the command line flags.
type runFlags struct {
	configPath    string
	command       string
	server        string
	port          int
	userEnv       string
	passwordEnv   string
	keyFile       string
	fingerprint   string
	knownHosts    string
	lockFile      string
	env           []string
	uploads       []string
	timeout       time.Duration
	retries       int
	pollInterval  time.Duration
	verbosity     int
	exclusiveLock bool
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "path to a YAML settings file")
	fs.StringVarP(&f.command, "command", "c", "", "command to run on the remote host")
	fs.StringVarP(&f.server, "server", "s", "", "hostname or IP address of the remote host")
	fs.IntVarP(&f.port, "port", "P", sshx.DefaultPort, "SSH port of the remote host")
	fs.StringVarP(&f.userEnv, "user", "u", "", "name of the environment variable holding the SSH user")
	fs.StringVarP(&f.passwordEnv, "pass_env", "p", "", "name of the environment variable holding the SSH password")
	fs.StringVar(&f.keyFile, "key-file", "", "path to a private key used instead of a password")
	fs.StringVar(&f.fingerprint, "fingerprint", "", "expected SHA256 fingerprint of the host key")
	fs.StringVar(&f.knownHosts, "known-hosts", "", "path to a known_hosts file used to verify the host key")
	fs.StringVarP(&f.lockFile, "lockfile", "l", "", "path of a lock file that prevents concurrent runs")
	fs.StringArrayVar(&f.env, "env", nil, "environment variable for the remote command as KEY=VALUE")
	fs.StringArrayVar(&f.uploads, "upload", nil, "local file to upload before the command runs as SOURCE:TARGET")
	fs.DurationVar(&f.timeout, "timeout", 0, "timeout for establishing the connection")
	fs.IntVar(&f.retries, "retries", 0, "number of retries if the connection fails")
	fs.DurationVar(&f.pollInterval, "poll-interval", 0, "interval in which output is relayed")
	fs.IntVarP(&f.verbosity, "verbosity", "v", 0, "verbosity of the logs from 0 to 2")
	fs.BoolVar(&f.exclusiveLock, "exclusive-lock", false, "create the lock file atomically")
}

// settings converts the flags into settings. Flags that were not set
// are left empty so that the settings file can provide them.
func (f *runFlags) settings(cmd *cobra.Command) (ops.Settings, error) {
	settings := ops.Settings{
		Command: f.command,
		Endpoint: ops.Endpoint{
			Host:        f.server,
			UserEnv:     f.userEnv,
			PasswordEnv: f.passwordEnv,
			KeyFile:     f.keyFile,
			Fingerprint: f.fingerprint,
			KnownHosts:  f.knownHosts,
		},
		LockFile:     f.lockFile,
		Timeout:      f.timeout,
		Retries:      f.retries,
		PollInterval: f.pollInterval,
	}

	if cmd.Flags().Changed("port") {
		settings.Port = f.port
	}

	var violations []string

	env, err := parseEnv(f.env)
	if err != nil {
		violations = append(violations, err.Error())
	}
	settings.Env = env

	uploads, err := parseUploads(f.uploads)
	if err != nil {
		violations = append(violations, err.Error())
	}
	settings.Uploads = uploads

	if len(violations) > 0 {
		return settings, &rexec.ConfigError{Violations: violations}
	}

	return settings, nil
}

// parseEnv parses a list of KEY=VALUE pairs.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("env %q must have the form KEY=VALUE", pair)
		}
		env[key] = value
	}

	return env, nil
}

// parseUploads parses a list of SOURCE:TARGET pairs.
func parseUploads(pairs []string) ([]rexec.Upload, error) {
	var uploads []rexec.Upload
	for _, pair := range pairs {
		source, target, ok := strings.Cut(pair, ":")
		if !ok || source == "" || target == "" {
			return nil, fmt.Errorf("upload %q must have the form SOURCE:TARGET", pair)
		}
		uploads = append(uploads, rexec.Upload{Source: source, Target: target})
	}

	return uploads, nil
}
