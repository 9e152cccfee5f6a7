package cmd

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicklasfrahm/sshrunas/pkg/rexec"
)

func parseFlags(t *testing.T, args ...string) (*runFlags, *cobra.Command) {
	t.Helper()

	f := &runFlags{}
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse(args))

	return f, cmd
}

func TestSettingsFromFlags(t *testing.T) {
	f, cmd := parseFlags(t,
		"-c", "df -h",
		"-s", "db.example.com",
		"-P", "2200",
		"-u", "DB_USER",
		"-p", "DB_PASS",
		"-l", "/var/lock/df.lock",
		"--env", "LANG=C",
		"--env", "EMPTY=",
		"--upload", "check.sh:/tmp/check.sh",
		"--timeout", "3s",
		"-v", "2",
	)

	settings, err := f.settings(cmd)
	require.NoError(t, err)

	assert.Equal(t, "df -h", settings.Command)
	assert.Equal(t, "db.example.com", settings.Host)
	assert.Equal(t, 2200, settings.Port)
	assert.Equal(t, "DB_USER", settings.UserEnv)
	assert.Equal(t, "DB_PASS", settings.PasswordEnv)
	assert.Equal(t, "/var/lock/df.lock", settings.LockFile)
	assert.Equal(t, map[string]string{"LANG": "C", "EMPTY": ""}, settings.Env)
	assert.Equal(t, []rexec.Upload{{Source: "check.sh", Target: "/tmp/check.sh"}}, settings.Uploads)
	assert.Equal(t, 3*time.Second, settings.Timeout)
	assert.Equal(t, 2, f.verbosity)
}

func TestSettingsFromFlagsKeepsDefaultPortUnset(t *testing.T) {
	f, cmd := parseFlags(t, "-c", "uptime")

	settings, err := f.settings(cmd)
	require.NoError(t, err)
	assert.Zero(t, settings.Port)
	assert.Nil(t, settings.Env)
}

func TestSettingsFromFlagsInvalid(t *testing.T) {
	f, cmd := parseFlags(t, "--env", "NOVALUE", "--upload", "only-source")

	_, err := f.settings(cmd)
	require.ErrorIs(t, err, rexec.ErrConfigInvalid)

	var configErr *rexec.ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Len(t, configErr.Violations, 2)
}

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, "warn", newLogger(0).GetLevel().String())
	assert.Equal(t, "info", newLogger(1).GetLevel().String())
	assert.Equal(t, "debug", newLogger(2).GetLevel().String())
	assert.Equal(t, "debug", newLogger(7).GetLevel().String())
}
