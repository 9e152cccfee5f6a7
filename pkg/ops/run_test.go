package ops

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicklasfrahm/sshrunas/pkg/rexec"
	"github.com/nicklasfrahm/sshrunas/pkg/sshx"
)

// scriptedCommand has already finished when it is started.
type scriptedCommand struct {
	stdout, stderr io.Reader
	done           chan struct{}
	exitCode       int
}

func (c *scriptedCommand) Stdout() io.Reader     { return c.stdout }
func (c *scriptedCommand) Stderr() io.Reader     { return c.stderr }
func (c *scriptedCommand) Done() <-chan struct{} { return c.done }
func (c *scriptedCommand) Cancel() error         { return nil }

func (c *scriptedCommand) Finalize() (*int, string, error) {
	return &c.exitCode, "", nil
}

type scriptedDialer struct {
	config *rexec.Config
	cmd    *sshx.Cmd
}

func (d *scriptedDialer) Dial(ctx context.Context, config *rexec.Config) (rexec.Session, error) {
	d.config = config
	return d, nil
}

func (d *scriptedDialer) Upload(ctx context.Context, target string, content io.Reader, mode os.FileMode) error {
	return errors.New("uploads are not supported")
}

func (d *scriptedDialer) Start(cmd *sshx.Cmd) (rexec.Command, error) {
	d.cmd = cmd

	done := make(chan struct{})
	close(done)

	return &scriptedCommand{
		stdout:   strings.NewReader("Linux app 6.1.0\n"),
		stderr:   strings.NewReader(""),
		done:     done,
		exitCode: 5,
	}, nil
}

func (d *scriptedDialer) Close() error {
	return nil
}

func TestRun(t *testing.T) {
	t.Setenv("APP_USER", "deploy")
	t.Setenv("APP_PASSWORD", "s3cret")

	lockFile := filepath.Join(t.TempDir(), "run.lock")
	configPath := writeSettings(t, "host: app.example.com\nuser-env: APP_USER\npassword-env: APP_PASSWORD\nlock-file: "+lockFile+"\n")

	logger := zerolog.Nop()
	dialer := &scriptedDialer{}
	var stdout bytes.Buffer

	result, err := Run(context.Background(),
		WithLogger(&logger),
		WithConfigPath(configPath),
		WithSettings(Settings{Command: "uname -a"}),
		WithDialer(dialer),
		WithStdout(&stdout),
		WithStderr(io.Discard),
	)
	require.NoError(t, err)

	assert.Equal(t, 5, ExitCode(result, err))
	assert.Equal(t, "Linux app 6.1.0\n", stdout.String())
	assert.Equal(t, "uname -a", dialer.cmd.Cmd)
	assert.Equal(t, "deploy", dialer.config.SSH.User)
	assert.Equal(t, lockFile, dialer.config.LockFile)
	assert.NoFileExists(t, lockFile)
}

func TestRunMissingSettingsFile(t *testing.T) {
	logger := zerolog.Nop()
	dialer := &scriptedDialer{}

	result, err := Run(context.Background(),
		WithLogger(&logger),
		WithConfigPath(filepath.Join(t.TempDir(), "missing.yml")),
		WithDialer(dialer),
	)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, rexec.ErrConfigInvalid)
	assert.Equal(t, ExitInvalidConfig, ExitCode(result, err))
	assert.Nil(t, dialer.config)
}

func TestRunInvalidOptions(t *testing.T) {
	_, err := Run(context.Background(), WithStdout(nil))
	assert.Error(t, err)
}
