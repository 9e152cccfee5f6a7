package sshx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicklasfrahm/sshrunas/pkg/sshx/sshxtest"
)

func uploadClient(t *testing.T) *Client {
	t.Helper()

	config, _ := startServer(t, func(exec *sshxtest.Exec) {
		sshxtest.ExitWithStatus(exec.Channel, 0)
	})

	client, err := NewClient(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestUpload(t *testing.T) {
	client := uploadClient(t)
	target := filepath.Join(t.TempDir(), "nested", "job.sh")

	err := client.Upload(context.Background(), target, strings.NewReader("#!/bin/sh\ntrue\n"), 0750)
	require.NoError(t, err)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\ntrue\n", string(content))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0750), info.Mode().Perm())
}

func TestUploadCancelled(t *testing.T) {
	client := uploadClient(t)
	target := filepath.Join(t.TempDir(), "job.sh")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Upload(ctx, target, strings.NewReader("true\n"), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, target)
}
