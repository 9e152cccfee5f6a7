package sshx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestCmdString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Cmd
		expected string
	}{
		{
			name:     "plain",
			cmd:      Cmd{Cmd: "uptime"},
			expected: "uptime",
		},
		{
			name:     "plain command is not wrapped",
			cmd:      Cmd{Cmd: "echo $HOME"},
			expected: "echo $HOME",
		},
		{
			name:     "env sorted",
			cmd:      Cmd{Cmd: "make", Env: map[string]string{"B": "2", "A": "1"}},
			expected: "env A='1' B='2' sh -c 'make'",
		},
		{
			name:     "quotes escaped",
			cmd:      Cmd{Cmd: "echo 'hi'", Env: map[string]string{"MSG": "it's"}},
			expected: `env MSG='it'\''s' sh -c 'echo '\''hi'\'''`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cmd.String())
		})
	}
}

func TestExitStatus(t *testing.T) {
	code, signal, err := ExitStatus(nil)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, 0, *code)
	assert.Empty(t, signal)

	code, signal, err = ExitStatus(&ssh.ExitMissingError{})
	require.NoError(t, err)
	assert.Nil(t, code)
	assert.Empty(t, signal)

	broken := errors.New("connection lost")
	_, _, err = ExitStatus(broken)
	assert.ErrorIs(t, err, broken)
}
