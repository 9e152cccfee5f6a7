package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	for _, exclusive := range []bool{false, true} {
		t.Run("exclusive="+strconv.FormatBool(exclusive), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "run.lock")

			lock, err := New(path, WithExclusive(exclusive))
			require.NoError(t, err)

			require.NoError(t, lock.Acquire())

			content, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

			require.NoError(t, lock.Release())
			assert.NoFileExists(t, path)
		})
	}
}

func TestAcquireHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	require.NoError(t, os.WriteFile(path, []byte("other"), 0644))

	for _, exclusive := range []bool{false, true} {
		lock, err := New(path, WithExclusive(exclusive))
		require.NoError(t, err)

		err = lock.Acquire()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrHeld))

		var held *HeldError
		require.True(t, errors.As(err, &held))
		assert.Equal(t, path, held.Path)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "other", string(content), "existing marker must not be rewritten")
	}
}

func TestEmptyPathIsNoop(t *testing.T) {
	lock, err := New("")
	require.NoError(t, err)

	assert.NoError(t, lock.Acquire())
	assert.NoError(t, lock.Release())
}

func TestReleaseMissingIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-created.lock")

	lock, err := New(path)
	require.NoError(t, err)

	assert.NoError(t, lock.Release())
	assert.NoError(t, lock.Release())
	assert.NoFileExists(t, path)
}

func TestAcquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	first, err := New(path)
	require.NoError(t, err)
	second, err := New(path)
	require.NoError(t, err)

	require.NoError(t, first.Acquire())
	assert.ErrorIs(t, second.Acquire(), ErrHeld)
	require.NoError(t, first.Release())
	assert.NoError(t, second.Acquire())
	assert.NoError(t, second.Release())
}
