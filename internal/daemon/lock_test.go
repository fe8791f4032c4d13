package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_AcquireAndRead(t *testing.T) {
	l := NewLock(filepath.Join(t.TempDir(), "serve.lock"))

	require.NoError(t, l.Acquire(":8080"))

	info, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, ":8080", info.Addr)
	assert.False(t, info.StartedAt.IsZero())

	running, ok := l.Running()
	assert.True(t, ok)
	assert.Equal(t, ":8080", running.Addr)
}

func TestLock_AcquireTwiceFails(t *testing.T) {
	l := NewLock(filepath.Join(t.TempDir(), "serve.lock"))
	require.NoError(t, l.Acquire(":8080"))

	err := l.Acquire(":9090")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestLock_StaleLockReplaced(t *testing.T) {
	l := NewLock(filepath.Join(t.TempDir(), "serve.lock"))
	// PID 2^22+1 is above the default pid_max, so no such process exists.
	require.NoError(t, l.write(Info{PID: 4194305, Addr: ":1"}))

	_, ok := l.Running()
	assert.False(t, ok)

	require.NoError(t, l.Acquire(":8080"))
	info, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestLock_Read_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.lock")
	require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0o644))

	_, err := NewLock(path).Read()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid lock file")
}

func TestLock_Release(t *testing.T) {
	l := NewLock(filepath.Join(t.TempDir(), "serve.lock"))

	// Missing lock is not an error.
	require.NoError(t, l.Release())

	require.NoError(t, l.Acquire(":8080"))
	require.NoError(t, l.Release())
	_, err := os.Stat(l.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestLock_ReleaseKeepsForeignLock(t *testing.T) {
	l := NewLock(filepath.Join(t.TempDir(), "serve.lock"))
	require.NoError(t, l.write(Info{PID: os.Getpid() + 1, Addr: ":1"}))

	require.NoError(t, l.Release())
	_, err := os.Stat(l.Path)
	assert.NoError(t, err)
}

func TestLock_StopNotRunning(t *testing.T) {
	l := NewLock(filepath.Join(t.TempDir(), "serve.lock"))
	_, err := l.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}
