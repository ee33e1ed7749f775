package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "data", "qadoc.lock")
	l, err := Acquire(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))

	pid, ok := Holder(lockPath)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "qadoc.lock")
	l1, err := Acquire(lockPath)
	require.NoError(t, err)

	_, err = Acquire(lockPath)
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), strconv.Itoa(os.Getpid()))
	assert.True(t, Held(lockPath))

	require.NoError(t, l1.Release())
	assert.False(t, Held(lockPath))

	l2, err := Acquire(lockPath)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l, err := Acquire(filepath.Join(t.TempDir(), "qadoc.lock"))
	require.NoError(t, err)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	var nilLock *DataDirLock
	assert.NoError(t, nilLock.Release())
}

func TestAcquireEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Acquire("")
	assert.Error(t, err)
}

func TestHolderMissingOrGarbage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, ok := Holder(filepath.Join(dir, "missing"))
	assert.False(t, ok)
	assert.False(t, Held(filepath.Join(dir, "missing")))
	_, err := os.Stat(filepath.Join(dir, "missing"))
	assert.True(t, os.IsNotExist(err), "Held must not create the file")

	p := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(p, []byte("not-a-pid"), 0o644))
	_, ok = Holder(p)
	assert.False(t, ok)
}
