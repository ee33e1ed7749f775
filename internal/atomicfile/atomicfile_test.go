package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")

	require.NoError(t, Write(path, []byte(`{"a":1}`), Options{}))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	_, err = os.Stat(path + BackupSuffix)
	assert.True(t, os.IsNotExist(err), "no backup expected on first write")
}

func TestWriteKeepsBackupOfPriorVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")

	require.NoError(t, Write(path, []byte("v1"), Options{Backup: true}))
	require.NoError(t, Write(path, []byte("v2"), Options{Backup: true}))

	cur, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(cur))

	bak, err := os.ReadFile(path + BackupSuffix)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(bak))
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, Write(path, []byte("x"), Options{Backup: true}))
	require.NoError(t, Write(path, []byte("y"), Options{Backup: true}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"data.json", "data.json.bak"}, names)
}

func TestWriteFailureLeavesPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, Write(path, []byte("original"), Options{}))

	// A directory squatting on the backup path makes the backup step fail.
	require.NoError(t, os.Mkdir(path+BackupSuffix, 0o755))

	err := Write(path, []byte("replacement"), Options{Backup: true})
	require.Error(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}
