package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCheckpoint(t *testing.T, dir, name, state string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(p, 0o755))
	if state != "" {
		require.NoError(t, os.WriteFile(filepath.Join(p, StateFile), []byte(state), 0o644))
	}
	return p
}

func TestFindLatestPicksHighestSuffix(t *testing.T) {
	dir := t.TempDir()
	makeCheckpoint(t, dir, "checkpoint-10", "")
	makeCheckpoint(t, dir, "checkpoint-50", "")
	want := makeCheckpoint(t, dir, "checkpoint-100", "")

	got, ok, err := FindLatest(dir, DefaultPrefix)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, "checkpoint-100", filepath.Base(got))
}

func TestFindLatestIgnoresNoise(t *testing.T) {
	dir := t.TempDir()
	want := makeCheckpoint(t, dir, "checkpoint-9", "")
	makeCheckpoint(t, dir, "checkpoint-final", "")
	makeCheckpoint(t, dir, "checkpoint-+70", "")
	makeCheckpoint(t, dir, "checkpoint- 80", "")
	makeCheckpoint(t, dir, "checkpoint-", "")
	makeCheckpoint(t, dir, "runs", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint-999"), []byte("file, not dir"), 0o644))

	got, ok, err := FindLatest(dir, DefaultPrefix)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestFindLatestEmptyOrMissing(t *testing.T) {
	_, ok, err := FindLatest(t.TempDir(), DefaultPrefix)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = FindLatest(filepath.Join(t.TempDir(), "absent"), DefaultPrefix)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryCustomPrefix(t *testing.T) {
	dir := t.TempDir()
	makeCheckpoint(t, dir, "checkpoint-500", "")
	want := makeCheckpoint(t, dir, "ckpt_7", "")

	r := NewRepository(dir, "ckpt_")
	got, ok, err := r.FindLatest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestReadState(t *testing.T) {
	dir := t.TempDir()
	h := makeCheckpoint(t, dir, "checkpoint-3", `{"epoch": 0.75, "global_step": 3}`)
	st, err := ReadState(h)
	require.NoError(t, err)
	assert.Equal(t, State{Epoch: 0.75, GlobalStep: 3}, st)

	_, err = ReadState(makeCheckpoint(t, dir, "checkpoint-4", ""))
	assert.ErrorIs(t, err, ErrNoState)
}

func TestPatchResumeStateRewindsFinishedCheckpoint(t *testing.T) {
	dir := t.TempDir()
	original := `{
  "best_metric": null,
  "epoch": 5.0,
  "global_step": 100,
  "log_history": [{"epoch": 5.0, "loss": 0.1234567890123}],
  "max_steps": 100
}`
	h := makeCheckpoint(t, dir, "checkpoint-100", original)

	res, err := PatchResumeState(h, 1.0)
	require.NoError(t, err)
	assert.True(t, res.Patched)
	assert.Equal(t, 5.0, res.OriginalEpoch)
	assert.LessOrEqual(t, res.Epoch, 1.0)
	assert.Equal(t, 100, res.Step)

	st, err := ReadState(h)
	require.NoError(t, err)
	assert.LessOrEqual(t, st.Epoch, 1.0)
	assert.Equal(t, 100, st.GlobalStep)

	raw, err := os.ReadFile(filepath.Join(h, StateFile))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Contains(t, m, "best_metric")
	assert.Nil(t, m["best_metric"])
	assert.EqualValues(t, 100, m["max_steps"])
	assert.Contains(t, string(raw), "0.1234567890123", "unrelated values keep their exact text")
	assert.True(t, strings.Index(string(raw), "best_metric") < strings.Index(string(raw), "max_steps"), "key order kept")

	bak, err := os.ReadFile(filepath.Join(h, StateFile+".bak"))
	require.NoError(t, err)
	assert.Equal(t, original, string(bak))
}

func TestPatchResumeStateLeavesUnfinishedCheckpoint(t *testing.T) {
	dir := t.TempDir()
	state := `{"epoch": 0.4, "global_step": 40}`
	h := makeCheckpoint(t, dir, "checkpoint-40", state)

	res, err := PatchResumeState(h, 1.0)
	require.NoError(t, err)
	assert.False(t, res.Patched)
	assert.Equal(t, 0.4, res.Epoch)

	raw, err := os.ReadFile(filepath.Join(h, StateFile))
	require.NoError(t, err)
	assert.Equal(t, state, string(raw))
	_, err = os.Stat(filepath.Join(h, StateFile+".bak"))
	assert.True(t, os.IsNotExist(err))
}

func TestPatchResumeStateHigherThreshold(t *testing.T) {
	dir := t.TempDir()
	h := makeCheckpoint(t, dir, "checkpoint-300", `{"epoch": 3.0, "global_step": 300}`)

	res, err := PatchResumeState(h, 3.0)
	require.NoError(t, err)
	assert.True(t, res.Patched)
	assert.Equal(t, 2.0, res.Epoch)
}

func TestPatchResumeStateErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := PatchResumeState(makeCheckpoint(t, dir, "checkpoint-1", ""), 1.0)
	assert.ErrorIs(t, err, ErrNoState)

	_, err = PatchResumeState(makeCheckpoint(t, dir, "checkpoint-2", `[1,2]`), 1.0)
	assert.Error(t, err)
}

func TestContinuationEpoch(t *testing.T) {
	assert.Equal(t, 0.0, ContinuationEpoch(1.0))
	assert.Equal(t, 0.0, ContinuationEpoch(0.5))
	assert.Equal(t, 2.0, ContinuationEpoch(3.0))
}

func TestPurgeAndList(t *testing.T) {
	dir := t.TempDir()
	makeCheckpoint(t, dir, "checkpoint-2", "")
	makeCheckpoint(t, dir, "checkpoint-1", "")
	makeCheckpoint(t, dir, "keep-me", "")

	r := NewRepository(dir, "")
	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "checkpoint-1", filepath.Base(list[0]))

	n, err := r.Purge()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := r.FindLatest()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, r.Exists(filepath.Join(dir, "keep-me")))
	assert.False(t, Exists(""))
}
