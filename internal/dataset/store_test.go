package dataset

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dsj7419/qa-doc-convert/internal/atomicfile"
	"github.com/dsj7419/qa-doc-convert/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "training_data.json")})
	require.NoError(t, err)
	return s
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s := newTestStore(t)
	st := s.Stats()
	assert.Equal(t, 0, st.Total)
	for _, role := range Roles {
		assert.Equal(t, 0, st.ByRole[role])
	}
	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "empty start should not write a file")
}

func TestOpenSeedsFromBundledFile(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "bundled.json")
	require.NoError(t, os.WriteFile(seed, []byte(`{
  "question": [{"text": "What is a tort in law?", "source": "initial", "timestamp": "2024-03-01T10:00:00.123456"}],
  "answer": [],
  "ignore": []
}`), 0o644))

	path := filepath.Join(dir, "data", "training_data.json")
	s, err := Open(Options{Path: path, SeedPath: seed})
	require.NoError(t, err)

	assert.Equal(t, 1, s.Stats().Total)
	_, err = os.Stat(path)
	assert.NoError(t, err, "seeded dataset should be persisted")
}

func TestAddRejectsShortText(t *testing.T) {
	s := newTestStore(t)
	added, err := s.Add("too short", RoleQuestion, SourceUserCorrection)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 0, s.Stats().Total)
}

func TestAddCountsRunesNotBytes(t *testing.T) {
	s := newTestStore(t)
	// 9 runes, 18 bytes.
	added, err := s.Add("ééééééééé", RoleIgnore, SourceUserCorrection)
	require.NoError(t, err)
	assert.False(t, added)
}

func TestAddDuplicateIsNoop(t *testing.T) {
	s := newTestStore(t)
	added, err := s.Add("What is personal jurisdiction?", RoleQuestion, SourceUserCorrection)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add("What is personal jurisdiction?", RoleQuestion, SourceUserCorrection)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, s.Stats().Total)
}

func TestAddReassignsRole(t *testing.T) {
	s := newTestStore(t)
	text := "Subject matter jurisdiction is the power over a type of case."
	_, err := s.Add(text, RoleQuestion, SourceUserCorrection)
	require.NoError(t, err)

	added, err := s.Add(text, RoleAnswer, SourceUserCorrection)
	require.NoError(t, err)
	assert.True(t, added)

	st := s.Stats()
	assert.Equal(t, 0, st.ByRole[RoleQuestion])
	assert.Equal(t, 1, st.ByRole[RoleAnswer])
}

func TestAddRejectsUnknownRole(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("A perfectly long example text", Role("undetermined"), SourceUserCorrection)
	require.ErrorIs(t, err, ErrValidation)
}

func TestAddPersistsImmediately(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("What is venue in civil procedure?", RoleQuestion, SourceUserCorrection)
	require.NoError(t, err)

	reopened, err := Open(Options{Path: s.Path()})
	require.NoError(t, err)
	assert.Equal(t, s.Samples(), reopened.Samples())
}

func TestAddRollsBackOnSaveFailure(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("An initial example that saves fine.", RoleAnswer, SourceUserCorrection)
	require.NoError(t, err)

	// A directory on the backup path makes the next save fail.
	require.NoError(t, os.Mkdir(s.Path()+atomicfile.BackupSuffix, 0o755))

	added, err := s.Add("A second example that cannot be saved.", RoleQuestion, SourceUserCorrection)
	require.Error(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, s.Stats().Total)
	assert.Equal(t, 0, s.Stats().ByRole[RoleQuestion])
}

// No sequence of adds leaves a text under two roles.
func TestAddNeverDuplicatesAcrossRoles(t *testing.T) {
	s := newTestStore(t)
	rng := rand.New(rand.NewSource(42))
	texts := make([]string, 8)
	for i := range texts {
		texts[i] = fmt.Sprintf("example paragraph number %d", i)
	}

	for i := 0; i < 200; i++ {
		text := texts[rng.Intn(len(texts))]
		role := Roles[rng.Intn(len(Roles))]
		_, err := s.Add(text, role, SourceUserCorrection)
		require.NoError(t, err)

		seen := map[string]Role{}
		for _, sample := range s.Samples() {
			prev, dup := seen[sample.Text]
			require.False(t, dup, "text %q under %s and %s", sample.Text, prev, sample.Role)
			seen[sample.Text] = sample.Role
		}
	}
}

func TestSaveLoadRoundTripPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		for _, role := range Roles {
			_, err := s.Add(fmt.Sprintf("%s example text %d", role, i), role, SourceDocument)
			require.NoError(t, err)
		}
	}
	require.NoError(t, s.Save())

	reopened, err := Open(Options{Path: s.Path()})
	require.NoError(t, err)
	for _, role := range Roles {
		want := s.Examples(role)
		got := reopened.Examples(role)
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].Text, got[i].Text)
			assert.Equal(t, want[i].Source, got[i].Source)
			assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp.Time))
		}
	}
}

func TestFileKeyOrderAndIndent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("Does <b>markup</b> survive & stay readable?", RoleQuestion, SourceUserCorrection)
	require.NoError(t, err)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	body := string(raw)

	qi := strings.Index(body, `"question"`)
	ai := strings.Index(body, `"answer"`)
	ii := strings.Index(body, `"ignore"`)
	assert.True(t, qi < ai && ai < ii, "keys out of order: %s", body)
	assert.True(t, strings.HasPrefix(body, "{\n  \"question\""))
	assert.Contains(t, body, "<b>markup</b> survive & stay")
	assert.Contains(t, body, `"answer": []`)
}

func TestLoadFallsBackToBackup(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("First example kept in backup.", RoleQuestion, SourceUserCorrection)
	require.NoError(t, err)
	_, err = s.Add("Second example in the live file.", RoleAnswer, SourceUserCorrection)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	reopened, err := Open(Options{Path: s.Path()})
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Stats().Total)

	var doc map[string]any
	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.NoError(t, json.Unmarshal(raw, &doc), "live file should be rewritten from backup")
}

func TestLoadCorruptWithoutBackupFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "training_data.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err := Open(Options{Path: path})
	require.Error(t, err)
}

func TestLoadRepairsMissingRolesAndDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "training_data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "question": [{"text": "Shared paragraph text", "source": "document", "timestamp": "2024-01-01T00:00:00"}],
  "answer": [{"text": "Shared paragraph text", "source": "document", "timestamp": "2024-01-01T00:00:00"}]
}`), 0o644))

	s, err := Open(Options{Path: path})
	require.NoError(t, err)
	st := s.Stats()
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.ByRole[RoleQuestion])
	assert.NotNil(t, s.Examples(RoleIgnore))
}

func TestHasEnoughToTrain(t *testing.T) {
	s := newTestStore(t)

	// 12 questions but no answers or ignores.
	for i := 0; i < 12; i++ {
		_, err := s.Add(fmt.Sprintf("question text number %d", i), RoleQuestion, SourceDocument)
		require.NoError(t, err)
	}
	assert.False(t, s.HasEnoughToTrain(), "missing roles must block training")

	_, err := s.Add("an answer paragraph", RoleAnswer, SourceDocument)
	require.NoError(t, err)
	assert.False(t, s.HasEnoughToTrain())

	_, err = s.Add("an ignored heading", RoleIgnore, SourceDocument)
	require.NoError(t, err)
	assert.True(t, s.HasEnoughToTrain())
}

func TestEmptyDatasetRepairScenario(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.HasEnoughToTrain())

	nonEmpty, err := s.ValidateAndRepair()
	require.NoError(t, err)
	assert.True(t, nonEmpty)

	st := s.Stats()
	assert.Equal(t, 3, st.Total)
	for _, role := range Roles {
		assert.Equal(t, 1, st.ByRole[role])
		assert.Equal(t, SourceInitial, s.Examples(role)[0].Source)
	}
	assert.False(t, s.HasEnoughToTrain())

	for i := 0; i < 7; i++ {
		_, err := s.Add(fmt.Sprintf("additional answer text %d", i), RoleAnswer, SourceDocument)
		require.NoError(t, err)
	}
	assert.True(t, s.HasEnoughToTrain())
}

func TestValidateAndRepairLeavesPopulatedDatasetAlone(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("A lone ignore paragraph", RoleIgnore, SourceDocument)
	require.NoError(t, err)

	ok, err := s.ValidateAndRepair()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Stats().Total)
}

func TestSamplesIsACopy(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("What is a motion to dismiss?", RoleQuestion, SourceDocument)
	require.NoError(t, err)

	samples := s.Samples()
	samples[0].Text = "mutated"
	assert.Equal(t, "What is a motion to dismiss?", s.Samples()[0].Text)
}

func TestSample(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 4; i++ {
		_, err := s.Add(fmt.Sprintf("question sample text %d", i), RoleQuestion, SourceDocument)
		require.NoError(t, err)
	}
	got := s.Sample(2)
	assert.Equal(t, []string{"question sample text 0", "question sample text 1"}, got[RoleQuestion])
	assert.Empty(t, got[RoleAnswer])
}

func TestFingerprint(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.opts.Now = func() time.Time { return clock }

	_, err := a.Add("identical content here", RoleQuestion, SourceDocument)
	require.NoError(t, err)
	_, err = b.Add("identical content here", RoleQuestion, SourceUserCorrection)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "source and timestamp do not affect the fingerprint")

	_, err = b.Add("identical content here", RoleAnswer, SourceUserCorrection)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestSnapshotMatchesSamplesAndFingerprint(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("What is personal jurisdiction?", RoleQuestion, SourceDocument)
	require.NoError(t, err)
	_, err = s.Add("CHAPTER TWO OVERVIEW", RoleIgnore, SourceDocument)
	require.NoError(t, err)

	samples, fp := s.Snapshot()
	assert.Equal(t, s.Samples(), samples)
	assert.Equal(t, s.Fingerprint(), fp)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("Something to be wiped out", RoleAnswer, SourceDocument)
	require.NoError(t, err)

	require.NoError(t, s.Reset())
	assert.Equal(t, 0, s.Stats().Total)

	reopened, err := Open(Options{Path: s.Path()})
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.Stats().Total)
}

func TestCollect(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("Moved between roles by the document", RoleQuestion, SourceUserCorrection)
	require.NoError(t, err)
	_, err = s.Add("Already an answer in the dataset", RoleAnswer, SourceUserCorrection)
	require.NoError(t, err)

	items := []LabeledItem{
		{Text: "No role assigned to this one"},
		{Text: "short", Role: RoleIgnore},
		{Text: "Already an answer in the dataset", Role: RoleAnswer},
		{Text: "Moved between roles by the document", Role: RoleIgnore},
	}
	for i := 0; i < 11; i++ {
		items = append(items, LabeledItem{Text: fmt.Sprintf("document question %02d", i), Role: RoleQuestion})
	}

	var msgs []string
	res, err := s.Collect(items, func(m string) { msgs = append(msgs, m) })
	require.NoError(t, err)

	assert.Equal(t, CollectResult{Added: 12, SkippedUndetermined: 1, SkippedShort: 1, SkippedDuplicate: 1}, res)
	st := s.Stats()
	assert.Equal(t, 11, st.ByRole[RoleQuestion])
	assert.Equal(t, 1, st.ByRole[RoleIgnore])
	assert.Contains(t, msgs, "Added 10 examples so far...")
	assert.Equal(t, "Added 12 new training examples", msgs[len(msgs)-1])
	assert.Equal(t, SourceDocument, s.Examples(RoleIgnore)[0].Source)
}

func TestCollectNothingNew(t *testing.T) {
	s := newTestStore(t)
	var last string
	res, err := s.Collect([]LabeledItem{{Text: "tiny", Role: RoleAnswer}}, func(m string) { last = m })
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Contains(t, last, "1 too short")
}

func TestTimestampAcceptsLegacyFormat(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-05-06T07:08:09.123456"`), &ts))
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, 123456000, ts.Nanosecond())

	require.NoError(t, json.Unmarshal([]byte(`"2024-05-06T07:08:09Z"`), &ts))
	assert.Equal(t, time.UTC, ts.Location())

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestReadStatsDoesNotWrite(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("What is the return policy?", RoleQuestion, SourceUserCorrection)
	require.NoError(t, err)
	_, err = s.Add("Returns are accepted within 30 days.", RoleAnswer, SourceUserCorrection)
	require.NoError(t, err)

	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	st, err := ReadStats(s.Path())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByRole[RoleQuestion])
	assert.Equal(t, 0, st.ByRole[RoleIgnore])

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = ReadStats(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestParseSource(t *testing.T) {
	src, err := ParseSource("")
	require.NoError(t, err)
	assert.Equal(t, SourceUserCorrection, src)

	src, err = ParseSource("document")
	require.NoError(t, err)
	assert.Equal(t, SourceDocument, src)

	_, err = ParseSource("scraped")
	assert.ErrorIs(t, err, ErrValidation)
}
