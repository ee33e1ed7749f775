// Package checkpoint discovers trainer checkpoints on disk and rewrites their
// recorded progress so a resumed run keeps training.
//
// A checkpoint is a directory named <prefix><int> holding trainer_state.json.
// Handles are absolute directory paths.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dsj7419/qa-doc-convert/internal/atomicfile"
)

// StateFile is the progress descriptor inside every checkpoint.
const StateFile = "trainer_state.json"

// DefaultPrefix names checkpoints checkpoint-1, checkpoint-2, ...
const DefaultPrefix = "checkpoint-"

// ErrNoState is returned when a checkpoint lacks a readable progress descriptor.
var ErrNoState = errors.New("checkpoint has no trainer state")

// State is the part of trainer_state.json the orchestrator understands.
type State struct {
	Epoch      float64 `json:"epoch"`
	GlobalStep int     `json:"global_step"`
}

// PatchResult describes what PatchResumeState did.
type PatchResult struct {
	Patched       bool    `json:"patched"`
	OriginalEpoch float64 `json:"original_epoch"`
	Epoch         float64 `json:"epoch"`
	Step          int     `json:"step"`
}

// Repository scans one checkpoint directory.
type Repository struct {
	dir    string
	prefix string
}

// NewRepository returns a Repository over dir. An empty prefix means DefaultPrefix.
func NewRepository(dir, prefix string) *Repository {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Repository{dir: dir, prefix: prefix}
}

// Dir returns the directory the trainer writes checkpoints into.
func (r *Repository) Dir() string { return r.dir }

// FindLatest returns the checkpoint with the highest numeric suffix.
func (r *Repository) FindLatest() (string, bool, error) {
	return FindLatest(r.dir, r.prefix)
}

// List returns all checkpoints, lowest suffix first.
func (r *Repository) List() ([]string, error) {
	entries, err := scan(r.dir, r.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.path)
	}
	return out, nil
}

// Exists reports whether handle is an existing directory.
func (r *Repository) Exists(handle string) bool {
	return Exists(handle)
}

// Exists reports whether handle is an existing directory.
func Exists(handle string) bool {
	if handle == "" {
		return false
	}
	info, err := os.Stat(handle)
	return err == nil && info.IsDir()
}

type entry struct {
	n    int64
	path string
}

func scan(dir, prefix string) ([]entry, error) {
	des, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoints in %s: %w", dir, err)
	}
	var out []entry
	for _, de := range des {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), prefix) {
			continue
		}
		suffix := strings.TrimPrefix(de.Name(), prefix)
		if !allDigits(suffix) {
			continue
		}
		n, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, entry{n: n, path: abs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].n < out[j].n })
	return out, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FindLatest scans dir for entries named <prefix><int> and returns the one
// with the highest integer. Files and non-matching names are ignored. A
// missing dir yields ok=false.
func FindLatest(dir, prefix string) (string, bool, error) {
	entries, err := scan(dir, prefix)
	if err != nil || len(entries) == 0 {
		return "", false, err
	}
	return entries[len(entries)-1].path, true, nil
}

// ReadState reads the epoch and global step recorded in handle.
func ReadState(handle string) (State, error) {
	var st State
	data, err := os.ReadFile(filepath.Join(handle, StateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return st, fmt.Errorf("%w: %s", ErrNoState, handle)
		}
		return st, fmt.Errorf("read trainer state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse trainer state in %s: %w", handle, err)
	}
	return st, nil
}

// ContinuationEpoch is the epoch a patched checkpoint is rewound to.
func ContinuationEpoch(threshold float64) float64 {
	return math.Max(0, threshold-1)
}

// PatchResumeState rewinds the recorded epoch of handle to
// ContinuationEpoch(threshold) when it is at or past threshold, so a trainer
// resuming from it does not consider the run finished. The step counter and
// every other field are kept. The original descriptor is saved alongside as
// trainer_state.json.bak.
func PatchResumeState(handle string, threshold float64) (PatchResult, error) {
	path := filepath.Join(handle, StateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PatchResult{}, fmt.Errorf("%w: %s", ErrNoState, handle)
		}
		return PatchResult{}, fmt.Errorf("read trainer state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return PatchResult{}, fmt.Errorf("parse trainer state in %s: %w", handle, err)
	}
	res := PatchResult{OriginalEpoch: st.Epoch, Epoch: st.Epoch, Step: st.GlobalStep}
	if st.Epoch < threshold {
		return res, nil
	}

	res.Epoch = ContinuationEpoch(threshold)
	patched, err := replaceField(data, "epoch", res.Epoch)
	if err != nil {
		return PatchResult{}, fmt.Errorf("rewrite trainer state in %s: %w", handle, err)
	}
	if err := atomicfile.Write(path, patched, atomicfile.Options{Backup: true}); err != nil {
		return PatchResult{}, err
	}
	res.Patched = true
	return res, nil
}

// replaceField rewrites one top-level key of a JSON object, keeping the
// other keys in their original order with their original values.
func replaceField(data []byte, key string, value any) ([]byte, error) {
	newVal, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("trainer state is not a JSON object")
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	found := false
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		if name == key {
			raw = newVal
			found = true
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(name)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(raw)
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if !found {
		if !first {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(newVal)
	}
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// Purge removes every checkpoint in the directory and returns how many went.
func (r *Repository) Purge() (int, error) {
	entries, err := scan(r.dir, r.prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if err := os.RemoveAll(e.path); err != nil {
			return removed, fmt.Errorf("remove checkpoint %s: %w", e.path, err)
		}
		removed++
	}
	return removed, nil
}
