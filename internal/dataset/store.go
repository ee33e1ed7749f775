// Package dataset is the durable store of labeled training examples.
//
// A text is stored under at most one role. Every mutation is persisted with
// an atomic replace that keeps the prior file as <path>.bak.
package dataset

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dsj7419/qa-doc-convert/internal/atomicfile"
	"github.com/dsj7419/qa-doc-convert/internal/log"
	"github.com/zeebo/blake3"
)

// ErrValidation marks input the store refuses outright.
var ErrValidation = errors.New("validation error")

// DefaultMinTextLength is the shortest text, in runes, worth learning from.
const DefaultMinTextLength = 10

// bootstrap seeds one example per role so an empty dataset still has every
// class represented.
var bootstrap = map[Role]string{
	RoleQuestion: "What is jurisdiction?",
	RoleAnswer:   "It's the power of a court to hear a case.",
	RoleIgnore:   "CIVIL PROCEDURE",
}

// Options configures a Store.
type Options struct {
	// Path is the dataset file.
	Path string
	// SeedPath is an optional bundled dataset copied in when Path is absent.
	SeedPath string
	// MinTextLength defaults to DefaultMinTextLength.
	MinTextLength int
	// MinTotal and MinPerRole drive HasEnoughToTrain. Defaults 10 and 1.
	MinTotal   int
	MinPerRole int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store holds the dataset in memory and mirrors it to disk.
type Store struct {
	opts   Options
	logger *slog.Logger

	mu    sync.RWMutex
	roles map[Role][]Example
	index map[string]Role
}

// Open creates a Store and loads it from disk.
func Open(opts Options) (*Store, error) {
	s := New(opts)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// New creates an empty Store without touching disk.
func New(opts Options) *Store {
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = DefaultMinTextLength
	}
	if opts.MinTotal <= 0 {
		opts.MinTotal = 10
	}
	if opts.MinPerRole <= 0 {
		opts.MinPerRole = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		opts:   opts,
		logger: log.WithComponent("dataset"),
	}
	s.setLocked(document{})
	return s
}

// Path returns the dataset file location.
func (s *Store) Path() string { return s.opts.Path }

// Load reads the dataset file. A missing file is seeded from SeedPath (and
// persisted) or started empty. An unreadable file falls back to its backup.
func (s *Store) Load() error {
	doc, err := readDocument(s.opts.Path)
	switch {
	case err == nil:
		s.mu.Lock()
		s.setLocked(doc)
		s.mu.Unlock()
		return nil
	case os.IsNotExist(err):
		return s.seed()
	}

	s.logger.Warn("dataset unreadable, trying backup", "path", s.opts.Path, "error", err)
	doc, bakErr := readDocument(s.opts.Path + atomicfile.BackupSuffix)
	if bakErr != nil {
		return fmt.Errorf("load dataset %s: %w (backup: %v)", s.opts.Path, err, bakErr)
	}
	s.logger.Warn("dataset restored from backup", "path", s.opts.Path+atomicfile.BackupSuffix)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(doc)
	// Keep the good backup; the corrupt file is not worth preserving.
	return s.writeLocked(false)
}

func (s *Store) seed() error {
	if s.opts.SeedPath != "" {
		doc, err := readDocument(s.opts.SeedPath)
		if err == nil {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.setLocked(doc)
			s.logger.Info("dataset seeded from bundled file", "seed", s.opts.SeedPath, "examples", s.totalLocked())
			return s.saveLocked()
		}
		if !os.IsNotExist(err) {
			s.logger.Warn("bundled dataset unreadable, starting empty", "seed", s.opts.SeedPath, "error", err)
		}
	}
	s.mu.Lock()
	s.setLocked(document{})
	s.mu.Unlock()
	return nil
}

func readDocument(path string) (document, error) {
	var doc document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// ReadStats counts the examples in a dataset file without seeding,
// repairing or writing anything. A missing file returns an error satisfying
// os.IsNotExist.
func ReadStats(path string) (Stats, error) {
	doc, err := readDocument(path)
	if err != nil {
		return Stats{}, err
	}
	s := New(Options{Path: path})
	s.setLocked(doc)
	return s.Stats(), nil
}

// setLocked installs doc, repairing missing role lists and dropping repeated
// texts so the one-role-per-text invariant holds.
func (s *Store) setLocked(doc document) {
	s.roles = make(map[Role][]Example, len(Roles))
	s.index = make(map[string]Role)
	lists := map[Role][]Example{
		RoleQuestion: doc.Question,
		RoleAnswer:   doc.Answer,
		RoleIgnore:   doc.Ignore,
	}
	for _, role := range Roles {
		kept := make([]Example, 0, len(lists[role]))
		for _, ex := range lists[role] {
			if prev, dup := s.index[ex.Text]; dup {
				s.logger.Warn("dropping repeated example", "role", role, "kept_under", prev)
				continue
			}
			s.index[ex.Text] = role
			kept = append(kept, ex)
		}
		s.roles[role] = kept
	}
}

// Save persists the dataset atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	return s.writeLocked(true)
}

func (s *Store) writeLocked(backup bool) error {
	data, err := s.encodeLocked()
	if err != nil {
		return err
	}
	if err := atomicfile.Write(s.opts.Path, data, atomicfile.Options{Backup: backup}); err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	s.logger.Debug("dataset saved", "examples", s.totalLocked())
	return nil
}

func (s *Store) encodeLocked() ([]byte, error) {
	doc := document{
		Question: s.roles[RoleQuestion],
		Answer:   s.roles[RoleAnswer],
		Ignore:   s.roles[RoleIgnore],
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return buf.Bytes(), nil
}

// snapshot captures the mutable state so a failed save can be undone.
type snapshot struct {
	roles map[Role][]Example
	index map[string]Role
}

func (s *Store) snapshotLocked() snapshot {
	roles := make(map[Role][]Example, len(s.roles))
	for r, list := range s.roles {
		roles[r] = append(make([]Example, 0, len(list)), list...)
	}
	index := make(map[string]Role, len(s.index))
	for k, v := range s.index {
		index[k] = v
	}
	return snapshot{roles: roles, index: index}
}

func (s *Store) restoreLocked(snap snapshot) {
	s.roles = snap.roles
	s.index = snap.index
}

// Add records text under role. It returns false without error when the text
// is too short or already labeled with role. A text labeled with another role
// is moved. On save failure the in-memory change is undone.
func (s *Store) Add(text string, role Role, source Source) (bool, error) {
	role, err := ParseRole(string(role))
	if err != nil {
		return false, err
	}
	if utf8.RuneCountInString(text) < s.opts.MinTextLength {
		s.logger.Debug("example too short, skipping", "length", utf8.RuneCountInString(text))
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.index[text]; ok && current == role {
		return false, nil
	}

	snap := s.snapshotLocked()
	s.putLocked(text, role, source)
	if err := s.saveLocked(); err != nil {
		s.restoreLocked(snap)
		return false, err
	}
	return true, nil
}

// putLocked appends text under role, removing it from any other role first.
func (s *Store) putLocked(text string, role Role, source Source) {
	if prev, ok := s.index[text]; ok && prev != role {
		list := s.roles[prev]
		for i, ex := range list {
			if ex.Text == text {
				s.roles[prev] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		s.logger.Debug("example reassigned", "from", prev, "to", role)
	}
	s.roles[role] = append(s.roles[role], Example{
		Text:      text,
		Source:    source,
		Timestamp: Timestamp{s.opts.Now()},
	})
	s.index[text] = role
}

// ValidateAndRepair ensures every role list exists and, when the dataset is
// completely empty, seeds one bootstrap example per role. It reports whether
// the dataset is non-empty afterwards. The error is non-nil only when the
// repaired dataset could not be persisted; the repair itself is kept.
func (s *Store) ValidateAndRepair() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, role := range Roles {
		if s.roles[role] == nil {
			s.logger.Warn("missing role list repaired", "role", role)
			s.roles[role] = []Example{}
		}
	}
	if s.totalLocked() > 0 {
		return true, nil
	}

	s.logger.Warn("dataset empty, seeding bootstrap examples")
	for _, role := range Roles {
		s.putLocked(bootstrap[role], role, SourceInitial)
	}
	if err := s.saveLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// Stats returns per-role and total counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{ByRole: make(map[Role]int, len(Roles))}
	for _, role := range Roles {
		n := len(s.roles[role])
		st.ByRole[role] = n
		st.Total += n
	}
	return st
}

// HasEnoughToTrain reports whether the total reaches the minimum and no role
// is below its floor.
func (s *Store) HasEnoughToTrain() bool {
	st := s.Stats()
	if st.Total < s.opts.MinTotal {
		return false
	}
	for _, role := range Roles {
		if st.ByRole[role] < s.opts.MinPerRole {
			return false
		}
	}
	return true
}

// Samples returns an independent copy of every example in role order.
func (s *Store) Samples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, 0, s.totalLocked())
	for _, role := range Roles {
		for _, ex := range s.roles[role] {
			out = append(out, Sample{Text: ex.Text, Role: role})
		}
	}
	return out
}

// Sample returns up to n texts per role, oldest first.
func (s *Store) Sample(n int) map[Role][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Role][]string, len(Roles))
	for _, role := range Roles {
		list := s.roles[role]
		if n >= 0 && len(list) > n {
			list = list[:n]
		}
		texts := make([]string, 0, len(list))
		for _, ex := range list {
			texts = append(texts, ex.Text)
		}
		out[role] = texts
	}
	return out
}

// Examples returns a copy of the examples stored under role.
func (s *Store) Examples(role Role) []Example {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Example, len(s.roles[role]))
	copy(out, s.roles[role])
	return out
}

// Fingerprint hashes the labeled content (role and text, in order). Sources
// and timestamps are excluded so identical content yields the same value.
func (s *Store) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprintLocked()
}

// Snapshot returns the samples and their fingerprint read under one lock,
// so a concurrent Add cannot make the two disagree.
func (s *Store) Snapshot() ([]Sample, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, 0, s.totalLocked())
	for _, role := range Roles {
		for _, ex := range s.roles[role] {
			out = append(out, Sample{Text: ex.Text, Role: role})
		}
	}
	return out, s.fingerprintLocked()
}

func (s *Store) fingerprintLocked() string {
	h := blake3.New()
	for _, role := range Roles {
		_, _ = h.Write([]byte(role))
		_, _ = h.Write([]byte{0})
		for _, ex := range s.roles[role] {
			_, _ = h.Write([]byte(ex.Text))
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Reset empties every role and persists the result.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	s.setLocked(document{})
	if err := s.saveLocked(); err != nil {
		s.restoreLocked(snap)
		return err
	}
	s.logger.Info("dataset reset")
	return nil
}

func (s *Store) totalLocked() int {
	n := 0
	for _, list := range s.roles {
		n += len(list)
	}
	return n
}
