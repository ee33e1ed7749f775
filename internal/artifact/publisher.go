// Package artifact installs finished models on disk. A new model is staged
// next to the live directory and swapped in only once it is complete, so a
// crash leaves either the old model or the new one, never a mix.
package artifact

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dsj7419/qa-doc-convert/internal/atomicfile"
	"github.com/dsj7419/qa-doc-convert/internal/log"
	"github.com/dsj7419/qa-doc-convert/internal/training"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const (
	// ManifestFile describes the published model and checksums its files.
	ManifestFile = "manifest.json"
	// LabelMapFile maps model output indexes to roles.
	LabelMapFile = "label_map.json"

	stagingInfix = ".staging-"
	oldInfix     = ".old-"
)

// ErrNoArtifact is returned when no model has been published.
var ErrNoArtifact = errors.New("no published model")

// Manifest is written beside every published model.
type Manifest struct {
	RunID       string             `json:"run_id"`
	CreatedAt   time.Time          `json:"created_at"`
	Fingerprint string             `json:"dataset_fingerprint"`
	Examples    int                `json:"examples"`
	Labels      map[string]string  `json:"labels"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	// Files maps slash-separated relative paths to blake3 hex digests.
	Files map[string]string `json:"files"`
}

// Mirror copies a published model somewhere else. Failures never fail a
// publication.
type Mirror interface {
	Upload(ctx context.Context, runID, dir string, files []string) error
}

// FSPublisher is a training.Publisher writing to a local directory.
type FSPublisher struct {
	dir    string
	mirror Mirror
	logger *slog.Logger
	now    func() time.Time
}

var _ training.Publisher = (*FSPublisher)(nil)

// NewFSPublisher publishes into modelDir. mirror may be nil.
func NewFSPublisher(modelDir string, mirror Mirror) *FSPublisher {
	return &FSPublisher{
		dir:    modelDir,
		mirror: mirror,
		logger: log.WithComponent("artifact"),
		now:    time.Now,
	}
}

// Dir returns the live model directory.
func (p *FSPublisher) Dir() string { return p.dir }

// Publish copies a.Dir into a staging directory, adds the label map and
// manifest, and swaps it in for the live model.
func (p *FSPublisher) Publish(ctx context.Context, a training.Artifact) (*training.Publication, error) {
	info, err := os.Stat(a.Dir)
	if err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifact %s is not a directory", a.Dir)
	}
	if len(a.LabelMap) == 0 {
		return nil, fmt.Errorf("artifact has no label map")
	}

	id := uuid.NewString()
	staging := p.dir + stagingInfix + id
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := copyTree(ctx, a.Dir, staging); err != nil {
		return nil, fmt.Errorf("stage artifact: %w", err)
	}

	labels, err := json.MarshalIndent(a.LabelMap.Strings(), "", "  ")
	if err != nil {
		return nil, err
	}
	if err := atomicfile.Write(filepath.Join(staging, LabelMapFile), append(labels, '\n'), atomicfile.Options{}); err != nil {
		return nil, fmt.Errorf("write label map: %w", err)
	}

	files, err := checksumTree(staging)
	if err != nil {
		return nil, fmt.Errorf("checksum artifact: %w", err)
	}
	m := Manifest{
		RunID:       a.RunID,
		CreatedAt:   p.now().UTC(),
		Fingerprint: a.Fingerprint,
		Examples:    a.Examples,
		Labels:      a.LabelMap.Strings(),
		Metrics:     a.Metrics,
		Files:       files,
	}
	mdata, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := atomicfile.Write(filepath.Join(staging, ManifestFile), append(mdata, '\n'), atomicfile.Options{}); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	if err := p.swap(staging, id); err != nil {
		return nil, err
	}
	ok = true
	p.logger.Info("model published", "run_id", a.RunID, "dir", p.dir, "files", len(files))

	if p.mirror != nil {
		names := make([]string, 0, len(files)+1)
		for name := range files {
			names = append(names, name)
		}
		names = append(names, ManifestFile)
		sort.Strings(names)
		if err := p.mirror.Upload(ctx, a.RunID, p.dir, names); err != nil {
			p.logger.Warn("model mirror upload failed, local copy is authoritative", "run_id", a.RunID, "error", err)
		}
	}

	return m.publication(p.dir), nil
}

// swap moves staging into place. The previous model is parked under an
// .old- name until the new one is live and is restored if the rename fails.
func (p *FSPublisher) swap(staging, id string) error {
	old := p.dir + oldInfix + id
	hadOld := false
	if _, err := os.Stat(p.dir); err == nil {
		if err := os.Rename(p.dir, old); err != nil {
			return fmt.Errorf("park previous model: %w", err)
		}
		hadOld = true
	}

	if err := os.Rename(staging, p.dir); err != nil {
		if hadOld {
			if rbErr := os.Rename(old, p.dir); rbErr != nil {
				return fmt.Errorf("install model: %v (rollback failed: %w)", err, rbErr)
			}
		}
		return fmt.Errorf("install model: %w", err)
	}
	syncDir(filepath.Dir(p.dir))

	if hadOld {
		if err := os.RemoveAll(old); err != nil {
			p.logger.Warn("failed to remove previous model", "path", old, "error", err)
		}
	}
	return nil
}

// RecoverInterrupted cleans up after a crash mid-publication: a parked
// previous model is restored if no live model exists, and leftover staging
// and parked directories are removed.
func (p *FSPublisher) RecoverInterrupted() error {
	parent := filepath.Dir(p.dir)
	base := filepath.Base(p.dir)
	entries, err := os.ReadDir(parent)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	_, statErr := os.Stat(p.dir)
	liveMissing := os.IsNotExist(statErr)

	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(parent, name)
		switch {
		case strings.HasPrefix(name, base+oldInfix):
			if liveMissing {
				if err := os.Rename(path, p.dir); err != nil {
					return fmt.Errorf("restore parked model: %w", err)
				}
				liveMissing = false
				p.logger.Warn("restored model parked by an interrupted publication", "from", path)
				continue
			}
			_ = os.RemoveAll(path)
		case strings.HasPrefix(name, base+stagingInfix):
			p.logger.Info("removing abandoned staging directory", "path", path)
			_ = os.RemoveAll(path)
		}
	}
	return nil
}

// Manifest reads the live model's manifest.
func (p *FSPublisher) Manifest() (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, ManifestFile))
	if os.IsNotExist(err) {
		return nil, ErrNoArtifact
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Current returns the live publication, or nil when none exists.
func (p *FSPublisher) Current() (*training.Publication, error) {
	m, err := p.Manifest()
	if errors.Is(err, ErrNoArtifact) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.publication(p.dir), nil
}

// Verify recomputes every checksum in the manifest.
func (p *FSPublisher) Verify() error {
	m, err := p.Manifest()
	if err != nil {
		return err
	}
	for name, want := range m.Files {
		got, err := fileDigest(filepath.Join(p.dir, filepath.FromSlash(name)))
		if err != nil {
			return fmt.Errorf("verify %s: %w", name, err)
		}
		if got != want {
			return fmt.Errorf("verify %s: checksum mismatch", name)
		}
	}
	return nil
}

// Remove deletes the live model.
func (p *FSPublisher) Remove() error {
	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("remove model: %w", err)
	}
	return nil
}

// LoadLabelMap reads the label map published with the model in dir.
func LoadLabelMap(dir string) (training.LabelMap, error) {
	data, err := os.ReadFile(filepath.Join(dir, LabelMapFile))
	if err != nil {
		return nil, fmt.Errorf("read label map: %w", err)
	}
	return training.ParseLabelMap(data)
}

func (m *Manifest) publication(dir string) *training.Publication {
	return &training.Publication{
		RunID:       m.RunID,
		Dir:         dir,
		Fingerprint: m.Fingerprint,
		CreatedAt:   m.CreatedAt,
	}
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			if rel == ManifestFile || rel == LabelMapFile {
				return nil
			}
			return atomicfile.CopyFile(path, target)
		default:
			// Symlinks and devices are not part of a model.
			return nil
		}
	})
}

func checksumTree(root string) (map[string]string, error) {
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == ManifestFile {
			return nil
		}
		sum, err := fileDigest(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = sum
		return nil
	})
	return out, err
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
