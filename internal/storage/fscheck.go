package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// errUnsupported is returned by detectFilesystemType where the platform
// cannot report a filesystem type.
var errUnsupported = errors.New("filesystem detection unsupported")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// ValidateLocalFilesystem rejects paths on network filesystems. The history
// database needs reliable locking and the journal and dataset rely on atomic
// rename, neither of which network mounts guarantee.
func ValidateLocalFilesystem(path string) error {
	return validateWithDetector(path, detectFilesystemType)
}

// FilesystemType reports the filesystem holding path, or "unknown".
func FilesystemType(path string) string {
	p, err := nearestExistingPath(path)
	if err != nil {
		return "unknown"
	}
	fsType, err := detectFilesystemType(p)
	if err != nil {
		return "unknown"
	}
	return fsType
}

func validateWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if errors.Is(err, errUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"path %q is on network filesystem %q; training state needs a local disk for locking and atomic rename. Point data_dir (or state.path) at a local directory",
			path,
			fsType,
		)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
