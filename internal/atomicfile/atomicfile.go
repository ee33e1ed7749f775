// Package atomicfile replaces files on disk so readers never observe a
// partially written file.
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BackupSuffix is appended to the destination path for the prior-version copy.
const BackupSuffix = ".bak"

// Options tune a single Write.
type Options struct {
	// Backup keeps a copy of the file being replaced at path+BackupSuffix.
	Backup bool
	// Mode is the permission of the final file. Zero means 0o644.
	Mode os.FileMode
}

// Write serializes data to a temp file in the destination directory, syncs it,
// optionally backs up the current file, and renames the temp file into place.
// On any failure the previous file at path is left untouched.
func Write(path string, data []byte, opts Options) error {
	mode := opts.Mode
	if mode == 0 {
		mode = 0o644
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if opts.Backup {
		if err := CopyFile(path, path+BackupSuffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("backup %s: %w", filepath.Base(path), err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	syncDir(dir)
	return nil
}

// CopyFile copies src to dst, replacing dst. The returned error satisfies
// os.IsNotExist when src is missing.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// syncDir flushes the directory entry after a rename. Not every platform
// supports fsync on directories, so errors are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
