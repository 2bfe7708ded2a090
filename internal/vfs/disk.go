package vfs

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// DiskDirectory is a thin adapter over the OS filesystem rooted at Root.
type DiskDirectory struct {
	Root string
}

func NewDiskDirectory(root string) *DiskDirectory {
	return &DiskDirectory{Root: root}
}

func (d *DiskDirectory) abs(path string) string {
	return filepath.Join(d.Root, filepath.FromSlash(path))
}

func (d *DiskDirectory) Exists(path string) bool {
	_, err := os.Stat(d.abs(path))
	return err == nil
}

func (d *DiskDirectory) IsDir(path string) bool {
	fi, err := os.Stat(d.abs(path))
	return err == nil && fi.IsDir()
}

func (d *DiskDirectory) GetMTime(path string) (time.Time, bool) {
	fi, err := os.Stat(d.abs(path))
	if err != nil {
		return time.Time{}, false
	}
	return fi.ModTime(), true
}

func (d *DiskDirectory) Read(path string) ([]byte, error) {
	data, err := ioutil.ReadFile(d.abs(path))
	if err != nil {
		return nil, xerrors.Errorf("vfs: read %s: %w", path, err)
	}
	return data, nil
}

// Write atomically replaces path's contents, using renameio so a crash
// mid-write never leaves a truncated file behind.
func (d *DiskDirectory) Write(path string, data []byte, mtime time.Time) error {
	abs := d.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return xerrors.Errorf("vfs: mkdir for %s: %w", path, err)
	}
	t, err := renameio.TempFile("", abs)
	if err != nil {
		return xerrors.Errorf("vfs: tempfile for %s: %w", path, err)
	}
	defer t.Cleanup()
	if _, err := t.Write(data); err != nil {
		return xerrors.Errorf("vfs: write %s: %w", path, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("vfs: replace %s: %w", path, err)
	}
	if !mtime.IsZero() {
		os.Chtimes(abs, mtime, mtime)
	}
	return nil
}

func (d *DiskDirectory) Touch(path string, mtime time.Time) error {
	abs := d.abs(path)
	if mtime.IsZero() {
		mtime = time.Now()
	}
	if !d.Exists(path) {
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		f.Close()
	}
	return os.Chtimes(abs, mtime, mtime)
}

func (d *DiskDirectory) Mkdir(path string) error {
	return os.MkdirAll(d.abs(path), 0755)
}

func (d *DiskDirectory) GetDiskPath(path string) (string, bool) {
	return d.abs(path), true
}
