package vfs

import (
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// VirtualEntry is one file's state in a VirtualDirectory; exported so
// package persist can gob-encode a VirtualDirectory's snapshot directly.
type VirtualEntry struct {
	MTime   time.Time
	Content []byte
	IsDir   bool
}

// VirtualDirectory is an in-memory mapping path -> (mtime, content). Used for
// mem/… artifacts (persisted between runs) and env/… artifacts (synthesized
// fresh on each access, see MappedDirectory).
type VirtualDirectory struct {
	mu      sync.RWMutex
	Entries map[string]VirtualEntry
}

func NewVirtualDirectory() *VirtualDirectory {
	return &VirtualDirectory{Entries: make(map[string]VirtualEntry)}
}

// Snapshot returns a shallow copy of all entries, for persistence.
func (v *VirtualDirectory) Snapshot() map[string]VirtualEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]VirtualEntry, len(v.Entries))
	for k, e := range v.Entries {
		out[k] = e
	}
	return out
}

// Restore replaces the directory's contents with a previously-saved
// snapshot.
func (v *VirtualDirectory) Restore(entries map[string]VirtualEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Entries = entries
}

func (v *VirtualDirectory) Exists(path string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.Entries[path]
	return ok
}

func (v *VirtualDirectory) IsDir(path string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.Entries[path]
	return ok && e.IsDir
}

func (v *VirtualDirectory) GetMTime(path string) (time.Time, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.Entries[path]
	if !ok {
		return time.Time{}, false
	}
	return e.MTime, true
}

func (v *VirtualDirectory) Read(path string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.Entries[path]
	if !ok {
		return nil, xerrors.Errorf("vfs: %s does not exist", path)
	}
	return e.Content, nil
}

func (v *VirtualDirectory) Write(path string, data []byte, mtime time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if mtime.IsZero() {
		mtime = time.Now()
	}
	v.Entries[path] = VirtualEntry{MTime: mtime, Content: data}
	return nil
}

func (v *VirtualDirectory) Touch(path string, mtime time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if mtime.IsZero() {
		mtime = time.Now()
	}
	e := v.Entries[path]
	e.MTime = mtime
	v.Entries[path] = e
	return nil
}

func (v *VirtualDirectory) Mkdir(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Entries[path] = VirtualEntry{MTime: time.Now(), IsDir: true}
	return nil
}

func (v *VirtualDirectory) GetDiskPath(path string) (string, bool) {
	return "", false
}
