// Package vfs implements the layered filesystem view the build engine reads
// and writes through: real disk, in-memory virtual files, and synthesized
// environment-variable files, unified behind one Directory interface.
package vfs

import "time"

// Directory is the uniform file-access interface every backing store
// implements. Paths are always normalized, forward-slash, relative, and
// never contain "..".
type Directory interface {
	Exists(path string) bool
	IsDir(path string) bool
	// GetMTime returns the modification time and whether path exists.
	GetMTime(path string) (time.Time, bool)
	Read(path string) ([]byte, error)
	// Write stores data at path with the given mtime. If mtime is the zero
	// Time, the file's mtime becomes the time of the write ("now"), for both
	// disk and virtual directories.
	Write(path string, data []byte, mtime time.Time) error
	Touch(path string, mtime time.Time) error
	Mkdir(path string) error
	// GetDiskPath returns an OS path for path, or ok=false if this directory
	// has no on-disk representation for it.
	GetDiskPath(path string) (diskPath string, ok bool)
}
