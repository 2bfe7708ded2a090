// Package persist serializes the three opaque blobs that must survive
// between build invocations (§4.H): the mem VirtualDirectory, the env
// VirtualDirectory plus its locked-variable list, and the caching runner's
// digest map. Format is gob, chosen because it round-trips Go-native
// map/struct state directly with no schema compiler (see DESIGN.md).
package persist

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/nrednay/sebuild/internal/vfs"
	"golang.org/x/xerrors"
)

// State is everything persist saves and restores in one call.
type State struct {
	Mem    map[string]vfs.VirtualEntry
	Env    map[string]vfs.VirtualEntry
	Locked map[string]string
	Cache  map[string]string
}

const (
	memBlob   = "mem.blob"
	envBlob   = "env.blob"
	cacheBlob = "cache.blob"
)

// Save atomically writes each of the three blobs under root.
func Save(root string, s *State) error {
	if err := saveGob(filepath.Join(root, memBlob), s.Mem); err != nil {
		return xerrors.Errorf("persist: saving mem state: %w", err)
	}
	env := envState{Entries: s.Env, Locked: s.Locked}
	if err := saveGob(filepath.Join(root, envBlob), env); err != nil {
		return xerrors.Errorf("persist: saving env state: %w", err)
	}
	if err := saveGob(filepath.Join(root, cacheBlob), s.Cache); err != nil {
		return xerrors.Errorf("persist: saving cache state: %w", err)
	}
	return nil
}

// Load restores a State from root. Missing blobs (first run) yield empty
// maps rather than an error.
func Load(root string) (*State, error) {
	s := &State{
		Mem:    make(map[string]vfs.VirtualEntry),
		Env:    make(map[string]vfs.VirtualEntry),
		Locked: make(map[string]string),
		Cache:  make(map[string]string),
	}
	if err := loadGob(filepath.Join(root, memBlob), &s.Mem); err != nil {
		return nil, xerrors.Errorf("persist: loading mem state: %w", err)
	}
	var env envState
	if err := loadGob(filepath.Join(root, envBlob), &env); err != nil {
		return nil, xerrors.Errorf("persist: loading env state: %w", err)
	}
	if env.Entries != nil {
		s.Env = env.Entries
	}
	if env.Locked != nil {
		s.Locked = env.Locked
	}
	if err := loadGob(filepath.Join(root, cacheBlob), &s.Cache); err != nil {
		return nil, xerrors.Errorf("persist: loading cache state: %w", err)
	}
	return s, nil
}

type envState struct {
	Entries map[string]vfs.VirtualEntry
	Locked  map[string]string
}

func saveGob(path string, v interface{}) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if err := gob.NewEncoder(t).Encode(v); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func loadGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(v)
}
