package persist

import (
	"testing"
	"time"

	"github.com/nrednay/sebuild/internal/vfs"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()

	want := &State{
		Mem: map[string]vfs.VirtualEntry{
			"mem/counter": {MTime: time.Unix(5, 0), Content: []byte("42")},
		},
		Env: map[string]vfs.VirtualEntry{
			"env/CC": {MTime: time.Unix(9, 0), Content: []byte("gcc")},
		},
		Locked: map[string]string{"CC": "gcc"},
		Cache:  map[string]string{"tmp/out": "deadbeef"},
	}

	if err := Save(root, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(got.Mem) != 1 || got.Mem["mem/counter"].MTime.Unix() != 5 || string(got.Mem["mem/counter"].Content) != "42" {
		t.Errorf("Mem round-trip mismatch: %+v", got.Mem)
	}
	if len(got.Env) != 1 || string(got.Env["env/CC"].Content) != "gcc" {
		t.Errorf("Env round-trip mismatch: %+v", got.Env)
	}
	if got.Locked["CC"] != "gcc" {
		t.Errorf("Locked round-trip mismatch: %+v", got.Locked)
	}
	if got.Cache["tmp/out"] != "deadbeef" {
		t.Errorf("Cache round-trip mismatch: %+v", got.Cache)
	}
}

func TestLoadMissingBlobsYieldEmptyMapsNotError(t *testing.T) {
	root := t.TempDir()

	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load on empty dir: %v", err)
	}
	if got.Mem == nil || len(got.Mem) != 0 {
		t.Errorf("Mem = %#v, want empty non-nil map", got.Mem)
	}
	if got.Env == nil || len(got.Env) != 0 {
		t.Errorf("Env = %#v, want empty non-nil map", got.Env)
	}
	if got.Locked == nil || len(got.Locked) != 0 {
		t.Errorf("Locked = %#v, want empty non-nil map", got.Locked)
	}
	if got.Cache == nil || len(got.Cache) != 0 {
		t.Errorf("Cache = %#v, want empty non-nil map", got.Cache)
	}
}

func TestSaveOverwritesPreviousState(t *testing.T) {
	root := t.TempDir()

	first := &State{
		Mem:    map[string]vfs.VirtualEntry{"mem/a": {Content: []byte("1")}},
		Env:    map[string]vfs.VirtualEntry{},
		Locked: map[string]string{},
		Cache:  map[string]string{"out": "v1"},
	}
	if err := Save(root, first); err != nil {
		t.Fatalf("Save(first): %v", err)
	}

	second := &State{
		Mem:    map[string]vfs.VirtualEntry{"mem/b": {Content: []byte("2")}},
		Env:    map[string]vfs.VirtualEntry{},
		Locked: map[string]string{},
		Cache:  map[string]string{"out": "v2"},
	}
	if err := Save(root, second); err != nil {
		t.Fatalf("Save(second): %v", err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := got.Mem["mem/a"]; ok {
		t.Errorf("Mem still has stale key mem/a from first save")
	}
	if string(got.Mem["mem/b"].Content) != "2" {
		t.Errorf("Mem[mem/b] = %q, want \"2\"", got.Mem["mem/b"].Content)
	}
	if got.Cache["out"] != "v2" {
		t.Errorf("Cache[out] = %q, want \"v2\"", got.Cache["out"])
	}
}
