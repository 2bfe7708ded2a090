package vfs

import (
	"testing"
	"time"
)

func TestDiskDirectoryTouchRoundTrip(t *testing.T) {
	d := NewDiskDirectory(t.TempDir())
	want := time.Unix(1700000000, 0)
	if err := d.Touch("out/foo", want); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, ok := d.GetMTime("out/foo")
	if !ok {
		t.Fatalf("GetMTime: file not found after Touch")
	}
	if !got.Equal(want) {
		t.Errorf("GetMTime = %v, want %v", got, want)
	}
	if !d.Exists("out/foo") {
		t.Errorf("Exists = false, want true")
	}
}

func TestVirtualDirectoryTouchRoundTrip(t *testing.T) {
	v := NewVirtualDirectory()
	want := time.Unix(42, 0)
	if err := v.Write("mem/foo", []byte("hi"), time.Time{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := v.Touch("mem/foo", want); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, ok := v.GetMTime("mem/foo")
	if !ok || !got.Equal(want) {
		t.Errorf("GetMTime = %v, %v; want %v, true", got, ok, want)
	}
	data, err := v.Read("mem/foo")
	if err != nil || string(data) != "hi" {
		t.Errorf("Read = %q, %v; want \"hi\", nil", data, err)
	}
}

func TestVirtualDirectorySnapshotRestore(t *testing.T) {
	v := NewVirtualDirectory()
	v.Write("mem/a", []byte("1"), time.Unix(1, 0))
	v.Write("mem/b", []byte("2"), time.Unix(2, 0))

	snap := v.Snapshot()

	fresh := NewVirtualDirectory()
	fresh.Restore(snap)
	for _, path := range []string{"mem/a", "mem/b"} {
		if !fresh.Exists(path) {
			t.Errorf("restored directory missing %s", path)
		}
	}
	data, _ := fresh.Read("mem/a")
	if string(data) != "1" {
		t.Errorf("Read(mem/a) after restore = %q, want \"1\"", data)
	}
}

func TestMappedDirectoryRouting(t *testing.T) {
	src := NewDiskDirectory(t.TempDir())
	out := NewDiskDirectory(t.TempDir())
	mem := NewVirtualDirectory()
	env := NewVirtualDirectory()

	src.Write("src/hello.txt", []byte("src"), time.Time{})

	m := &DefaultMapping{Source: src, Output: out, Mem: mem, Env: env, Alt: map[string]Directory{}}
	fs := NewMappedDirectory(m)

	if !fs.Exists("src/hello.txt") {
		t.Errorf("src/hello.txt not routed to source directory")
	}

	if err := fs.Write("mem/x", []byte("v"), time.Time{}); err != nil {
		t.Fatalf("Write mem/x: %v", err)
	}
	if !mem.Exists("mem/x") {
		t.Errorf("mem/x not routed to the mem VirtualDirectory")
	}

	if err := fs.Write("tmp/out.o", []byte("obj"), time.Time{}); err != nil {
		t.Fatalf("Write tmp/out.o: %v", err)
	}
	if !out.Exists("tmp/out.o") {
		t.Errorf("tmp/out.o not routed to the output DiskDirectory")
	}
}

func TestMappedDirectoryEnvSynthesis(t *testing.T) {
	src := NewDiskDirectory(t.TempDir())
	out := NewDiskDirectory(t.TempDir())
	mem := NewVirtualDirectory()
	env := NewVirtualDirectory()

	m := &DefaultMapping{
		Source: src, Output: out, Mem: mem, Env: env, Alt: map[string]Directory{},
		Environ: func() []string { return []string{"FOO=bar"} },
	}
	fs := NewMappedDirectory(m)

	data, err := fs.Read("env/FOO")
	if err != nil || string(data) != "bar" {
		t.Fatalf("Read(env/FOO) = %q, %v; want \"bar\", nil", data, err)
	}
	set, err := fs.Read("env/set/FOO")
	if err != nil || string(set) != "true" {
		t.Fatalf("Read(env/set/FOO) = %q, %v; want \"true\", nil", set, err)
	}

	unset, err := fs.Read("env/set/MISSING")
	if err != nil || string(unset) != "false" {
		t.Fatalf("Read(env/set/MISSING) = %q, %v; want \"false\", nil", unset, err)
	}
}

func TestMappedDirectoryEnvSynthesisStableMTimeWhenUnchanged(t *testing.T) {
	src := NewDiskDirectory(t.TempDir())
	out := NewDiskDirectory(t.TempDir())
	mem := NewVirtualDirectory()
	env := NewVirtualDirectory()

	m := &DefaultMapping{
		Source: src, Output: out, Mem: mem, Env: env, Alt: map[string]Directory{},
		Environ: func() []string { return []string{"FOO=bar"} },
	}
	fs := NewMappedDirectory(m)

	fs.Read("env/FOO")
	first, _ := fs.GetMTime("env/FOO")

	// A second access with the same value must not bump the mtime, or every
	// env-dependent action would be perpetually dirty even though the
	// variable never changed.
	fs.Read("env/FOO")
	second, _ := fs.GetMTime("env/FOO")

	if !first.Equal(second) {
		t.Errorf("mtime changed across accesses with an unchanged env value: %v -> %v", first, second)
	}
}

func TestMappedDirectoryEnvLocked(t *testing.T) {
	src := NewDiskDirectory(t.TempDir())
	out := NewDiskDirectory(t.TempDir())
	mem := NewVirtualDirectory()
	env := NewVirtualDirectory()

	m := &DefaultMapping{
		Source: src, Output: out, Mem: mem, Env: env, Alt: map[string]Directory{},
		Locked:  map[string]string{"FOO": "locked-value"},
		Environ: func() []string { return []string{"FOO=live-value"} },
	}
	fs := NewMappedDirectory(m)

	data, err := fs.Read("env/FOO")
	if err != nil || string(data) != "locked-value" {
		t.Fatalf("Read(env/FOO) = %q, %v; want \"locked-value\", nil", data, err)
	}
}
