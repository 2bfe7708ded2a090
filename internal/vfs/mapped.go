package vfs

import (
	"os"
	"strings"
	"time"
)

// Mapping routes a path to an (underlying directory, inner path) pair. The
// default Mapping used by the core implements the prefix table from §4.A:
// src* -> source disk, mem/ -> virtual (persisted), env/ -> virtual
// (synthesized), alt/<config>/ -> an alternate configuration's root,
// anything else -> output disk.
type Mapping interface {
	Resolve(path string) (dir Directory, inner string)
}

// MappedDirectory is a Directory that delegates each operation to whatever
// Directory its Mapping resolves the path to.
type MappedDirectory struct {
	Mapping Mapping
}

func NewMappedDirectory(m Mapping) *MappedDirectory {
	return &MappedDirectory{Mapping: m}
}

func (m *MappedDirectory) Exists(path string) bool {
	dir, inner := m.Mapping.Resolve(path)
	return dir.Exists(inner)
}

func (m *MappedDirectory) IsDir(path string) bool {
	dir, inner := m.Mapping.Resolve(path)
	return dir.IsDir(inner)
}

func (m *MappedDirectory) GetMTime(path string) (time.Time, bool) {
	dir, inner := m.Mapping.Resolve(path)
	return dir.GetMTime(inner)
}

func (m *MappedDirectory) Read(path string) ([]byte, error) {
	dir, inner := m.Mapping.Resolve(path)
	return dir.Read(inner)
}

func (m *MappedDirectory) Write(path string, data []byte, mtime time.Time) error {
	dir, inner := m.Mapping.Resolve(path)
	return dir.Write(inner, data, mtime)
}

func (m *MappedDirectory) Touch(path string, mtime time.Time) error {
	dir, inner := m.Mapping.Resolve(path)
	return dir.Touch(inner, mtime)
}

func (m *MappedDirectory) Mkdir(path string) error {
	dir, inner := m.Mapping.Resolve(path)
	return dir.Mkdir(inner)
}

func (m *MappedDirectory) GetDiskPath(path string) (string, bool) {
	dir, inner := m.Mapping.Resolve(path)
	return dir.GetDiskPath(inner)
}

// DefaultMapping implements the standard prefix table, plus environment
// variable synthesis for env/… paths.
type DefaultMapping struct {
	Source *DiskDirectory // src*
	Output *DiskDirectory // everything not otherwise routed (tmp/, bin/, …)
	Mem    *VirtualDirectory
	Env    *VirtualDirectory
	Alt    map[string]Directory // alt/<config>/… -> that config's root

	// Locked holds env vars frozen by the configure mechanism: their env/NAME
	// synthesis uses the locked value instead of the live process
	// environment, so a build stays reproducible across differing shells.
	Locked map[string]string

	// Environ is injected so tests can fake os.Environ(); nil means "use the
	// real process environment".
	Environ func() []string
}

func (d *DefaultMapping) Resolve(path string) (Directory, string) {
	switch {
	case strings.HasPrefix(path, "src"):
		return d.Source, path
	case path == "mem" || strings.HasPrefix(path, "mem/"):
		return d.Mem, path
	case path == "env" || strings.HasPrefix(path, "env/"):
		d.synthesizeEnv(path)
		return d.Env, path
	case strings.HasPrefix(path, "alt/"):
		rest := strings.TrimPrefix(path, "alt/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 2 {
			if alt, ok := d.Alt[parts[0]]; ok {
				return alt, parts[1]
			}
		}
		return d.Output, path
	default:
		return d.Output, path
	}
}

// synthesizeEnv writes env/NAME and env/set/NAME into the env virtual
// directory from the current (or locked) environment, so accessing them
// naturally picks up environment changes via mtime comparison. It is called
// on every access under env/… per §4.A.
func (d *DefaultMapping) synthesizeEnv(path string) {
	rest := strings.TrimPrefix(path, "env/")
	if rest == "" || rest == "env" {
		return
	}
	var name string
	if strings.HasPrefix(rest, "set/") {
		name = strings.TrimPrefix(rest, "set/")
	} else {
		name = rest
	}
	if name == "" {
		return
	}
	value, set := d.lookupEnv(name)
	status := "false"
	if set {
		status = "true"
	}
	d.writeIfChanged("env/"+name, []byte(value))
	d.writeIfChanged("env/set/"+name, []byte(status))
}

// writeIfChanged bumps path's mtime to now only if its content actually
// differs from what's already stored; an unchanged environment variable must
// not look newer on every access, or every env-dependent action would be
// perpetually dirty regardless of whether the variable ever changed.
func (d *DefaultMapping) writeIfChanged(path string, value []byte) {
	if existing, err := d.Env.Read(path); err == nil && string(existing) == string(value) {
		return
	}
	d.Env.Write(path, value, time.Time{})
}

func (d *DefaultMapping) lookupEnv(name string) (value string, set bool) {
	if v, ok := d.Locked[name]; ok {
		return v, true
	}
	environ := d.Environ
	if environ == nil {
		environ = os.Environ
	}
	for _, kv := range environ() {
		if idx := strings.IndexByte(kv, '='); idx >= 0 && kv[:idx] == name {
			return kv[idx+1:], true
		}
	}
	return "", false
}
