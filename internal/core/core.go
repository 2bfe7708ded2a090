// Package core defines the passive data model shared by the rest of the
// build engine: Artifacts, Actions, Rules and Tests, the Command interface
// they're built from, and the Context a front-end uses to construct them.
package core

import (
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// DefinitionError reports a problem with the build graph itself (bad path,
// duplicate producer, cyclic expansion, …). It is always fatal. Most are
// raised while artifacts are registered, before any Action executes; an input
// its producer did not generate, or a dependency cycle, is reported by the
// scheduler mid-build.
type DefinitionError struct {
	Msg string
}

func (e *DefinitionError) Error() string { return e.Msg }

// DefinitionErrorf formats a DefinitionError.
func DefinitionErrorf(format string, args ...interface{}) error {
	return &DefinitionError{Msg: xerrors.Errorf(format, args...).Error()}
}

// NotAvailable is returned by ArtifactEnumerator.Read when an artifact's
// contents aren't known to be clean yet; the caller must treat its current
// enumeration as incomplete and retry once the artifact becomes available.
var NotAvailable = xerrors.New("artifact contents not yet available")

// ArtifactEnumerator is the callback sink a Command reports its I/O through.
// A single call to EnumerateArtifacts may be partial: if Read returns
// NotAvailable for some artifact the Command's own logic depends on, the
// Command should report whatever it can and stop; it will be invoked again
// later once that artifact is clean.
type ArtifactEnumerator interface {
	AddInput(a *Artifact)
	AddOutput(a *Artifact)
	AddDiskInput(path string)
	// Read returns the current bytes of a, or NotAvailable if a is dirty.
	Read(a *Artifact) ([]byte, error)
}

// LogSink accumulates diagnostics for a single action; buffered and emitted
// atomically once the action finishes so concurrent actions never interleave
// their output.
type LogSink interface {
	Printf(format string, args ...interface{})
}

// CommandContext is the environment a Command runs in; provided by the
// execution runner.
type CommandContext interface {
	// GetDiskPath returns an OS path backing a, materializing a temp file if
	// useTemporary is true and a isn't already disk-backed. ok is false if
	// useTemporary is false and a has no disk path.
	GetDiskPath(a *Artifact, useTemporary bool) (diskPath string, ok bool)
	Read(a *Artifact) ([]byte, error)
	Write(a *Artifact, data []byte) error
	Getenv(name string) (value string, set bool)
	// Subprocess runs argv[0](argv[1:]) with the given environment, streaming
	// stdout/stderr into the returned buffers. It releases and reacquires
	// whatever lock the caller holds around blocking I/O.
	Subprocess(argv []string, env []string) (exitCode int, stdout, stderr []byte, err error)
	Status(text string)
}

// Command is an inspectable, hashable description of what an Action does.
// The concrete variants (Echo, EnvLookup, DoAll, Conditional, Subprocess)
// live in package command.
type Command interface {
	// EnumerateArtifacts reports this command's inputs/outputs/disk_inputs to
	// e. May be called repeatedly as previously-unavailable artifacts become
	// readable; must be idempotent given the same enumerator state.
	EnumerateArtifacts(e ArtifactEnumerator) error
	// Run executes the command against ctx, appending diagnostics to log on
	// failure. Must be deterministic given its inputs and definition.
	Run(ctx CommandContext, log LogSink) bool
	// Hash feeds a canonical byte sequence identifying this command to w.
	Hash(w io.Writer)
}

// Artifact is a file identified by a logical, normalized path.
type Artifact struct {
	Filename string  // normalized, forward-slash, relative
	Action   *Action // producing action; nil for a source artifact
}

// IsSource reports whether this artifact has no producing action.
func (a *Artifact) IsSource() bool { return a.Action == nil }

// Action is a single build step.
type Action struct {
	Rule    *Rule
	Verb    string
	Name    string
	Command Command

	// Test is set iff this action produces the result artifact of a Test.
	Test *Test
}

// StatusName renders the "verb: name" status line the runner prints.
func (a *Action) StatusName() string {
	if a.Name != "" {
		return a.Verb + ": " + a.Name
	}
	return a.Verb
}

// Rule is a front-end entity: a named group of outputs and (for Tests) a
// pass/fail contract. The core only consumes what's declared here.
type Rule struct {
	Label   string
	Outputs []*Artifact

	// Timestamp is the last-modified time of the build-description file this
	// rule was loaded from (or the max across transitive imports). Treated as
	// an implicit input of every Action this rule produces.
	Timestamp time.Time
}

// Test is a Rule specialization with a pass/fail result artifact and a
// captured-output artifact.
type Test struct {
	Rule           *Rule
	ResultArtifact *Artifact // contents must be "true" or "false"
	OutputArtifact *Artifact
}

// Context is the factory front-ends use to build Artifacts and Actions. One
// Context corresponds to one build-description file; artifact names are
// resolved relative to that file's directory within the source tree.
type Context struct {
	loader    *Loader
	directory string // directory of the owning build file, within src/
	rule      *Rule
}

// NewContext constructs a Context for a build-description file that lives in
// directory (relative to the source root) and belongs to rule.
func NewContext(loader *Loader, directory string, rule *Rule) *Context {
	return &Context{loader: loader, directory: directory, rule: rule}
}

func (c *Context) Rule() *Rule { return c.rule }

// SourceArtifact returns (creating if necessary) the source artifact at
// filename, resolved relative to this context's directory.
func (c *Context) SourceArtifact(filename string) (*Artifact, error) {
	if err := validateArtifactName(filename); err != nil {
		return nil, err
	}
	full := joinNormalized("src", c.directory, filename)
	return c.loader.sourceArtifact(full), nil
}

// IntermediateArtifact returns a derived artifact under tmp/, produced by
// action.
func (c *Context) IntermediateArtifact(filename string, action *Action) (*Artifact, error) {
	if err := validateArtifactName(filename); err != nil {
		return nil, err
	}
	full := joinNormalized("tmp", c.directory, filename)
	return c.loader.derivedArtifact(full, action)
}

// MemoryArtifact returns a derived artifact backed by the in-memory
// VirtualDirectory (mem/…), produced by action.
func (c *Context) MemoryArtifact(filename string, action *Action) (*Artifact, error) {
	if err := validateArtifactName(filename); err != nil {
		return nil, err
	}
	full := joinNormalized("mem", c.directory, filename)
	return c.loader.derivedArtifact(full, action)
}

var outputDirs = map[string]bool{"bin": true, "include": true, "lib": true, "share": true}

// OutputArtifact returns an installable output artifact under the given
// subdir (must be one of bin, include, lib, share), produced by action.
func (c *Context) OutputArtifact(subdir, filename string, action *Action) (*Artifact, error) {
	if !outputDirs[subdir] {
		return nil, DefinitionErrorf("%q is not a valid output directory", subdir)
	}
	if err := validateArtifactName(filename); err != nil {
		return nil, err
	}
	full := joinNormalized(subdir, filename)
	return c.loader.derivedArtifact(full, action)
}

// DerivedArtifact returns a derived artifact named base+extension, rooted the
// same way IntermediateArtifact is; a convenience for rule libraries that
// pick the extension themselves.
func (c *Context) DerivedArtifact(base, extension string, action *Action) (*Artifact, error) {
	return c.IntermediateArtifact(base+extension, action)
}

// NewAction constructs an Action belonging to this context's rule.
func (c *Context) NewAction(verb, name string, cmd Command) *Action {
	return &Action{Rule: c.rule, Verb: verb, Name: name, Command: cmd}
}

func validateArtifactName(filename string) error {
	normalized := path.Clean(filename)
	normalized = strings.ReplaceAll(normalized, "\\", "/")
	if filename != normalized {
		return DefinitionErrorf("file %q is not a normalized path name; use %q instead", filename, normalized)
	}
	if strings.HasPrefix(filename, "../") || strings.HasPrefix(filename, "/") {
		return DefinitionErrorf("file %q points outside the surrounding directory", filename)
	}
	return nil
}

func joinNormalized(parts ...string) string {
	p := path.Join(parts...)
	return strings.ReplaceAll(p, "\\", "/")
}
