// Package state implements the per-artifact/per-action derived state and the
// dirty-propagation algorithm of §4.D: whether an artifact is up to date and
// whether an action's full input set is known and clean.
package state

import (
	"os"
	"time"

	"github.com/nrednay/sebuild/internal/core"
	"github.com/nrednay/sebuild/internal/vfs"
)

// grace is the 1-second timestamp grace applied on the output-is-newer
// comparison side only, to tolerate disk mtime rounding against in-memory
// sub-second timestamps.
const grace = 1 * time.Second

// graceExpired reports whether outputTS is at least grace seconds older than
// inputTS: the boundary is inclusive (outputTS+grace == inputTS counts as
// expired), matching spec's own worked examples (an output exactly one
// second older than its input must still be rebuilt, not forgiven as a
// same-second rounding artifact).
func graceExpired(outputTS, inputTS time.Time) bool {
	return !outputTS.Add(grace).After(inputTS)
}

// ArtifactState is the derived state of one Artifact.
type ArtifactState struct {
	Timestamp time.Time
	Exists    bool // false means Timestamp should be treated as -1
	IsDirty   bool
}

// ActionState is the derived state of one Action.
type ActionState struct {
	IsPending bool
	IsReady   bool

	Inputs     []*core.Artifact
	DiskInputs []string
	Outputs    []*core.Artifact

	// Blocking is the set of actions that must finish before this one can
	// become ready. Blocked is the reverse edge, populated on the blocking
	// action's state.
	Blocking map[*core.Action]bool
	Blocked  map[*core.Action]bool
}

func newActionState() *ActionState {
	return &ActionState{
		Blocking: make(map[*core.Action]bool),
		Blocked:  make(map[*core.Action]bool),
	}
}

// StateMap owns every ArtifactState/ActionState for one build. It is not
// internally synchronized: the scheduler's single global mutex protects all
// access, matching §5's concurrency model.
type StateMap struct {
	fs vfs.Directory

	artifacts map[*core.Artifact]*ArtifactState
	actions   map[*core.Action]*ActionState
}

// New creates a StateMap reading artifact mtimes/content through fs.
func New(fs vfs.Directory) *StateMap {
	return &StateMap{
		fs:        fs,
		artifacts: make(map[*core.Artifact]*ArtifactState),
		actions:   make(map[*core.Action]*ActionState),
	}
}

// Action returns (creating if necessary) the ActionState for a.
func (m *StateMap) Action(a *core.Action) *ActionState {
	s, ok := m.actions[a]
	if !ok {
		s = newActionState()
		m.actions[a] = s
	}
	return s
}

// Artifact returns the ArtifactState for a, constructing it per §4.D if not
// already cached. Returns a *core.DefinitionError if a is a required but
// missing source.
func (m *StateMap) Artifact(a *core.Artifact) (*ArtifactState, error) {
	if s, ok := m.artifacts[a]; ok {
		return s, nil
	}
	s, err := m.computeArtifactState(a)
	if err != nil {
		return nil, err
	}
	m.artifacts[a] = s
	return s, nil
}

// markClean forces an artifact clean after its producing action completes;
// is_dirty must never flip back to true within a build, so subsequent
// Artifact() calls are expected to short-circuit via the cache above.
func (m *StateMap) markClean(a *core.Artifact, ts time.Time) {
	m.artifacts[a] = &ArtifactState{Timestamp: ts, Exists: true, IsDirty: false}
}

func (m *StateMap) computeArtifactState(a *core.Artifact) (*ArtifactState, error) {
	ts, exists := m.fs.GetMTime(a.Filename)
	if !exists {
		if a.IsSource() {
			return nil, core.DefinitionErrorf("required source file %q does not exist", a.Filename)
		}
		return &ArtifactState{Exists: false, IsDirty: true}, nil
	}

	if a.IsSource() {
		return &ArtifactState{Timestamp: ts, Exists: true, IsDirty: false}, nil
	}

	as := m.Action(a.Action)
	if !as.IsReady {
		return &ArtifactState{Timestamp: ts, Exists: true, IsDirty: true}, nil
	}
	if !containsArtifact(as.Outputs, a) {
		// Conditional non-output: the action ran but didn't declare this
		// artifact among its outputs this time; downstream consumers stall.
		return &ArtifactState{Timestamp: ts, Exists: true, IsDirty: true}, nil
	}

	dirty := false
	for _, in := range as.Inputs {
		inState, err := m.Artifact(in)
		if err != nil {
			return nil, err
		}
		if inState.IsDirty {
			dirty = true
			break
		}
		if graceExpired(ts, inState.Timestamp) {
			dirty = true
			break
		}
	}
	if !dirty {
		for _, dp := range as.DiskInputs {
			fi, err := os.Stat(dp)
			if err != nil {
				dirty = true
				break
			}
			if graceExpired(ts, fi.ModTime()) {
				dirty = true
				break
			}
		}
	}
	if !dirty && a.Action.Rule != nil && ts.Before(a.Action.Rule.Timestamp) {
		dirty = true
	}

	return &ArtifactState{Timestamp: ts, Exists: true, IsDirty: dirty}, nil
}

func containsArtifact(list []*core.Artifact, a *core.Artifact) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

// enumerator adapts core.ArtifactEnumerator over a StateMap so a Command's
// EnumerateArtifacts can call Read and get clean-or-NotAvailable semantics.
type enumerator struct {
	m          *StateMap
	inputs     []*core.Artifact
	diskInputs []string
	outputs    []*core.Artifact
}

func (e *enumerator) AddInput(a *core.Artifact)  { e.inputs = append(e.inputs, a) }
func (e *enumerator) AddOutput(a *core.Artifact) { e.outputs = append(e.outputs, a) }
func (e *enumerator) AddDiskInput(path string)   { e.diskInputs = append(e.diskInputs, path) }

func (e *enumerator) Read(a *core.Artifact) ([]byte, error) {
	st, err := e.m.Artifact(a)
	if err != nil {
		return nil, err
	}
	if st.IsDirty {
		return nil, core.NotAvailable
	}
	return e.m.fs.Read(a.Filename)
}

// UpdateReadiness implements §4.D's update_readiness: once ready, an action
// never re-evaluates. Returns true if this call made the action newly ready.
func (m *StateMap) UpdateReadiness(a *core.Action) (newlyReady bool, err error) {
	as := m.Action(a)
	if as.IsReady {
		return false, nil
	}

	en := &enumerator{m: m}
	if err := a.Command.EnumerateArtifacts(en); err != nil {
		return false, err
	}

	blocking := make(map[*core.Action]bool)
	for _, in := range en.inputs {
		st, err := m.Artifact(in)
		if err != nil {
			return false, err
		}
		if !st.IsDirty {
			continue
		}
		if in.Action == nil {
			// A dirty source artifact with no producer can never become
			// clean; that's a missing-source DefinitionError, already
			// raised by computeArtifactState. Defensive only.
			continue
		}
		blockingState := m.Action(in.Action)
		if blockingState.IsReady && !containsArtifact(blockingState.Outputs, in) {
			return false, core.DefinitionErrorf(
				"%s is needed but %s didn't generate it", in.Filename, actionLabel(in.Action))
		}
		blocking[in.Action] = true
	}

	for blocker := range blocking {
		m.Action(blocker).Blocked[a] = true
	}
	as.Blocking = blocking

	if len(blocking) > 0 {
		return false, nil
	}

	as.IsReady = true
	as.Inputs = en.inputs
	as.DiskInputs = en.diskInputs
	as.Outputs = en.outputs
	return true, nil
}

// Complete marks every output of a finished action clean and returns the set
// of actions blocked on it, for the scheduler to re-evaluate.
func (m *StateMap) Complete(a *core.Action, finishedAt time.Time) []*core.Action {
	as := m.Action(a)
	for _, out := range as.Outputs {
		m.markClean(out, finishedAt)
	}
	blocked := make([]*core.Action, 0, len(as.Blocked))
	for b := range as.Blocked {
		blocked = append(blocked, b)
	}
	return blocked
}

func actionLabel(a *core.Action) string {
	if a == nil {
		return "<unknown>"
	}
	return a.StatusName()
}
