package core

import "sync"

// Loader tracks every Artifact created for one build so that source
// artifacts are interned by filename and derived artifacts enforce the
// single-producer invariant. A front-end (out of scope here) owns one Loader
// per build; this type is the in-scope remainder of what original_source's
// loader.py did once build-description loading itself is excluded.
type Loader struct {
	mu                sync.Mutex
	sourceArtifacts   map[string]*Artifact
	derivedArtifacts  map[string]*Artifact
}

// NewLoader returns an empty Loader.
func NewLoader() *Loader {
	return &Loader{
		sourceArtifacts:  make(map[string]*Artifact),
		derivedArtifacts: make(map[string]*Artifact),
	}
}

func (l *Loader) sourceArtifact(filename string) *Artifact {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.sourceArtifacts[filename]; ok {
		return a
	}
	a := &Artifact{Filename: filename}
	l.sourceArtifacts[filename] = a
	return a
}

func (l *Loader) derivedArtifact(filename string, action *Action) (*Artifact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.derivedArtifacts[filename]; ok {
		return nil, DefinitionErrorf(
			"two different rules claim to build file %q: conflicting rules are %q and %q",
			filename, ruleLabel(action), ruleLabel(existing.Action))
	}
	a := &Artifact{Filename: filename, Action: action}
	l.derivedArtifacts[filename] = a
	return a, nil
}

func ruleLabel(a *Action) string {
	if a == nil || a.Rule == nil {
		return "<unknown>"
	}
	return a.Rule.Label
}
