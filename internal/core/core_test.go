package core

import (
	"errors"
	"testing"
	"time"
)

func TestContextSourceArtifactInterned(t *testing.T) {
	loader := NewLoader()
	rule := &Rule{Label: "//foo:bar"}
	ctx := NewContext(loader, "foo", rule)

	a1, err := ctx.SourceArtifact("main.c")
	if err != nil {
		t.Fatalf("SourceArtifact: %v", err)
	}
	a2, err := ctx.SourceArtifact("main.c")
	if err != nil {
		t.Fatalf("SourceArtifact (again): %v", err)
	}
	if a1 != a2 {
		t.Errorf("SourceArtifact returned distinct Artifacts for the same filename")
	}
	if want := "src/foo/main.c"; a1.Filename != want {
		t.Errorf("Filename = %q, want %q", a1.Filename, want)
	}
	if !a1.IsSource() {
		t.Errorf("IsSource() = false for a file with no producing action")
	}
}

func TestContextDuplicateProducerIsDefinitionError(t *testing.T) {
	loader := NewLoader()
	rule := &Rule{Label: "//foo:bar"}
	ctx := NewContext(loader, "foo", rule)
	action1 := ctx.NewAction("compile", "a", nil)
	action2 := ctx.NewAction("compile", "b", nil)

	if _, err := ctx.IntermediateArtifact("out.o", action1); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := ctx.IntermediateArtifact("out.o", action2)
	var defErr *DefinitionError
	if !errors.As(err, &defErr) {
		t.Fatalf("second claim: got %v, want *DefinitionError", err)
	}
}

func TestContextRejectsUnnormalizedPaths(t *testing.T) {
	loader := NewLoader()
	ctx := NewContext(loader, "foo", &Rule{})

	for _, name := range []string{"../escape.c", "/absolute.c", "a/../b.c", "a/./b.c"} {
		if _, err := ctx.SourceArtifact(name); err == nil {
			t.Errorf("SourceArtifact(%q): want error, got nil", name)
		}
	}
}

func TestContextOutputArtifactValidatesSubdir(t *testing.T) {
	loader := NewLoader()
	ctx := NewContext(loader, "foo", &Rule{})
	action := ctx.NewAction("install", "x", nil)

	if _, err := ctx.OutputArtifact("bin", "tool", action); err != nil {
		t.Errorf("OutputArtifact(bin): %v", err)
	}
	if _, err := ctx.OutputArtifact("sbin", "tool2", action); err == nil {
		t.Errorf("OutputArtifact(sbin): want error, got nil")
	}
}

func TestDetectCycleFindsSelfReference(t *testing.T) {
	rule := &Rule{Label: "//x:x"}
	a := &Action{Rule: rule, Verb: "build", Name: "x"}
	err := DetectCycle(map[*Action][]*Action{a: {a}})
	var defErr *DefinitionError
	if !errors.As(err, &defErr) {
		t.Fatalf("DetectCycle: got %v, want *DefinitionError", err)
	}
}

func TestDetectCycleAcceptsDAG(t *testing.T) {
	rule := &Rule{}
	a := &Action{Rule: rule, Verb: "a"}
	b := &Action{Rule: rule, Verb: "b"}
	c := &Action{Rule: rule, Verb: "c"}
	err := DetectCycle(map[*Action][]*Action{
		c: {a, b},
		b: {a},
		a: nil,
	})
	if err != nil {
		t.Errorf("DetectCycle on an acyclic graph: %v", err)
	}
}

func TestRuleTimestampField(t *testing.T) {
	ts := time.Unix(123, 0)
	r := &Rule{Label: "//x", Timestamp: ts}
	if !r.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", r.Timestamp, ts)
	}
}

func TestActionStatusName(t *testing.T) {
	a := &Action{Verb: "compile", Name: "foo.o"}
	if got, want := a.StatusName(), "compile: foo.o"; got != want {
		t.Errorf("StatusName() = %q, want %q", got, want)
	}
	b := &Action{Verb: "clean"}
	if got, want := b.StatusName(), "clean"; got != want {
		t.Errorf("StatusName() with no name = %q, want %q", got, want)
	}
}
