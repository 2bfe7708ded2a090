package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nrednay/sebuild/internal/core"
	"github.com/nrednay/sebuild/internal/runner"
	"github.com/nrednay/sebuild/internal/state"
	"github.com/nrednay/sebuild/internal/vfs"
)

// recordingCommand is a minimal core.Command whose Run writes a fixed
// payload and counts its own invocations, letting tests assert an action
// actually ran (or was skipped) without depending on package command.
type recordingCommand struct {
	inputs, outputs []*core.Artifact
	content         []byte
	runs            int32
}

func (c *recordingCommand) EnumerateArtifacts(e core.ArtifactEnumerator) error {
	for _, in := range c.inputs {
		e.AddInput(in)
	}
	for _, out := range c.outputs {
		e.AddOutput(out)
	}
	return nil
}

func (c *recordingCommand) Run(ctx core.CommandContext, log core.LogSink) bool {
	atomic.AddInt32(&c.runs, 1)
	for _, out := range c.outputs {
		if err := ctx.Write(out, c.content); err != nil {
			log.Printf("write %s: %v", out.Filename, err)
			return false
		}
	}
	return true
}

func (c *recordingCommand) Hash(w io.Writer) {
	w.Write([]byte("recordingCommand"))
}

func newFixture(t *testing.T) (*vfs.VirtualDirectory, *state.StateMap, *runner.ExecutionRunner) {
	t.Helper()
	fs := vfs.NewVirtualDirectory()
	return fs, state.New(fs), &runner.ExecutionRunner{FS: fs}
}

func TestBuildRunsDirtyActionAndProducesOutput(t *testing.T) {
	fs, states, execRunner := newFixture(t)
	fs.Write("src/in", []byte("in"), time.Unix(2, 0))

	input := &core.Artifact{Filename: "src/in"}
	output := &core.Artifact{Filename: "tmp/out"}
	cmd := &recordingCommand{inputs: []*core.Artifact{input}, outputs: []*core.Artifact{output}, content: []byte("built")}
	action := &core.Action{Verb: "build", Name: "out", Command: cmd}
	output.Action = action

	b := New(states, execRunner, 2, fs.Read)
	if err := b.AddArtifact(output); err != nil {
		t.Fatalf("AddArtifact: %v", err)
	}
	if err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if cmd.runs != 1 {
		t.Errorf("action ran %d times, want 1", cmd.runs)
	}
	got, err := fs.Read("tmp/out")
	if err != nil || string(got) != "built" {
		t.Errorf("tmp/out = %q, %v; want \"built\", nil", got, err)
	}
}

func TestBuildSkipsCleanArtifact(t *testing.T) {
	fs, states, execRunner := newFixture(t)
	fs.Write("src/in", []byte("in"), time.Unix(2, 0))
	fs.Write("tmp/out", []byte("already built"), time.Unix(10, 0))

	input := &core.Artifact{Filename: "src/in"}
	output := &core.Artifact{Filename: "tmp/out"}
	cmd := &recordingCommand{inputs: []*core.Artifact{input}, outputs: []*core.Artifact{output}}
	action := &core.Action{Verb: "build", Command: cmd}
	output.Action = action

	b := New(states, execRunner, 2, fs.Read)
	if err := b.AddArtifact(output); err != nil {
		t.Fatalf("AddArtifact: %v", err)
	}
	if err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cmd.runs != 0 {
		t.Errorf("action ran %d times, want 0 (output already up to date)", cmd.runs)
	}
}

func TestBuildRunsDiamondDependencyInOrder(t *testing.T) {
	fs, states, execRunner := newFixture(t)
	fs.Write("src/in", []byte("in"), time.Unix(1, 0))

	in := &core.Artifact{Filename: "src/in"}
	t1 := &core.Artifact{Filename: "tmp/t1"}
	t2 := &core.Artifact{Filename: "tmp/t2"}
	out := &core.Artifact{Filename: "tmp/out"}

	cmdA := &recordingCommand{inputs: []*core.Artifact{in}, outputs: []*core.Artifact{t1}, content: []byte("t1")}
	actionA := &core.Action{Verb: "A", Command: cmdA}
	t1.Action = actionA

	cmdB := &recordingCommand{inputs: []*core.Artifact{in}, outputs: []*core.Artifact{t2}, content: []byte("t2")}
	actionB := &core.Action{Verb: "B", Command: cmdB}
	t2.Action = actionB

	cmdC := &recordingCommand{inputs: []*core.Artifact{t1, t2}, outputs: []*core.Artifact{out}, content: []byte("out")}
	actionC := &core.Action{Verb: "C", Command: cmdC}
	out.Action = actionC

	b := New(states, execRunner, 4, fs.Read)
	if err := b.AddArtifact(out); err != nil {
		t.Fatalf("AddArtifact: %v", err)
	}
	if err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	for name, cmd := range map[string]*recordingCommand{"A": cmdA, "B": cmdB, "C": cmdC} {
		if cmd.runs != 1 {
			t.Errorf("action %s ran %d times, want 1", name, cmd.runs)
		}
	}
	got, _ := fs.Read("tmp/out")
	if string(got) != "out" {
		t.Errorf("tmp/out = %q, want \"out\"", got)
	}

	// C must have run after both A and B: its output is written no earlier
	// than either of its inputs.
	outTS, _ := fs.GetMTime("tmp/out")
	for _, name := range []string{"tmp/t1", "tmp/t2"} {
		ts, _ := fs.GetMTime(name)
		if outTS.Before(ts) {
			t.Errorf("tmp/out written at %v, before its input %s at %v", outTS, name, ts)
		}
	}
}

// failingCommand always fails, exercising the scheduler's failure-propagation
// path: other pending work must not start once one action fails.
type failingCommand struct {
	outputs []*core.Artifact
}

func (c *failingCommand) EnumerateArtifacts(e core.ArtifactEnumerator) error {
	for _, out := range c.outputs {
		e.AddOutput(out)
	}
	return nil
}
func (c *failingCommand) Run(ctx core.CommandContext, log core.LogSink) bool {
	log.Printf("deliberate failure")
	return false
}
func (c *failingCommand) Hash(w io.Writer) { w.Write([]byte("fail")) }

func TestBuildReportsCommandFailure(t *testing.T) {
	fs, states, execRunner := newFixture(t)
	output := &core.Artifact{Filename: "tmp/out"}
	action := &core.Action{Verb: "build", Name: "out", Command: &failingCommand{outputs: []*core.Artifact{output}}}
	output.Action = action

	b := New(states, execRunner, 1, fs.Read)
	if err := b.AddArtifact(output); err != nil {
		t.Fatalf("AddArtifact: %v", err)
	}
	err := b.Build(context.Background())
	if err == nil {
		t.Fatal("Build: want error, got nil")
	}
	var cmdErr *core.CommandFailure
	if !errors.As(err, &cmdErr) {
		t.Errorf("Build error = %v (%T), want *core.CommandFailure", err, err)
	}

	// The failed action's output must be mtime-zeroed so a subsequent build
	// treats it as dirty again.
	ts, ok := fs.GetMTime(output.Filename)
	if !ok {
		t.Skip("failingCommand never wrote its output; nothing to check")
	}
	if !ts.Equal(time.Unix(0, 0)) {
		t.Errorf("output mtime after failure = %v, want epoch", ts)
	}
}

func TestPrintTestResultsReportsPassAndFail(t *testing.T) {
	fs, states, execRunner := newFixture(t)

	passResult := &core.Artifact{Filename: "tmp/pass-result"}
	passOutput := &core.Artifact{Filename: "tmp/pass-output"}
	passRule := &core.Rule{Label: "//:pass"}
	passAction := &core.Action{Rule: passRule, Verb: "test", Name: "pass",
		Command: &recordingCommand{outputs: []*core.Artifact{passResult, passOutput}, content: nil}}
	passResult.Action = passAction
	passOutput.Action = passAction
	passTest := &core.Test{Rule: passRule, ResultArtifact: passResult, OutputArtifact: passOutput}
	passAction.Test = passTest

	failResult := &core.Artifact{Filename: "tmp/fail-result"}
	failOutput := &core.Artifact{Filename: "tmp/fail-output"}
	failRule := &core.Rule{Label: "//:fail"}
	failAction := &core.Action{Rule: failRule, Verb: "test", Name: "fail",
		Command: &recordingCommand{outputs: []*core.Artifact{failResult, failOutput}}}
	failResult.Action = failAction
	failOutput.Action = failAction
	failTest := &core.Test{Rule: failRule, ResultArtifact: failResult, OutputArtifact: failOutput}
	failAction.Test = failTest

	// Pre-seed the two commands to write "true"/"false" by setting each
	// action's recordingCommand content directly; recordingCommand writes the
	// same content to every output.
	passAction.Command.(*recordingCommand).content = []byte("true")
	failAction.Command.(*recordingCommand).content = []byte("false")

	b := New(states, execRunner, 2, fs.Read)
	if err := b.AddTest(passTest); err != nil {
		t.Fatalf("AddTest(pass): %v", err)
	}
	if err := b.AddTest(failTest); err != nil {
		t.Fatalf("AddTest(fail): %v", err)
	}
	if err := b.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	allPassed, err := b.PrintTestResults()
	if err != nil {
		t.Fatalf("PrintTestResults: %v", err)
	}
	if allPassed {
		t.Errorf("allPassed = true, want false (one test failed)")
	}
}
