package scheduler

import (
	"github.com/nrednay/sebuild/internal/console"
)

// PrintTestResults reads every registered test's result artifact and renders
// PASS/FAIL, annotated "(cached)" for tests whose result wasn't dirty at
// registration. Must be called after Build returns. Returns true if every
// test passed.
func (b *Builder) PrintTestResults() (allPassed bool, err error) {
	allPassed = true
	for _, tr := range b.tests {
		data, rerr := b.fsRead(tr.Test.ResultArtifact.Filename)
		if rerr != nil {
			tr.Err = rerr
			allPassed = false
			console.PrintTestResult(tr.Test.Rule.Label, false, tr.Cached, tr.Test.OutputArtifact.Filename)
			continue
		}
		switch string(data) {
		case "true":
			tr.Passed = true
		case "false":
			tr.Passed = false
		default:
			return false, errInvalidResult(tr.Test.ResultArtifact.Filename)
		}
		if !tr.Passed {
			allPassed = false
		}
		console.PrintTestResult(tr.Test.Rule.Label, tr.Passed, tr.Cached, tr.Test.OutputArtifact.Filename)
	}
	return allPassed, nil
}

func errInvalidResult(filename string) error {
	return &invalidTestResultError{filename: filename}
}

type invalidTestResultError struct{ filename string }

func (e *invalidTestResultError) Error() string {
	return "test result artifact " + e.filename + " does not contain \"true\" or \"false\""
}
