package core

// CommandFailure reports that an Action's Command returned false at
// runtime: a non-retryable build failure. The action's outputs are
// mtime-zeroed by the runner before this error surfaces.
type CommandFailure struct {
	Action *Action
}

func (e *CommandFailure) Error() string {
	return "action " + e.Action.StatusName() + " failed"
}

// Cancellation reports a user interrupt. It is handled identically to
// CommandFailure except for its distinguished cause, "INTERRUPTED".
type Cancellation struct{}

func (e *Cancellation) Error() string { return "INTERRUPTED" }
