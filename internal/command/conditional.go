package command

import (
	"io"

	"github.com/nrednay/sebuild/internal/core"
)

// Conditional reads Cond's bytes: "true" runs Then, "false" runs Else (if
// given, else trivially succeeds), anything else fails. Enumeration reports
// the chosen branch's inputs/outputs once Cond is readable; until then it
// reports only Cond as an input, making the enumeration incomplete.
type Conditional struct {
	Cond *core.Artifact
	Then core.Command
	Else core.Command // may be nil
}

func (c *Conditional) EnumerateArtifacts(en core.ArtifactEnumerator) error {
	en.AddInput(c.Cond)
	data, err := en.Read(c.Cond)
	if err == core.NotAvailable {
		return nil
	}
	if err != nil {
		return err
	}
	switch string(data) {
	case "true":
		return c.Then.EnumerateArtifacts(en)
	case "false":
		if c.Else != nil {
			return c.Else.EnumerateArtifacts(en)
		}
	}
	return nil
}

func (c *Conditional) Run(ctx core.CommandContext, log core.LogSink) bool {
	data, err := ctx.Read(c.Cond)
	if err != nil {
		log.Printf("read %s: %v", c.Cond.Filename, err)
		return false
	}
	switch string(data) {
	case "true":
		return c.Then.Run(ctx, log)
	case "false":
		if c.Else != nil {
			return c.Else.Run(ctx, log)
		}
		return true
	default:
		log.Printf("condition %s has invalid value %q (want \"true\" or \"false\")", c.Cond.Filename, data)
		return false
	}
}

func (c *Conditional) Hash(w io.Writer) {
	writeTagged(w, 'I', nil)
	writeTagged(w, 'c', []byte(c.Cond.Filename))
	c.Then.Hash(w)
	if c.Else != nil {
		c.Else.Hash(w)
	}
}
