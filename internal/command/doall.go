package command

import (
	"io"

	"github.com/nrednay/sebuild/internal/core"
)

// DoAll runs each sub-command in order; the first failure stops execution.
// Enumeration reports the union of every sub-command's inputs/outputs.
type DoAll struct {
	Subs []core.Command
}

func (d *DoAll) EnumerateArtifacts(en core.ArtifactEnumerator) error {
	for _, sub := range d.Subs {
		if err := sub.EnumerateArtifacts(en); err != nil {
			return err
		}
	}
	return nil
}

func (d *DoAll) Run(ctx core.CommandContext, log core.LogSink) bool {
	for _, sub := range d.Subs {
		if !sub.Run(ctx, log) {
			return false
		}
	}
	return true
}

func (d *DoAll) Hash(w io.Writer) {
	writeTagged(w, 'A', nil)
	for _, sub := range d.Subs {
		sub.Hash(w)
	}
}
