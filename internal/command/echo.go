package command

import (
	"io"

	"github.com/nrednay/sebuild/internal/core"
)

// Echo writes literal bytes to a single output artifact.
type Echo struct {
	Content []byte
	Output  *core.Artifact
}

func (e *Echo) EnumerateArtifacts(en core.ArtifactEnumerator) error {
	en.AddOutput(e.Output)
	return nil
}

func (e *Echo) Run(ctx core.CommandContext, log core.LogSink) bool {
	if err := ctx.Write(e.Output, e.Content); err != nil {
		log.Printf("write %s: %v", e.Output.Filename, err)
		return false
	}
	return true
}

func (e *Echo) Hash(w io.Writer) {
	writeTagged(w, 'E', nil)
	writeTagged(w, 'c', e.Content)
	writeTagged(w, 'o', []byte(e.Output.Filename))
}
