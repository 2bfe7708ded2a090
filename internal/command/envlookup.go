package command

import (
	"io"

	"github.com/nrednay/sebuild/internal/core"
)

// EnvLookup reads an environment variable (via the env/ virtual filesystem,
// indirectly — the enumerator supplies Default as an artifact read if it is
// one) and writes the resolved value to Output. If the variable is unset and
// no Default is given, the command fails.
type EnvLookup struct {
	Name   string
	Output *core.Artifact

	// exactly one of DefaultLiteral (HasDefaultLiteral=true) or DefaultArtifact may be set;
	// neither set means "no default".
	DefaultLiteral   string
	HasDefaultLiteral bool
	DefaultArtifact  *core.Artifact

	SetStatus bool

	// EnvArtifact and SetArtifact are the env/NAME and env/set/NAME artifacts
	// synthesized by the MappedDirectory; reading them is how this command
	// observes the environment through the normal clean/dirty machinery
	// instead of calling os.Getenv directly.
	EnvArtifact *core.Artifact
	SetArtifact *core.Artifact
}

func (e *EnvLookup) EnumerateArtifacts(en core.ArtifactEnumerator) error {
	en.AddInput(e.EnvArtifact)
	en.AddInput(e.SetArtifact)
	if e.DefaultArtifact != nil {
		en.AddInput(e.DefaultArtifact)
	}
	en.AddOutput(e.Output)
	return nil
}

func (e *EnvLookup) Run(ctx core.CommandContext, log core.LogSink) bool {
	setBytes, err := ctx.Read(e.SetArtifact)
	if err != nil {
		log.Printf("read %s: %v", e.SetArtifact.Filename, err)
		return false
	}
	var value []byte
	if string(setBytes) == "true" {
		value, err = ctx.Read(e.EnvArtifact)
		if err != nil {
			log.Printf("read %s: %v", e.EnvArtifact.Filename, err)
			return false
		}
	} else if e.DefaultArtifact != nil {
		value, err = ctx.Read(e.DefaultArtifact)
		if err != nil {
			log.Printf("read %s: %v", e.DefaultArtifact.Filename, err)
			return false
		}
	} else if e.HasDefaultLiteral {
		value = []byte(e.DefaultLiteral)
	} else {
		log.Printf("environment variable %s is unset and has no default", e.Name)
		return false
	}
	if e.SetStatus {
		ctx.Status(e.Name + "=" + string(value))
	}
	if err := ctx.Write(e.Output, value); err != nil {
		log.Printf("write %s: %v", e.Output.Filename, err)
		return false
	}
	return true
}

func (e *EnvLookup) Hash(w io.Writer) {
	writeTagged(w, 'V', nil)
	writeTagged(w, 'n', []byte(e.Name))
	writeTagged(w, 'o', []byte(e.Output.Filename))
	if e.DefaultArtifact != nil {
		writeTagged(w, 'D', []byte(e.DefaultArtifact.Filename))
	} else if e.HasDefaultLiteral {
		writeTagged(w, 'd', []byte(e.DefaultLiteral))
	}
}
