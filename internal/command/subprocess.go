package command

import (
	"io"
	"strings"

	"github.com/nrednay/sebuild/internal/core"
)

// Subprocess spawns a process. Artifacts referenced by argv or listed in
// Implicit are classified during enumeration: any such artifact whose
// producing action is this command's own Owner action is an output; every
// other one is an input.
type Subprocess struct {
	// Owner must be set to the Action this Command belongs to before the
	// first call to EnumerateArtifacts, so implicit-output classification
	// knows which artifacts this action itself produces.
	Owner *core.Action

	Argv     []ArgElem
	Implicit []*core.Artifact

	CaptureStdout      *core.Artifact
	CaptureStderr      *core.Artifact
	CaptureExitStatus  *core.Artifact
}

func (s *Subprocess) EnumerateArtifacts(en core.ArtifactEnumerator) error {
	seen := make(map[*core.Artifact]bool)
	classifyArtifacts(s.Argv, func(a *core.Artifact) {
		if seen[a] {
			return
		}
		seen[a] = true
		if a.Action == s.Owner {
			en.AddOutput(a)
		} else {
			en.AddInput(a)
		}
	})
	for _, a := range s.Implicit {
		if seen[a] {
			continue
		}
		seen[a] = true
		if a.Action == s.Owner {
			en.AddOutput(a)
		} else {
			en.AddInput(a)
		}
	}
	if s.CaptureStdout != nil {
		en.AddOutput(s.CaptureStdout)
	}
	if s.CaptureStderr != nil && s.CaptureStderr != s.CaptureStdout {
		en.AddOutput(s.CaptureStderr)
	}
	if s.CaptureExitStatus != nil {
		en.AddOutput(s.CaptureExitStatus)
	}
	return nil
}

func (s *Subprocess) Run(ctx core.CommandContext, log core.LogSink) bool {
	argv, err := resolveArgv(s.Argv, ctx)
	if err != nil {
		log.Printf("resolving argv: %v", err)
		return false
	}
	// nil env tells the runner to use the current process environment,
	// augmented by whatever overrides it applies to hide its own internals.
	exitCode, stdout, stderr, err := ctx.Subprocess(argv, nil)
	if err != nil {
		log.Printf("%s: %v", strings.Join(argv, " "), err)
		return false
	}

	mergeStreams := s.CaptureStdout != nil && s.CaptureStdout == s.CaptureStderr
	if mergeStreams {
		if err := ctx.Write(s.CaptureStdout, append(stdout, stderr...)); err != nil {
			log.Printf("write %s: %v", s.CaptureStdout.Filename, err)
			return false
		}
	} else {
		if s.CaptureStdout != nil {
			if err := ctx.Write(s.CaptureStdout, stdout); err != nil {
				log.Printf("write %s: %v", s.CaptureStdout.Filename, err)
				return false
			}
		}
		if s.CaptureStderr != nil {
			if err := ctx.Write(s.CaptureStderr, stderr); err != nil {
				log.Printf("write %s: %v", s.CaptureStderr.Filename, err)
				return false
			}
		}
	}

	if s.CaptureExitStatus != nil {
		status := "false"
		if exitCode == 0 {
			status = "true"
		}
		if err := ctx.Write(s.CaptureExitStatus, []byte(status)); err != nil {
			log.Printf("write %s: %v", s.CaptureExitStatus.Filename, err)
			return false
		}
		return true
	}

	if exitCode != 0 {
		log.Printf("%s: exit status %d", strings.Join(argv, " "), exitCode)
		return false
	}
	return true
}

func (s *Subprocess) Hash(w io.Writer) {
	writeTagged(w, 'S', nil)
	hashArgv(s.Argv, w)
	for _, a := range sortArtifactsByFilename(s.Implicit) {
		writeTagged(w, 'm', []byte(a.Filename))
	}
	if s.CaptureStdout != nil {
		writeTagged(w, '1', []byte(s.CaptureStdout.Filename))
	}
	if s.CaptureStderr != nil {
		writeTagged(w, '2', []byte(s.CaptureStderr.Filename))
	}
	if s.CaptureExitStatus != nil {
		writeTagged(w, 'x', []byte(s.CaptureExitStatus.Filename))
	}
}
