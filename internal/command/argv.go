// Package command implements the closed set of Command variants: Echo,
// EnvLookup, DoAll, Conditional, Subprocess. Each is inspectable (enumerates
// its own inputs/outputs), executable, and hashable.
package command

import (
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/nrednay/sebuild/internal/core"
)

// ArgElem is one element of a Subprocess argv list: a tagged sum type, never
// an open interface{} type-switch grab-bag.
type ArgElem interface {
	isArgElem()
}

// Literal is a verbatim string argument.
type Literal string

// File resolves to the on-disk path of an Artifact (materializing a temp
// file if the artifact isn't disk-backed).
type File struct{ Artifact *core.Artifact }

// Content resolves to the bytes of an Artifact. At top level in an argv list
// a Content element is whitespace-split into zero or more arguments; nested
// inside a Concat it is spliced verbatim into the surrounding argument.
type Content struct{ Artifact *core.Artifact }

// Concat joins the resolution of each child into a single argument; any
// Content child is spliced verbatim (not whitespace-split) because it isn't
// at top level.
type Concat []ArgElem

func (Literal) isArgElem() {}
func (File) isArgElem()    {}
func (Content) isArgElem() {}
func (Concat) isArgElem()  {}

// classifyArtifacts walks argv once, reporting every Artifact referenced by
// File or Content elements (at any nesting depth) to visit; an artifact
// referenced more than once is visited once per reference.
func classifyArtifacts(argv []ArgElem, visit func(*core.Artifact)) {
	var walk func(e ArgElem)
	walk = func(e ArgElem) {
		switch v := e.(type) {
		case File:
			visit(v.Artifact)
		case Content:
			visit(v.Artifact)
		case Concat:
			for _, child := range v {
				walk(child)
			}
		case Literal:
		}
	}
	for _, e := range argv {
		walk(e)
	}
}

// resolveArgv turns argv into the final []string passed to exec, using ctx to
// materialize File paths and Content bytes. Returns core.NotAvailable if any
// referenced artifact isn't readable yet.
func resolveArgv(argv []ArgElem, ctx core.CommandContext) ([]string, error) {
	var out []string
	var resolveOne func(e ArgElem, topLevel bool) (string, bool, error)
	resolveOne = func(e ArgElem, topLevel bool) (string, bool, error) {
		switch v := e.(type) {
		case Literal:
			return string(v), false, nil
		case File:
			p, ok := ctx.GetDiskPath(v.Artifact, true)
			if !ok {
				return "", false, core.NotAvailable
			}
			return p, false, nil
		case Content:
			data, err := ctx.Read(v.Artifact)
			if err != nil {
				return "", false, err
			}
			return string(data), topLevel, nil
		case Concat:
			var buf bytes.Buffer
			for _, child := range v {
				s, _, err := resolveOne(child, false)
				if err != nil {
					return "", false, err
				}
				buf.WriteString(s)
			}
			return buf.String(), false, nil
		}
		return "", false, nil
	}
	for _, e := range argv {
		s, split, err := resolveOne(e, true)
		if err != nil {
			return nil, err
		}
		if split {
			out = append(out, strings.Fields(s)...)
		} else {
			out = append(out, s)
		}
	}
	return out, nil
}

// hashArgv feeds a canonical encoding of argv to w, for use by Command.Hash
// implementations.
func hashArgv(argv []ArgElem, w io.Writer) {
	var walk func(e ArgElem)
	walk = func(e ArgElem) {
		switch v := e.(type) {
		case Literal:
			writeTagged(w, 'L', []byte(v))
		case File:
			writeTagged(w, 'F', []byte(v.Artifact.Filename))
		case Content:
			writeTagged(w, 'C', []byte(v.Artifact.Filename))
		case Concat:
			writeTagged(w, 'X', nil)
			for _, child := range v {
				walk(child)
			}
			writeTagged(w, 'x', nil)
		}
	}
	for _, e := range argv {
		walk(e)
	}
}

// writeTagged writes tag, a 4-byte big-endian length, then data: the
// canonical length-prefixed encoding every Command.Hash uses for string and
// artifact-name fields.
func writeTagged(w io.Writer, tag byte, data []byte) {
	w.Write([]byte{tag})
	var lenBuf [4]byte
	n := len(data)
	lenBuf[0] = byte(n >> 24)
	lenBuf[1] = byte(n >> 16)
	lenBuf[2] = byte(n >> 8)
	lenBuf[3] = byte(n)
	w.Write(lenBuf[:])
	w.Write(data)
}

// sortArtifactsByFilename returns a stable, filename-sorted copy, since the
// hash and digest computations must be independent of map/set iteration
// order.
func sortArtifactsByFilename(in []*core.Artifact) []*core.Artifact {
	out := make([]*core.Artifact, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}
