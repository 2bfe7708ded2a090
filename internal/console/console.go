// Package console renders the worker status lines and test/log reports. It
// is deliberately thin: colorization and terminal redraw, nothing about
// build semantics.
package console

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

var isTerminal = isatty.IsTerminal(os.Stdout.Fd())

const (
	colorReset = "\033[0m"
	colorRed   = "\033[1;31m"
	colorGreen = "\033[1;32m"
	colorBlue  = "\033[1;34m"
)

func colorize(color, text string) string {
	if !isTerminal {
		return text
	}
	return color + text + colorReset
}

// Status renders one line per worker plus a summary line, redrawn in place
// on a terminal via cursor-up escapes.
type Status struct {
	mu         sync.Mutex
	lines      []string
	lastUpdate time.Time
}

// New returns a Status with one line per worker plus one summary line.
func New(workers int) *Status {
	return &Status{lines: make([]string, workers+1)}
}

// Update sets worker idx's status line (0 is the summary line; workers are
// 1-indexed) and redraws, throttled to avoid slowing the build down.
func (s *Status) Update(idx int, text string) {
	if !isTerminal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.lines) {
		return
	}
	if diff := len(s.lines[idx]) - len(text); diff > 0 {
		text += strings.Repeat(" ", diff)
	}
	s.lines[idx] = text
	if time.Since(s.lastUpdate) < 100*time.Millisecond {
		return
	}
	s.redraw()
}

// Refresh forces a redraw regardless of the throttle, used once after a
// failure to make sure the final state is visible.
func (s *Status) Refresh() {
	if !isTerminal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redraw()
}

func (s *Status) redraw() {
	s.lastUpdate = time.Now()
	for _, line := range s.lines {
		fmt.Println(line)
	}
	fmt.Printf("\033[%dA", len(s.lines)) // restore cursor position
}

// PrintActionLog emits one action's buffered diagnostics atomically, so
// concurrent actions never interleave their output.
func PrintActionLog(name string, lines []string) {
	fmt.Fprintf(os.Stderr, "%s:\n", colorize(colorRed, name))
	for _, l := range lines {
		fmt.Fprintf(os.Stderr, "  %s\n", l)
	}
}

// PrintTestResult renders one test's PASS/FAIL line.
func PrintTestResult(label string, passed, cached bool, outputArtifact string) {
	status := colorize(colorGreen, "PASS")
	if !passed {
		status = colorize(colorRed, "FAIL")
	}
	suffix := ""
	if cached {
		suffix = " (cached)"
	}
	fmt.Printf("%s: %s%s\n", status, label, suffix)
	if !passed {
		fmt.Printf("  see %s\n", outputArtifact)
	}
}

// StatusLine renders a single informational line (e.g. "no changes: foo")
// used by the caching runner when skipping an action.
func StatusLine(text string) {
	fmt.Println(colorize(colorBlue, text))
}
