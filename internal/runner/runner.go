// Package runner implements the Execution Runner of §4.F: it provides each
// Command a CommandContext, materializes in-memory artifacts to temp files
// as needed, and spawns subprocesses.
package runner

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nrednay/sebuild/internal/core"
	"github.com/nrednay/sebuild/internal/state"
	"github.com/nrednay/sebuild/internal/vfs"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// epoch is the mtime written onto a failed action's outputs. It is far
// older than anything else in the tree, so the normal dirty-comparison
// machinery in package state treats them as stale without a separate "is
// zeroed" flag.
var epoch = time.Unix(0, 0)

// ExecutionRunner runs one Action at a time per call to Run, implementing
// scheduler.ActionRunner structurally.
type ExecutionRunner struct {
	FS        vfs.Directory
	OutputDir *vfs.DiskDirectory // where temp files are materialized
}

// Run implements scheduler.ActionRunner. lock is held on entry and must be
// held on return; it is released only around the one blocking OS call
// (subprocess wait). If cancelCtx is done when a subprocess is spawned, the
// child is killed immediately instead.
func (r *ExecutionRunner) Run(cancelCtx context.Context, a *core.Action, as *state.ActionState, lock sync.Locker, log core.LogSink) bool {
	for _, out := range as.Outputs {
		r.FS.Mkdir(parentDir(out.Filename))
	}

	cctx := &commandContext{runner: r, action: a, lock: lock, cancel: cancelCtx, temps: make(map[*core.Artifact]*tempFile)}
	ok := func() bool {
		// Deferred so temp files are resolved on every exit path, including
		// a panic inside the Command.
		defer cctx.resolveMemFiles()
		return a.Command.Run(cctx, log)
	}()

	if !ok {
		for _, out := range as.Outputs {
			r.FS.Touch(out.Filename, epoch)
		}
		return false
	}
	return true
}

func parentDir(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '/' {
			return filename[:i]
		}
	}
	return "."
}

// tempFile is a temp-file materialization of one in-memory-backed artifact,
// scoped to a single action's execution and guaranteed to be resolved back
// (or discarded) on every exit path.
type tempFile struct {
	path     string
	artifact *core.Artifact
}

type commandContext struct {
	runner *ExecutionRunner
	action *core.Action
	lock   sync.Locker
	cancel context.Context

	mu    sync.Mutex
	temps map[*core.Artifact]*tempFile
}

func (c *commandContext) GetDiskPath(a *core.Artifact, useTemporary bool) (string, bool) {
	if p, ok := c.runner.FS.GetDiskPath(a.Filename); ok {
		return p, true
	}
	if !useTemporary {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.temps[a]; ok {
		return t.path, true
	}
	data, err := c.runner.FS.Read(a.Filename)
	if err != nil {
		data = nil
	}
	tmpDir := "" // system temp dir when no OutputDir is configured
	if c.runner.OutputDir != nil {
		tmpDir = c.runner.OutputDir.Root
	}
	f, err := ioutil.TempFile(tmpDir, "sebuild-")
	if err != nil {
		return "", false
	}
	f.Write(data)
	f.Close()
	os.Chmod(f.Name(), 0700)
	t := &tempFile{path: f.Name(), artifact: a}
	c.temps[a] = t
	return t.path, true
}

func (c *commandContext) Read(a *core.Artifact) ([]byte, error) {
	c.mu.Lock()
	t, hasTemp := c.temps[a]
	c.mu.Unlock()
	if hasTemp {
		return ioutil.ReadFile(t.path)
	}
	return c.runner.FS.Read(a.Filename)
}

func (c *commandContext) Write(a *core.Artifact, data []byte) error {
	c.mu.Lock()
	t, hasTemp := c.temps[a]
	c.mu.Unlock()
	if hasTemp {
		return ioutil.WriteFile(t.path, data, 0700)
	}
	return c.runner.FS.Write(a.Filename, data, time.Time{})
}

func (c *commandContext) Getenv(name string) (string, bool) {
	return os.LookupEnv(name)
}

func (c *commandContext) Status(text string) {
	// Per-worker status-line attachment is handled by the scheduler's
	// console.Status; the execution runner has no direct handle to it, so
	// this is a no-op hook front-ends' EnvLookup(set_status) can still call
	// safely.
}

// Subprocess spawns argv, releasing lock across the blocking wait so other
// workers can make progress, and reacquiring it before returning.
func (c *commandContext) Subprocess(argv []string, env []string) (exitCode int, stdout, stderr []byte, err error) {
	if len(argv) == 0 {
		return 0, nil, nil, xerrors.New("empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if env != nil {
		cmd.Env = env
	} else {
		cmd.Env = os.Environ()
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Start(); err != nil {
		return -1, nil, nil, xerrors.Errorf("starting %v: %w", argv, err)
	}

	done := make(chan struct{})
	if c.cancel != nil {
		go func() {
			select {
			case <-c.cancel.Done():
				if cmd.Process != nil {
					Kill(cmd.Process.Pid)
				}
			case <-done:
			}
		}()
	}

	c.lock.Unlock()
	waitErr := cmd.Wait()
	c.lock.Lock()
	close(done)

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if status.Signaled() && status.Signal() == syscall.SIGKILL {
					return -1, outBuf.Bytes(), errBuf.Bytes(), &core.Cancellation{}
				}
				return status.ExitStatus(), outBuf.Bytes(), errBuf.Bytes(), nil
			}
		}
		return -1, outBuf.Bytes(), errBuf.Bytes(), xerrors.Errorf("running %v: %w", argv, waitErr)
	}
	return 0, outBuf.Bytes(), errBuf.Bytes(), nil
}

// Kill sends SIGKILL to the process with the given pid (not its process
// group), used by Subprocess on cancellation to make the in-flight command's
// child exit immediately.
func Kill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

func (c *commandContext) resolveMemFiles() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for a, t := range c.temps {
		data, err := ioutil.ReadFile(t.path)
		if err == nil {
			c.runner.FS.Write(a.Filename, data, time.Time{})
		}
		os.Remove(t.path)
		delete(c.temps, a)
	}
}
