// Command sebuild is the CLI front end over the build engine core. Per the
// external interface contract: build/test/clean/configure subcommands, -jN
// worker count, -v verbosity, -C to pick the output root directory. -C names
// a directory only; alias=path mappings to alternate configurations are not
// supported.
// Argument parsing and subcommand dispatch are deliberately thin; the engine
// itself lives in internal/.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/nrednay/sebuild/internal/cache"
	"github.com/nrednay/sebuild/internal/persist"
	"github.com/nrednay/sebuild/internal/runner"
	"github.com/nrednay/sebuild/internal/scheduler"
	"github.com/nrednay/sebuild/internal/state"
	"github.com/nrednay/sebuild/internal/vfs"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(os.Args[2:], false)
	case "test":
		err = runBuild(os.Args[2:], true)
	case "clean":
		err = runClean(os.Args[2:])
	case "configure":
		err = runConfigure(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  sebuild build [-v] [-jN] <target>...
  sebuild test  [-v] [-jN] <target>...
  sebuild clean [--expunge]
  sebuild configure [-C dir] [NAME=VALUE | NAME-]...
  sebuild configure [-C dir] -o`)
}

// env is the assembled engine, ready for a front end to register rules
// against. The build-description language that produces those rules is
// outside this core's scope; callers that embed it construct Rules/Tests
// via core.Context and hand them to env.builder.
type env struct {
	root    string
	fs      vfs.Directory
	mem     *vfs.VirtualDirectory
	envDir  *vfs.VirtualDirectory
	states  *state.StateMap
	builder *scheduler.Builder
	cached  *cache.CachingRunner
	persist *persist.State
}

func newEnv(root string, jobs int) (*env, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0755); err != nil {
		return nil, err
	}
	loaded, err := persist.Load(root)
	if err != nil {
		return nil, err
	}

	mem := vfs.NewVirtualDirectory()
	mem.Restore(loaded.Mem)
	envDir := vfs.NewVirtualDirectory()
	envDir.Restore(loaded.Env)

	srcDir := vfs.NewDiskDirectory(filepath.Join(root, "..", "src"))
	outDir := vfs.NewDiskDirectory(root)

	mapping := &vfs.DefaultMapping{
		Source: srcDir,
		Output: outDir,
		Mem:    mem,
		Env:    envDir,
		Alt:    map[string]vfs.Directory{},
		Locked: loaded.Locked,
	}
	fs := vfs.NewMappedDirectory(mapping)

	states := state.New(fs)
	execRunner := &runner.ExecutionRunner{FS: fs, OutputDir: outDir}
	cached := cache.New(execRunner, fs, loaded.Cache)
	builder := scheduler.New(states, cached, jobs, fs.Read)

	return &env{
		root: root, fs: fs, mem: mem, envDir: envDir,
		states: states, builder: builder, cached: cached, persist: loaded,
	}, nil
}

func (e *env) save() error {
	return persist.Save(e.root, &persist.State{
		Mem:    e.mem.Snapshot(),
		Env:    e.envDir.Snapshot(),
		Locked: e.persist.Locked,
		Cache:  e.cached.Cache,
	})
}

func runBuild(args []string, isTest bool) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	jobs := fs.Int("j", 4, "parallel workers")
	verbose := fs.Bool("v", false, "verbose")
	configDir := fs.String("C", ".sebuild-out", "output root")
	fs.Parse(args)
	_ = verbose

	e, err := newEnv(*configDir, *jobs)
	if err != nil {
		return err
	}

	// Rule/Test registration is performed by the build-description front
	// end, which is out of this core's scope and not part of this binary.
	// The targets in fs.Args() are not resolved or registered here, so
	// Build runs over whatever has been registered with e.builder.
	_ = fs.Args()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		if _, ok := <-sigs; ok {
			cancel()
		}
	}()

	if err := e.builder.Build(ctx); err != nil {
		e.save()
		return err
	}
	if err := e.save(); err != nil {
		return err
	}

	if isTest {
		passed, err := e.builder.PrintTestResults()
		if err != nil {
			return err
		}
		if !passed {
			os.Exit(1)
		}
	}
	return nil
}

func runClean(args []string) error {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	expunge := fs.Bool("expunge", false, "also remove persisted state blobs")
	configDir := fs.String("C", ".sebuild-out", "output root")
	fs.Parse(args)

	for _, d := range []string{"tmp", "bin", "lib", "include", "share"} {
		os.RemoveAll(filepath.Join(*configDir, d))
	}
	if *expunge {
		for _, f := range []string{"mem.blob", "env.blob", "cache.blob"} {
			os.Remove(filepath.Join(*configDir, f))
		}
	}
	return nil
}

func runConfigure(args []string) error {
	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	configDir := fs.String("C", ".sebuild-out", "output root")
	printOnly := fs.Bool("o", false, "print locked config")
	fs.Parse(args)

	loaded, err := persist.Load(*configDir)
	if err != nil {
		return err
	}
	if *printOnly {
		for k, v := range loaded.Locked {
			fmt.Printf("%s=%s\n", k, v)
		}
		return nil
	}
	for _, arg := range fs.Args() {
		if len(arg) > 0 && arg[len(arg)-1] == '-' {
			delete(loaded.Locked, arg[:len(arg)-1])
			continue
		}
		for i := 0; i < len(arg); i++ {
			if arg[i] == '=' {
				loaded.Locked[arg[:i]] = arg[i+1:]
				break
			}
		}
	}
	return persist.Save(*configDir, loaded)
}
