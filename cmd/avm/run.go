package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/chazu/abcvm/manifest"
	"github.com/chazu/abcvm/unit"
	"github.com/chazu/abcvm/vm"
	"github.com/pkg/errors"
	"github.com/prometheus/common/expfmt"
	flag "github.com/spf13/pflag"
	"github.com/tliron/commonlog"
)

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	verbose := fs.CountP("verbose", "v", "Increase log verbosity (repeatable)")
	logFile := fs.String("log-file", "", "Write logs to a file instead of stderr")
	manifestDir := fs.StringP("manifest", "m", "", "Directory holding abcvm.toml (default: search upward from the working directory)")
	script := fs.IntP("script", "s", -1, "Index of the entry script (default: the last one)")
	maxInstructions := fs.Uint64("max-instructions", 0, "Instruction budget per invocation, 0 for unlimited")
	timeout := fs.Duration("timeout", 0, "Wall-clock limit per invocation, 0 for unlimited")
	traceOps := fs.Bool("trace-ops", false, "Log every executed instruction (needs -vv)")
	metrics := fs.Bool("metrics", false, "Print collected metrics to stderr after the run")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: avm run [options] [units...]\n\n")
		fmt.Fprintf(os.Stderr, "Without units, runs the project described by abcvm.toml.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	m, err := loadManifest(*manifestDir)
	if err != nil {
		return fail(err)
	}

	logPath := m.LogPath()
	if fs.Changed("log-file") {
		logPath = logFile
	}
	commonlog.Configure(m.Log.Verbosity+*verbose, logPath)

	opts := vm.Options{
		Limits:   m.VMLimits(),
		Output:   os.Stdout,
		TraceOps: m.Log.TraceOps || *traceOps,
	}
	if fs.Changed("max-instructions") {
		opts.Limits.MaxInstructions = *maxInstructions
	}
	if fs.Changed("timeout") {
		opts.Limits.Timeout = *timeout
	}
	dumpMetrics := m.Metrics.Dump || *metrics
	if m.Metrics.Enabled || dumpMetrics {
		opts.Metrics = vm.NewMetrics()
	}

	paths := fs.Args()
	entryScript := m.Run.Script
	if len(paths) == 0 {
		if paths, err = m.LoadOrder(); err != nil {
			return fail(err)
		}
	} else {
		entryScript = nil
	}
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "avm run: no units given and no [run] entry configured\n")
		return exitUsage
	}
	if fs.Changed("script") {
		entryScript = script
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	in := vm.NewInterpreter(opts)
	result, err := run(ctx, in, paths, entryScript)
	if dumpMetrics {
		if err := writeMetrics(os.Stderr, opts.Metrics); err != nil {
			log.Warningf("cannot write metrics: %v", err)
		}
	}
	if err != nil {
		return fail(err)
	}
	if !result.IsUndefined() {
		fmt.Println(vm.ToString(result))
	}
	log.Infof("executed %d instructions", in.Executed())
	return exitOK
}

// loadManifest loads the manifest in dir, or searches for one from the
// working directory. A missing manifest yields an empty one.
func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil || m != nil {
		return m, err
	}
	return manifest.Parse(".", nil)
}

// run loads every unit in paths and runs the entry script of the last.
func run(ctx context.Context, in *vm.Interpreter, paths []string, script *int) (vm.Value, error) {
	libs, entryPath := paths[:len(paths)-1], paths[len(paths)-1]
	for _, p := range libs {
		u, err := unit.LoadFile(p)
		if err != nil {
			return vm.Undefined, err
		}
		if err := in.LoadUnit(u); err != nil {
			return vm.Undefined, errors.Wrapf(err, "loading %s", p)
		}
		log.Infof("loaded library unit %s", p)
	}

	u, err := unit.LoadFile(entryPath)
	if err != nil {
		return vm.Undefined, err
	}
	index := len(u.Scripts) - 1
	if script != nil {
		index = *script
	}
	log.Infof("running script %d of %s", index, entryPath)
	return in.RunScript(ctx, u, index)
}

func writeMetrics(w io.Writer, m *vm.Metrics) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
