// Package main provides the tbsim command: a trace-based, cycle-accurate
// microarchitecture simulator. Given a functional instruction trace and a
// declarative microarchitecture description, it advances a notional clock
// and reports per-stage utilization, stall cycles, IPC, branch counts and
// load/store stall rates.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/sarchlab/tbsim/config"
	"github.com/sarchlab/tbsim/cpu"
	"github.com/sarchlab/tbsim/report"
	"github.com/sarchlab/tbsim/telemetry"
	"github.com/sarchlab/tbsim/trace"
)

// buildVersion is the release stamp; checked against supportedVersions when
// -version prints it, so a mis-tagged build fails loudly instead of
// reporting under a wrong version string.
const buildVersion = "1.0.0"
const supportedVersions = ">= 1.0.0-0"

// stringList collects a repeatable flag's values in order.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var (
	uarchPath    = flag.String("u", "", "Path to the microarchitecture description (required)")
	extensions   stringList
	overrides    stringList
	dumpMode     = flag.String("t", "", `Per-cycle state dump: "detailed" or "three-valued"`)
	printFrom    = flag.Uint64("print-from-cycle", 0, "Suppress dumps and verbose logging before this cycle")
	maxCycles    = flag.Uint64("cycles", 0, "Stop after this many cycles (0 = unbounded)")
	instructions = flag.String("instructions", "", "N:[M] - skip the first N retired instructions, then stop after M more")
	saveCounters = flag.String("save-counters", "", "Write the binary counter file to this path")
	reportPath   = flag.String("r", "", "Write the report to this file instead of stdout")
	verbose      = flag.Bool("v", false, "Verbose per-cycle logging")
	binaryTrace  = flag.Bool("binary-trace", false, "Read the trace in the binary frame format instead of line-buffered JSON")
	showVersion  = flag.Bool("version", false, "Print the simulator version and exit")
)

func main() {
	flag.Var(&extensions, "e", "Extension config fragment merged over the base uarch (repeatable)")
	flag.Var(&overrides, "s", "PATH=VALUE override applied after all merges (repeatable)")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *uarchPath == "" || flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: tbsim -u UARCH [options] <trace>\n\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "tbsim: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	v := semver.MustParse(buildVersion)
	c, err := semver.NewConstraint(supportedVersions)
	if err != nil || !c.Check(v) {
		fmt.Fprintf(os.Stderr, "tbsim: build version %s outside supported range %q\n",
			buildVersion, supportedVersions)
		os.Exit(1)
	}
	fmt.Printf("tbsim %s\n", v)
}

// run executes one simulation. Fatal conditions the core raises as panics
// (an unknown mnemonic at dispatch, a phase-alternation violation) are
// recovered here, at the boundary, and turned into a non-zero exit.
func run(tracePath string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()

	cfg, err := config.Load(*uarchPath, extensions, overrides)
	if err != nil {
		return err
	}

	opts, err := simOptions()
	if err != nil {
		return err
	}

	f, err := os.Open(tracePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var tr trace.Trace
	if *binaryTrace {
		tr = trace.NewBinary(f)
	} else {
		tr = trace.NewJSON(f)
	}

	log := telemetry.New(os.Stderr, *verbose, *printFrom)

	c, err := cpu.Build(cfg, tr, log)
	if err != nil {
		return err
	}

	if err := c.Simulate(opts); err != nil {
		return err
	}

	out := os.Stdout
	if *reportPath != "" {
		rf, err := os.Create(*reportPath)
		if err != nil {
			return err
		}
		defer rf.Close()
		out = rf
	}
	c.Counter().Print(out)

	if *saveCounters != "" {
		id, err := report.SaveFile(*saveCounters, c.Counter())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "counters saved to %s (run %s)\n", *saveCounters, id)
	}

	return nil
}

func simOptions() (cpu.Options, error) {
	opts := cpu.Options{
		MaxCycles:      *maxCycles,
		DumpWriter:     os.Stdout,
		PrintFromCycle: *printFrom,
	}

	switch *dumpMode {
	case "":
		opts.Dump = cpu.DumpNone
	case "detailed":
		opts.Dump = cpu.DumpDetailed
	case "three-valued":
		opts.Dump = cpu.DumpThreeValued
	default:
		return opts, fmt.Errorf("unknown dump mode %q", *dumpMode)
	}

	if *instructions != "" {
		skipStr, maxStr, _ := strings.Cut(*instructions, ":")
		skip, err := strconv.ParseUint(skipStr, 10, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid -instructions value %q", *instructions)
		}
		opts.SkipInstructions = skip
		if maxStr != "" {
			max, err := strconv.ParseUint(maxStr, 10, 64)
			if err != nil {
				return opts, fmt.Errorf("invalid -instructions value %q", *instructions)
			}
			opts.MaxInstructions = &max
		}
	}

	return opts, nil
}
