// Package cmds builds the tracer's command tree: flag parsing, config
// loading, and logging setup, the same split the teacher's
// cmd/dlv/cmds uses to keep main.go a thin entry point.
package cmds

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-delve/pintrace/pkg/config"
	"github.com/go-delve/pintrace/pkg/dbi"
	"github.com/go-delve/pintrace/pkg/logflags"
	"github.com/go-delve/pintrace/pkg/planner"
	"github.com/go-delve/pintrace/pkg/symtab"
	"github.com/go-delve/pintrace/pkg/trace"
	"github.com/go-delve/pintrace/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file the standard library logger writes to; empty
	// means stderr. The per-component logrus loggers always write to stderr.
	logDest string

	outPrefix      string
	interestingRaw string
	cpuProfileID   int
	rdrandRaw      string
	stackTracking  bool

	rootCommand *cobra.Command

	conf *config.Config
)

const tracerCommandLongDesc = `pintrace is a dynamic binary instrumentation tracer.

It attaches to a process running under a DBI framework, intercepts selected
instructions and library routines, and emits a compact, fixed-layout binary
record stream describing memory accesses, control flow, heap allocations,
stack-pointer movements, and loaded images, for later off-line side-channel
analysis.

Testcases are driven by a separate harness program (cmd/harness, not a pintrace
command) that feeds input files over stdin and brackets each run with marker calls.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "pintrace",
		Short: "pintrace is a dynamic binary instrumentation tracer.",
		Long:  tracerCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable tracer logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (see 'pintrace help log').")
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes the standard library logger's output to the specified file; the per-component loggers still write to stderr.")

	runCommand := &cobra.Command{
		Use:   "run <executable>",
		Short: "Plan instrumentation for a target and print the resolved configuration.",
		Long: `Resolves CLI flags and their built-in defaults into a planner configuration
(values in the config file are not applied), reports it, opens the prefix
trace file, and runs the image-load policy once for the named executable,
logging the routine hooks it plans. Binding those hooks and delivering later
image-load, translation, and thread callbacks is left to the DBI framework;
this binary does not instrument anything by itself.`,
		RunE: runCmd,
	}
	runCommand.Flags().StringVarP(&outPrefix, "out", "o", "out", "Output file prefix.")
	runCommand.Flags().StringVarP(&interestingRaw, "interesting", "i", ".exe", "Colon- or semicolon-separated case-insensitive substrings defining interesting images.")
	runCommand.Flags().IntVarP(&cpuProfileID, "cpu-profile", "c", 0, "Emulated CPU profile: 0 off, 1 Pentium3, 2 Merom, 3 Westmere, 4 Ivybridge.")
	runCommand.Flags().StringVarP(&rdrandRaw, "rdrand", "r", "0xBADBADBADBADBAD", "Fixed RDRAND value (hex); 0xBADBADBADBADBAD disables the rewrite.")
	runCommand.Flags().BoolVarP(&stackTracking, "stack-tracking", "s", false, "Enable stack-pointer tracking entries.")
	rootCommand.AddCommand(runCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.TracerVersion.String())
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(logCommand)

	return rootCommand
}

var logCommand = &cobra.Command{
	Use:   "log",
	Short: "Help about logging flags.",
	Long: `The '--log' flag enables logging output. By default it is disabled.

Each of the following components can be enabled by name individually by
using a comma separated list with the '--log-output' flag:

	planner - instrumentation planning decisions
	writer  - trace buffer flush and testcase boundary events
	images  - image registry loads and containment lookups
	alloc   - allocation-return tracker state transitions
	harness - harness protocol commands
	all     - all of the above

Example: use "--log --log-output=writer,alloc" to log only the trace writer
and allocation tracker.`,
}

func runCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput); err != nil {
		return err
	}
	if logDest != "" {
		f, err := os.Create(logDest)
		if err != nil {
			return fmt.Errorf("couldn't open log destination file: %v", err)
		}
		logflags.WriteTo(f)
	}

	if len(args) == 0 {
		return fmt.Errorf("you must provide a path to the target executable")
	}

	interesting := splitInteresting(interestingRaw)

	cpuProfile, cpuEnabled := trace.ProfileByID(cpuProfileID)
	if cpuProfileID != 0 && !cpuEnabled {
		fmt.Fprintf(os.Stderr, "unrecognized CPU profile id %d, disabling CPUID rewriting\n", cpuProfileID)
	}

	rdrandValue, err := strconv.ParseUint(strings.TrimPrefix(rdrandRaw, "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("invalid -r/--rdrand value %q: %v", rdrandRaw, err)
	}

	cfg := planner.Config{
		FixedRandomEnabled: rdrandValue != trace.FixedRDRANDOff,
		FixedRandomValue:   rdrandValue,
		StackTracking:      stackTracking,
		CPUProfile:         cpuProfile,
		CPUProfileEnabled:  cpuEnabled,
		InterestingImages:  interesting,
	}

	registry := trace.NewRegistry()
	p := planner.New(cfg, registry, logflags.PlannerLogger())

	session := trace.NewSession(outPrefix, nil, nil, logflags.WriterLogger())
	writer, err := trace.NewWriter(session)
	if err != nil {
		return fmt.Errorf("couldn't open output prefix %q: %v", outPrefix, err)
	}

	fmt.Printf("pintrace configured: out=%s interesting=%v cpu-profile-enabled=%v stack-tracking=%v rdrand-enabled=%v\n",
		outPrefix, interesting, cfg.CPUProfileEnabled, cfg.StackTracking, cfg.FixedRandomEnabled)

	// registerWithHost runs the image-load policy once for the target
	// executable itself; every later image-load, translation, and thread
	// callback, and the binding of the planned hooks, is the DBI host's.
	registerWithHost(p, session, writer, args[0])
	return nil
}

// registerWithHost assembles the §4.3 image-load callback
// (PlanImageLoad/BuildImageCallback, the in-module equivalent of the
// original tool's InstrumentImage) and drives it for the target
// executable named on the command line. The DBI framework itself is
// the external collaborator (§1) that would call this callback again
// for every subsequently loaded image and bind the routine hooks it
// returns against its own trampolines; this binary only owns the
// policy decision of which hooks belong on which symbols, not the
// native binding.
func registerWithHost(p *planner.Planner, session *trace.Session, writer *trace.Writer, target string) {
	// ctx is thread 0's claimed tool-register slot (§5/§9): the host
	// would return it from a dbi.ThreadCallback for thread 0 and nil for
	// every other thread, which is exactly what threadCallback below
	// does on this process's behalf until a real host drives it.
	ctx := &dbi.ThreadContext{Writer: writer, Alloc: trace.NewAllocTracker()}
	threadCallback := dbi.ThreadCallback(func(threadID int) *dbi.ThreadContext {
		if threadID != 0 {
			return nil
		}
		return ctx
	})

	resolver := symtab.New()
	callback := planner.BuildImageCallback(p, session, resolver, func(image string, hooks []planner.RoutineHook) {
		for _, h := range hooks {
			logflags.PlannerLogger().Debugf("planned routine hook %v on %s!%s (thread 0 ctx ready: %v)",
				h.Kind, image, h.Symbol, threadCallback(0) != nil)
		}
	})
	callback(target, 0, 0)
}

// splitInteresting parses the -i flag's colon- or semicolon-separated
// list, per §6.
func splitInteresting(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ':' || r == ';'
	})
}
