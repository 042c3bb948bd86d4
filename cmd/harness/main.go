// Command harness is the out-of-process testcase driver of spec §4.6.
// It runs alongside the instrumented target, not under the DBI host
// itself: it reports its stack bounds once at startup, then loops
// reading line-oriented commands from stdin, opening the named
// testcase file and bracketing the target's call with the three named
// marker routines the instrumentation planner finds by symbol.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/go-delve/pintrace/pkg/logflags"
)

// target is the function under test; in a real deployment this is the
// library routine being traced, reached through cgo or a plugin. Here
// it stands in for "call the target once per testcase file".
var target = func(f *os.File) {}

func main() {
	logFlag := os.Getenv("PINTRACE_LOG") != ""
	if err := logflags.Setup(logFlag, os.Getenv("PINTRACE_LOG_OUTPUT")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logflags.HarnessLogger()

	spMin, spMax, err := stackBounds()
	if err != nil {
		fmt.Fprintln(os.Stderr, "couldn't determine stack bounds:", err)
		os.Exit(1)
	}
	PinNotifyStackPointer(spMin, spMax)

	initializeTarget()

	reader := bufio.NewReader(os.Stdin)
	var n int
	for {
		cmdLine, err := readLine(reader)
		if err != nil {
			if err == io.EOF {
				printSummary(n)
				return
			}
			fmt.Fprintln(os.Stderr, "reading command:", err)
			os.Exit(1)
		}

		kind, arg, ok := parseCommand(cmdLine)
		if !ok {
			log.Warnf("ignoring malformed command %q", cmdLine)
			continue
		}

		switch kind {
		case "e":
			printSummary(n)
			return

		case "t":
			id, err := strconv.Atoi(arg)
			if err != nil {
				log.Warnf("ignoring testcase command with bad id %q", arg)
				continue
			}
			pathLine, err := readLine(reader)
			if err != nil {
				fmt.Fprintln(os.Stderr, "reading testcase path:", err)
				os.Exit(1)
			}
			if err := runTestcase(id, pathLine, log); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			n++

		default:
			log.Warnf("ignoring unrecognized command %q", kind)
		}
	}
}

// printSummary writes the optional final summary line documented in
// SPEC_FULL.md: a consumer that only cares about testcase counts can
// scan for a line beginning "d\t" instead of counting "t\t" notifications
// itself.
func printSummary(ntestcases int) {
	fmt.Printf("d\t%d\n", ntestcases)
}

func runTestcase(id int, path string, log interface{ Warnf(string, ...interface{}) }) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening testcase %s: %w", path, err)
	}
	defer f.Close()

	PinNotifyTestcaseStart(id)
	target(f)
	PinNotifyTestcaseEnd()
	return nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// parseCommand splits a command line of the form "t <id>" or "e 0"
// into its kind and argument.
func parseCommand(line string) (kind, arg string, ok bool) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(fields) == 0 || fields[0] == "" {
		return "", "", false
	}
	if len(fields) == 1 {
		return fields[0], "", true
	}
	return fields[0], strings.TrimSpace(fields[1]), true
}

// stackBounds reports the current thread's stack bounds via the
// process's RLIMIT_STACK, the portable approximation of the bounds a
// real Pin harness reads off the thread's TEB/pthread attributes.
func stackBounds() (min, max uint64, err error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_STACK, &rlim); err != nil {
		return 0, 0, err
	}
	sp := currentStackPointerApprox()
	return sp - rlim.Cur, sp, nil
}

// currentStackPointerApprox takes the address of a local variable as a
// stand-in for reading the architectural stack pointer register, which
// requires assembly the harness has no need to carry for a bound
// approximation.
func currentStackPointerApprox() uint64 {
	var x int
	return uint64(uintptr(unsafe.Pointer(&x)))
}
