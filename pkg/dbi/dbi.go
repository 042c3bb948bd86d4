// Package dbi is the contract boundary between the tracer and the
// dynamic binary instrumentation framework (the "DBI framework" of
// spec.md §1/§9): instruction decoding, insertion points, image and
// thread callbacks, register claiming, and symbol lookup are all
// provided externally. This package names only the shapes the rest of
// the tracer needs from that host; it has no runtime implementation of
// its own, mirroring how the teacher's pkg/proc separates the Process
// contract from its native/gdbserial/core backends.
package dbi

import "github.com/go-delve/pintrace/pkg/trace"

// RawInstruction is one instruction as delivered by the host at
// translation time: its address and raw encoded bytes, enough for the
// planner to decode with x86asm.
type RawInstruction struct {
	Addr  uint64
	Bytes []byte
}

// Block is one basic block as delivered by the host's trace-time
// callback.
type Block struct {
	Instructions []RawInstruction
}

// FirstAddr and LastAddr are the addresses the image registry tests
// for containment (§3).
func (b Block) FirstAddr() uint64 { return b.Instructions[0].Addr }
func (b Block) LastAddr() uint64 {
	return b.Instructions[len(b.Instructions)-1].Addr
}

// ThreadContext is the per-thread "tool register" slot carried across
// hook invocations (§9): for the single instrumented thread (thread 0,
// see §5) it holds a live Writer and AllocTracker; for every other
// thread it is nil, which every runtime hook in pkg/planner checks for
// and treats as a safe no-op.
type ThreadContext struct {
	Writer *trace.Writer
	Alloc  *trace.AllocTracker
}

// Registers names the architectural register access behind the
// runtime hooks' arguments and results: the stack pointer for
// StackPointerModification entries, and the CPUID and RDRAND
// destination registers for the semantic rewrites of §4.4. No hook in
// pkg/planner takes a Registers value; the hooks receive these values
// as plain arguments and return rewritten values. The host implements
// this over its own register file; the tracer never touches hardware
// state directly.
type Registers interface {
	StackPointer() uint64
	GPR(name string) uint64
	SetGPR(name string, v uint64)
}

// ImageCallback is installed on the host's image-load event (§4.3).
type ImageCallback func(path string, start, end uint64)

// SymbolResolver looks up an exported symbol within a loaded image by
// name, the host capability the image-load policy needs to find the
// harness's PinNotify* exports and the platform allocator routines
// before it can ask the host to install routine hooks on them (§4.3).
// A symbol that the image does not export reports found=false rather
// than an error: most images export none of the symbols being probed,
// and that is the expected common case, not a failure.
type SymbolResolver interface {
	LookupSymbol(image string, name string) (addr uint64, found bool)
}

// ThreadCallback is installed on the host's thread-start/exit events
// (§5): the host calls it once per thread, and the tracer's process
// glue layer decides whether that thread is thread 0 (gets a live
// *ThreadContext) or any other thread (gets nil).
type ThreadCallback func(threadID int) *ThreadContext
