package planner

import (
	"github.com/go-delve/pintrace/pkg/dbi"
	"github.com/go-delve/pintrace/pkg/trace"
)

// This file holds the runtime hook bodies the planner's PlannedHooks
// refer to. They are plain functions over primitive arguments plus a
// *dbi.ThreadContext (the claimed tool-register slot, §9) so the host
// never dispatches through an interface in the hot path. Every
// function is nil-safe on ctx/ctx.Writer/ctx.Alloc, which is how a
// non-instrumented thread (§5) costs nothing: the host installs these
// same hooks on every thread, but only thread 0's ctx is non-nil.

// OnMemoryRead appends a MemoryRead entry.
func OnMemoryRead(ctx *dbi.ThreadContext, instAddr, effAddr uint64, size uint16) {
	if ctx == nil {
		return
	}
	ctx.Writer.Append(trace.NewMemoryAccess(trace.MemoryRead, instAddr, effAddr, size))
}

// OnMemoryWrite appends a MemoryWrite entry.
func OnMemoryWrite(ctx *dbi.ThreadContext, instAddr, effAddr uint64, size uint16) {
	if ctx == nil {
		return
	}
	ctx.Writer.Append(trace.NewMemoryAccess(trace.MemoryWrite, instAddr, effAddr, size))
}

// OnBranch appends a Branch entry for a jump/call/ret with its actual
// runtime taken state.
func OnBranch(ctx *dbi.ThreadContext, kind trace.BranchKind, taken bool, src, dst uint64) {
	if ctx == nil {
		return
	}
	ctx.Writer.Append(trace.NewBranch(kind, taken, src, dst))
}

// OnStackPointerModification appends a StackPointerModification entry.
func OnStackPointerModification(ctx *dbi.ThreadContext, cause trace.StackCause, instAddr, newSP uint64) {
	if ctx == nil {
		return
	}
	ctx.Writer.Append(trace.NewStackPointerModification(cause, instAddr, newSP))
}

// OnAllocatorEntry arms the allocation-return tracker and appends the
// HeapAllocSizeParameter entry (§4.3/§4.5).
func OnAllocatorEntry(ctx *dbi.ThreadContext, size uint64) {
	if ctx == nil {
		return
	}
	ctx.Writer.Append(trace.NewHeapAllocSize(size))
	ctx.Alloc.EnterAllocator()
}

// OnAllocatorCallStep records a runtime `call` for allocation-return
// tracking; it has no trace side-effect of its own.
func OnAllocatorCallStep(ctx *dbi.ThreadContext) {
	if ctx == nil {
		return
	}
	ctx.Alloc.Call()
}

// OnAllocatorReturnStep records a runtime `ret`; when it completes the
// originally-entered allocator frame, it appends the matching
// HeapAllocAddressReturn using the return-value register.
func OnAllocatorReturnStep(ctx *dbi.ThreadContext, returnValue uint64) {
	if ctx == nil {
		return
	}
	if ctx.Alloc.Ret() {
		ctx.Writer.Append(trace.NewHeapAllocReturn(returnValue))
	}
}

// OnFree appends a HeapFreeAddressParameter entry.
func OnFree(ctx *dbi.ThreadContext, addr uint64) {
	if ctx == nil {
		return
	}
	ctx.Writer.Append(trace.NewHeapFree(addr))
}

// OnAllocatorEntryCalloc is OnAllocatorEntry for calloc(n, size): per
// §3/§4.3 the two arguments reduce to a single size = n*size before
// the HeapAllocSizeParameter entry is emitted and return tracking is
// armed.
func OnAllocatorEntryCalloc(ctx *dbi.ThreadContext, n, size uint64) {
	OnAllocatorEntry(ctx, n*size)
}

// OnStackPointerInfo appends a StackPointerInfo entry, bound to the
// harness's PinNotifyStackPointer export (§4.3 step 1 of the harness
// hook list, §4.6 step 1).
func OnStackPointerInfo(ctx *dbi.ThreadContext, spMin, spMax uint64) {
	if ctx == nil {
		return
	}
	ctx.Writer.Append(trace.NewStackPointerInfo(spMin, spMax))
}

// OnHarnessAllocation handles the optional PinNotifyAllocation(addr,
// size) export. Unlike the allocator entry/return-step pair, the
// harness already knows both the size and the address at the same
// call site, so both entries are emitted directly instead of arming
// the allocation-return tracker.
func OnHarnessAllocation(ctx *dbi.ThreadContext, addr, size uint64) {
	if ctx == nil {
		return
	}
	ctx.Writer.Append(trace.NewHeapAllocSize(size))
	ctx.Writer.Append(trace.NewHeapAllocReturn(addr))
}

// CPUIDState holds the architectural EAX/ECX saved before a `cpuid`
// instruction executes, so the after-hook can select the right leaf
// (§4.4). It is the two "planner-claimed tool registers" the spec
// describes; here it is simply a value threaded from the before-hook
// to the after-hook by the host's instrumentation of the same
// instruction, not persistent thread-local state.
type CPUIDState struct {
	EAXIn, ECXIn uint32
}

// OnCPUIDBefore captures the architectural inputs.
func OnCPUIDBefore(eax, ecx uint32) CPUIDState {
	return CPUIDState{EAXIn: eax, ECXIn: ecx}
}

// OnCPUIDAfter rewrites the CPUID outputs per the selected profile. If
// no profile is selected the instruction's real outputs are returned
// unchanged.
func OnCPUIDAfter(enabled bool, profile trace.Profile, saved CPUIDState, actual trace.CPUIDResult) trace.CPUIDResult {
	if !enabled {
		return actual
	}
	return trace.RewriteCPUID(profile, saved.EAXIn, saved.ECXIn, actual)
}

// OnRDRAND substitutes the instruction's destination with the fixed
// configured value.
func OnRDRAND(fixed uint64) uint64 {
	return trace.RewriteRDRAND(fixed)
}
