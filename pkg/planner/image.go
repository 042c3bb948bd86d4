package planner

import (
	"runtime"
	"strings"

	"github.com/go-delve/pintrace/pkg/dbi"
	"github.com/go-delve/pintrace/pkg/trace"
)

// RoutineHookKind names one routine (as opposed to per-instruction)
// hook the image-load policy can plan: a call bound to the entry of a
// named library export rather than to a decoded instruction.
type RoutineHookKind int

const (
	RoutineAllocEntry       RoutineHookKind = iota // malloc/realloc/RtlAllocateHeap(size)
	RoutineAllocEntryCalloc                        // calloc(n, size)
	RoutineFree                                    // free/RtlFreeHeap(addr)
	RoutineHarnessTestcaseStart
	RoutineHarnessTestcaseEnd
	RoutineHarnessStackPointer
	RoutineHarnessAllocation
)

// RoutineHandler is the runtime function bound to a RoutineHookKind.
// The host decodes each routine's native arguments and passes them
// here positionally, the same "planner never dispatches through an
// interface, host binds plain functions" contract PlannedHook uses for
// per-instruction hooks.
type RoutineHandler func(ctx *dbi.ThreadContext, args ...uint64)

// RoutineHook is one routine hook the image-load policy decided to
// install: the symbol it binds to, and the handler the host should
// invoke at that symbol's entry.
type RoutineHook struct {
	Kind    RoutineHookKind
	Symbol  string
	Handler RoutineHandler
}

// allocatorSymbolsFor returns the candidate allocator routine hooks
// for an image, branched by platform and gated by the image's own
// name, exactly as §4.3's "Allocator hooks (platform-branched by image
// name)" specifies: ntdll-provided on Windows, libc.so-provided on
// Unix. Any other image yields no candidates.
func allocatorSymbolsFor(name string) []RoutineHook {
	lname := strings.ToLower(name)
	switch {
	case runtime.GOOS == "windows" && strings.Contains(lname, "ntdll"):
		return []RoutineHook{
			{Kind: RoutineAllocEntry, Symbol: "RtlAllocateHeap"},
			{Kind: RoutineFree, Symbol: "RtlFreeHeap"},
		}
	case runtime.GOOS != "windows" && strings.Contains(lname, "libc.so"):
		return []RoutineHook{
			{Kind: RoutineAllocEntry, Symbol: "malloc"},
			{Kind: RoutineAllocEntryCalloc, Symbol: "calloc"},
			{Kind: RoutineAllocEntry, Symbol: "realloc"},
			{Kind: RoutineFree, Symbol: "free"},
		}
	}
	return nil
}

// harnessSymbols are the three mandatory and one optional harness
// exports §4.3 looks up by symbol in the main executable image only
// (the first image any process ever loads, see Registry.Add).
func harnessSymbols() []RoutineHook {
	return []RoutineHook{
		{Kind: RoutineHarnessTestcaseStart, Symbol: "PinNotifyTestcaseStart"},
		{Kind: RoutineHarnessTestcaseEnd, Symbol: "PinNotifyTestcaseEnd"},
		{Kind: RoutineHarnessStackPointer, Symbol: "PinNotifyStackPointer"},
		{Kind: RoutineHarnessAllocation, Symbol: "PinNotifyAllocation"},
	}
}

// HandlerFor resolves a RoutineHookKind to the plain function that
// runs when the host fires the corresponding routine hook. Keeping
// this resolution here, rather than inline in runtime.go, keeps the
// hook bodies themselves free of any routine-hook bookkeeping.
func (p *Planner) HandlerFor(kind RoutineHookKind) RoutineHandler {
	switch kind {
	case RoutineAllocEntry:
		return func(ctx *dbi.ThreadContext, args ...uint64) { OnAllocatorEntry(ctx, args[0]) }
	case RoutineAllocEntryCalloc:
		return func(ctx *dbi.ThreadContext, args ...uint64) { OnAllocatorEntryCalloc(ctx, args[0], args[1]) }
	case RoutineFree:
		return func(ctx *dbi.ThreadContext, args ...uint64) { OnFree(ctx, args[0]) }
	case RoutineHarnessStackPointer:
		return func(ctx *dbi.ThreadContext, args ...uint64) { OnStackPointerInfo(ctx, args[0], args[1]) }
	case RoutineHarnessAllocation:
		return func(ctx *dbi.ThreadContext, args ...uint64) { OnHarnessAllocation(ctx, args[0], args[1]) }
	case RoutineHarnessTestcaseStart:
		return func(ctx *dbi.ThreadContext, args ...uint64) {
			if ctx == nil {
				return
			}
			if err := ctx.Writer.TestcaseStart(int(args[0])); err != nil {
				p.log.Warnf("testcase start: %v", err)
			}
		}
	case RoutineHarnessTestcaseEnd:
		return func(ctx *dbi.ThreadContext, args ...uint64) {
			if ctx == nil {
				return
			}
			if err := ctx.Writer.TestcaseEnd(); err != nil {
				p.log.Warnf("testcase end: %v", err)
			}
		}
	}
	return nil
}

// PlanImageLoad implements the §4.3 image-load callback policy in
// order: classify and register the image, record its prefix metadata
// line, then resolve and plan routine hooks for whichever of the
// harness exports (main executable only) and platform allocator
// routines (libc.so/ntdll images only) this particular image actually
// exports. This is the in-module equivalent of the original tool's
// InstrumentImage (Trace/Trace.cpp), reassembled here as tracer
// policy rather than left to the external DBI host.
func (p *Planner) PlanImageLoad(session *trace.Session, name string, start, end uint64, resolver dbi.SymbolResolver) ([]RoutineHook, error) {
	isMainExecutable := len(p.registry.Images()) == 0

	img := p.registry.Add(name, start, end, p.cfg.InterestingImages)
	if err := session.RecordImageLoad(img); err != nil {
		return nil, err
	}

	var candidates []RoutineHook
	if isMainExecutable {
		candidates = append(candidates, harnessSymbols()...)
	}
	candidates = append(candidates, allocatorSymbolsFor(name)...)
	if len(candidates) == 0 {
		return nil, nil
	}

	var planned []RoutineHook
	for _, h := range candidates {
		if _, found := resolver.LookupSymbol(name, h.Symbol); found {
			h.Handler = p.HandlerFor(h.Kind)
			planned = append(planned, h)
		}
	}
	return planned, nil
}

// BuildImageCallback returns the dbi.ImageCallback that drives
// PlanImageLoad from the host's image-load event and hands any
// planned routine hooks to install off to the host's own binding
// mechanism (it still owns the native trampoline; this package only
// decides which hooks belong on which symbols). A failure recording
// the prefix metadata line is logged rather than propagated: the host
// callback signature has no error return, matching §7's "log and
// continue" treatment of non-fatal tracer-side failures.
func BuildImageCallback(p *Planner, session *trace.Session, resolver dbi.SymbolResolver, install func(image string, hooks []RoutineHook)) dbi.ImageCallback {
	return func(path string, start, end uint64) {
		hooks, err := p.PlanImageLoad(session, path, start, end, resolver)
		if err != nil {
			p.log.Warnf("recording image load for %s: %v", path, err)
			return
		}
		if len(hooks) > 0 && install != nil {
			install(path, hooks)
		}
	}
}
