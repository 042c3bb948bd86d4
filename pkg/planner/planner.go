// Package planner implements the instrumentation planner (spec.md
// §4.2): for each basic block delivered by the DBI framework, it
// decides which hooks to attach to which instructions, and with what
// statically-bound arguments. Planning happens once per translation;
// the hooks it plans execute later, at runtime, against a
// *dbi.ThreadContext.
package planner

import (
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/arch/x86/x86asm"

	"github.com/go-delve/pintrace/pkg/dbi"
	"github.com/go-delve/pintrace/pkg/trace"
)

// classifyCacheSize bounds the block-classification cache below: a
// translation callback fires once per block the DBI host re-JITs, and
// hot loops get retranslated far more often than the working set of
// distinct blocks in a typical trace run, so a modest fixed-size cache
// catches most repeats without growing unbounded over a long run.
const classifyCacheSize = 4096

// HookKind names one planned hook insertion. The planner never
// dispatches through an interface at runtime (see design notes in
// SPEC_FULL.md): each HookKind corresponds 1:1 to a plain function in
// this package that the host is asked to insert with fixed, primitive
// arguments.
type HookKind int

const (
	HookCPUIDSaveInputs HookKind = iota
	HookCPUIDRewrite
	HookRDRANDSubstitute
	HookBranchEntryCall
	HookStackModCall
	HookAllocCallStep
	HookBranchEntryDirect
	HookBranchEntryRet
	HookStackModRet
	HookAllocReturnStep
	HookStackModOther
	HookMemRead
	HookMemRead2
	HookMemWrite
)

// PlannedHook is one hook the planner decided to insert for one
// instruction, with the statically-known arguments bound at plan time
// (instruction address, access size, and so on); anything that can
// only be known at runtime (the effective address, the taken branch
// target, register contents) is passed to the hook function as a plain
// argument when the host runs it (see runtime.go).
type PlannedHook struct {
	Kind HookKind
	Size uint16 // access size for MemRead/MemRead2/MemWrite
}

// Config is the planner's configuration, built from CLI flags (§6).
type Config struct {
	FixedRandomEnabled bool
	FixedRandomValue   uint64
	StackTracking      bool
	CPUProfile         trace.Profile
	CPUProfileEnabled  bool

	// InterestingImages is the -i list: case-insensitive substrings (or
	// whole basenames) defining which loaded images are interesting
	// (§4.3 step 1). PlanImageLoad passes this to the registry on every
	// image load, so it must be fixed for the life of the process.
	InterestingImages []string
}

// Planner plans hook insertions for basic blocks against an image
// registry.
type Planner struct {
	cfg      Config
	registry *trace.Registry
	log      Logger

	classifyCache *lru.Cache // block first-addr -> interesting bool
}

// Logger is the minimal interface the planner needs from a logging
// layer (satisfied by *logrus.Entry); kept narrow so this package does
// not need to import logrus just to log a warning.
type Logger interface {
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...interface{}) {}

// New builds a Planner over the given image registry.
func New(cfg Config, registry *trace.Registry, log Logger) *Planner {
	if log == nil {
		log = nopLogger{}
	}
	cache, _ := lru.New(classifyCacheSize)
	return &Planner{cfg: cfg, registry: registry, log: log, classifyCache: cache}
}

// ClassifyBlock performs the block classification of §4.2: scan the
// registry for containment of the block's first/last instruction. An
// unmatched block is conservatively treated as interesting, with a
// warning suppressed while libc hasn't loaded yet. Results are cached
// by the block's first address, since the DBI host retranslates the
// same hot blocks repeatedly over a run and the registry scan is
// linear in the number of loaded images.
func (p *Planner) ClassifyBlock(b dbi.Block) bool {
	key := b.FirstAddr()
	if v, ok := p.classifyCache.Get(key); ok {
		return v.(bool)
	}

	interesting, found := p.registry.Contains(b.FirstAddr(), b.LastAddr())
	if !found {
		trace.WarnBlockNotFound(warnAdapter{p.log}, b.FirstAddr(), !p.registry.LibcDetected())
		p.classifyCache.Add(key, true)
		return true
	}
	p.classifyCache.Add(key, interesting)
	return interesting
}

// warnAdapter passes the planner's Logger to trace.WarnBlockNotFound,
// whose logger parameter only needs a Warnf method. ClassifyBlock uses
// it for every unmatched block, in tests and in production alike.
type warnAdapter struct{ l Logger }

func (w warnAdapter) Warnf(format string, args ...interface{}) { w.l.Warnf(format, args...) }

// PlanInstruction evaluates the per-instruction decision table of
// §4.2 in order, short-circuiting on the first matching rule exactly
// as "continue" does in the spec's table. blockInteresting gates the
// final three memory/stack rules only; branch/call/ret/cpuid/rdrand
// are always planned regardless of interest, since control flow must
// always be traced.
func (p *Planner) PlanInstruction(inst x86asm.Inst, blockInteresting bool) []PlannedHook {
	if hasSegmentPrefix(inst) {
		return nil
	}
	if isPushFamily(inst.Op) {
		return nil
	}
	if isPopFamily(inst.Op) {
		return nil
	}
	if inst.Op == x86asm.LEA {
		return nil
	}
	if inst.Op == x86asm.CPUID {
		return []PlannedHook{{Kind: HookCPUIDSaveInputs}, {Kind: HookCPUIDRewrite}}
	}
	if inst.Op == x86asm.RDRAND && p.cfg.FixedRandomEnabled {
		return []PlannedHook{{Kind: HookRDRANDSubstitute}}
	}
	if isCallLike(inst.Op) {
		hooks := []PlannedHook{{Kind: HookBranchEntryCall}}
		if p.cfg.StackTracking {
			hooks = append(hooks, PlannedHook{Kind: HookStackModCall})
		}
		hooks = append(hooks, PlannedHook{Kind: HookAllocCallStep})
		return hooks
	}
	if isDirectOrIndirectBranch(inst.Op) {
		return []PlannedHook{{Kind: HookBranchEntryDirect}}
	}
	if isRet(inst.Op) {
		hooks := []PlannedHook{{Kind: HookBranchEntryRet}}
		if p.cfg.StackTracking {
			hooks = append(hooks, PlannedHook{Kind: HookStackModRet})
		}
		hooks = append(hooks, PlannedHook{Kind: HookAllocReturnStep})
		return hooks
	}

	if !blockInteresting {
		return nil
	}

	var hooks []PlannedHook
	if p.cfg.StackTracking && writesFullRSP(inst) {
		hooks = append(hooks, PlannedHook{Kind: HookStackModOther})
	}

	sizes, _ := memoryOperandSizes(inst)
	if len(sizes) > 0 && reads(inst) {
		hooks = append(hooks, PlannedHook{Kind: HookMemRead, Size: sizes[0]})
		if len(sizes) > 1 {
			// reuse the first operand's size, per §4.2: "reuse
			// first-operand size" for the second memory read.
			hooks = append(hooks, PlannedHook{Kind: HookMemRead2, Size: sizes[0]})
		}
	}
	if len(sizes) > 0 && writes(inst) {
		hooks = append(hooks, PlannedHook{Kind: HookMemWrite, Size: sizes[0]})
	}
	return hooks
}

func hasSegmentPrefix(inst x86asm.Inst) bool {
	for _, pfx := range inst.Prefix {
		switch pfx &^ (x86asm.PrefixImplicit | x86asm.PrefixIgnored | x86asm.PrefixInvalid) {
		case x86asm.PrefixES, x86asm.PrefixCS, x86asm.PrefixSS, x86asm.PrefixDS, x86asm.PrefixFS, x86asm.PrefixGS:
			return true
		}
	}
	return false
}

func isPushFamily(op x86asm.Op) bool {
	switch op {
	case x86asm.PUSH, x86asm.PUSHA, x86asm.PUSHAD, x86asm.PUSHF, x86asm.PUSHFD, x86asm.PUSHFQ:
		return true
	}
	return false
}

func isPopFamily(op x86asm.Op) bool {
	switch op {
	case x86asm.POP, x86asm.POPA, x86asm.POPAD, x86asm.POPF, x86asm.POPFD, x86asm.POPFQ:
		return true
	}
	return false
}

func isCallLike(op x86asm.Op) bool {
	return op == x86asm.CALL || op == x86asm.LCALL
}

func isRet(op x86asm.Op) bool {
	return op == x86asm.RET || op == x86asm.LRET
}

func isDirectOrIndirectBranch(op x86asm.Op) bool {
	switch op {
	case x86asm.JMP, x86asm.LJMP,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG, x86asm.JGE,
		x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO,
		x86asm.JP, x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}

// writesFullRSP reports whether inst's first (destination) argument is
// the full 64-bit RSP register, per the "writes full RSP" stack
// tracking rule.
func writesFullRSP(inst x86asm.Inst) bool {
	if inst.Args[0] == nil {
		return false
	}
	reg, ok := inst.Args[0].(x86asm.Reg)
	return ok && reg == x86asm.RSP
}

// memoryOperandSizes returns the access size(s), in bytes, of the
// memory operand(s) referenced by inst, in argument order. Most
// instructions have at most one memory operand; a handful (notably
// string/compare forms) reference two, which is what the "second
// memory read" rule exists for.
func memoryOperandSizes(inst x86asm.Inst) ([]uint16, bool) {
	var sizes []uint16
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if _, ok := arg.(x86asm.Mem); ok {
			sizes = append(sizes, uint16(inst.MemBytes))
		}
	}
	if len(sizes) == 0 {
		return nil, false
	}
	return sizes, true
}

// storeOnlyOps write their memory destination without reading it
// first; every other opcode with a memory destination (ADD, SUB, INC,
// XCHG, and so on) is a read-modify-write, and CMP/TEST read a memory
// destination-position operand without ever writing it.
var storeOnlyOps = map[x86asm.Op]bool{
	x86asm.MOV: true, x86asm.MOVZX: true, x86asm.MOVSX: true,
	x86asm.MOVSS: true, x86asm.MOVSD: true, x86asm.MOVAPS: true, x86asm.MOVUPS: true,
	x86asm.STOSB: true, x86asm.STOSW: true, x86asm.STOSD: true, x86asm.STOSQ: true,
}

var readOnlyDestOps = map[x86asm.Op]bool{
	x86asm.CMP: true, x86asm.TEST: true,
}

// reads reports whether inst reads through a memory operand: any
// source-position (index >= 1) memory operand is always a read, and a
// destination-position (index 0) memory operand is a read unless the
// opcode is a pure store.
func reads(inst x86asm.Inst) bool {
	if mem, ok := inst.Args[0].(x86asm.Mem); ok {
		_ = mem
		return !storeOnlyOps[inst.Op]
	}
	for i := 1; i < len(inst.Args); i++ {
		if inst.Args[i] == nil {
			break
		}
		if _, ok := inst.Args[i].(x86asm.Mem); ok {
			return true
		}
	}
	return false
}

// writes reports whether inst writes through its (destination-
// position) memory operand: true unless the opcode only ever reads
// that position, like CMP/TEST.
func writes(inst x86asm.Inst) bool {
	if _, ok := inst.Args[0].(x86asm.Mem); ok {
		return !readOnlyDestOps[inst.Op]
	}
	return false
}
