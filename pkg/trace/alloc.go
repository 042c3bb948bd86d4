package trace

// AllocTracker recovers the true return point of an allocator across
// tail-call/jump-forwarded wrapper chains (§4.5). It is owned
// per-thread, not process-global: the legacy Pin tool used one global
// counter, which was safe only because a single thread was ever
// instrumented, but a clean rewrite makes the ownership explicit (see
// design notes in SPEC_FULL.md and DESIGN.md).
type AllocTracker struct {
	depth int // -1 == inactive
}

// NewAllocTracker returns an inactive tracker.
func NewAllocTracker() *AllocTracker {
	return &AllocTracker{depth: -1}
}

// Active reports whether an allocation is currently being tracked.
func (a *AllocTracker) Active() bool {
	return a != nil && a.depth >= 0
}

// EnterAllocator arms tracking for a newly entered allocator call,
// overwriting any allocation already in flight: at most one allocation
// is tracked at a time (§4.5 invariant), and a nested/re-entrant
// allocator entry simply wins over the one it interrupts.
func (a *AllocTracker) EnterAllocator() {
	if a == nil {
		return
	}
	a.depth = 0
}

// Call records a runtime `call` instruction. It only affects tracking
// state while a tracked allocation is in flight.
func (a *AllocTracker) Call() {
	if a == nil || a.depth < 0 {
		return
	}
	a.depth++
}

// Ret records a runtime `ret` instruction. When the depth counter
// drops below zero, the original allocator frame has returned: the
// caller should emit HeapAllocAddressReturn with the return-value
// register and the tracker deactivates. Returns true exactly in that
// case.
func (a *AllocTracker) Ret() bool {
	if a == nil || a.depth < 0 {
		return false
	}
	a.depth--
	if a.depth < 0 {
		return true
	}
	return false
}
