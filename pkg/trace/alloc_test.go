package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocTrackerDirectReturn(t *testing.T) {
	a := NewAllocTracker()
	assert.False(t, a.Active())

	a.EnterAllocator()
	assert.True(t, a.Active())

	assert.True(t, a.Ret(), "the allocator's own ret should fire the pairing")
	assert.False(t, a.Active())
}

func TestAllocTrackerTailCallChain(t *testing.T) {
	a := NewAllocTracker()
	a.EnterAllocator()

	// allocator calls into a wrapper that does the actual work
	a.Call()
	assert.True(t, a.Active())

	// the wrapper's own ret returns to the allocator's frame, not to
	// the allocator's caller: tracking must stay active
	assert.False(t, a.Ret())
	assert.True(t, a.Active())

	// only the allocator's own ret (back to its caller) fires the pairing
	assert.True(t, a.Ret())
	assert.False(t, a.Active())
}

func TestAllocTrackerNestedCallDepth(t *testing.T) {
	a := NewAllocTracker()
	a.EnterAllocator()
	a.Call()
	a.Call()

	assert.False(t, a.Ret()) // depth 2 -> 1
	assert.False(t, a.Ret()) // depth 1 -> 0
	assert.True(t, a.Ret())  // depth 0 -> -1, fires
}

func TestAllocTrackerReentrantEntryOverwrites(t *testing.T) {
	a := NewAllocTracker()
	a.EnterAllocator()
	a.Call()

	// a nested allocator entry arms fresh tracking, discarding the
	// call depth accumulated so far
	a.EnterAllocator()
	assert.True(t, a.Ret())
}

func TestAllocTrackerInactiveIgnoresRet(t *testing.T) {
	a := NewAllocTracker()
	assert.False(t, a.Ret())
	a.Call()
	assert.False(t, a.Active())
}

func TestNilAllocTracker(t *testing.T) {
	var a *AllocTracker
	assert.False(t, a.Active())
	a.EnterAllocator()
	a.Call()
	assert.False(t, a.Ret())
}
