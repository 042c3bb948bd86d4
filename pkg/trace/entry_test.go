package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntrySizeInvariant(t *testing.T) {
	require.Equal(t, 24, EntrySize)

	var buf [EntrySize]byte
	e := NewMemoryAccess(MemoryRead, 0x401000, 0x7fff0000, 4)
	e.Marshal(buf[:])

	var got TraceEntry
	got.Unmarshal(buf[:])
	assert.Equal(t, e, got)
}

func TestEntryFieldOffsets(t *testing.T) {
	e := TraceEntry{Type: MemoryWrite, Flag: 0xAB, Param0: 0xCDEF, Param1: 0x1122334455667788, Param2: 0x99AABBCCDDEEFF00}
	var buf [EntrySize]byte
	e.Marshal(buf[:])

	assert.Equal(t, uint32(MemoryWrite), uint32(buf[0])|uint32(buf[1])<<8|uint32(buf[2])<<16|uint32(buf[3])<<24)
	assert.Equal(t, byte(0xAB), buf[4])
	assert.Equal(t, byte(0), buf[5], "padding byte must be zero")
	assert.Equal(t, uint16(0xCDEF), uint16(buf[6])|uint16(buf[7])<<8)
}

func TestBranchFlagEncoding(t *testing.T) {
	cases := []struct {
		kind  BranchKind
		taken bool
		want  uint8
	}{
		{BranchJump, false, 0b010},
		{BranchJump, true, 0b011},
		{BranchCall, false, 0b100},
		{BranchCall, true, 0b101},
		{BranchRet, false, 0b110},
		{BranchRet, true, 0b111},
	}
	for _, c := range cases {
		got := BranchFlag(c.kind, c.taken)
		assert.Equal(t, c.want, got)
		k, taken := DecodeBranchFlag(got)
		assert.Equal(t, c.kind, k)
		assert.Equal(t, c.taken, taken)
	}
}

func TestStackFlagEncoding(t *testing.T) {
	for _, c := range []StackCause{StackCauseCall, StackCauseRet, StackCauseOther} {
		got := StackFlag(c)
		assert.Equal(t, c, DecodeStackFlag(got))
	}
}

func TestConstructors(t *testing.T) {
	a := NewHeapAllocSize(64)
	assert.Equal(t, HeapAllocSizeParameter, a.Type)
	assert.Equal(t, uint64(64), a.Param1)

	r := NewHeapAllocReturn(0xABCD0000)
	assert.Equal(t, HeapAllocAddressReturn, r.Type)
	assert.Equal(t, uint64(0xABCD0000), r.Param2)

	f := NewHeapFree(0xABCD0000)
	assert.Equal(t, HeapFreeAddressParameter, f.Type)
	assert.Equal(t, uint64(0xABCD0000), f.Param2)

	sp := NewStackPointerInfo(1, 2)
	assert.Equal(t, StackPointerInfo, sp.Type)
	assert.Equal(t, uint64(1), sp.Param1)
	assert.Equal(t, uint64(2), sp.Param2)

	spm := NewStackPointerModification(StackCauseCall, 0x1000, 0x7fff)
	assert.Equal(t, StackPointerModification, spm.Type)
	assert.Equal(t, StackFlag(StackCauseCall), spm.Flag)
}
