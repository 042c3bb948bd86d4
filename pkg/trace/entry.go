// Package trace defines the on-disk record format emitted by the
// tracer and the state machines (buffer, writer, image registry,
// allocation tracker) that produce it.
package trace

import "encoding/binary"

// Kind is the stable integer tag identifying what a TraceEntry records.
type Kind uint32

const (
	MemoryRead               Kind = 1
	MemoryWrite              Kind = 2
	HeapAllocSizeParameter   Kind = 3
	HeapAllocAddressReturn   Kind = 4
	HeapFreeAddressParameter Kind = 5
	Branch                   Kind = 6
	StackPointerInfo         Kind = 7
	StackPointerModification Kind = 8
)

// BranchKind is the 2-bit branch classification packed into flag bits 1-2.
type BranchKind uint8

const (
	BranchJump BranchKind = 1
	BranchCall BranchKind = 2
	BranchRet  BranchKind = 3
)

// StackCause is the 2-bit cause packed into flag bits 0-1 of a
// StackPointerModification entry.
type StackCause uint8

const (
	StackCauseCall  StackCause = 1
	StackCauseRet   StackCause = 2
	StackCauseOther StackCause = 3
)

// BranchFlag packs a branch kind and taken bit into the one-byte flag
// field of a Branch entry: bit 0 is taken, bits 1-2 are the kind.
func BranchFlag(kind BranchKind, taken bool) uint8 {
	var t uint8
	if taken {
		t = 1
	}
	return (uint8(kind) << 1) | t
}

// DecodeBranchFlag is the inverse of BranchFlag.
func DecodeBranchFlag(flag uint8) (kind BranchKind, taken bool) {
	return BranchKind(flag >> 1), flag&1 != 0
}

// StackFlag packs a stack-pointer-modification cause into the low two
// bits of the flag field.
func StackFlag(cause StackCause) uint8 {
	return uint8(cause)
}

// DecodeStackFlag is the inverse of StackFlag.
func DecodeStackFlag(flag uint8) StackCause {
	return StackCause(flag & 0x3)
}

// EntrySize is the exact, invariant, wire size of a TraceEntry: a
// 4-byte type tag, a 1-byte flag, 1 padding byte, a 2-byte param0, and
// two 8-byte params. Readers on any platform can rely on this size.
const EntrySize = 24

const (
	offType   = 0
	offFlag   = 4
	offPad    = 5
	offParam0 = 6
	offParam1 = 8
	offParam2 = 16
)

// TraceEntry is one fixed-layout record of the trace stream. Field use
// depends on Type; fields not documented for a given Type are zero.
type TraceEntry struct {
	Type   Kind
	Flag   uint8
	Param0 uint16 // access size in bytes, for MemoryRead/MemoryWrite
	Param1 uint64
	Param2 uint64
}

// Marshal writes the entry's 24-byte little-endian encoding into dst.
// dst must be at least EntrySize bytes.
func (e TraceEntry) Marshal(dst []byte) {
	_ = dst[EntrySize-1]
	binary.LittleEndian.PutUint32(dst[offType:], uint32(e.Type))
	dst[offFlag] = e.Flag
	dst[offPad] = 0
	binary.LittleEndian.PutUint16(dst[offParam0:], e.Param0)
	binary.LittleEndian.PutUint64(dst[offParam1:], e.Param1)
	binary.LittleEndian.PutUint64(dst[offParam2:], e.Param2)
}

// Unmarshal decodes a 24-byte little-endian record from src into e.
// src must be at least EntrySize bytes.
func (e *TraceEntry) Unmarshal(src []byte) {
	_ = src[EntrySize-1]
	e.Type = Kind(binary.LittleEndian.Uint32(src[offType:]))
	e.Flag = src[offFlag]
	e.Param0 = binary.LittleEndian.Uint16(src[offParam0:])
	e.Param1 = binary.LittleEndian.Uint64(src[offParam1:])
	e.Param2 = binary.LittleEndian.Uint64(src[offParam2:])
}

// NewMemoryAccess builds a MemoryRead or MemoryWrite entry.
func NewMemoryAccess(kind Kind, instAddr, effAddr uint64, size uint16) TraceEntry {
	return TraceEntry{Type: kind, Param0: size, Param1: instAddr, Param2: effAddr}
}

// NewHeapAllocSize builds a HeapAllocSizeParameter entry.
func NewHeapAllocSize(size uint64) TraceEntry {
	return TraceEntry{Type: HeapAllocSizeParameter, Param1: size}
}

// NewHeapAllocReturn builds a HeapAllocAddressReturn entry.
func NewHeapAllocReturn(addr uint64) TraceEntry {
	return TraceEntry{Type: HeapAllocAddressReturn, Param2: addr}
}

// NewHeapFree builds a HeapFreeAddressParameter entry.
func NewHeapFree(addr uint64) TraceEntry {
	return TraceEntry{Type: HeapFreeAddressParameter, Param2: addr}
}

// NewBranch builds a Branch entry.
func NewBranch(kind BranchKind, taken bool, src, dst uint64) TraceEntry {
	return TraceEntry{Type: Branch, Flag: BranchFlag(kind, taken), Param1: src, Param2: dst}
}

// NewStackPointerInfo builds a StackPointerInfo entry.
func NewStackPointerInfo(min, max uint64) TraceEntry {
	return TraceEntry{Type: StackPointerInfo, Param1: min, Param2: max}
}

// NewStackPointerModification builds a StackPointerModification entry.
func NewStackPointerModification(cause StackCause, instAddr, newSP uint64) TraceEntry {
	return TraceEntry{Type: StackPointerModification, Flag: StackFlag(cause), Param1: instAddr, Param2: newSP}
}
