package jit

import "unsafe"

// DispatchTable maps each guest code-section PC to the host address of
// the first byte of its translated snippet (§4.6). Slot k corresponds
// to guest PC codeOffset+4k; branches and JAL/JALR reach a slot through
// an absolute memory-indirect jump baked or computed at emit time, so
// the table's backing array must not move for the lifetime of a
// translation (Go's garbage collector does not compact the heap, so a
// slice allocated once and kept alive via runtime.KeepAlive is safe to
// address this way).
type DispatchTable struct {
	CodeOffset uint32
	entries    []uint32
}

// NewDispatchTable allocates one slot per instruction word in
// [codeOffset, codeOffset+codeSize).
func NewDispatchTable(codeOffset, codeSize uint32) *DispatchTable {
	n := codeSize / 4
	return &DispatchTable{CodeOffset: codeOffset, entries: make([]uint32, n)}
}

// Set records the host address of the snippet translated for guest pc.
func (d *DispatchTable) Set(pc uint32, hostAddr uint32) {
	d.entries[(pc-d.CodeOffset)/4] = hostAddr
}

// SlotAddr returns the host address of the table slot for guest pc
// (not the slot's contents): this is what emitted code dereferences at
// run time via an indirect jump.
func (d *DispatchTable) SlotAddr(pc uint32) uint32 {
	idx := (pc - d.CodeOffset) / 4
	return uint32(uintptr(unsafe.Pointer(&d.entries[idx])))
}

// BaseAddr returns the host address of entry 0, used by JALR to compute
// a slot address from a runtime-only target PC.
func (d *DispatchTable) BaseAddr() uint32 {
	return uint32(uintptr(unsafe.Pointer(&d.entries[0])))
}
