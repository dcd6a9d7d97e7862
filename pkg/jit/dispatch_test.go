package jit

import "testing"

func TestDispatchTableSlotAddrDistinctAndStable(t *testing.T) {
	dt := NewDispatchTable(0x1000, 16) // 4 words
	a0 := dt.SlotAddr(0x1000)
	a1 := dt.SlotAddr(0x1004)
	if a0 == a1 {
		t.Fatalf("slot addresses for distinct PCs must differ")
	}
	if dt.SlotAddr(0x1000) != a0 {
		t.Fatalf("SlotAddr must be stable across calls")
	}
	if dt.BaseAddr() != a0 {
		t.Fatalf("BaseAddr() must equal the slot address of the first PC")
	}
}

func TestDispatchTableSetThenReadBack(t *testing.T) {
	dt := NewDispatchTable(0, 8)
	dt.Set(0, 0xCAFEBABE)
	dt.Set(4, 0xDEADBEEF)
	if dt.entries[0] != 0xCAFEBABE || dt.entries[1] != 0xDEADBEEF {
		t.Fatalf("unexpected entries: %#x", dt.entries)
	}
}
