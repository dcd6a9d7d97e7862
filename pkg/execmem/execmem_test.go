package execmem

import (
	"errors"
	"testing"
)

func TestAllocateRejectsNonPositiveSize(t *testing.T) {
	if _, err := Allocate(0); err == nil {
		t.Fatalf("expected error for size 0")
	}
	if _, err := Allocate(-1); err == nil {
		t.Fatalf("expected error for negative size")
	}
}

func TestEmitAdvancesCursor(t *testing.T) {
	b, err := Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()

	b.Emit(0x90, 0x90, 0xC3)
	if b.Pos() != 3 {
		t.Fatalf("Pos() = %d, want 3", b.Pos())
	}
	if got := b.Bytes()[:3]; got[0] != 0x90 || got[1] != 0x90 || got[2] != 0xC3 {
		t.Fatalf("unexpected bytes: % x", got)
	}
}

func TestEmitU32LittleEndian(t *testing.T) {
	b, err := Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()

	b.EmitU32(0xDEADBEEF)
	want := []byte{0xEF, 0xBE, 0xAD, 0xDE}
	got := b.Bytes()[:4]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestEmitOverflowSetsErrAndStopsWriting(t *testing.T) {
	b, err := Allocate(4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()

	b.Emit(1, 2, 3, 4)
	if b.Err() != nil {
		t.Fatalf("unexpected error after exact-fit emit: %v", b.Err())
	}
	b.Emit(5)
	if !errors.Is(b.Err(), ErrOverflow) {
		t.Fatalf("Err() = %v, want ErrOverflow", b.Err())
	}
	if b.Pos() != 4 {
		t.Fatalf("Pos() = %d, want 4 (overflowing emit must not advance)", b.Pos())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	b, err := Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
}
