package x86asm

import (
	"bytes"
	"testing"

	"github.com/bassosimone/rv32vm/pkg/execmem"
)

func newBuf(t *testing.T) *execmem.Buffer {
	t.Helper()
	b, err := execmem.Allocate(4096)
	if err != nil {
		t.Fatalf("execmem.Allocate: %v", err)
	}
	t.Cleanup(func() { _ = b.Release() })
	return b
}

func TestMovRegImm32(t *testing.T) {
	b := newBuf(t)
	MovRegImm32(b, EAX, 0xDEADBEEF)
	want := []byte{0xB8, 0xEF, 0xBE, 0xAD, 0xDE}
	if got := b.Bytes()[:b.Pos()]; !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestMovRegReg(t *testing.T) {
	b := newBuf(t)
	MovRegReg(b, EBX, ESI)
	want := []byte{0x89, modrm(0b11, byte(ESI), byte(EBX))}
	if got := b.Bytes()[:b.Pos()]; !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestLoadStoreMem32RoundTripShape(t *testing.T) {
	b := newBuf(t)
	LoadMem32(b, EAX, ESI, 12)
	StoreMem32(b, ESI, 16, EAX)
	got := b.Bytes()[:b.Pos()]
	want := []byte{
		0x8B, modrm(0b10, byte(EAX), byte(ESI)), 12, 0, 0, 0,
		0x89, modrm(0b10, byte(EAX), byte(ESI)), 16, 0, 0, 0,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestMemOperandPanicsOnESPBase(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for ESP memory base")
		}
	}()
	b := newBuf(t)
	LoadMem32(b, EAX, ESP, 0)
}

func TestJccShortPatch(t *testing.T) {
	b := newBuf(t)
	at := JccShort(b, CondNE)
	Nop(b)
	Nop(b)
	PatchShort(b, at)
	got := b.Bytes()[:b.Pos()]
	want := []byte{0x70 + byte(CondNE), 2, 0x90, 0x90}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestJmpRel32Patch(t *testing.T) {
	b := newBuf(t)
	at := JmpRel32(b)
	for i := 0; i < 5; i++ {
		Nop(b)
	}
	PatchRel32(b, at)
	mem := b.Bytes()
	rel := uint32(mem[at]) | uint32(mem[at+1])<<8 | uint32(mem[at+2])<<16 | uint32(mem[at+3])<<24
	if rel != 5 {
		t.Fatalf("rel32 = %d, want 5", rel)
	}
}

func TestJmpIndirectAbs(t *testing.T) {
	b := newBuf(t)
	JmpIndirectAbs(b, 0x1000)
	want := []byte{0xFF, modrm(0b00, 4, 0b101), 0x00, 0x10, 0x00, 0x00}
	if got := b.Bytes()[:b.Pos()]; !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestSetCCShape(t *testing.T) {
	b := newBuf(t)
	SetCC(b, CondL, EAX)
	want := []byte{
		0x0F, 0x90 + byte(CondL), modrm(0b11, 0, byte(EAX)),
		0x0F, 0xB6, modrm(0b11, byte(EAX), byte(EAX)),
	}
	if got := b.Bytes()[:b.Pos()]; !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}
