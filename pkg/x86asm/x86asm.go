// Package x86asm is a small hand-rolled encoder for the subset of 32-bit
// x86 machine code the JIT code generator needs: register-register ALU,
// register-memory moves (with zero/sign extension for sub-word loads),
// shifts, comparisons, short/near jumps, and the indirect-jump forms the
// dispatch table relies on. It has no assembler syntax, no two-pass
// resolution beyond what callers backpatch themselves; it is a byte
// emitter, not a compiler.
package x86asm

import "github.com/bassosimone/rv32vm/pkg/execmem"

// Reg identifies one of the eight 32-bit general-purpose registers by
// its 3-bit encoding, matching the x86 register field order.
type Reg byte

const (
	EAX Reg = 0
	ECX Reg = 1
	EDX Reg = 2
	EBX Reg = 3
	ESP Reg = 4
	EBP Reg = 5
	ESI Reg = 6
	EDI Reg = 7
)

// Cond is a condition-code selector for SetCC/Jcc, using the x86 cc
// nibble so the encoders can just OR it into the opcode byte.
type Cond byte

const (
	CondE  Cond = 0x4 // ZF=1
	CondNE Cond = 0x5 // ZF=0
	CondL  Cond = 0xC // signed <
	CondGE Cond = 0xD // signed >=
	CondB  Cond = 0x2 // unsigned <
	CondAE Cond = 0x3 // unsigned >=
)

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | reg<<3 | rm
}

// memOperand encodes a [base+disp32] ModRM+disp32 sequence for
// reg. base must not be ESP or EBP: the generator never needs them as a
// memory base (VMPTR is ESI, the guest memory base is EDI, and scratch
// is EAX/ECX/EDX/EBX), so the SIB/disp32-only special cases never arise.
func memOperand(b *execmem.Buffer, reg, base Reg, disp32 uint32) {
	if base == ESP || base == EBP {
		panic("x86asm: ESP/EBP not supported as a memory base")
	}
	b.Emit(modrm(0b10, byte(reg), byte(base)))
	b.EmitU32(disp32)
}

// MovRegReg emits `mov dst, src`.
func MovRegReg(b *execmem.Buffer, dst, src Reg) {
	b.Emit(0x89, modrm(0b11, byte(src), byte(dst)))
}

// MovRegImm32 emits `mov dst, imm32`.
func MovRegImm32(b *execmem.Buffer, dst Reg, imm uint32) {
	b.Emit(0xB8 + byte(dst))
	b.EmitU32(imm)
}

// LoadMem32 emits `mov dst, [base+disp32]`.
func LoadMem32(b *execmem.Buffer, dst, base Reg, disp32 uint32) {
	b.Emit(0x8B)
	memOperand(b, dst, base, disp32)
}

// StoreMem32 emits `mov [base+disp32], src`.
func StoreMem32(b *execmem.Buffer, base Reg, disp32 uint32, src Reg) {
	b.Emit(0x89)
	memOperand(b, src, base, disp32)
}

// StoreMem16 emits `mov word [base+disp32], src` (low 16 bits of src).
func StoreMem16(b *execmem.Buffer, base Reg, disp32 uint32, src Reg) {
	b.Emit(0x66, 0x89)
	memOperand(b, src, base, disp32)
}

// StoreMem8 emits `mov byte [base+disp32], src` (low 8 bits of src).
// src must be EAX/ECX/EDX/EBX: those are the only registers with a
// directly addressable low byte without a REX prefix.
func StoreMem8(b *execmem.Buffer, base Reg, disp32 uint32, src Reg) {
	b.Emit(0x88)
	memOperand(b, src, base, disp32)
}

// LoadMem8 / LoadMem16 zero- or sign-extend a sub-word load into dst.
func LoadMem8(b *execmem.Buffer, dst, base Reg, disp32 uint32, signed bool) {
	b.Emit(0x0F)
	if signed {
		b.Emit(0xBE)
	} else {
		b.Emit(0xB6)
	}
	memOperand(b, dst, base, disp32)
}

func LoadMem16(b *execmem.Buffer, dst, base Reg, disp32 uint32, signed bool) {
	b.Emit(0x0F)
	if signed {
		b.Emit(0xBF)
	} else {
		b.Emit(0xB7)
	}
	memOperand(b, dst, base, disp32)
}

// ALU opcodes, reg-reg form: `op dst, src` computed as dst = dst op src.
func Add(b *execmem.Buffer, dst, src Reg) { b.Emit(0x01, modrm(0b11, byte(src), byte(dst))) }
func Sub(b *execmem.Buffer, dst, src Reg) { b.Emit(0x29, modrm(0b11, byte(src), byte(dst))) }
func And(b *execmem.Buffer, dst, src Reg) { b.Emit(0x21, modrm(0b11, byte(src), byte(dst))) }
func Or(b *execmem.Buffer, dst, src Reg)  { b.Emit(0x09, modrm(0b11, byte(src), byte(dst))) }
func Xor(b *execmem.Buffer, dst, src Reg) { b.Emit(0x31, modrm(0b11, byte(src), byte(dst))) }
func Cmp(b *execmem.Buffer, dst, src Reg) { b.Emit(0x39, modrm(0b11, byte(src), byte(dst))) }

// AndImm32 emits `and dst, imm32`.
func AndImm32(b *execmem.Buffer, dst Reg, imm uint32) {
	b.Emit(0x81, modrm(0b11, 4, byte(dst)))
	b.EmitU32(imm)
}

// ShlCL/ShrCL/SarCL shift dst by the count in CL.
func ShlCL(b *execmem.Buffer, dst Reg) { b.Emit(0xD3, modrm(0b11, 4, byte(dst))) }
func ShrCL(b *execmem.Buffer, dst Reg) { b.Emit(0xD3, modrm(0b11, 5, byte(dst))) }
func SarCL(b *execmem.Buffer, dst Reg) { b.Emit(0xD3, modrm(0b11, 7, byte(dst))) }

// SetCC stores the named condition as 0/1 in the low byte of dst, then
// zero-extends it into the full register (matching the set-less-than
// shape in the spec: "compare, set a byte from a flag, zero-extend").
func SetCC(b *execmem.Buffer, cond Cond, dst Reg) {
	b.Emit(0x0F, 0x90+byte(cond), modrm(0b11, 0, byte(dst)))
	b.Emit(0x0F, 0xB6, modrm(0b11, byte(dst), byte(dst)))
}

// JccShort emits a short (1-byte displacement) conditional jump and
// returns the offset of the displacement byte, for the caller to patch
// once the jump target's position is known.
func JccShort(b *execmem.Buffer, cond Cond) (patchAt int) {
	b.Emit(0x70 + byte(cond))
	patchAt = b.Pos()
	b.Emit(0x00)
	return patchAt
}

// JmpShort emits an unconditional short jump, return value as JccShort.
func JmpShort(b *execmem.Buffer) (patchAt int) {
	b.Emit(0xEB)
	patchAt = b.Pos()
	b.Emit(0x00)
	return patchAt
}

// PatchShort writes the rel8 displacement for a jump emitted at
// patchAt-1 so that it lands exactly at the buffer's current Pos().
func PatchShort(b *execmem.Buffer, patchAt int) {
	mem := b.Bytes()
	rel := b.Pos() - (patchAt + 1)
	mem[patchAt] = byte(int8(rel))
}

// JmpRel32 emits a near unconditional jump and returns the offset of
// its rel32 field, for backpatching (used for internal control flow
// within one translation unit, e.g. jumping to the shared epilog).
func JmpRel32(b *execmem.Buffer) (patchAt int) {
	b.Emit(0xE9)
	patchAt = b.Pos()
	b.EmitU32(0)
	return patchAt
}

// PatchRel32 writes the rel32 displacement for a jump emitted at
// patchAt-4 so it lands at the buffer's current Pos().
func PatchRel32(b *execmem.Buffer, patchAt int) {
	mem := b.Bytes()
	rel := uint32(b.Pos() - (patchAt + 4))
	mem[patchAt] = byte(rel)
	mem[patchAt+1] = byte(rel >> 8)
	mem[patchAt+2] = byte(rel >> 16)
	mem[patchAt+3] = byte(rel >> 24)
}

// JmpIndirectAbs emits `jmp dword [imm32]`: an absolute, memory-indirect
// jump to whatever host address is stored at imm32. This is how guest
// branches/JAL targets reach their dispatch-table slot without knowing
// the slot's contents at emit time.
func JmpIndirectAbs(b *execmem.Buffer, addr uint32) {
	b.Emit(0xFF, modrm(0b00, 4, 0b101))
	b.EmitU32(addr)
}

// JmpIndirectReg emits `jmp dword [reg]`: used by JALR, whose dispatch
// slot address is only known at run time. reg must not be ESP/EBP.
func JmpIndirectReg(b *execmem.Buffer, reg Reg) {
	if reg == ESP || reg == EBP {
		panic("x86asm: ESP/EBP not supported for indirect jump")
	}
	b.Emit(0xFF, modrm(0b00, 4, byte(reg)))
}

// Push/Pop the named register.
func Push(b *execmem.Buffer, reg Reg) { b.Emit(0x50 + byte(reg)) }
func Pop(b *execmem.Buffer, reg Reg)  { b.Emit(0x58 + byte(reg)) }

// Ret emits a near return.
func Ret(b *execmem.Buffer) { b.Emit(0xC3) }

// Int emits a software interrupt (used for the inlined `write(2)`
// syscall backing ECALL subcode 1 on a Linux x86 host).
func Int(b *execmem.Buffer, vector byte) { b.Emit(0xCD, vector) }

// Nop emits a single-byte no-op, used for FENCE.
func Nop(b *execmem.Buffer) { b.Emit(0x90) }
