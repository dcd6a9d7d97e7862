package jit

import (
	"errors"
	"fmt"

	"github.com/bassosimone/rv32vm/pkg/execmem"
	"github.com/bassosimone/rv32vm/pkg/isa"
	"github.com/bassosimone/rv32vm/pkg/x86asm"
)

// ErrUnknownOpcode mirrors pkg/interp's sentinel: an instruction whose
// opcode or funct3/funct7 combination has no defined RV32I semantics.
var ErrUnknownOpcode = errors.New("jit: unknown opcode or illegal funct3/funct7")

// Codegen lowers one decoded RV32I instruction at a time to x86 (§4.5).
// VMPTR is ESI (bound to &vm.GPR[0]); the guest memory base is EDI
// (bound to &vm.Mem[0]). EAX/ECX/EDX/EBX are scratch and never assumed
// live across snippets, matching the spec's "not cached across
// snippets" invariant.
type Codegen struct {
	Buf    *execmem.Buffer
	DT     *DispatchTable
	Mask   uint32
	// ReasonAddr is the host address of a 1-byte cell codegen writes
	// before jumping to the shared epilog, so the Go driver can tell an
	// EBREAK, a non-inlined ECALL subcode, and end-of-section fallthrough
	// apart after the call returns (see jit.go).
	ReasonAddr uint32
	// ScratchAddr is the host address of a 1-byte cell used as the
	// syscall buffer for the inlined ECALL-1 (putchar) write(2).
	ScratchAddr uint32

	// epiloguePatches collects the offsets of near jumps (JmpRel32) that
	// must be patched, once translation is complete, to land on the
	// shared epilog.
	epiloguePatches []int
}

const (
	reasonEbreak     = 0
	reasonEcallOther = 1
	reasonFallThrough = 2
)

func off(regIdx uint32) uint32 { return regIdx * 4 }

// Emit lowers the instruction word ci, whose guest address is cur, into
// c.Buf. It returns an error for opcodes/funct3/funct7 combinations this
// core does not define; on error the caller should treat translation as
// failed and abandon the buffer, per §4.7.
func (c *Codegen) Emit(ci, cur uint32) error {
	opcode, rd, funct3, rs1, rs2, funct7 := isa.Decode(ci)
	switch opcode {
	case isa.OpcodeOpImm:
		return c.emitOpImm(ci, rd, funct3, rs1)
	case isa.OpcodeOp:
		return c.emitOp(rd, funct3, funct7, rs1, rs2)
	case isa.OpcodeLui:
		if rd != isa.RegZero {
			x86asm.MovRegImm32(c.Buf, x86asm.EAX, isa.ImmU(ci))
			x86asm.StoreMem32(c.Buf, x86asm.ESI, off(rd), x86asm.EAX)
		}
		return nil
	case isa.OpcodeAuipc:
		if rd != isa.RegZero {
			// Unmasked: a full 32-bit arithmetic result, not itself a
			// memory access (masking happens at the point of use).
			x86asm.MovRegImm32(c.Buf, x86asm.EAX, cur+isa.ImmU(ci))
			x86asm.StoreMem32(c.Buf, x86asm.ESI, off(rd), x86asm.EAX)
		}
		return nil
	case isa.OpcodeLoad:
		return c.emitLoad(ci, rd, funct3, rs1)
	case isa.OpcodeStore:
		return c.emitStore(ci, funct3, rs1, rs2)
	case isa.OpcodeBranch:
		return c.emitBranch(ci, cur, funct3, rs1, rs2)
	case isa.OpcodeJal:
		c.emitJAL(ci, cur, rd)
		return nil
	case isa.OpcodeJalr:
		c.emitJALR(ci, cur, rd, rs1)
		return nil
	case isa.OpcodeSystem:
		return c.emitSystem(ci)
	case isa.OpcodeFence:
		x86asm.Nop(c.Buf)
		return nil
	default:
		return fmt.Errorf("%w: opcode %#x at pc %#x", ErrUnknownOpcode, opcode, cur)
	}
}

func (c *Codegen) emitOp(rd, funct3, funct7, rs1, rs2 uint32) error {
	if rd == isa.RegZero {
		return nil // side-effect-free when the destination is x0
	}
	x86asm.LoadMem32(c.Buf, x86asm.EAX, x86asm.ESI, off(rs1))
	x86asm.LoadMem32(c.Buf, x86asm.ECX, x86asm.ESI, off(rs2))
	switch funct3 {
	case isa.Funct3ADD_SUB:
		if funct7 == isa.Funct7Alt {
			x86asm.Sub(c.Buf, x86asm.EAX, x86asm.ECX)
		} else {
			x86asm.Add(c.Buf, x86asm.EAX, x86asm.ECX)
		}
	case isa.Funct3XOR:
		x86asm.Xor(c.Buf, x86asm.EAX, x86asm.ECX)
	case isa.Funct3OR:
		x86asm.Or(c.Buf, x86asm.EAX, x86asm.ECX)
	case isa.Funct3AND:
		x86asm.And(c.Buf, x86asm.EAX, x86asm.ECX)
	case isa.Funct3SLL:
		// ECX already holds rs2; the host shift masks the count to 5
		// bits for a 32-bit operand, matching RV32I SLL semantics.
		x86asm.ShlCL(c.Buf, x86asm.EAX)
	case isa.Funct3SRL_SRA:
		if funct7 == isa.Funct7Alt {
			x86asm.SarCL(c.Buf, x86asm.EAX)
		} else {
			x86asm.ShrCL(c.Buf, x86asm.EAX)
		}
	case isa.Funct3SLT:
		x86asm.Cmp(c.Buf, x86asm.EAX, x86asm.ECX)
		x86asm.SetCC(c.Buf, x86asm.CondL, x86asm.EAX)
	case isa.Funct3SLTU:
		x86asm.Cmp(c.Buf, x86asm.EAX, x86asm.ECX)
		x86asm.SetCC(c.Buf, x86asm.CondB, x86asm.EAX)
	default:
		return fmt.Errorf("%w: OP funct3 %#x", ErrUnknownOpcode, funct3)
	}
	x86asm.StoreMem32(c.Buf, x86asm.ESI, off(rd), x86asm.EAX)
	return nil
}

func (c *Codegen) emitOpImm(ci uint32, rd, funct3, rs1 uint32) error {
	if rd == isa.RegZero {
		return nil
	}
	imm := isa.ImmI(ci)
	x86asm.LoadMem32(c.Buf, x86asm.EAX, x86asm.ESI, off(rs1))
	switch funct3 {
	case isa.Funct3ADD_SUB:
		x86asm.MovRegImm32(c.Buf, x86asm.ECX, imm)
		x86asm.Add(c.Buf, x86asm.EAX, x86asm.ECX)
	case isa.Funct3XOR:
		x86asm.MovRegImm32(c.Buf, x86asm.ECX, imm)
		x86asm.Xor(c.Buf, x86asm.EAX, x86asm.ECX)
	case isa.Funct3OR:
		x86asm.MovRegImm32(c.Buf, x86asm.ECX, imm)
		x86asm.Or(c.Buf, x86asm.EAX, x86asm.ECX)
	case isa.Funct3AND:
		x86asm.MovRegImm32(c.Buf, x86asm.ECX, imm)
		x86asm.And(c.Buf, x86asm.EAX, x86asm.ECX)
	case isa.Funct3SLL:
		x86asm.MovRegImm32(c.Buf, x86asm.ECX, imm&31)
		x86asm.ShlCL(c.Buf, x86asm.EAX)
	case isa.Funct3SRL_SRA:
		x86asm.MovRegImm32(c.Buf, x86asm.ECX, imm&31)
		if (ci>>25)&0x7F == isa.Funct7Alt {
			x86asm.SarCL(c.Buf, x86asm.EAX)
		} else {
			x86asm.ShrCL(c.Buf, x86asm.EAX)
		}
	case isa.Funct3SLT:
		x86asm.MovRegImm32(c.Buf, x86asm.ECX, imm)
		x86asm.Cmp(c.Buf, x86asm.EAX, x86asm.ECX)
		x86asm.SetCC(c.Buf, x86asm.CondL, x86asm.EAX)
	case isa.Funct3SLTU:
		x86asm.MovRegImm32(c.Buf, x86asm.ECX, imm)
		x86asm.Cmp(c.Buf, x86asm.EAX, x86asm.ECX)
		x86asm.SetCC(c.Buf, x86asm.CondB, x86asm.EAX)
	default:
		return fmt.Errorf("%w: OP-IMM funct3 %#x", ErrUnknownOpcode, funct3)
	}
	x86asm.StoreMem32(c.Buf, x86asm.ESI, off(rd), x86asm.EAX)
	return nil
}

// emitAddr computes (base reg + imm) & Mask + guest memory base into
// ECX. It is shared by loads and stores; the result is a single masked
// base address per access rather than four independently-masked byte
// addresses (a documented, deliberate simplification — see DESIGN.md).
func (c *Codegen) emitAddr(rs1 uint32, imm uint32) {
	x86asm.LoadMem32(c.Buf, x86asm.ECX, x86asm.ESI, off(rs1))
	x86asm.MovRegImm32(c.Buf, x86asm.EDX, imm)
	x86asm.Add(c.Buf, x86asm.ECX, x86asm.EDX)
	x86asm.AndImm32(c.Buf, x86asm.ECX, c.Mask)
	x86asm.Add(c.Buf, x86asm.ECX, x86asm.EDI)
}

func (c *Codegen) emitLoad(ci uint32, rd, funct3, rs1 uint32) error {
	if rd == isa.RegZero {
		return nil // plain RAM, no side effects worth preserving
	}
	c.emitAddr(rs1, isa.ImmI(ci))
	switch funct3 {
	case isa.Funct3LB:
		x86asm.LoadMem8(c.Buf, x86asm.EAX, x86asm.ECX, 0, true)
	case isa.Funct3LH:
		x86asm.LoadMem16(c.Buf, x86asm.EAX, x86asm.ECX, 0, true)
	case isa.Funct3LW:
		x86asm.LoadMem32(c.Buf, x86asm.EAX, x86asm.ECX, 0)
	case isa.Funct3LBU:
		x86asm.LoadMem8(c.Buf, x86asm.EAX, x86asm.ECX, 0, false)
	case isa.Funct3LHU:
		x86asm.LoadMem16(c.Buf, x86asm.EAX, x86asm.ECX, 0, false)
	default:
		return fmt.Errorf("%w: LOAD funct3 %#x", ErrUnknownOpcode, funct3)
	}
	x86asm.StoreMem32(c.Buf, x86asm.ESI, off(rd), x86asm.EAX)
	return nil
}

func (c *Codegen) emitStore(ci uint32, funct3, rs1, rs2 uint32) error {
	c.emitAddr(rs1, isa.ImmS(ci))
	x86asm.LoadMem32(c.Buf, x86asm.EAX, x86asm.ESI, off(rs2))
	switch funct3 {
	case isa.Funct3SB:
		x86asm.StoreMem8(c.Buf, x86asm.ECX, 0, x86asm.EAX)
	case isa.Funct3SH:
		x86asm.StoreMem16(c.Buf, x86asm.ECX, 0, x86asm.EAX)
	case isa.Funct3SW:
		x86asm.StoreMem32(c.Buf, x86asm.ECX, 0, x86asm.EAX)
	default:
		return fmt.Errorf("%w: STORE funct3 %#x", ErrUnknownOpcode, funct3)
	}
	return nil
}

func (c *Codegen) emitBranch(ci, cur, funct3, rs1, rs2 uint32) error {
	x86asm.LoadMem32(c.Buf, x86asm.EAX, x86asm.ESI, off(rs1))
	x86asm.LoadMem32(c.Buf, x86asm.ECX, x86asm.ESI, off(rs2))
	x86asm.Cmp(c.Buf, x86asm.EAX, x86asm.ECX)

	var skipWhenNotTaken x86asm.Cond
	switch funct3 {
	case isa.Funct3BEQ:
		skipWhenNotTaken = x86asm.CondNE
	case isa.Funct3BNE:
		skipWhenNotTaken = x86asm.CondE
	case isa.Funct3BLT:
		skipWhenNotTaken = x86asm.CondGE
	case isa.Funct3BGE:
		skipWhenNotTaken = x86asm.CondL
	case isa.Funct3BLTU:
		skipWhenNotTaken = x86asm.CondAE
	case isa.Funct3BGEU:
		skipWhenNotTaken = x86asm.CondB
	default:
		return fmt.Errorf("%w: BRANCH funct3 %#x", ErrUnknownOpcode, funct3)
	}

	patch := x86asm.JccShort(c.Buf, skipWhenNotTaken)
	target := (cur + isa.ImmB(ci)) & c.Mask
	x86asm.JmpIndirectAbs(c.Buf, c.DT.SlotAddr(target))
	x86asm.PatchShort(c.Buf, patch) // not-taken falls straight into the next snippet
	return nil
}

func (c *Codegen) emitJAL(ci, cur, rd uint32) {
	if rd != isa.RegZero {
		x86asm.MovRegImm32(c.Buf, x86asm.EAX, cur+4)
		x86asm.StoreMem32(c.Buf, x86asm.ESI, off(rd), x86asm.EAX)
	}
	target := (cur + isa.ImmJ(ci)) & c.Mask
	x86asm.JmpIndirectAbs(c.Buf, c.DT.SlotAddr(target))
}

func (c *Codegen) emitJALR(ci, cur, rd, rs1 uint32) {
	if rd != isa.RegZero {
		x86asm.MovRegImm32(c.Buf, x86asm.EAX, cur+4)
		x86asm.StoreMem32(c.Buf, x86asm.ESI, off(rd), x86asm.EAX)
	}
	imm := isa.ImmI(ci)
	x86asm.LoadMem32(c.Buf, x86asm.ECX, x86asm.ESI, off(rs1))
	x86asm.MovRegImm32(c.Buf, x86asm.EDX, imm)
	x86asm.Add(c.Buf, x86asm.ECX, x86asm.EDX)
	x86asm.AndImm32(c.Buf, x86asm.ECX, c.Mask&^1) // mask M, clear bit 0
	x86asm.MovRegImm32(c.Buf, x86asm.EBX, c.DT.CodeOffset)
	x86asm.Sub(c.Buf, x86asm.ECX, x86asm.EBX) // ECX = target - codeOffset
	x86asm.MovRegImm32(c.Buf, x86asm.EDX, c.DT.BaseAddr())
	x86asm.Add(c.Buf, x86asm.ECX, x86asm.EDX) // ECX = dispatch slot address
	x86asm.JmpIndirectReg(c.Buf, x86asm.ECX)
}

func (c *Codegen) emitSystem(ci uint32) error {
	switch (ci >> 20) & 0xFFF {
	case 0:
		return c.emitEcall()
	case 1:
		c.setReason(reasonEbreak)
		c.jumpToEpilogue()
		return nil
	default:
		return fmt.Errorf("%w: SYSTEM imm %#x", ErrUnknownOpcode, (ci>>20)&0xFFF)
	}
}

// emitEcall inlines ECALL subcode 1 (putchar) directly as a write(2)
// syscall; every other subcode — including exit (0) and anything
// unrecognized — bounces to the epilog so the Go driver can hand it to
// the same ecall.Host the interpreter uses. See the host-call-boundary
// design note.
func (c *Codegen) emitEcall() error {
	x86asm.LoadMem32(c.Buf, x86asm.EAX, x86asm.ESI, off(isa.RegA7))
	x86asm.MovRegImm32(c.Buf, x86asm.ECX, 1)
	x86asm.Cmp(c.Buf, x86asm.EAX, x86asm.ECX)
	notPutchar := x86asm.JccShort(c.Buf, x86asm.CondNE)

	x86asm.LoadMem32(c.Buf, x86asm.EAX, x86asm.ESI, off(isa.RegA0))
	x86asm.MovRegImm32(c.Buf, x86asm.EDX, c.ScratchAddr)
	x86asm.StoreMem8(c.Buf, x86asm.EDX, 0, x86asm.EAX)
	x86asm.MovRegImm32(c.Buf, x86asm.EAX, 4) // __NR_write (x86, 32-bit)
	x86asm.MovRegImm32(c.Buf, x86asm.EBX, 1) // fd = stdout
	x86asm.MovRegImm32(c.Buf, x86asm.ECX, c.ScratchAddr)
	x86asm.MovRegImm32(c.Buf, x86asm.EDX, 1)
	x86asm.Int(c.Buf, 0x80)
	skipOther := x86asm.JmpShort(c.Buf)

	x86asm.PatchShort(c.Buf, notPutchar)
	c.setReason(reasonEcallOther)
	c.jumpToEpilogue()

	x86asm.PatchShort(c.Buf, skipOther)
	return nil
}

func (c *Codegen) setReason(code byte) {
	x86asm.MovRegImm32(c.Buf, x86asm.EDX, c.ReasonAddr)
	x86asm.MovRegImm32(c.Buf, x86asm.EAX, uint32(code))
	x86asm.StoreMem8(c.Buf, x86asm.EDX, 0, x86asm.EAX)
}

func (c *Codegen) jumpToEpilogue() {
	patch := x86asm.JmpRel32(c.Buf)
	c.epiloguePatches = append(c.epiloguePatches, patch)
}
