// Package interp implements the RV32I fetch-decode-execute interpreter
// (C3). Its dispatch mirrors the teacher VM's Execute switch: decode once,
// switch on opcode/funct3/funct7, execute, then re-zero x0.
package interp

import (
	"errors"
	"fmt"

	"github.com/bassosimone/rv32vm/pkg/cpu"
	"github.com/bassosimone/rv32vm/pkg/ecall"
	"github.com/bassosimone/rv32vm/pkg/isa"
)

// ErrUnknownOpcode indicates an instruction whose opcode or funct3/funct7
// combination has no defined RV32I semantics within this core.
var ErrUnknownOpcode = errors.New("interp: unknown opcode or illegal funct3/funct7")

// Halt describes why Run stopped.
type Halt int

const (
	// HaltNone means Run stopped because the step budget was exhausted,
	// not because of an instruction-level halt condition.
	HaltNone Halt = iota
	HaltEcallExit
	HaltEbreak
	HaltError
)

// Interp drives a cpu.VM through the RV32I fetch-decode-execute loop.
type Interp struct {
	VM    *cpu.VM
	Ecall *ecall.Host
}

// New constructs an interpreter bound to vm, with a default Host ecall
// handler if none is supplied.
func New(vm *cpu.VM, host *ecall.Host) *Interp {
	if host == nil {
		host = &ecall.Host{}
	}
	return &Interp{VM: vm, Ecall: host}
}

// Step executes exactly one instruction. It returns cont=false when the
// VM has halted (ECALL exit, EBREAK, or an execution error); err is
// non-nil only for execution errors, which are also reported through
// vm.Report if configured.
func (in *Interp) Step() (cont bool, halt Halt, err error) {
	vm := in.VM
	cur := vm.PC
	ci := vm.FetchWord(cur & vm.Mask())
	vm.PC = (cur + 4) & vm.Mask()

	opcode, rd, funct3, rs1idx, rs2idx, funct7 := isa.Decode(ci)
	rs1 := vm.GetReg(rs1idx)
	rs2 := vm.GetReg(rs2idx)

	switch opcode {
	case isa.OpcodeOpImm:
		cont, err = in.execOpImm(ci, rd, funct3, rs1)
	case isa.OpcodeOp:
		cont, err = in.execOp(rd, funct3, funct7, rs1, rs2)
	case isa.OpcodeLui:
		vm.SetReg(rd, isa.ImmU(ci))
		cont = true
	case isa.OpcodeAuipc:
		vm.SetReg(rd, cur+isa.ImmU(ci))
		cont = true
	case isa.OpcodeLoad:
		cont, err = in.execLoad(ci, cur, rd, funct3, rs1)
	case isa.OpcodeStore:
		cont, err = in.execStore(ci, cur, funct3, rs1, rs2)
	case isa.OpcodeBranch:
		cont, err = in.execBranch(ci, cur, funct3, rs1, rs2)
	case isa.OpcodeJal:
		vm.SetReg(rd, cur+4)
		vm.PC = (cur + isa.ImmJ(ci)) & vm.Mask()
		cont = true
	case isa.OpcodeJalr:
		target := (rs1 + isa.ImmI(ci)) &^ 1
		vm.SetReg(rd, cur+4)
		vm.PC = target & vm.Mask()
		cont = true
	case isa.OpcodeSystem:
		cont, halt, err = in.execSystem(ci, cur)
	case isa.OpcodeFence:
		cont = true // no-op
	default:
		err = fmt.Errorf("%w: opcode %#x at pc %#x", ErrUnknownOpcode, opcode, cur)
	}

	vm.GPR[isa.RegZero] = 0 // invariant: x0 always observably zero

	if err != nil {
		halt = HaltError
		if vm.Report != nil {
			vm.Report(vm, fmt.Sprintf("interp: %s", err), cur, ci)
		}
		return false, halt, err
	}
	return cont, halt, nil
}

func (in *Interp) execOpImm(ci uint32, rd, funct3, rs1 uint32) (bool, error) {
	vm := in.VM
	imm := isa.ImmI(ci)
	switch funct3 {
	case isa.Funct3ADD_SUB: // ADDI
		vm.SetReg(rd, rs1+imm)
	case isa.Funct3XOR:
		vm.SetReg(rd, rs1^imm)
	case isa.Funct3OR:
		vm.SetReg(rd, rs1|imm)
	case isa.Funct3AND:
		vm.SetReg(rd, rs1&imm)
	case isa.Funct3SLL: // SLLI
		vm.SetReg(rd, rs1<<(imm&31))
	case isa.Funct3SRL_SRA: // SRLI / SRAI, funct7 lives in imm[11:5]
		shamt := imm & 31
		if (ci>>25)&0b111_1111 == isa.Funct7Alt {
			vm.SetReg(rd, uint32(int32(rs1)>>shamt))
		} else {
			vm.SetReg(rd, rs1>>shamt)
		}
	case isa.Funct3SLT:
		if int32(rs1) < int32(imm) {
			vm.SetReg(rd, 1)
		} else {
			vm.SetReg(rd, 0)
		}
	case isa.Funct3SLTU:
		// imm is sign-extended before the unsigned compare (§4.3).
		if rs1 < imm {
			vm.SetReg(rd, 1)
		} else {
			vm.SetReg(rd, 0)
		}
	default:
		return false, fmt.Errorf("%w: OP-IMM funct3 %#x", ErrUnknownOpcode, funct3)
	}
	return true, nil
}

func (in *Interp) execOp(rd, funct3, funct7, rs1, rs2 uint32) (bool, error) {
	vm := in.VM
	switch funct3 {
	case isa.Funct3ADD_SUB:
		if funct7 == isa.Funct7Alt {
			vm.SetReg(rd, rs1-rs2)
		} else {
			vm.SetReg(rd, rs1+rs2)
		}
	case isa.Funct3XOR:
		vm.SetReg(rd, rs1^rs2)
	case isa.Funct3OR:
		vm.SetReg(rd, rs1|rs2)
	case isa.Funct3AND:
		vm.SetReg(rd, rs1&rs2)
	case isa.Funct3SLL:
		vm.SetReg(rd, rs1<<(rs2&31))
	case isa.Funct3SRL_SRA:
		shamt := rs2 & 31
		if funct7 == isa.Funct7Alt {
			vm.SetReg(rd, uint32(int32(rs1)>>shamt))
		} else {
			vm.SetReg(rd, rs1>>shamt)
		}
	case isa.Funct3SLT:
		if int32(rs1) < int32(rs2) {
			vm.SetReg(rd, 1)
		} else {
			vm.SetReg(rd, 0)
		}
	case isa.Funct3SLTU:
		if rs1 < rs2 {
			vm.SetReg(rd, 1)
		} else {
			vm.SetReg(rd, 0)
		}
	default:
		return false, fmt.Errorf("%w: OP funct3 %#x", ErrUnknownOpcode, funct3)
	}
	return true, nil
}

func (in *Interp) execLoad(ci, cur, rd, funct3, rs1 uint32) (bool, error) {
	vm := in.VM
	addr := rs1 + isa.ImmI(ci)
	switch funct3 {
	case isa.Funct3LB:
		vm.SetReg(rd, vm.LoadByte(addr, true, cur, ci))
	case isa.Funct3LH:
		vm.SetReg(rd, vm.LoadHalf(addr, true, cur, ci))
	case isa.Funct3LW:
		vm.SetReg(rd, vm.LoadWord(addr, cur, ci))
	case isa.Funct3LBU:
		vm.SetReg(rd, vm.LoadByte(addr, false, cur, ci))
	case isa.Funct3LHU:
		vm.SetReg(rd, vm.LoadHalf(addr, false, cur, ci))
	default:
		return false, fmt.Errorf("%w: LOAD funct3 %#x", ErrUnknownOpcode, funct3)
	}
	return true, nil
}

func (in *Interp) execStore(ci, cur, funct3, rs1, rs2 uint32) (bool, error) {
	vm := in.VM
	addr := rs1 + isa.ImmS(ci)
	switch funct3 {
	case isa.Funct3SB:
		vm.StoreByte(addr, rs2, cur, ci)
	case isa.Funct3SH:
		vm.StoreHalf(addr, rs2, cur, ci)
	case isa.Funct3SW:
		vm.StoreWord(addr, rs2, cur, ci)
	default:
		return false, fmt.Errorf("%w: STORE funct3 %#x", ErrUnknownOpcode, funct3)
	}
	return true, nil
}

func (in *Interp) execBranch(ci, cur, funct3, rs1, rs2 uint32) (bool, error) {
	vm := in.VM
	var taken bool
	switch funct3 {
	case isa.Funct3BEQ:
		taken = rs1 == rs2
	case isa.Funct3BNE:
		taken = rs1 != rs2
	case isa.Funct3BLT:
		taken = int32(rs1) < int32(rs2)
	case isa.Funct3BGE:
		taken = int32(rs1) >= int32(rs2)
	case isa.Funct3BLTU:
		taken = rs1 < rs2
	case isa.Funct3BGEU:
		taken = rs1 >= rs2
	default:
		return false, fmt.Errorf("%w: BRANCH funct3 %#x", ErrUnknownOpcode, funct3)
	}
	if taken {
		vm.PC = (cur + isa.ImmB(ci)) & vm.Mask()
	}
	return true, nil
}

func (in *Interp) execSystem(ci, cur uint32) (cont bool, halt Halt, err error) {
	// I[31:20] distinguishes ECALL (0) from EBREAK (1).
	switch (ci >> 20) & 0xFFF {
	case 0:
		halted, herr := in.Ecall.Handle(in.VM)
		if herr != nil {
			return false, HaltError, herr
		}
		if halted {
			return false, HaltEcallExit, nil
		}
		return true, HaltNone, nil
	case 1:
		return false, HaltEbreak, nil
	default:
		return false, HaltError, fmt.Errorf("%w: SYSTEM imm %#x", ErrUnknownOpcode, (ci>>20)&0xFFF)
	}
}

// Run loops Step until a halt condition or maxSteps is exhausted (0 means
// unbounded). Reaching the step budget is a halt, not an error (§5); the
// VM state is left exactly as of the last completed instruction.
func (in *Interp) Run(maxSteps uint64) (halt Halt, err error) {
	var steps uint64
	for maxSteps == 0 || steps < maxSteps {
		cont, h, serr := in.Step()
		if serr != nil {
			return h, serr
		}
		if !cont {
			return h, nil
		}
		steps++
	}
	return HaltNone, nil
}

