package interp

import (
	"bytes"
	"testing"

	"github.com/bassosimone/rv32vm/pkg/cpu"
	"github.com/bassosimone/rv32vm/pkg/ecall"
	"github.com/bassosimone/rv32vm/pkg/isa"
)

func loadProgram(t *testing.T, size uint32, words ...uint32) *cpu.VM {
	t.Helper()
	vm, err := cpu.New(size)
	if err != nil {
		t.Fatalf("cpu.New: %v", err)
	}
	for i, w := range words {
		vm.StoreWord(uint32(i*4), w, 0, 0)
	}
	return vm
}

func runToHalt(t *testing.T, vm *cpu.VM, out *bytes.Buffer) Halt {
	t.Helper()
	in := New(vm, &ecall.Host{Out: out})
	halt, err := in.Run(10_000)
	if err != nil {
		t.Fatalf("interpreter error: %v", err)
	}
	return halt
}

// Scenario 1: ADD chain.
func TestScenarioAddChain(t *testing.T) {
	vm := loadProgram(t, 1<<12,
		isa.ADDI(isa.RegA1, isa.RegZero, 10),
		isa.ADDI(isa.RegA2, isa.RegZero, 20),
		isa.ADD(isa.RegA3, isa.RegA1, isa.RegA2),
		isa.BEQ(isa.RegA3, isa.RegA3, 8), // always taken, just to exercise BEQ
		isa.ADDI(isa.RegA0, isa.RegZero, 1),
		isa.ECALL(),
	)
	halt := runToHalt(t, vm, nil)
	if halt != HaltEcallExit {
		t.Fatalf("halt = %v, want HaltEcallExit", halt)
	}
	if got := vm.GetReg(isa.RegA3); got != 30 {
		t.Fatalf("a3 = %d, want 30", got)
	}
	if got := vm.GetReg(isa.RegA0); got != 0 {
		t.Fatalf("a0 = %d, want 0 (BEQ should have skipped the a0=1 store)", got)
	}
}

// Scenario 2: SLTIU sign extension.
func TestScenarioSLTIUSignExtension(t *testing.T) {
	vm := loadProgram(t, 1<<12,
		isa.ADDI(isa.RegA1, isa.RegZero, -2), // 0xFFFFFFFE
		isa.SLTIU(isa.RegS2, isa.RegA1, -1),  // compares against 0xFFFFFFFF
		isa.ECALL(),
	)
	runToHalt(t, vm, nil)
	if got := vm.GetReg(isa.RegS2); got != 1 {
		t.Fatalf("s2 = %d, want 1", got)
	}
}

// Scenario 3: byte endianness via SB/LW.
func TestScenarioByteEndianness(t *testing.T) {
	vm := loadProgram(t, 1<<12,
		isa.ADDI(isa.RegT0, isa.RegZero, 0x100),
		isa.ADDI(isa.RegT1, isa.RegZero, 0xAA),
		isa.SB(isa.RegT0, isa.RegT1, 0),
		isa.ADDI(isa.RegT1, isa.RegZero, 0xBB), // reuse t1
		isa.SB(isa.RegT0, isa.RegT1, 1),
		isa.ADDI(isa.RegT1, isa.RegZero, 0xCC),
		isa.SB(isa.RegT0, isa.RegT1, 2),
		isa.ADDI(isa.RegT1, isa.RegZero, 0xDD),
		isa.SB(isa.RegT0, isa.RegT1, 3),
		isa.LW(isa.RegA3, isa.RegT0, 0),
		isa.ECALL(),
	)
	runToHalt(t, vm, nil)
	if got := vm.GetReg(isa.RegA3); got != 0xDDCCBBAA {
		t.Fatalf("a3 = %#x, want 0xddccbbaa", got)
	}
}

// Scenario 4: branch signedness.
func TestScenarioBranchSignedness(t *testing.T) {
	vm := loadProgram(t, 1<<12,
		isa.ADDI(isa.RegA1, isa.RegZero, -1), // 0xFFFFFFFF
		isa.ADDI(isa.RegA2, isa.RegZero, 10),
		isa.BLTU(isa.RegA1, isa.RegA2, 12), // must NOT branch (unsigned a1 is huge)
		isa.ADDI(isa.RegA3, isa.RegZero, 1),
		isa.JAL(isa.RegZero, 4), // jump to the BLT
		isa.BLT(isa.RegA1, isa.RegA2, 8), // must branch (signed a1 < a2), skipping a3=99
		isa.ADDI(isa.RegA3, isa.RegZero, 99),
		isa.ECALL(),
	)
	runToHalt(t, vm, nil)
	if got := vm.GetReg(isa.RegA3); got != 1 {
		t.Fatalf("a3 = %d, want 1 (BLTU must not branch, BLT must)", got)
	}
}

// Scenario 5: JAL/JALR link and return.
func TestScenarioJALJALR(t *testing.T) {
	// 0: JAL ra, F (F at word index 3, byte offset 12)
	// 1: ADDI a3, zero, 7   (post-JAL instruction; must run exactly once, after return)
	// 2: ECALL
	// 3: F: ADDI a3, zero, 3
	// 4: JALR zero, ra, 0
	vm := loadProgram(t, 1<<12,
		isa.JAL(isa.RegRA, 12),
		isa.ADDI(isa.RegA3, isa.RegZero, 7),
		isa.ECALL(),
		isa.ADDI(isa.RegA3, isa.RegZero, 3),
		isa.JALR(isa.RegZero, isa.RegRA, 0),
	)
	runToHalt(t, vm, nil)
	if got := vm.GetReg(isa.RegA3); got != 7 {
		t.Fatalf("a3 = %d, want 7 (post-JAL instruction must run after the JALR return)", got)
	}
}

// Scenario 6: AUIPC consistency.
func TestScenarioAUIPCConsistency(t *testing.T) {
	vm := loadProgram(t, 1<<12,
		isa.AUIPC(isa.RegT1, 0),
		isa.AUIPC(isa.RegT2, 0x1000),
		isa.ECALL(),
	)
	runToHalt(t, vm, nil)
	t1 := vm.GetReg(isa.RegT1)
	t2 := vm.GetReg(isa.RegT2)
	if t1 != 0 {
		t.Fatalf("t1 = %#x, want the masked PC of the first AUIPC (0)", t1)
	}
	if t2-t1 != 0x1004 {
		t.Fatalf("t2-t1 = %#x, want 0x1004", t2-t1)
	}
}

func TestPutcharWritesStdout(t *testing.T) {
	var out bytes.Buffer
	vm := loadProgram(t, 1<<12,
		isa.ADDI(isa.RegA0, isa.RegZero, 'X'),
		isa.ADDI(isa.RegA7, isa.RegZero, 1),
		isa.ECALL(),
		isa.ADDI(isa.RegA7, isa.RegZero, 0),
		isa.ECALL(), // subcode 0: exit
	)
	runToHalt(t, vm, &out)
	if out.String() != "X" {
		t.Fatalf("stdout = %q, want %q", out.String(), "X")
	}
}

func TestUnknownEcallSubcodeHalts(t *testing.T) {
	vm := loadProgram(t, 1<<12,
		isa.ADDI(isa.RegA7, isa.RegZero, 42),
		isa.ECALL(),
	)
	in := New(vm, &ecall.Host{})
	halt, err := in.Run(100)
	if err == nil {
		t.Fatalf("expected an error for unknown ecall subcode")
	}
	if halt != HaltError {
		t.Fatalf("halt = %v, want HaltError", halt)
	}
}

func TestEbreakHalts(t *testing.T) {
	vm := loadProgram(t, 1<<12, isa.EBREAK())
	halt := runToHalt(t, vm, nil)
	if halt != HaltEbreak {
		t.Fatalf("halt = %v, want HaltEbreak", halt)
	}
}

func TestUnknownOpcodeReportsAndHalts(t *testing.T) {
	vm := loadProgram(t, 1<<12, uint32(0x7F)) // opcode 0x7F: reserved, no RV32I meaning
	var reported bool
	vm.Report = func(v *cpu.VM, msg string, pc, instr uint32) { reported = true }
	in := New(vm, &ecall.Host{})
	_, err := in.Run(10)
	if err == nil {
		t.Fatalf("expected error for unknown opcode")
	}
	if !reported {
		t.Fatalf("expected diagnostic hook to fire")
	}
}

func TestIllegalBranchFunct3ReportsAndHalts(t *testing.T) {
	// funct3 2 and 3 are reserved for BRANCH in RV32I; neither has defined
	// semantics, so this must halt like any other illegal encoding
	// (matching pkg/jit's emitBranch, which already rejected this case).
	vm := loadProgram(t, 1<<12, isa.EncodeB(isa.OpcodeBranch, 2, isa.RegZero, isa.RegZero, 8))
	var reported bool
	vm.Report = func(v *cpu.VM, msg string, pc, instr uint32) { reported = true }
	in := New(vm, &ecall.Host{})
	_, err := in.Run(10)
	if err == nil {
		t.Fatalf("expected error for illegal BRANCH funct3")
	}
	if !reported {
		t.Fatalf("expected diagnostic hook to fire")
	}
}

func TestStepCapIsHaltNotError(t *testing.T) {
	vm := loadProgram(t, 1<<12,
		isa.JAL(isa.RegZero, 0), // infinite self-loop
	)
	in := New(vm, &ecall.Host{})
	halt, err := in.Run(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if halt != HaltNone {
		t.Fatalf("halt = %v, want HaltNone (step cap)", halt)
	}
}
