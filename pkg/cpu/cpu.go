// Package cpu holds the RV32I register file and sandboxed memory shared
// by the interpreter and the JIT. Its design mirrors the teacher VM: a
// plain struct of registers plus a byte-addressed memory region, guarded
// by a power-of-two size invariant and a mask applied to every access.
package cpu

import (
	"errors"
	"fmt"

	"github.com/bassosimone/rv32vm/pkg/isa"
)

// The following errors may be returned by VM construction.
var (
	// ErrNotPowerOfTwo indicates the requested memory size is not a
	// power of two, violating the sandbox mask invariant.
	ErrNotPowerOfTwo = errors.New("cpu: memory size is not a power of two")

	// ErrZeroSize indicates a zero-sized memory region was requested.
	ErrZeroSize = errors.New("cpu: memory size must be greater than zero")
)

// NumRegisters is the number of RV32I general purpose registers.
const NumRegisters = 32

// ReportFunc is the diagnostic hook the integrator supplies (§6). Its
// output format is unspecified; it must never mutate vm.
type ReportFunc func(vm *VM, message string, pc, instr uint32)

// VM is the CPU and memory state shared by the interpreter and the JIT.
// It is not goroutine safe; a single goroutine should drive it at a time.
type VM struct {
	GPR [NumRegisters]uint32 // general purpose registers, x0 hardwired zero
	PC  uint32                // program counter, byte address

	Mem  []byte // sandboxed memory, length is a power of two
	mask uint32 // len(Mem) - 1

	// Section bookkeeping, recorded for introspection only; never
	// enforced against writes (§3).
	CodeOffset uint32
	CodeSize   uint32
	DataOffset uint32
	DataSize   uint32
	BSSOffset  uint32
	BSSSize    uint32
	Entry      uint32

	// DebugChecks enables pre-mask out-of-bounds diagnostics (§4.2,
	// §4.8). It never changes observable behavior, only whether Report
	// is invoked for an address that required masking.
	DebugChecks bool

	// Report receives diagnostics. If nil, diagnostics are dropped.
	Report ReportFunc
}

// New constructs a VM with a memory region of the given size in bytes.
// size must be a power of two and greater than zero.
func New(size uint32) (*VM, error) {
	if size == 0 {
		return nil, ErrZeroSize
	}
	if size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrNotPowerOfTwo, size)
	}
	return &VM{
		Mem:  make([]byte, size),
		mask: size - 1,
	}, nil
}

// Mask returns the address mask M = N-1 for this VM's memory.
func (vm *VM) Mask() uint32 {
	return vm.mask
}

// Size returns the memory size N in bytes.
func (vm *VM) Size() uint32 {
	return vm.mask + 1
}

// Reset clears the register file and sets PC to the recorded entry point.
func (vm *VM) Reset() {
	for i := range vm.GPR {
		vm.GPR[i] = 0
	}
	vm.PC = vm.Entry & vm.mask
}

// GetReg reads a general purpose register by index.
func (vm *VM) GetReg(i uint32) uint32 {
	return vm.GPR[i&0x1F]
}

// SetReg writes a general purpose register by index. Writes to x0 are
// silently discarded, which is the uniform x0 policy applied by both
// execution engines (§9 design note).
func (vm *VM) SetReg(i, v uint32) {
	i &= 0x1F
	if i == isa.RegZero {
		return
	}
	vm.GPR[i] = v
}

// report forwards a diagnostic to the configured hook, if any.
func (vm *VM) report(message string, pc, instr uint32) {
	if vm.Report != nil {
		vm.Report(vm, message, pc, instr)
	}
}

// String renders a compact snapshot of VM state for tracing and tests.
func (vm *VM) String() string {
	return fmt.Sprintf("{PC:%#x GPR:%+v}", vm.PC, vm.GPR)
}
