// Package jit implements the one-shot, whole-code-section x86 (32-bit)
// translator (C5-C7): it walks the guest code section exactly once
// ahead of execution, lowers each instruction via Codegen, and then
// calls straight into the generated buffer. Both execution engines
// share pkg/cpu's VM and pkg/ecall's Host, so a JIT.Run and an
// interp.Run starting from identical state must leave identical state.
package jit

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/bassosimone/rv32vm/pkg/cpu"
	"github.com/bassosimone/rv32vm/pkg/ecall"
	"github.com/bassosimone/rv32vm/pkg/execmem"
	"github.com/bassosimone/rv32vm/pkg/interp"
	"github.com/bassosimone/rv32vm/pkg/isa"
	"github.com/bassosimone/rv32vm/pkg/x86asm"
)

// bytesPerWordBudget is a generous upper bound on the host bytes any
// single RV32I instruction can lower to (the ECALL snippet is the
// largest, at 77 bytes); the buffer is sized once from the
// code section's word count rather than grown incrementally, since
// translation is single-pass.
const bytesPerWordBudget = 96

// JIT drives one translate-then-execute pass over a cpu.VM.
type JIT struct {
	VM    *cpu.VM
	Ecall *ecall.Host
}

// New constructs a JIT bound to vm, with a default Host ecall handler
// if none is supplied.
func New(vm *cpu.VM, host *ecall.Host) *JIT {
	if host == nil {
		host = &ecall.Host{}
	}
	return &JIT{VM: vm, Ecall: host}
}

// Run translates the VM's entire code section once, then executes it
// in a single call into host machine code. It returns the same Halt
// vocabulary pkg/interp uses, so callers can compare the two engines
// without caring which one ran.
func (j *JIT) Run() (halt interp.Halt, err error) {
	if j.VM.CodeSize == 0 || j.VM.CodeSize%4 != 0 {
		return interp.HaltError, fmt.Errorf("jit: code section size %d is not a positive multiple of 4", j.VM.CodeSize)
	}

	numWords := j.VM.CodeSize / 4
	buf, err := execmem.Allocate(int(numWords)*bytesPerWordBudget + 128)
	if err != nil {
		return interp.HaltError, fmt.Errorf("jit: %w", err)
	}
	defer buf.Release()

	dt := NewDispatchTable(j.VM.CodeOffset, j.VM.CodeSize)

	// reasonCell/scratchCell back the epilog's halt-reason signal and
	// the inlined-putchar syscall buffer respectively. They must outlive
	// the call into generated code (runtime.KeepAlive below pins them;
	// Go's non-moving heap means their addresses stay valid meanwhile).
	var reasonCell [1]byte
	var scratchCell [1]byte

	cg := &Codegen{
		Buf:         buf,
		DT:          dt,
		Mask:        j.VM.Mask(),
		ReasonAddr:  uint32(uintptr(unsafe.Pointer(&reasonCell[0]))),
		ScratchAddr: uint32(uintptr(unsafe.Pointer(&scratchCell[0]))),
	}

	// Prolog: save callee-saved registers, bind VMPTR/MEMPTR.
	x86asm.Push(buf, x86asm.EBX)
	x86asm.Push(buf, x86asm.ESI)
	x86asm.Push(buf, x86asm.EDI)
	x86asm.Push(buf, x86asm.EBP)
	x86asm.MovRegImm32(buf, x86asm.ESI, uint32(uintptr(unsafe.Pointer(&j.VM.GPR[0]))))
	x86asm.MovRegImm32(buf, x86asm.EDI, uint32(uintptr(unsafe.Pointer(&j.VM.Mem[0]))))
	x86asm.JmpIndirectAbs(buf, dt.SlotAddr(j.VM.Entry))

	for i := uint32(0); i < numWords; i++ {
		cur := j.VM.CodeOffset + i*4
		ci := j.VM.FetchWord(cur)
		dt.Set(cur, uint32(uintptr(unsafe.Pointer(&buf.Bytes()[buf.Pos()]))))
		if emitErr := cg.Emit(ci, cur); emitErr != nil {
			return interp.HaltError, fmt.Errorf("jit: translate pc %#x: %w", cur, emitErr)
		}
	}
	if buf.Err() != nil {
		return interp.HaltError, fmt.Errorf("jit: %w", buf.Err())
	}

	// Epilog: always emitted, "just in case" of fall-through (§4.7).
	epilogueOffset := buf.Pos()
	x86asm.Pop(buf, x86asm.EBP)
	x86asm.Pop(buf, x86asm.EDI)
	x86asm.Pop(buf, x86asm.ESI)
	x86asm.Pop(buf, x86asm.EBX)
	x86asm.Ret(buf)
	if buf.Err() != nil {
		return interp.HaltError, fmt.Errorf("jit: %w", buf.Err())
	}

	for _, at := range cg.epiloguePatches {
		x86asm.PatchRel32(buf, at)
	}

	reasonCell[0] = reasonFallThrough // overwritten by the time control returns, unless execution truly fell off the end

	callJIT(buf)
	runtime.KeepAlive(buf)
	runtime.KeepAlive(j.VM)
	runtime.KeepAlive(dt)
	runtime.KeepAlive(&scratchCell)

	switch reasonCell[0] {
	case reasonEbreak:
		return interp.HaltEbreak, nil
	case reasonEcallOther:
		halted, herr := j.Ecall.Handle(j.VM)
		if herr != nil {
			return interp.HaltError, herr
		}
		if !halted {
			return interp.HaltError, fmt.Errorf("jit: ecall subcode %d did not halt, which this engine cannot resume mid-translation", j.VM.GetReg(isa.RegA7))
		}
		return interp.HaltEcallExit, nil
	default:
		return interp.HaltError, fmt.Errorf("jit: execution fell off the end of the translated code section")
	}
}

// callJIT fabricates a Go func value pointing at buf's first byte and
// calls it. A func value is, at runtime, a pointer to a struct whose
// first word is the code entry address; building that struct by hand
// and reinterpreting it as func() is the standard trick for invoking
// raw machine code as an ordinary call.
func callJIT(buf *execmem.Buffer) {
	entry := struct{ addr uintptr }{addr: uintptr(unsafe.Pointer(&buf.Bytes()[0]))}
	fn := *(*func())(unsafe.Pointer(&entry))
	fn()
}
