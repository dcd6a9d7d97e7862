// Package ecall implements the host environment call bridge (§6): the
// guest places a subcode in a7 and an argument in a0; the host observes
// them and decides whether execution halts.
//
// Host.Handle is the single function both execution engines call: the
// interpreter calls it directly; the JIT calls the same function from
// ordinary Go code in its driver after returning from generated machine
// code for the halting subcodes, and inlines the putchar subcode directly
// into the emitted snippet (see pkg/jit's design note on the host-call
// boundary).
package ecall

import (
	"errors"
	"fmt"
	"io"

	"github.com/bassosimone/rv32vm/pkg/cpu"
	"github.com/bassosimone/rv32vm/pkg/isa"
)

// Subcode values recognized by the shipped Host (§6).
const (
	SubcodeExit    = uint32(0)
	SubcodePutchar = uint32(1)
)

// ErrUnknownSubcode indicates an ECALL subcode this Host does not
// implement. The core's shipped behavior is to treat this as an error.
var ErrUnknownSubcode = errors.New("ecall: unknown subcode")

// Host implements the default host environment call behavior.
type Host struct {
	// Out receives bytes written by the putchar subcode. Defaults to
	// io.Discard if nil.
	Out io.Writer
}

// Handle services one ECALL. It returns halt=true when execution should
// stop (subcode 0, or an error), and never mutates VM state beyond what
// the subcode itself defines.
func (h *Host) Handle(vm *cpu.VM) (halt bool, err error) {
	subcode := vm.GetReg(isa.RegA7)
	arg := vm.GetReg(isa.RegA0)
	switch subcode {
	case SubcodeExit:
		return true, nil
	case SubcodePutchar:
		out := h.Out
		if out == nil {
			out = io.Discard
		}
		if _, werr := out.Write([]byte{byte(arg)}); werr != nil {
			return true, fmt.Errorf("ecall: putchar write failed: %w", werr)
		}
		return false, nil
	default:
		return true, fmt.Errorf("%w: %d", ErrUnknownSubcode, subcode)
	}
}
