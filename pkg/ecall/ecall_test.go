package ecall

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bassosimone/rv32vm/pkg/cpu"
	"github.com/bassosimone/rv32vm/pkg/isa"
)

func newVM(t *testing.T) *cpu.VM {
	t.Helper()
	vm, err := cpu.New(1 << 12)
	if err != nil {
		t.Fatalf("cpu.New: %v", err)
	}
	return vm
}

func TestHandleExit(t *testing.T) {
	vm := newVM(t)
	vm.SetReg(isa.RegA7, SubcodeExit)
	halt, err := (&Host{}).Handle(vm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !halt {
		t.Fatalf("expected halt=true for exit subcode")
	}
}

func TestHandlePutchar(t *testing.T) {
	var out bytes.Buffer
	vm := newVM(t)
	vm.SetReg(isa.RegA7, SubcodePutchar)
	vm.SetReg(isa.RegA0, 'Q')
	halt, err := (&Host{Out: &out}).Handle(vm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if halt {
		t.Fatalf("putchar must not halt")
	}
	if out.String() != "Q" {
		t.Fatalf("out = %q, want %q", out.String(), "Q")
	}
}

func TestHandlePutcharDiscardsByDefault(t *testing.T) {
	vm := newVM(t)
	vm.SetReg(isa.RegA7, SubcodePutchar)
	vm.SetReg(isa.RegA0, 'Z')
	halt, err := (&Host{}).Handle(vm)
	if err != nil || halt {
		t.Fatalf("halt=%v err=%v, want halt=false err=nil", halt, err)
	}
}

func TestHandleUnknownSubcode(t *testing.T) {
	vm := newVM(t)
	vm.SetReg(isa.RegA7, 77)
	halt, err := (&Host{}).Handle(vm)
	if !halt {
		t.Fatalf("expected halt=true on unknown subcode")
	}
	if !errors.Is(err, ErrUnknownSubcode) {
		t.Fatalf("err = %v, want wrapping ErrUnknownSubcode", err)
	}
}

func TestHandlePutcharTruncatesArgumentToByte(t *testing.T) {
	var out bytes.Buffer
	vm := newVM(t)
	vm.SetReg(isa.RegA7, SubcodePutchar)
	vm.SetReg(isa.RegA0, 0x4100+'A') // low byte must still be 'A'
	if _, err := (&Host{Out: &out}).Handle(vm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "A" {
		t.Fatalf("out = %q, want %q", out.String(), "A")
	}
}
