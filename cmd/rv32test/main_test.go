package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bassosimone/rv32vm/pkg/interp"
)

func TestParseExpect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.expect")
	body := "exit=0\na3=30\nmem[0x1000]=0xdeadbeef\n# a comment\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	exp, err := parseExpect(path)
	if err != nil {
		t.Fatalf("parseExpect: %v", err)
	}
	if exp.exit == nil || *exp.exit != 0 {
		t.Fatalf("exit = %v, want 0", exp.exit)
	}
	if exp.regs["a3"] != 30 {
		t.Fatalf("a3 = %d, want 30", exp.regs["a3"])
	}
	if exp.mem[0x1000] != 0xdeadbeef {
		t.Fatalf("mem[0x1000] = %#x, want 0xdeadbeef", exp.mem[0x1000])
	}
}

func TestParseExpectRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.expect")
	if err := os.WriteFile(path, []byte("not-a-kv-line\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := parseExpect(path); err == nil {
		t.Fatalf("expected an error for a malformed line")
	}
}

func TestRegIndexKnownAndUnknown(t *testing.T) {
	if idx, ok := regIndex("a3"); !ok || idx != 13 {
		t.Fatalf("regIndex(a3) = %d, %v, want 13, true", idx, ok)
	}
	if _, ok := regIndex("not-a-register"); ok {
		t.Fatalf("expected regIndex to reject an unknown name")
	}
}

func TestExpectationCheckExitMismatch(t *testing.T) {
	zero := uint32(0)
	exp := &expectation{exit: &zero, regs: map[string]uint32{}, mem: map[uint32]uint32{}}
	problems := exp.check(nil, interp.HaltEbreak)
	if len(problems) == 0 {
		t.Fatalf("expected a mismatch: exit=0 requires HaltEcallExit, got HaltEbreak")
	}
}
