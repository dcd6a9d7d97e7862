// Command rv32test walks a directory of *.rv32 images paired with
// *.expect files and runs each under both engines, reporting pass/fail
// per file and per engine. An .expect file is a sequence of key=value
// lines: exit=0, a3=30, mem[1000]=0xdeadbeef.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bassosimone/rv32vm/pkg/cpu"
	"github.com/bassosimone/rv32vm/pkg/ecall"
	"github.com/bassosimone/rv32vm/pkg/image"
	"github.com/bassosimone/rv32vm/pkg/interp"
	"github.com/bassosimone/rv32vm/pkg/isa"
	"github.com/bassosimone/rv32vm/pkg/jit"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) != 2 {
		log.Fatal("usage: rv32test <dir>")
	}
	failures, err := runDir(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	if failures > 0 {
		os.Exit(1)
	}
}

type expectation struct {
	exit *uint32
	regs map[string]uint32
	mem  map[uint32]uint32
}

func parseExpect(path string) (*expectation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	exp := &expectation{regs: map[string]uint32{}, mem: map[uint32]uint32{}}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed line %q", path, line)
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		val, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), hexOrDec(v), 32)
		if err != nil {
			return nil, fmt.Errorf("%s: bad value in %q: %w", path, line, err)
		}
		n := uint32(val)
		switch {
		case k == "exit":
			exp.exit = &n
		case strings.HasPrefix(k, "mem["):
			addrStr := strings.TrimSuffix(strings.TrimPrefix(k, "mem["), "]")
			addr, err := strconv.ParseUint(strings.TrimPrefix(addrStr, "0x"), hexOrDec(addrStr), 32)
			if err != nil {
				return nil, fmt.Errorf("%s: bad mem address in %q: %w", path, line, err)
			}
			exp.mem[uint32(addr)] = n
		default:
			exp.regs[k] = n
		}
	}
	return exp, scanner.Err()
}

func hexOrDec(s string) int {
	if strings.HasPrefix(s, "0x") {
		return 16
	}
	return 10
}

func (exp *expectation) check(vm *cpu.VM, halt interp.Halt) []string {
	var problems []string
	if exp.exit != nil {
		wantExit := *exp.exit == 0
		gotExit := halt == interp.HaltEcallExit
		if wantExit != gotExit {
			problems = append(problems, fmt.Sprintf("exit: want %v, got halt=%v", wantExit, halt))
		}
	}
	for name, want := range exp.regs {
		idx, ok := regIndex(name)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown register %q in expectation", name))
			continue
		}
		if got := vm.GetReg(idx); got != want {
			problems = append(problems, fmt.Sprintf("%s: want %#x, got %#x", name, want, got))
		}
	}
	for addr, want := range exp.mem {
		if got := vm.LoadWord(addr, vm.PC, 0); got != want {
			problems = append(problems, fmt.Sprintf("mem[%#x]: want %#x, got %#x", addr, want, got))
		}
	}
	return problems
}

func regIndex(name string) (uint32, bool) {
	for i, n := range isa.RegNames {
		if n == name {
			return uint32(i), true
		}
	}
	return 0, false
}

func runDir(dir string) (failures int, err error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.rv32"))
	if err != nil {
		return 0, err
	}
	for _, imgPath := range matches {
		expPath := strings.TrimSuffix(imgPath, filepath.Ext(imgPath)) + ".expect"
		exp, err := parseExpect(expPath)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", imgPath, err)
			failures++
			continue
		}
		raw, err := os.ReadFile(imgPath)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", imgPath, err)
			failures++
			continue
		}
		for _, engine := range []string{"interp", "jit"} {
			vm, err := image.Load(raw)
			if err != nil {
				fmt.Printf("FAIL %s [%s]: %v\n", imgPath, engine, err)
				failures++
				continue
			}
			vm.Reset()
			var halt interp.Halt
			if engine == "interp" {
				halt, err = interp.New(vm, &ecall.Host{Out: os.Stdout}).Run(0)
			} else {
				halt, err = jit.New(vm, &ecall.Host{Out: os.Stdout}).Run()
			}
			if err != nil {
				fmt.Printf("FAIL %s [%s]: %v\n", imgPath, engine, err)
				failures++
				continue
			}
			if problems := exp.check(vm, halt); len(problems) > 0 {
				fmt.Printf("FAIL %s [%s]:\n", imgPath, engine)
				for _, p := range problems {
					fmt.Printf("  - %s\n", p)
				}
				failures++
				continue
			}
			fmt.Printf("PASS %s [%s]\n", imgPath, engine)
		}
	}
	return failures, nil
}
