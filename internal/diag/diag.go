// Package diag wires pkg/cpu's diagnostic hook and optional
// instruction tracing to structured logging (C12), the way the
// teacher confines log.Fatal/os.Exit to its cmd/ binaries and never
// calls them from library code.
package diag

import (
	"github.com/sirupsen/logrus"

	"github.com/bassosimone/rv32vm/pkg/cpu"
)

// ReportAdapter implements cpu.ReportFunc on top of a logrus.FieldLogger,
// so both the interpreter and the JIT can report decode/execute errors
// the same way regardless of which engine is running.
func ReportAdapter(log logrus.FieldLogger) cpu.ReportFunc {
	return func(vm *cpu.VM, message string, pc, instr uint32) {
		log.WithFields(logrus.Fields{
			"pc":    pc,
			"instr": instr,
			"kind":  "execution_error",
		}).Error(message)
	}
}

// Tracer logs one structured entry per retired instruction when
// --trace is enabled. It is deliberately not a cpu.ReportFunc: tracing
// is a per-step hook the CLI drives directly around in.Step, not a
// diagnostic the core reports on its own.
type Tracer struct {
	Log logrus.FieldLogger
}

// Step logs one instruction's pc/instr/opcode, intended to be called
// once per successful pkg/interp.Step.
func (t *Tracer) Step(pc, instr uint32) {
	t.Log.WithFields(logrus.Fields{
		"pc":     pc,
		"instr":  instr,
		"opcode": instr & 0x7F,
	}).Debug("step")
}
