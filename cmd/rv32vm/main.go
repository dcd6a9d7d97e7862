// Command rv32vm runs a flat RV32I memory image under either execution
// engine. Library errors are returned up the call chain as values;
// log.Fatal/os.Exit are confined to main, matching the teacher's own
// cmd/vm pattern.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bassosimone/rv32vm/internal/diag"
	"github.com/bassosimone/rv32vm/internal/rvconfig"
	"github.com/bassosimone/rv32vm/pkg/cpu"
	"github.com/bassosimone/rv32vm/pkg/ecall"
	"github.com/bassosimone/rv32vm/pkg/image"
	"github.com/bassosimone/rv32vm/pkg/interp"
	"github.com/bassosimone/rv32vm/pkg/jit"
)

func main() {
	log.SetFlags(0)
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		memFlag    string
		engineFlag string
		stepsFlag  uint64
		traceFlag  bool
		configFlag string
	)

	cmd := &cobra.Command{
		Use:   "rv32vm <image>",
		Short: "Run an RV32I flat-memory image under the interpreter or the JIT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rvconfig.DefaultConfig()
			if configFlag != "" {
				loaded, err := rvconfig.Load(configFlag)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if engineFlag != "" {
				cfg.Execution.Engine = engineFlag
			}
			if stepsFlag != 0 {
				cfg.Execution.StepCap = stepsFlag
			}
			if traceFlag {
				cfg.Execution.EnableTrace = true
			}

			log := logrus.New()
			level, err := logrus.ParseLevel(cfg.Logging.Level)
			if err != nil {
				level = logrus.InfoLevel
			}
			if cfg.Execution.EnableTrace && level < logrus.DebugLevel {
				level = logrus.DebugLevel // Tracer logs at Debug
			}
			log.SetLevel(level)

			wantRAM := cfg.Execution.MemBytes
			if memFlag != "" {
				n, err := parseMemSize(memFlag)
				if err != nil {
					return fmt.Errorf("rv32vm: --mem: %w", err)
				}
				wantRAM = n
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("rv32vm: %w", err)
			}
			vm, err := image.LoadWithWantRAM(raw, wantRAM)
			if err != nil {
				return err
			}
			vm.Report = diag.ReportAdapter(log)
			vm.Reset()

			var tracer *diag.Tracer
			if cfg.Execution.EnableTrace {
				tracer = &diag.Tracer{Log: log}
			}

			host := &ecall.Host{Out: os.Stdout}
			halt, err := runEngine(cfg.Execution.Engine, vm, host, cfg.Execution.StepCap, tracer)
			if err != nil {
				return err
			}
			if halt != interp.HaltEcallExit {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&memFlag, "mem", "", "override requested RAM, e.g. 64k, 4m")
	cmd.Flags().StringVar(&engineFlag, "engine", "", "interp or jit (default from config, else interp)")
	cmd.Flags().Uint64Var(&stepsFlag, "steps", 0, "interpreter step cap (0 = unbounded)")
	cmd.Flags().BoolVar(&traceFlag, "trace", false, "enable per-instruction diagnostics")
	cmd.Flags().StringVar(&configFlag, "config", "", "optional TOML config file")
	return cmd
}

func runEngine(engine string, vm *cpu.VM, host *ecall.Host, stepCap uint64, tracer *diag.Tracer) (interp.Halt, error) {
	switch engine {
	case "", "interp":
		return runInterp(vm, host, stepCap, tracer)
	case "jit":
		// Tracing is an interpreter-only facility: the JIT never steps,
		// it calls straight into translated code, so --trace has no
		// effect when --engine=jit.
		return jit.New(vm, host).Run()
	default:
		return interp.HaltError, fmt.Errorf("rv32vm: unknown --engine %q (want interp or jit)", engine)
	}
}

// runInterp drives the interpreter directly, one Step at a time, so that
// a configured Tracer sees every retired instruction. Without a tracer
// it just delegates to Run.
func runInterp(vm *cpu.VM, host *ecall.Host, stepCap uint64, tracer *diag.Tracer) (interp.Halt, error) {
	in := interp.New(vm, host)
	if tracer == nil {
		return in.Run(stepCap)
	}
	var steps uint64
	for stepCap == 0 || steps < stepCap {
		pc := vm.PC & vm.Mask()
		tracer.Step(pc, vm.FetchWord(pc))
		cont, halt, err := in.Step()
		if err != nil {
			return halt, err
		}
		if !cont {
			return halt, nil
		}
		steps++
	}
	return interp.HaltNone, nil
}

func parseMemSize(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	mult := uint64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k', 'K':
			mult, s = 1024, s[:n-1]
		case 'm', 'M':
			mult, s = 1024*1024, s[:n-1]
		}
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	total := v * mult
	if total > 0xFFFFFFFF {
		return 0, fmt.Errorf("size %s overflows a 32-bit address space", s)
	}
	return uint32(total), nil
}
