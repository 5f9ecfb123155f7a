package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/rvm/rvm/disasm"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/trace"
	"github.com/dop251/goja"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const debugHelp = `commands:
  s, step [n]        execute n instructions (default 1)
  c, continue        run until a breakpoint or exit
  b, break <addr>    set a breakpoint
  d, delete <addr>   remove a breakpoint
  r, regs            print registers
  x <addr> [n]       dump n bytes of memory (default 64)
  l, list [n]        disassemble n instructions from pc (default 8)
  t, trace           build and show the trace at pc
  js <expr>          evaluate JavaScript with registers, pc and cycles bound
  q, quit            leave the debugger`

type debugger struct {
	s      *session
	tm     *trace.Machine
	out    io.Writer
	breaks map[uint64]bool
	js     *goja.Runtime
}

func newDebugCmd() *cobra.Command {
	var historyFile string
	cmd := &cobra.Command{
		Use:   "debug <program> [args...]",
		Short: "Step through a program interactively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := readImage(args[0])
			if err != nil {
				return err
			}
			s, err := newSession(cfg, image, args, os.Stdout, nil)
			if err != nil {
				return err
			}
			tm := s.engine
			if tm == nil {
				if tm, err = trace.NewMachine(s.mach, s.decoder, cfg.Trace.Slots, cfg.Trace.Capacity); err != nil {
					return err
				}
			}

			prompt := "rvm> "
			if term.IsTerminal(int(os.Stdin.Fd())) {
				prompt = "\033[1;36mrvm>\033[0m "
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:      prompt,
				HistoryFile: historyFile,
			})
			if err != nil {
				return fmt.Errorf("failed to start readline: %w", err)
			}
			defer rl.Close()

			d := &debugger{s: s, tm: tm, out: rl.Stdout(), breaks: map[uint64]bool{}, js: goja.New()}
			fmt.Fprintf(d.out, "loaded %s at %s, type 'help' for commands\n", args[0], hex(s.entry))
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err != nil {
					return nil
				}
				if quit := d.exec(strings.Fields(line)); quit {
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&historyFile, "history", "/tmp/rvm_debug_history.txt", "Readline history file")
	return cmd
}

// exec runs one command line and reports whether to quit.
func (d *debugger) exec(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	m := d.s.mach
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	count := func(i, def int) int {
		if n, err := strconv.Atoi(arg(i)); err == nil && n > 0 {
			return n
		}
		return def
	}

	switch fields[0] {
	case "q", "quit", "exit":
		return true
	case "h", "help":
		fmt.Fprintln(d.out, debugHelp)
	case "s", "step":
		d.step(count(1, 1), false)
	case "c", "continue":
		d.step(-1, true)
	case "b", "break", "d", "delete":
		addr, err := parseAddr(arg(1))
		if err != nil {
			fmt.Fprintln(d.out, err)
			return false
		}
		if fields[0][0] == 'b' {
			d.breaks[addr] = true
		} else {
			delete(d.breaks, addr)
		}
		d.printBreaks()
	case "r", "regs":
		regs := m.Registers()
		for r := 0; r < isa.RegisterCount; r++ {
			fmt.Fprintf(d.out, "%-4s %#018x", isa.RegName(uint8(r)), regs[r])
			if r%4 == 3 {
				fmt.Fprintln(d.out)
			} else {
				fmt.Fprint(d.out, "  ")
			}
		}
		fmt.Fprintf(d.out, "pc   %#018x  cycles %d  running %v  exit %d\n", m.PC(), m.Cycles(), m.Running(), m.ExitCode())
	case "x":
		addr, err := parseAddr(arg(1))
		if err != nil {
			fmt.Fprintln(d.out, err)
			return false
		}
		data, err := m.Memory().LoadBytes(addr, uint64(count(2, 64)))
		if err != nil {
			fmt.Fprintln(d.out, err)
			return false
		}
		for off := 0; off < len(data); off += 16 {
			end := min(off+16, len(data))
			fmt.Fprintf(d.out, "%#010x: % x\n", addr+uint64(off), data[off:end])
		}
	case "l", "list":
		n := count(1, 8)
		lines, err := disasm.Range(m.Memory(), m.PC(), m.PC()+uint64(4*n), d.s.decoder)
		if len(lines) > n {
			lines = lines[:n]
		}
		fmt.Fprint(d.out, disasm.Format(lines))
		if err != nil {
			fmt.Fprintln(d.out, err)
		}
	case "t", "trace":
		res, err := d.tm.Build(m.PC())
		if err != nil {
			fmt.Fprintln(d.out, err)
			return false
		}
		fmt.Fprintf(d.out, "slot=%d state=%s\n%s", res.Slot, res.State, res.Trace.ToTree().String())
	case "js":
		d.eval(strings.Join(fields[1:], " "))
	default:
		fmt.Fprintf(d.out, "unknown command %q, type 'help'\n", fields[0])
	}
	return false
}

// step executes n instructions, or until a breakpoint when n < 0. The
// breakpoint at the current pc is skipped so continue can leave it.
func (d *debugger) step(n int, untilBreak bool) {
	m := d.s.mach
	for i := 0; n < 0 || i < n; i++ {
		if !m.Running() {
			fmt.Fprintf(d.out, "program exited with %d after %d cycles\n", m.ExitCode(), m.Cycles())
			return
		}
		if untilBreak && i > 0 && d.breaks[m.PC()] {
			fmt.Fprintf(d.out, "breakpoint at %s\n", hex(m.PC()))
			return
		}
		pc := m.PC()
		if err := m.Step(d.s.decoder); err != nil {
			fmt.Fprintf(d.out, "%s: %v\n", hex(pc), err)
			return
		}
	}
	lines, _ := disasm.Range(m.Memory(), m.PC(), m.PC()+4, d.s.decoder)
	if len(lines) > 0 {
		fmt.Fprint(d.out, lines[0].String(), "\n")
	}
}

func (d *debugger) printBreaks() {
	addrs := make([]uint64, 0, len(d.breaks))
	for a := range d.breaks {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = hex(a)
	}
	fmt.Fprintf(d.out, "breakpoints: [%s]\n", strings.Join(parts, " "))
}

func (d *debugger) eval(expr string) {
	m := d.s.mach
	regs := m.Registers()
	for r := 0; r < isa.RegisterCount; r++ {
		_ = d.js.Set(isa.RegName(uint8(r)), regs[r])
	}
	_ = d.js.Set("pc", m.PC())
	_ = d.js.Set("cycles", m.Cycles())
	_ = d.js.Set("hex", func(v int64) string { return hex(uint64(v)) })
	v, err := d.js.RunString(expr)
	if err != nil {
		fmt.Fprintln(d.out, "js:", err)
		return
	}
	fmt.Fprintln(d.out, v.Export())
}
