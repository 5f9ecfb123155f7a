package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/colorfulnotion/rvm/config"
	"github.com/colorfulnotion/rvm/rvm/decoder"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/machine"
	"github.com/colorfulnotion/rvm/rvm/memory"
	"github.com/colorfulnotion/rvm/rvm/trace"
)

// session is one loaded program with the machine and decoder the config
// asks for.
type session struct {
	cfg     config.Config
	image   []byte
	entry   uint64
	mach    *machine.Machine
	decoder decoder.Decoder
	engine  *trace.Machine
}

func readImage(path string) ([]byte, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read program %s: %w", path, err)
	}
	return image, nil
}

func newDecoder(cfg config.Config, fused bool) (decoder.Decoder, error) {
	i, err := cfg.ParseISA()
	if err != nil {
		return nil, err
	}
	base, err := decoder.Build(i, cfg.Machine.Version)
	if err != nil {
		return nil, err
	}
	if !fused {
		return base, nil
	}
	return decoder.NewFusionDecoder(base)
}

// newSession loads image with args. Extra machine options are applied after
// the config-derived ones; traceOpts are only used by the trace engine.
func newSession(cfg config.Config, image []byte, args []string, stdout io.Writer, opts []machine.Option, traceOpts ...trace.Option) (*session, error) {
	i, err := cfg.ParseISA()
	if err != nil {
		return nil, err
	}
	costs, err := cfg.CostTable()
	if err != nil {
		return nil, err
	}
	mem, err := memory.NewSparse(cfg.Machine.MemorySize)
	if err != nil {
		return nil, err
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	all := append([]machine.Option{machine.WithCostFunc(costs.Func()), machine.WithStdout(stdout)}, opts...)
	m, err := machine.New(i, cfg.Machine.Version, cfg.Machine.MaxCycles, mem, all...)
	if err != nil {
		return nil, err
	}
	argv := make([][]byte, len(args))
	for j, a := range args {
		argv[j] = []byte(a)
	}
	entry, err := m.LoadProgram(image, argv)
	if err != nil {
		return nil, err
	}
	dec, err := newDecoder(cfg, cfg.Trace.Fusion)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, image: image, entry: entry, mach: m, decoder: dec}
	if cfg.Trace.Engine == config.EngineTrace {
		s.engine, err = trace.NewMachine(m, dec, cfg.Trace.Slots, cfg.Trace.Capacity, traceOpts...)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *session) run(ctx context.Context) (int8, error) {
	if s.engine != nil {
		return s.engine.Run(ctx)
	}
	return s.mach.Run(ctx, s.decoder)
}

// state is the JSON-comparable outcome of a run.
type state struct {
	Engine    string            `json:"engine"`
	Fused     bool              `json:"fused"`
	ExitCode  int8              `json:"exit_code"`
	Error     string            `json:"error,omitempty"`
	PC        string            `json:"pc"`
	Cycles    uint64            `json:"cycles"`
	Registers map[string]string `json:"registers"`
	Stdout    string            `json:"stdout"`
}

func (s *session) snapshot(code int8, err error, stdout string) state {
	st := state{
		Engine:    s.cfg.Trace.Engine,
		Fused:     s.cfg.Trace.Fusion,
		ExitCode:  code,
		PC:        hex(s.mach.PC()),
		Cycles:    s.mach.Cycles(),
		Registers: make(map[string]string, isa.RegisterCount),
		Stdout:    stdout,
	}
	if err != nil {
		st.Error = err.Error()
	}
	for r, v := range s.mach.Registers() {
		st.Registers[isa.RegName(uint8(r))] = hex(v)
	}
	return st
}

func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return v, nil
}

func hex(v uint64) string { return fmt.Sprintf("0x%x", v) }
