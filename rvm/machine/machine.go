// Package machine holds RV64 machine state and executes decoded
// instructions through opcode-indexed handler tables.
package machine

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/memory"
	"github.com/colorfulnotion/rvm/rvmerrors"
)

// VectorUnit is the vector configuration handed to cost functions. The
// VM does not execute vector instructions; the defaults describe an idle
// unit.
type VectorUnit struct {
	VL   uint64 // effective vector length
	VSEW uint64 // element width in bits
}

func DefaultVectorUnit() VectorUnit {
	return VectorUnit{VL: 0, VSEW: 8}
}

// StepObserver sees every instruction just before it executes.
type StepObserver interface {
	OnStep(m *Machine, pc uint64, inst isa.Instruction)
}

type Machine struct {
	registers [isa.RegisterCount]uint64
	pc        uint64
	nextPC    uint64

	memory  memory.Memory
	isa     isa.ISA
	version uint32

	running  bool
	exitCode int8

	cycles    uint64
	maxCycles uint64
	vector    VectorUnit
	costFunc  CostFunc

	handlers   HandlerTable
	validation ValidationTable
	syscalls   map[uint64]SyscallFunc
	stdout     io.Writer
	observer   StepObserver
}

type Option func(*Machine)

// WithCostFunc replaces the default cost table.
func WithCostFunc(f CostFunc) Option {
	return func(m *Machine) { m.costFunc = f }
}

// WithStdout redirects the debug-print syscall.
func WithStdout(w io.Writer) Option {
	return func(m *Machine) { m.stdout = w }
}

func WithObserver(o StepObserver) Option {
	return func(m *Machine) { m.observer = o }
}

func WithVectorUnit(v VectorUnit) Option {
	return func(m *Machine) { m.vector = v }
}

// New builds a machine over mem. maxCycles of 0 means no limit.
func New(i isa.ISA, version uint32, maxCycles uint64, mem memory.Memory, opts ...Option) (*Machine, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}
	if err := isa.ValidateVersion(version); err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, fmt.Errorf("%w: nil memory", rvmerrors.ErrCInvalidConfig)
	}
	if maxCycles == 0 {
		maxCycles = math.MaxUint64
	}
	m := &Machine{
		memory:     mem,
		isa:        i,
		version:    version,
		maxCycles:  maxCycles,
		vector:     DefaultVectorUnit(),
		costFunc:   DefaultCostTable().Func(),
		handlers:   GenerateHandlerTable(),
		validation: GenerateValidationTable(),
		syscalls:   defaultSyscalls(),
		stdout:     os.Stdout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Machine) Register(r uint8) uint64 {
	return m.registers[r&(isa.RegisterCount-1)]
}

// SetRegister writes r; writes to x0 are dropped.
func (m *Machine) SetRegister(r uint8, v uint64) {
	if r == isa.ZERO {
		return
	}
	m.registers[r&(isa.RegisterCount-1)] = v
}

func (m *Machine) Registers() [isa.RegisterCount]uint64 {
	return m.registers
}

func (m *Machine) PC() uint64          { return m.pc }
func (m *Machine) SetPC(pc uint64)     { m.pc = pc }
func (m *Machine) NextPC() uint64      { return m.nextPC }
func (m *Machine) SetNextPC(pc uint64) { m.nextPC = pc }

// CommitPC moves pc to the next pc chosen by the last executed handler.
func (m *Machine) CommitPC() { m.pc = m.nextPC }

func (m *Machine) Memory() memory.Memory { return m.memory }
func (m *Machine) ISA() isa.ISA          { return m.isa }
func (m *Machine) Version() uint32       { return m.version }

func (m *Machine) Running() bool     { return m.running }
func (m *Machine) SetRunning(r bool) { m.running = r }
func (m *Machine) ExitCode() int8    { return m.exitCode }

// Exit stops the machine with code.
func (m *Machine) Exit(code int8) {
	m.exitCode = code
	m.running = false
}

func (m *Machine) Cycles() uint64    { return m.cycles }
func (m *Machine) MaxCycles() uint64 { return m.maxCycles }

// AddCycles charges c cycles, failing once the total would pass the limit.
func (m *Machine) AddCycles(c uint64) error {
	next := m.cycles + c
	if next < m.cycles || next > m.maxCycles {
		return fmt.Errorf("%w: %d + %d > %d", rvmerrors.ErrECyclesExceeded, m.cycles, c, m.maxCycles)
	}
	m.cycles = next
	return nil
}

func (m *Machine) Vector() VectorUnit          { return m.vector }
func (m *Machine) SetVector(v VectorUnit)      { m.vector = v }
func (m *Machine) CostFunc() CostFunc          { return m.costFunc }
func (m *Machine) Handlers() HandlerTable      { return m.handlers }
func (m *Machine) Validation() ValidationTable { return m.validation }
func (m *Machine) Observer() StepObserver      { return m.observer }

// InstructionCost prices inst against the current vector configuration.
func (m *Machine) InstructionCost(inst isa.Instruction) uint64 {
	return m.costFunc(inst, m.vector.VL, m.vector.VSEW)
}
