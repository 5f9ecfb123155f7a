package steplog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/machine"
)

type Operands struct {
	Opcode uint16 `json:"opcode"`
	Rd     uint8  `json:"rd,omitempty"`
	Rs1    uint8  `json:"rs1,omitempty"`
	Rs2    uint8  `json:"rs2,omitempty"`
	Imm    int64  `json:"imm,omitempty"`
	Length uint8  `json:"length"`
}

// Step is one executed instruction with the machine state seen just before
// it ran.
type Step struct {
	PC          uint64                     `json:"pc"`
	Instruction Operands                   `json:"instruction"`
	OpcodeStr   string                     `json:"opcodeStr,omitempty"`
	Text        string                     `json:"text,omitempty"`
	Cycles      uint64                     `json:"cycles"`
	Registers   *[isa.RegisterCount]uint64 `json:"registers,omitempty"`
}

func NewStep(pc uint64, inst isa.Instruction) *Step {
	return &Step{
		PC: pc,
		Instruction: Operands{
			Opcode: uint16(inst.Opcode),
			Rd:     inst.Rd,
			Rs1:    inst.Rs1,
			Rs2:    inst.Rs2,
			Imm:    inst.Imm,
			Length: inst.Length,
		},
		OpcodeStr: inst.Opcode.String(),
		Text:      inst.String(),
	}
}

func (s *Step) SetRegisters(regs [isa.RegisterCount]uint64) {
	s.Registers = &regs
}

// ErrWriterClosed is returned when WriteStep is called after Close.
var ErrWriterClosed = errors.New("steplog writer is closed")

// Writer writes Step records as JSON Lines. It is safe for concurrent use
// and implements machine.StepObserver.
type Writer struct {
	mu        sync.Mutex
	enc       *json.Encoder
	buf       *bufio.Writer
	closer    io.Closer
	closed    bool
	registers bool
	limit     uint64
	written   uint64
	err       error
}

type Option func(*Writer)

// WithRegisters includes the full register file in every step.
func WithRegisters() Option {
	return func(w *Writer) { w.registers = true }
}

// WithLimit stops recording after n steps.
func WithLimit(n uint64) Option {
	return func(w *Writer) { w.limit = n }
}

// NewWriter buffers into w. The caller keeps ownership of w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	buf := bufio.NewWriterSize(w, 64*1024)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	sw := &Writer{enc: enc, buf: buf}
	for _, o := range opts {
		o(sw)
	}
	return sw
}

// NewWriterFile creates path and returns a Writer that closes it on Close.
func NewWriterFile(path string, opts ...Option) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := NewWriter(f, opts...)
	w.closer = f
	return w, nil
}

func (w *Writer) WriteStep(step *Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if w.limit != 0 && w.written >= w.limit {
		return nil
	}
	if err := w.enc.Encode(step); err != nil {
		return err
	}
	w.written++
	return nil
}

// OnStep records the instruction about to run. Encoding errors are kept
// and reported by Err and Close.
func (w *Writer) OnStep(m *machine.Machine, pc uint64, inst isa.Instruction) {
	step := NewStep(pc, inst)
	step.Cycles = m.Cycles()
	if w.registers {
		step.SetRegisters(m.Registers())
	}
	if err := w.WriteStep(step); err != nil && w.err == nil {
		w.err = err
		log.Warn(log.MachineMonitoring, "steplog write failed", "pc", fmt.Sprintf("0x%x", pc), "err", err)
	}
}

func (w *Writer) Err() error { return w.err }

func (w *Writer) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	return w.buf.Flush()
}

// Close flushes and, for writers from NewWriterFile, closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.buf.Flush(); err != nil {
		if w.closer != nil {
			_ = w.closer.Close()
		}
		return err
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return err
		}
	}
	return w.err
}

// ReadSteps decodes a JSON Lines step log.
func ReadSteps(r io.Reader) ([]Step, error) {
	dec := json.NewDecoder(r)
	var steps []Step
	for {
		var s Step
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				return steps, nil
			}
			return steps, fmt.Errorf("steplog: record %d: %w", len(steps), err)
		}
		steps = append(steps, s)
	}
}

// FirstDivergence returns the index of the first step whose pc differs
// between a and b, or -1 when one is a prefix of the other and both have
// the same length.
func FirstDivergence(a, b []Step) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i].PC != b[i].PC {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}
