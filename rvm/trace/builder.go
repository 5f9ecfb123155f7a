package trace

import (
	"fmt"

	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/decoder"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/machine"
	"github.com/colorfulnotion/rvm/rvmerrors"
)

// State records why a build stopped.
type State uint8

const (
	Accumulating State = iota
	TerminatedByBlockEnd
	TerminatedByCapacity
	TerminatedByLength
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case TerminatedByBlockEnd:
		return "block_end"
	case TerminatedByCapacity:
		return "capacity"
	case TerminatedByLength:
		return "length"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type BuildResult struct {
	Slot  int
	Count int // real instructions, sentinel excluded
	State State
	Trace *Trace
}

// Builder decodes straight-line code starting at a pc into a Trace and
// stores it in its cache.
type Builder struct {
	mach     *machine.Machine
	decoder  decoder.Decoder
	cache    *Cache
	capacity int
}

func NewBuilder(m *machine.Machine, dec decoder.Decoder, cache *Cache, capacity int) (*Builder, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("%w: trace capacity %d leaves no room for instructions", rvmerrors.ErrCInvalidConfig, capacity)
	}
	if m.Handlers().Lookup(isa.OP_CUSTOM_TRACE_END) == nil {
		return nil, fmt.Errorf("%w: handler table has no trace-end slot", rvmerrors.ErrEUnsupportedOpcode)
	}
	return &Builder{mach: m, decoder: dec, cache: cache, capacity: capacity}, nil
}

// Capacity is the number of trace entries, sentinel included.
func (b *Builder) Capacity() int { return b.capacity }

// Build decodes from pc until a basic-block end, the capacity or the length
// limit, appends the trace-end sentinel and stores the trace in pc's slot.
// A decode or validation error leaves the slot untouched.
func (b *Builder) Build(pc uint64) (BuildResult, error) {
	slot := b.cache.Slot(pc)
	mem := b.mach.Memory()
	handlers := b.mach.Handlers()
	validation := b.mach.Validation()
	cost := b.mach.CostFunc()
	vector := b.mach.Vector()

	t := newTrace(b.capacity)
	current := pc
	index := 0
	var cycles uint64
	state := Accumulating

	for index < b.capacity-1 {
		inst, err := b.decoder.Decode(mem, current)
		if err != nil {
			return BuildResult{Slot: slot}, err
		}
		length := uint64(isa.InstructionLength(inst))
		if current+length-pc > MaxLength {
			state = TerminatedByLength
			break
		}
		handler := handlers.Lookup(inst.Opcode)
		if handler == nil {
			return BuildResult{Slot: slot}, fmt.Errorf("%w: %s at 0x%x", rvmerrors.ErrEUnsupportedOpcode, inst.Opcode, current)
		}
		if int(inst.Opcode) < len(validation) && validation[inst.Opcode] != nil {
			if err := validation[inst.Opcode](b.mach, inst); err != nil {
				return BuildResult{Slot: slot}, err
			}
		}
		t.Instructions[index] = inst
		t.Thread[index] = handler
		current += length
		cycles += cost(inst, vector.VL, vector.VSEW)
		index++
		if isa.IsBasicBlockEnd(inst.Opcode) {
			state = TerminatedByBlockEnd
			break
		}
	}
	if state == Accumulating {
		state = TerminatedByCapacity
	}

	t.Instructions[index] = isa.BlankInstruction(isa.OP_CUSTOM_TRACE_END)
	t.Thread[index] = handlers.Lookup(isa.OP_CUSTOM_TRACE_END)
	t.Count = index + 1
	t.Address = pc
	t.Length = uint8(current - pc)
	t.Cycles = cycles

	b.cache.Store(slot, t)
	if log.Enabled(log.TraceMonitoring, log.LevelTrace) {
		log.Trace(log.TraceMonitoring, "trace built", "pc", fmt.Sprintf("0x%x", pc), "slot", slot, "count", index, "len", t.Length, "cycles", cycles, "state", state)
	}
	return BuildResult{Slot: slot, Count: index, State: state, Trace: t}, nil
}
