package trace

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/machine"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/xlab/treeprint"
)

const (
	DefaultCapacity = 16
	DefaultSlots    = 8192

	// MaxLength is the largest byte span a trace can record.
	MaxLength = math.MaxUint8
)

// Trace is a straight-line run of decoded instructions paired with their
// handlers, terminated by a trace-end sentinel. Once stored in a cache slot
// it is not modified; a rebuild replaces it.
type Trace struct {
	Instructions []isa.Instruction
	Thread       []machine.Handler
	Address      uint64
	Length       uint8
	Cycles       uint64

	// Count includes the sentinel.
	Count int
}

func newTrace(capacity int) *Trace {
	return &Trace{
		Instructions: make([]isa.Instruction, capacity),
		Thread:       make([]machine.Handler, capacity),
	}
}

// Capacity is the number of entries, sentinel included, the trace can hold.
func (t *Trace) Capacity() int { return len(t.Instructions) }

// Real returns the recorded instructions without the sentinel.
func (t *Trace) Real() []isa.Instruction {
	if t.Count == 0 {
		return nil
	}
	return t.Instructions[:t.Count-1]
}

// End is the address of the first byte past the trace.
func (t *Trace) End() uint64 { return t.Address + uint64(t.Length) }

// ToTree renders the trace with one node per entry.
func (t *Trace) ToTree() treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("trace 0x%x len=%d cycles=%d entries=%d", t.Address, t.Length, t.Cycles, t.Count))
	pc := t.Address
	for i := 0; i < t.Count; i++ {
		inst := t.Instructions[i]
		if inst.Opcode == isa.OP_CUSTOM_TRACE_END {
			tree.AddNode(fmt.Sprintf("[%02d] 0x%x %s", i, pc, inst.Opcode))
			continue
		}
		tree.AddMetaNode(fmt.Sprintf("0x%x", pc), fmt.Sprintf("[%02d] %s", i, inst))
		pc += uint64(isa.InstructionLength(inst))
	}
	return tree
}

// Cache is a direct-mapped trace cache. Slot collisions overwrite.
type Cache struct {
	slots []*Trace
	mask  uint64
}

// NewCache allocates a cache with the given number of slots, which must be
// a power of two.
func NewCache(slots int) (*Cache, error) {
	if slots <= 0 || slots&(slots-1) != 0 {
		return nil, fmt.Errorf("%w: trace slots %d is not a power of two", rvmerrors.ErrCInvalidConfig, slots)
	}
	return &Cache{slots: make([]*Trace, slots), mask: uint64(slots - 1)}, nil
}

// Slot maps pc to its cache index.
func (c *Cache) Slot(pc uint64) int {
	return int((pc >> 2) & c.mask)
}

// Lookup returns the trace cached for pc. A slot holding a trace for a
// different address is a miss.
func (c *Cache) Lookup(pc uint64) (*Trace, bool) {
	t := c.slots[c.Slot(pc)]
	if t == nil || t.Address != pc {
		return nil, false
	}
	return t, true
}

func (c *Cache) At(slot int) *Trace       { return c.slots[slot] }
func (c *Cache) Store(slot int, t *Trace) { c.slots[slot] = t }
func (c *Cache) Len() int                 { return len(c.slots) }

// Occupied counts the non-empty slots.
func (c *Cache) Occupied() int {
	n := 0
	for _, t := range c.slots {
		if t != nil {
			n++
		}
	}
	return n
}

func (c *Cache) Reset() {
	clear(c.slots)
}
