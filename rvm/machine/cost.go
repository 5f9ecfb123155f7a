package machine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvmerrors"
)

// CostFunc prices one instruction given the vector length and element
// width currently configured.
type CostFunc func(inst isa.Instruction, vl, vsew uint64) uint64

type CostClass uint8

const (
	CostALU CostClass = iota
	CostLoad
	CostStore
	CostBranch
	CostJump
	CostMul
	CostDiv
	CostSystem
	CostMarker
	costClassCount
)

var costClassNames = [costClassCount]string{"alu", "load", "store", "branch", "jump", "mul", "div", "system", "marker"}

func (c CostClass) String() string {
	if c < costClassCount {
		return costClassNames[c]
	}
	return "unknown"
}

// ParseCostClass maps a class name back to its CostClass.
func ParseCostClass(s string) (CostClass, error) {
	for i, name := range costClassNames {
		if strings.EqualFold(s, name) {
			return CostClass(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown cost class %q", rvmerrors.ErrCInvalidConfig, s)
}

// ClassOf groups opcodes that share a default price.
func ClassOf(op isa.Opcode) CostClass {
	switch {
	case op == isa.OP_CUSTOM_TRACE_END || op == isa.OP_UNLOADED:
		return CostMarker
	case isa.IsLoad(op):
		return CostLoad
	case isa.IsStore(op):
		return CostStore
	case isa.IsBranch(op):
		return CostBranch
	case op == isa.OP_JAL || op == isa.OP_JALR:
		return CostJump
	case op == isa.OP_ECALL || op == isa.OP_EBREAK || op == isa.OP_FENCE || op == isa.OP_FENCEI:
		return CostSystem
	case isa.IsMulDiv(op):
		switch op {
		case isa.OP_DIV, isa.OP_DIVU, isa.OP_DIVW, isa.OP_DIVUW,
			isa.OP_REM, isa.OP_REMU, isa.OP_REMW, isa.OP_REMUW:
			return CostDiv
		}
		return CostMul
	}
	return CostALU
}

// DefaultClassCosts are the cycle prices per class.
var DefaultClassCosts = map[CostClass]uint64{
	CostALU:    1,
	CostLoad:   3,
	CostStore:  3,
	CostBranch: 3,
	CostJump:   3,
	CostMul:    5,
	CostDiv:    32,
	CostSystem: 500,
	CostMarker: 0,
}

// CostTable is an opcode-indexed price list.
type CostTable [isa.OpcodeCount]uint64

// NewCostTable fills a table from per-class prices; classes missing from
// classCosts keep their default.
func NewCostTable(classCosts map[CostClass]uint64) CostTable {
	var t CostTable
	for op := range t {
		class := ClassOf(isa.Opcode(op))
		cost, ok := classCosts[class]
		if !ok {
			cost = DefaultClassCosts[class]
		}
		t[op] = cost
	}
	// FENCE and FENCE.I do not trap, so they keep the ALU price.
	t[isa.OP_FENCE] = t[isa.OP_ADD]
	t[isa.OP_FENCEI] = t[isa.OP_ADD]
	return t
}

func DefaultCostTable() CostTable {
	return NewCostTable(nil)
}

// ParseClassCosts converts a name-keyed override map, as found in config
// files, into class prices.
func ParseClassCosts(overrides map[string]uint64) (map[CostClass]uint64, error) {
	out := make(map[CostClass]uint64, len(overrides))
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		class, err := ParseCostClass(name)
		if err != nil {
			return nil, err
		}
		out[class] = overrides[name]
	}
	return out, nil
}

// Func returns a CostFunc over a copy of t. The vector configuration does
// not affect scalar prices.
func (t CostTable) Func() CostFunc {
	table := t
	return func(inst isa.Instruction, _, _ uint64) uint64 {
		if int(inst.Opcode) >= len(table) {
			return 0
		}
		return table[inst.Opcode]
	}
}
