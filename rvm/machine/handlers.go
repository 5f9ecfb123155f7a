package machine

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvmerrors"
)

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func sext32(v uint64) uint64 {
	return uint64(int64(int32(v)))
}

func rtype(op func(a, b uint64) uint64) Handler {
	return func(m *Machine, inst isa.Instruction) error {
		m.SetRegister(inst.Rd, op(m.Register(inst.Rs1), m.Register(inst.Rs2)))
		return nil
	}
}

func itype(op func(a, imm uint64) uint64) Handler {
	return func(m *Machine, inst isa.Instruction) error {
		m.SetRegister(inst.Rd, op(m.Register(inst.Rs1), uint64(inst.Imm)))
		return nil
	}
}

func handleLUI(m *Machine, inst isa.Instruction) error {
	m.SetRegister(inst.Rd, uint64(inst.Imm))
	return nil
}

func handleAUIPC(m *Machine, inst isa.Instruction) error {
	m.SetRegister(inst.Rd, m.pc+uint64(inst.Imm))
	return nil
}

// handleLoadUimm writes the zero-extended immediate of a fused AUIPC.
func handleLoadUimm(m *Machine, inst isa.Instruction) error {
	m.SetRegister(inst.Rd, uint64(uint32(inst.Imm)))
	return nil
}

func load(size uint64, signed bool) Handler {
	return func(m *Machine, inst isa.Instruction) error {
		addr := m.Register(inst.Rs1) + uint64(inst.Imm)
		var v uint64
		var err error
		switch size {
		case 1:
			v, err = m.memory.Load8(addr)
			if signed {
				v = uint64(int64(int8(v)))
			}
		case 2:
			v, err = m.memory.Load16(addr)
			if signed {
				v = uint64(int64(int16(v)))
			}
		case 4:
			v, err = m.memory.Load32(addr)
			if signed {
				v = sext32(v)
			}
		default:
			v, err = m.memory.Load64(addr)
		}
		if err != nil {
			return err
		}
		m.SetRegister(inst.Rd, v)
		return nil
	}
}

func store(size uint64) Handler {
	return func(m *Machine, inst isa.Instruction) error {
		addr := m.Register(inst.Rs1) + uint64(inst.Imm)
		v := m.Register(inst.Rs2)
		switch size {
		case 1:
			return m.memory.Store8(addr, v)
		case 2:
			return m.memory.Store16(addr, v)
		case 4:
			return m.memory.Store32(addr, v)
		default:
			return m.memory.Store64(addr, v)
		}
	}
}

func branch(cond func(a, b uint64) bool) Handler {
	return func(m *Machine, inst isa.Instruction) error {
		if cond(m.Register(inst.Rs1), m.Register(inst.Rs2)) {
			m.nextPC = m.pc + uint64(inst.Imm)
		}
		return nil
	}
}

func handleJAL(m *Machine, inst isa.Instruction) error {
	link := m.nextPC
	m.nextPC = m.pc + uint64(inst.Imm)
	m.SetRegister(inst.Rd, link)
	return nil
}

// handleJALR follows the machine version: VERSION0 writes the link register
// before reading rs1, so "jalr ra, 0(ra)" jumps to its own return address.
func handleJALR(m *Machine, inst isa.Instruction) error {
	link := m.nextPC
	if m.version == isa.VERSION0 {
		m.SetRegister(inst.Rd, link)
		m.nextPC = (m.Register(inst.Rs1) + uint64(inst.Imm)) &^ 1
		return nil
	}
	target := (m.Register(inst.Rs1) + uint64(inst.Imm)) &^ 1
	m.SetRegister(inst.Rd, link)
	m.nextPC = target
	return nil
}

func mulhu(a, b uint64) uint64 {
	hi, _ := bits.Mul64(a, b)
	return hi
}

func mulh(a, b uint64) uint64 {
	hi := mulhu(a, b)
	if int64(a) < 0 {
		hi -= b
	}
	if int64(b) < 0 {
		hi -= a
	}
	return hi
}

func mulhsu(a, b uint64) uint64 {
	hi := mulhu(a, b)
	if int64(a) < 0 {
		hi -= b
	}
	return hi
}

func div(a, b uint64) uint64 {
	switch {
	case b == 0:
		return math.MaxUint64
	case int64(a) == math.MinInt64 && int64(b) == -1:
		return a
	}
	return uint64(int64(a) / int64(b))
}

func divu(a, b uint64) uint64 {
	if b == 0 {
		return math.MaxUint64
	}
	return a / b
}

func rem(a, b uint64) uint64 {
	switch {
	case b == 0:
		return a
	case int64(a) == math.MinInt64 && int64(b) == -1:
		return 0
	}
	return uint64(int64(a) % int64(b))
}

func remu(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

func divw(a, b uint64) uint64 {
	x, y := int32(a), int32(b)
	switch {
	case y == 0:
		return math.MaxUint64
	case x == math.MinInt32 && y == -1:
		return sext32(uint64(uint32(x)))
	}
	return uint64(int64(x / y))
}

func divuw(a, b uint64) uint64 {
	x, y := uint32(a), uint32(b)
	if y == 0 {
		return math.MaxUint64
	}
	return sext32(uint64(x / y))
}

func remw(a, b uint64) uint64 {
	x, y := int32(a), int32(b)
	switch {
	case y == 0:
		return sext32(a)
	case x == math.MinInt32 && y == -1:
		return 0
	}
	return uint64(int64(x % y))
}

func remuw(a, b uint64) uint64 {
	x, y := uint32(a), uint32(b)
	if y == 0 {
		return sext32(a)
	}
	return sext32(uint64(x % y))
}

func handleECALL(m *Machine, _ isa.Instruction) error {
	number := m.Register(isa.A7)
	call, ok := m.syscalls[number]
	if !ok {
		return fmt.Errorf("%w: %d at 0x%x", rvmerrors.ErrEInvalidEcall, number, m.pc)
	}
	return call(m)
}

func handleEBREAK(m *Machine, _ isa.Instruction) error {
	return fmt.Errorf("%w: at 0x%x", rvmerrors.ErrEInvalidEbreak, m.pc)
}

func handleNop(*Machine, isa.Instruction) error {
	return nil
}

func handleTraceEnd(*Machine, isa.Instruction) error {
	return ErrTraceEnd
}
