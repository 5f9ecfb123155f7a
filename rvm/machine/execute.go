package machine

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvmerrors"
)

// Handler applies one instruction to m. pc still points at the instruction;
// nextPC is preset to the fall-through address and branch handlers override
// it.
type Handler func(m *Machine, inst isa.Instruction) error

// HandlerTable maps opcodes to handlers. It has isa.OpcodeCount entries,
// the last of which is the trace-end sentinel.
type HandlerTable []Handler

// Validator rejects malformed instructions before their handler runs.
type Validator func(m *Machine, inst isa.Instruction) error

type ValidationTable []Validator

// ErrTraceEnd is returned by the trace-end handler. The threaded engine uses
// it to leave a trace; the interpreter never decodes the sentinel.
var ErrTraceEnd = errors.New("trace end")

// Lookup returns the handler for op, or nil.
func (t HandlerTable) Lookup(op isa.Opcode) Handler {
	if int(op) >= len(t) {
		return nil
	}
	return t[op]
}

// Execute validates and runs inst, then advances pc. Handler errors are
// returned unchanged and leave pc on the failing instruction.
func Execute(m *Machine, validation ValidationTable, handlers HandlerTable, inst isa.Instruction) error {
	op := inst.Opcode
	handler := handlers.Lookup(op)
	if handler == nil {
		return fmt.Errorf("%w: %s at 0x%x", rvmerrors.ErrEUnsupportedOpcode, op, m.pc)
	}
	if int(op) < len(validation) && validation[op] != nil {
		if err := validation[op](m, inst); err != nil {
			return err
		}
	}
	m.nextPC = m.pc + uint64(isa.InstructionLength(inst))
	if err := handler(m, inst); err != nil {
		return err
	}
	m.pc = m.nextPC
	return nil
}

// GenerateHandlerTable returns the RV64IMC handler table, including the
// reserved trace-end slot.
func GenerateHandlerTable() HandlerTable {
	t := make(HandlerTable, isa.OpcodeCount)

	t[isa.OP_ADD] = rtype(func(a, b uint64) uint64 { return a + b })
	t[isa.OP_SUB] = rtype(func(a, b uint64) uint64 { return a - b })
	t[isa.OP_AND] = rtype(func(a, b uint64) uint64 { return a & b })
	t[isa.OP_OR] = rtype(func(a, b uint64) uint64 { return a | b })
	t[isa.OP_XOR] = rtype(func(a, b uint64) uint64 { return a ^ b })
	t[isa.OP_SLL] = rtype(func(a, b uint64) uint64 { return a << (b & 63) })
	t[isa.OP_SRL] = rtype(func(a, b uint64) uint64 { return a >> (b & 63) })
	t[isa.OP_SRA] = rtype(func(a, b uint64) uint64 { return uint64(int64(a) >> (b & 63)) })
	t[isa.OP_SLT] = rtype(func(a, b uint64) uint64 { return boolToUint(int64(a) < int64(b)) })
	t[isa.OP_SLTU] = rtype(func(a, b uint64) uint64 { return boolToUint(a < b) })
	t[isa.OP_ADDW] = rtype(func(a, b uint64) uint64 { return sext32(a + b) })
	t[isa.OP_SUBW] = rtype(func(a, b uint64) uint64 { return sext32(a - b) })
	t[isa.OP_SLLW] = rtype(func(a, b uint64) uint64 { return sext32(a << (b & 31)) })
	t[isa.OP_SRLW] = rtype(func(a, b uint64) uint64 { return sext32(uint64(uint32(a) >> (b & 31))) })
	t[isa.OP_SRAW] = rtype(func(a, b uint64) uint64 { return uint64(int64(int32(a) >> (b & 31))) })

	t[isa.OP_ADDI] = itype(func(a, imm uint64) uint64 { return a + imm })
	t[isa.OP_ANDI] = itype(func(a, imm uint64) uint64 { return a & imm })
	t[isa.OP_ORI] = itype(func(a, imm uint64) uint64 { return a | imm })
	t[isa.OP_XORI] = itype(func(a, imm uint64) uint64 { return a ^ imm })
	t[isa.OP_SLTI] = itype(func(a, imm uint64) uint64 { return boolToUint(int64(a) < int64(imm)) })
	t[isa.OP_SLTIU] = itype(func(a, imm uint64) uint64 { return boolToUint(a < imm) })
	t[isa.OP_SLLI] = itype(func(a, sh uint64) uint64 { return a << (sh & 63) })
	t[isa.OP_SRLI] = itype(func(a, sh uint64) uint64 { return a >> (sh & 63) })
	t[isa.OP_SRAI] = itype(func(a, sh uint64) uint64 { return uint64(int64(a) >> (sh & 63)) })
	t[isa.OP_ADDIW] = itype(func(a, imm uint64) uint64 { return sext32(a + imm) })
	t[isa.OP_SLLIW] = itype(func(a, sh uint64) uint64 { return sext32(a << (sh & 31)) })
	t[isa.OP_SRLIW] = itype(func(a, sh uint64) uint64 { return sext32(uint64(uint32(a) >> (sh & 31))) })
	t[isa.OP_SRAIW] = itype(func(a, sh uint64) uint64 { return uint64(int64(int32(a) >> (sh & 31))) })

	t[isa.OP_LUI] = handleLUI
	t[isa.OP_AUIPC] = handleAUIPC
	t[isa.OP_CUSTOM_LOAD_UIMM] = handleLoadUimm

	t[isa.OP_LB] = load(1, true)
	t[isa.OP_LH] = load(2, true)
	t[isa.OP_LW] = load(4, true)
	t[isa.OP_LD] = load(8, false)
	t[isa.OP_LBU] = load(1, false)
	t[isa.OP_LHU] = load(2, false)
	t[isa.OP_LWU] = load(4, false)
	t[isa.OP_SB] = store(1)
	t[isa.OP_SH] = store(2)
	t[isa.OP_SW] = store(4)
	t[isa.OP_SD] = store(8)

	t[isa.OP_BEQ] = branch(func(a, b uint64) bool { return a == b })
	t[isa.OP_BNE] = branch(func(a, b uint64) bool { return a != b })
	t[isa.OP_BLT] = branch(func(a, b uint64) bool { return int64(a) < int64(b) })
	t[isa.OP_BGE] = branch(func(a, b uint64) bool { return int64(a) >= int64(b) })
	t[isa.OP_BLTU] = branch(func(a, b uint64) bool { return a < b })
	t[isa.OP_BGEU] = branch(func(a, b uint64) bool { return a >= b })
	t[isa.OP_JAL] = handleJAL
	t[isa.OP_JALR] = handleJALR

	t[isa.OP_MUL] = rtype(func(a, b uint64) uint64 { return a * b })
	t[isa.OP_MULH] = rtype(mulh)
	t[isa.OP_MULHSU] = rtype(mulhsu)
	t[isa.OP_MULHU] = rtype(mulhu)
	t[isa.OP_DIV] = rtype(div)
	t[isa.OP_DIVU] = rtype(divu)
	t[isa.OP_REM] = rtype(rem)
	t[isa.OP_REMU] = rtype(remu)
	t[isa.OP_MULW] = rtype(func(a, b uint64) uint64 { return sext32(a * b) })
	t[isa.OP_DIVW] = rtype(divw)
	t[isa.OP_DIVUW] = rtype(divuw)
	t[isa.OP_REMW] = rtype(remw)
	t[isa.OP_REMUW] = rtype(remuw)

	t[isa.OP_ECALL] = handleECALL
	t[isa.OP_EBREAK] = handleEBREAK
	t[isa.OP_FENCE] = handleNop
	t[isa.OP_FENCEI] = handleNop

	t[isa.OP_CUSTOM_TRACE_END] = handleTraceEnd
	return t
}

// GenerateValidationTable returns the validators run ahead of handlers.
func GenerateValidationTable() ValidationTable {
	t := make(ValidationTable, isa.OpcodeCount)
	for op := range t {
		t[op] = validateRegisters
	}
	for _, op := range []isa.Opcode{isa.OP_SLLI, isa.OP_SRLI, isa.OP_SRAI} {
		t[op] = validateShift(64)
	}
	for _, op := range []isa.Opcode{isa.OP_SLLIW, isa.OP_SRLIW, isa.OP_SRAIW} {
		t[op] = validateShift(32)
	}
	t[isa.OP_CUSTOM_LOAD_UIMM] = validateUimm
	t[isa.OP_CUSTOM_TRACE_END] = nil
	return t
}

func validateRegisters(_ *Machine, inst isa.Instruction) error {
	if inst.Rd >= isa.RegisterCount || inst.Rs1 >= isa.RegisterCount || inst.Rs2 >= isa.RegisterCount {
		return fmt.Errorf("%w: register out of range in %s", rvmerrors.ErrDInvalidInstruction, inst)
	}
	return nil
}

func validateShift(width int64) Validator {
	return func(m *Machine, inst isa.Instruction) error {
		if inst.Imm < 0 || inst.Imm >= width {
			return fmt.Errorf("%w: shift amount %d", rvmerrors.ErrDInvalidInstruction, inst.Imm)
		}
		return validateRegisters(m, inst)
	}
}

func validateUimm(m *Machine, inst isa.Instruction) error {
	if uint64(inst.Imm)>>32 != 0 {
		return fmt.Errorf("%w: CUSTOM_LOAD_UIMM value 0x%x exceeds 32 bits", rvmerrors.ErrDInvalidInstruction, uint64(inst.Imm))
	}
	return validateRegisters(m, inst)
}
