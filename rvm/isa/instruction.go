package isa

import "fmt"

// Instruction is the canonical decoded form shared by the decoders, the
// executor, the cost function and the trace builder. It is a plain value;
// rewriting one always produces a new Instruction.
type Instruction struct {
	Opcode Opcode
	Rd     uint8
	Rs1    uint8
	Rs2    uint8
	Imm    int64
	Length uint8 // encoded byte length, 2 or 4; 0 for synthetic markers
}

// Rtype builds a register-register instruction.
func Rtype(op Opcode, rd, rs1, rs2 uint8) Instruction {
	return Instruction{Opcode: op, Rd: rd, Rs1: rs1, Rs2: rs2, Length: 4}
}

// Itype builds a register-immediate instruction, loads and JALR included.
func Itype(op Opcode, rd, rs1 uint8, imm int64) Instruction {
	return Instruction{Opcode: op, Rd: rd, Rs1: rs1, Imm: imm, Length: 4}
}

// Stype builds a store or a branch; rs1 is the base/left operand.
func Stype(op Opcode, rs1, rs2 uint8, imm int64) Instruction {
	return Instruction{Opcode: op, Rs1: rs1, Rs2: rs2, Imm: imm, Length: 4}
}

// Utype builds an upper-immediate style instruction carrying only rd.
func Utype(op Opcode, rd uint8, imm int64) Instruction {
	return Instruction{Opcode: op, Rd: rd, Imm: imm, Length: 4}
}

// BlankInstruction returns a zero-operand, zero-length instruction, used for
// the trace-end marker.
func BlankInstruction(op Opcode) Instruction {
	return Instruction{Opcode: op}
}

// ExtractOpcode returns the opcode of i.
func ExtractOpcode(i Instruction) Opcode {
	return i.Opcode
}

// InstructionLength returns the encoded byte length of i.
func InstructionLength(i Instruction) uint8 {
	return i.Length
}

// SetInstructionLength returns a copy of i with its encoded length replaced.
// Program-counter advancement is driven by this value, so rewrites that keep
// control flow intact must carry over the length of what they replace.
func SetInstructionLength(i Instruction, length uint8) Instruction {
	i.Length = length
	return i
}

func (i Instruction) String() string {
	switch {
	case i.Opcode == OP_CUSTOM_TRACE_END || i.Opcode == OP_UNLOADED:
		return i.Opcode.String()
	case i.Opcode == OP_ECALL || i.Opcode == OP_EBREAK || i.Opcode == OP_FENCE || i.Opcode == OP_FENCEI:
		return i.Opcode.String()
	case i.Opcode == OP_LUI || i.Opcode == OP_AUIPC || i.Opcode == OP_CUSTOM_LOAD_UIMM:
		return fmt.Sprintf("%s %s, 0x%x", i.Opcode, RegName(i.Rd), uint64(i.Imm))
	case i.Opcode == OP_JAL:
		return fmt.Sprintf("%s %s, %d", i.Opcode, RegName(i.Rd), i.Imm)
	case IsBranch(i.Opcode):
		return fmt.Sprintf("%s %s, %s, %d", i.Opcode, RegName(i.Rs1), RegName(i.Rs2), i.Imm)
	case IsStore(i.Opcode):
		return fmt.Sprintf("%s %s, %d(%s)", i.Opcode, RegName(i.Rs2), i.Imm, RegName(i.Rs1))
	case IsLoad(i.Opcode) || i.Opcode == OP_JALR:
		return fmt.Sprintf("%s %s, %d(%s)", i.Opcode, RegName(i.Rd), i.Imm, RegName(i.Rs1))
	case hasImmediate(i.Opcode):
		return fmt.Sprintf("%s %s, %s, %d", i.Opcode, RegName(i.Rd), RegName(i.Rs1), i.Imm)
	default:
		return fmt.Sprintf("%s %s, %s, %s", i.Opcode, RegName(i.Rd), RegName(i.Rs1), RegName(i.Rs2))
	}
}

func hasImmediate(op Opcode) bool {
	switch op {
	case OP_ADDI, OP_ADDIW, OP_ANDI, OP_ORI, OP_XORI, OP_SLTI, OP_SLTIU,
		OP_SLLI, OP_SLLIW, OP_SRLI, OP_SRLIW, OP_SRAI, OP_SRAIW:
		return true
	}
	return false
}
