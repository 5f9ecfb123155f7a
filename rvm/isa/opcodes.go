package isa

// RV64IMC instructions - Unified Definition
// Compressed encodings decode to the same opcodes as their 32-bit
// counterparts; only Instruction.Length tells them apart.
// All other packages should import and use these constants instead of defining their own.

type Opcode uint16

// Unloaded marks a zero Instruction; no encoding decodes to it.
const OP_UNLOADED Opcode = 0

// RV64I: Integer Register-Immediate and Register-Register.
const (
	OP_ADD Opcode = iota + 1
	OP_ADDI
	OP_ADDIW
	OP_ADDW
	OP_AND
	OP_ANDI
	OP_AUIPC
	OP_LUI
	OP_OR
	OP_ORI
	OP_SLL
	OP_SLLI
	OP_SLLIW
	OP_SLLW
	OP_SLT
	OP_SLTI
	OP_SLTIU
	OP_SLTU
	OP_SRA
	OP_SRAI
	OP_SRAIW
	OP_SRAW
	OP_SRL
	OP_SRLI
	OP_SRLIW
	OP_SRLW
	OP_SUB
	OP_SUBW
	OP_XOR
	OP_XORI

	// RV64I: Loads and Stores.
	OP_LB
	OP_LBU
	OP_LD
	OP_LH
	OP_LHU
	OP_LW
	OP_LWU
	OP_SB
	OP_SD
	OP_SH
	OP_SW

	// RV64I: Control Transfer.
	OP_BEQ
	OP_BGE
	OP_BGEU
	OP_BLT
	OP_BLTU
	OP_BNE
	OP_JAL
	OP_JALR

	// RV64I: Environment and Ordering.
	OP_EBREAK
	OP_ECALL
	OP_FENCE
	OP_FENCEI

	// RV64M.
	OP_DIV
	OP_DIVU
	OP_DIVUW
	OP_DIVW
	OP_MUL
	OP_MULH
	OP_MULHSU
	OP_MULHU
	OP_MULW
	OP_REM
	OP_REMU
	OP_REMUW
	OP_REMW

	// Custom opcodes, produced by the fusion decoder and the trace builder only.
	OP_CUSTOM_LOAD_UIMM
	OP_CUSTOM_TRACE_END
)

// OpcodeCount is the size of an opcode-indexed table: every real opcode
// plus the trace-end sentinel in the last slot.
const OpcodeCount = int(OP_CUSTOM_TRACE_END) + 1

var opcodeNames = map[Opcode]string{
	OP_UNLOADED: "UNLOADED",
	OP_ADD:      "ADD",
	OP_ADDI:     "ADDI",
	OP_ADDIW:    "ADDIW",
	OP_ADDW:     "ADDW",
	OP_AND:      "AND",
	OP_ANDI:     "ANDI",
	OP_AUIPC:    "AUIPC",
	OP_LUI:      "LUI",
	OP_OR:       "OR",
	OP_ORI:      "ORI",
	OP_SLL:      "SLL",
	OP_SLLI:     "SLLI",
	OP_SLLIW:    "SLLIW",
	OP_SLLW:     "SLLW",
	OP_SLT:      "SLT",
	OP_SLTI:     "SLTI",
	OP_SLTIU:    "SLTIU",
	OP_SLTU:     "SLTU",
	OP_SRA:      "SRA",
	OP_SRAI:     "SRAI",
	OP_SRAIW:    "SRAIW",
	OP_SRAW:     "SRAW",
	OP_SRL:      "SRL",
	OP_SRLI:     "SRLI",
	OP_SRLIW:    "SRLIW",
	OP_SRLW:     "SRLW",
	OP_SUB:      "SUB",
	OP_SUBW:     "SUBW",
	OP_XOR:      "XOR",
	OP_XORI:     "XORI",
	OP_LB:       "LB",
	OP_LBU:      "LBU",
	OP_LD:       "LD",
	OP_LH:       "LH",
	OP_LHU:      "LHU",
	OP_LW:       "LW",
	OP_LWU:      "LWU",
	OP_SB:       "SB",
	OP_SD:       "SD",
	OP_SH:       "SH",
	OP_SW:       "SW",
	OP_BEQ:      "BEQ",
	OP_BGE:      "BGE",
	OP_BGEU:     "BGEU",
	OP_BLT:      "BLT",
	OP_BLTU:     "BLTU",
	OP_BNE:      "BNE",
	OP_JAL:      "JAL",
	OP_JALR:     "JALR",
	OP_EBREAK:   "EBREAK",
	OP_ECALL:    "ECALL",
	OP_FENCE:    "FENCE",
	OP_FENCEI:   "FENCE.I",
	OP_DIV:      "DIV",
	OP_DIVU:     "DIVU",
	OP_DIVUW:    "DIVUW",
	OP_DIVW:     "DIVW",
	OP_MUL:      "MUL",
	OP_MULH:     "MULH",
	OP_MULHSU:   "MULHSU",
	OP_MULHU:    "MULHU",
	OP_MULW:     "MULW",
	OP_REM:      "REM",
	OP_REMU:     "REMU",
	OP_REMUW:    "REMUW",
	OP_REMW:     "REMW",

	OP_CUSTOM_LOAD_UIMM: "CUSTOM_LOAD_UIMM",
	OP_CUSTOM_TRACE_END: "CUSTOM_TRACE_END",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsBasicBlockEnd reports whether op may transfer control away from the
// next sequential instruction.
func IsBasicBlockEnd(op Opcode) bool {
	switch op {
	case OP_BEQ, OP_BNE, OP_BLT, OP_BGE, OP_BLTU, OP_BGEU,
		OP_JAL, OP_JALR, OP_ECALL, OP_EBREAK, OP_FENCEI, OP_CUSTOM_TRACE_END:
		return true
	default:
		return false
	}
}

// IsBranch reports whether op is a conditional branch.
func IsBranch(op Opcode) bool {
	return op >= OP_BEQ && op <= OP_BNE
}

func IsLoad(op Opcode) bool {
	return op >= OP_LB && op <= OP_LWU
}

func IsStore(op Opcode) bool {
	return op >= OP_SB && op <= OP_SW
}

func IsMulDiv(op Opcode) bool {
	return op >= OP_DIV && op <= OP_REMW
}
