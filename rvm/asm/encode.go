// Package asm encodes isa.Instructions back into RV64IMC machine code and
// assembles small programs with labels. It backs the test suites and the
// sample programs shipped with the rvm command.
package asm

import (
	"fmt"

	"github.com/colorfulnotion/rvm/rvm/isa"
)

type format uint8

const (
	fmtR format = iota
	fmtI
	fmtShift
	fmtS
	fmtB
	fmtU
	fmtJ
	fmtSys
)

type encoding struct {
	format format
	opcode uint32
	funct3 uint32
	funct7 uint32
}

var encodings = map[isa.Opcode]encoding{
	isa.OP_LUI:   {fmtU, 0x37, 0, 0},
	isa.OP_AUIPC: {fmtU, 0x17, 0, 0},
	isa.OP_JAL:   {fmtJ, 0x6f, 0, 0},
	isa.OP_JALR:  {fmtI, 0x67, 0, 0},

	isa.OP_BEQ:  {fmtB, 0x63, 0, 0},
	isa.OP_BNE:  {fmtB, 0x63, 1, 0},
	isa.OP_BLT:  {fmtB, 0x63, 4, 0},
	isa.OP_BGE:  {fmtB, 0x63, 5, 0},
	isa.OP_BLTU: {fmtB, 0x63, 6, 0},
	isa.OP_BGEU: {fmtB, 0x63, 7, 0},

	isa.OP_LB:  {fmtI, 0x03, 0, 0},
	isa.OP_LH:  {fmtI, 0x03, 1, 0},
	isa.OP_LW:  {fmtI, 0x03, 2, 0},
	isa.OP_LD:  {fmtI, 0x03, 3, 0},
	isa.OP_LBU: {fmtI, 0x03, 4, 0},
	isa.OP_LHU: {fmtI, 0x03, 5, 0},
	isa.OP_LWU: {fmtI, 0x03, 6, 0},
	isa.OP_SB:  {fmtS, 0x23, 0, 0},
	isa.OP_SH:  {fmtS, 0x23, 1, 0},
	isa.OP_SW:  {fmtS, 0x23, 2, 0},
	isa.OP_SD:  {fmtS, 0x23, 3, 0},

	isa.OP_ADDI:  {fmtI, 0x13, 0, 0},
	isa.OP_SLTI:  {fmtI, 0x13, 2, 0},
	isa.OP_SLTIU: {fmtI, 0x13, 3, 0},
	isa.OP_XORI:  {fmtI, 0x13, 4, 0},
	isa.OP_ORI:   {fmtI, 0x13, 6, 0},
	isa.OP_ANDI:  {fmtI, 0x13, 7, 0},
	isa.OP_SLLI:  {fmtShift, 0x13, 1, 0x00},
	isa.OP_SRLI:  {fmtShift, 0x13, 5, 0x00},
	isa.OP_SRAI:  {fmtShift, 0x13, 5, 0x20},
	isa.OP_ADDIW: {fmtI, 0x1b, 0, 0},
	isa.OP_SLLIW: {fmtShift, 0x1b, 1, 0x00},
	isa.OP_SRLIW: {fmtShift, 0x1b, 5, 0x00},
	isa.OP_SRAIW: {fmtShift, 0x1b, 5, 0x20},

	isa.OP_ADD:  {fmtR, 0x33, 0, 0x00},
	isa.OP_SUB:  {fmtR, 0x33, 0, 0x20},
	isa.OP_SLL:  {fmtR, 0x33, 1, 0x00},
	isa.OP_SLT:  {fmtR, 0x33, 2, 0x00},
	isa.OP_SLTU: {fmtR, 0x33, 3, 0x00},
	isa.OP_XOR:  {fmtR, 0x33, 4, 0x00},
	isa.OP_SRL:  {fmtR, 0x33, 5, 0x00},
	isa.OP_SRA:  {fmtR, 0x33, 5, 0x20},
	isa.OP_OR:   {fmtR, 0x33, 6, 0x00},
	isa.OP_AND:  {fmtR, 0x33, 7, 0x00},
	isa.OP_ADDW: {fmtR, 0x3b, 0, 0x00},
	isa.OP_SUBW: {fmtR, 0x3b, 0, 0x20},
	isa.OP_SLLW: {fmtR, 0x3b, 1, 0x00},
	isa.OP_SRLW: {fmtR, 0x3b, 5, 0x00},
	isa.OP_SRAW: {fmtR, 0x3b, 5, 0x20},

	isa.OP_MUL:    {fmtR, 0x33, 0, 0x01},
	isa.OP_MULH:   {fmtR, 0x33, 1, 0x01},
	isa.OP_MULHSU: {fmtR, 0x33, 2, 0x01},
	isa.OP_MULHU:  {fmtR, 0x33, 3, 0x01},
	isa.OP_DIV:    {fmtR, 0x33, 4, 0x01},
	isa.OP_DIVU:   {fmtR, 0x33, 5, 0x01},
	isa.OP_REM:    {fmtR, 0x33, 6, 0x01},
	isa.OP_REMU:   {fmtR, 0x33, 7, 0x01},
	isa.OP_MULW:   {fmtR, 0x3b, 0, 0x01},
	isa.OP_DIVW:   {fmtR, 0x3b, 4, 0x01},
	isa.OP_DIVUW:  {fmtR, 0x3b, 5, 0x01},
	isa.OP_REMW:   {fmtR, 0x3b, 6, 0x01},
	isa.OP_REMUW:  {fmtR, 0x3b, 7, 0x01},

	isa.OP_FENCE:  {fmtSys, 0x0000000f, 0, 0},
	isa.OP_FENCEI: {fmtSys, 0x0000100f, 0, 0},
	isa.OP_ECALL:  {fmtSys, 0x00000073, 0, 0},
	isa.OP_EBREAK: {fmtSys, 0x00100073, 0, 0},
}

func fitsSigned(v int64, bits uint) bool {
	lim := int64(1) << (bits - 1)
	return v >= -lim && v < lim
}

func reg(r uint8) uint32 {
	return uint32(r) & 0x1f
}

// Encode returns the 32-bit encoding of inst. Custom opcodes have no
// encoding.
func Encode(inst isa.Instruction) (uint32, error) {
	e, ok := encodings[inst.Opcode]
	if !ok {
		return 0, fmt.Errorf("asm: no encoding for %s", inst.Opcode)
	}
	imm := inst.Imm
	switch e.format {
	case fmtR:
		return e.funct7<<25 | reg(inst.Rs2)<<20 | reg(inst.Rs1)<<15 | e.funct3<<12 | reg(inst.Rd)<<7 | e.opcode, nil
	case fmtI:
		if !fitsSigned(imm, 12) {
			return 0, fmt.Errorf("asm: %s immediate %d out of range", inst.Opcode, imm)
		}
		return uint32(imm&0xfff)<<20 | reg(inst.Rs1)<<15 | e.funct3<<12 | reg(inst.Rd)<<7 | e.opcode, nil
	case fmtShift:
		limit := int64(64)
		if e.opcode == 0x1b {
			limit = 32
		}
		if imm < 0 || imm >= limit {
			return 0, fmt.Errorf("asm: %s shift amount %d out of range", inst.Opcode, imm)
		}
		return e.funct7<<25 | uint32(imm)<<20 | reg(inst.Rs1)<<15 | e.funct3<<12 | reg(inst.Rd)<<7 | e.opcode, nil
	case fmtS:
		if !fitsSigned(imm, 12) {
			return 0, fmt.Errorf("asm: %s offset %d out of range", inst.Opcode, imm)
		}
		u := uint32(imm & 0xfff)
		return (u>>5)<<25 | reg(inst.Rs2)<<20 | reg(inst.Rs1)<<15 | e.funct3<<12 | (u&0x1f)<<7 | e.opcode, nil
	case fmtB:
		if imm&1 != 0 || !fitsSigned(imm, 13) {
			return 0, fmt.Errorf("asm: %s offset %d out of range", inst.Opcode, imm)
		}
		u := uint32(imm & 0x1fff)
		return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | reg(inst.Rs2)<<20 | reg(inst.Rs1)<<15 |
			e.funct3<<12 | (u>>1&0xf)<<8 | (u>>11&1)<<7 | e.opcode, nil
	case fmtU:
		if imm&0xfff != 0 || !fitsSigned(imm, 32) {
			return 0, fmt.Errorf("asm: %s immediate 0x%x is not a sign-extended upper immediate", inst.Opcode, imm)
		}
		return uint32(imm)&0xfffff000 | reg(inst.Rd)<<7 | e.opcode, nil
	case fmtJ:
		if imm&1 != 0 || !fitsSigned(imm, 21) {
			return 0, fmt.Errorf("asm: %s offset %d out of range", inst.Opcode, imm)
		}
		u := uint32(imm & 0x1fffff)
		return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | reg(inst.Rd)<<7 | e.opcode, nil
	default:
		return e.opcode, nil
	}
}

// UpperImmediate returns the AUIPC/LUI immediate encoding upper<<12, the
// way an assembler writes "auipc rd, upper".
func UpperImmediate(upper uint32) int64 {
	return int64(int32(upper << 12))
}
