package asm

import "github.com/colorfulnotion/rvm/rvm/isa"

func isCompressibleReg(r uint8) bool {
	return r >= 8 && r <= 15
}

func creg(r uint8) uint16 {
	return uint16(r-8) & 0x7
}

// field returns v[hi:lo] positioned at bit pos.
func field(v int64, hi, lo, pos uint) uint16 {
	return uint16((uint64(v)>>lo)&(1<<(hi-lo+1)-1)) << pos
}

// Compress returns the 16-bit RVC encoding of inst when one exists. The
// parcel decodes back to inst with Length 2.
func Compress(inst isa.Instruction) (uint16, bool) {
	rd, rs1, rs2, imm := inst.Rd, inst.Rs1, inst.Rs2, inst.Imm
	switch inst.Opcode {
	case isa.OP_ADDI:
		switch {
		case rd == rs1 && fitsSigned(imm, 6) && (rd != 0 || imm == 0):
			// C.ADDI, C.NOP
			return 0b01 | field(imm, 5, 5, 12) | uint16(rd)<<7 | field(imm, 4, 0, 2), true
		case rs1 == isa.ZERO && rd != 0 && fitsSigned(imm, 6):
			// C.LI
			return 0b01 | 2<<13 | field(imm, 5, 5, 12) | uint16(rd)<<7 | field(imm, 4, 0, 2), true
		case rd == isa.SP && rs1 == isa.SP && imm != 0 && imm%16 == 0 && fitsSigned(imm, 10):
			// C.ADDI16SP
			return 0b01 | 3<<13 | field(imm, 9, 9, 12) | isa.SP<<7 | field(imm, 4, 4, 6) |
				field(imm, 6, 6, 5) | field(imm, 8, 7, 3) | field(imm, 5, 5, 2), true
		case rs1 == isa.SP && isCompressibleReg(rd) && imm > 0 && imm%4 == 0 && imm < 1024:
			// C.ADDI4SPN
			return field(imm, 5, 4, 11) | field(imm, 9, 6, 7) | field(imm, 2, 2, 6) |
				field(imm, 3, 3, 5) | creg(rd)<<2, true
		}
	case isa.OP_ADDIW:
		if rd == rs1 && rd != 0 && fitsSigned(imm, 6) {
			return 0b01 | 1<<13 | field(imm, 5, 5, 12) | uint16(rd)<<7 | field(imm, 4, 0, 2), true
		}
	case isa.OP_LUI:
		upper := imm >> 12
		if rd != 0 && rd != isa.SP && imm&0xfff == 0 && upper != 0 && fitsSigned(upper, 6) {
			return 0b01 | 3<<13 | field(upper, 5, 5, 12) | uint16(rd)<<7 | field(upper, 4, 0, 2), true
		}
	case isa.OP_SLLI:
		if rd == rs1 && rd != 0 && imm > 0 && imm < 64 {
			return 0b10 | field(imm, 5, 5, 12) | uint16(rd)<<7 | field(imm, 4, 0, 2), true
		}
	case isa.OP_SRLI, isa.OP_SRAI:
		if rd == rs1 && isCompressibleReg(rd) && imm > 0 && imm < 64 {
			var f2 uint16
			if inst.Opcode == isa.OP_SRAI {
				f2 = 1
			}
			return 0b01 | 4<<13 | field(imm, 5, 5, 12) | f2<<10 | creg(rd)<<7 | field(imm, 4, 0, 2), true
		}
	case isa.OP_ANDI:
		if rd == rs1 && isCompressibleReg(rd) && fitsSigned(imm, 6) {
			return 0b01 | 4<<13 | field(imm, 5, 5, 12) | 2<<10 | creg(rd)<<7 | field(imm, 4, 0, 2), true
		}
	case isa.OP_SUB, isa.OP_XOR, isa.OP_OR, isa.OP_AND, isa.OP_SUBW, isa.OP_ADDW:
		if rd == rs1 && isCompressibleReg(rd) && isCompressibleReg(rs2) {
			var w, f uint16
			switch inst.Opcode {
			case isa.OP_XOR:
				f = 1
			case isa.OP_OR:
				f = 2
			case isa.OP_AND:
				f = 3
			case isa.OP_SUBW:
				w = 1
			case isa.OP_ADDW:
				w, f = 1, 1
			}
			return 0b01 | 4<<13 | w<<12 | 3<<10 | creg(rd)<<7 | f<<5 | creg(rs2)<<2, true
		}
	case isa.OP_ADD:
		switch {
		case rs1 == isa.ZERO && rd != 0 && rs2 != 0:
			// C.MV
			return 0b10 | 4<<13 | uint16(rd)<<7 | uint16(rs2)<<2, true
		case rd == rs1 && rd != 0 && rs2 != 0:
			// C.ADD
			return 0b10 | 4<<13 | 1<<12 | uint16(rd)<<7 | uint16(rs2)<<2, true
		}
	case isa.OP_JAL:
		if rd == isa.ZERO && imm&1 == 0 && fitsSigned(imm, 12) {
			return 0b01 | 5<<13 | field(imm, 11, 11, 12) | field(imm, 4, 4, 11) | field(imm, 9, 8, 9) |
				field(imm, 10, 10, 8) | field(imm, 6, 6, 7) | field(imm, 7, 7, 6) |
				field(imm, 3, 1, 3) | field(imm, 5, 5, 2), true
		}
	case isa.OP_JALR:
		if imm == 0 && rs1 != 0 {
			switch rd {
			case isa.ZERO:
				return 0b10 | 4<<13 | uint16(rs1)<<7, true
			case isa.RA:
				return 0b10 | 4<<13 | 1<<12 | uint16(rs1)<<7, true
			}
		}
	case isa.OP_BEQ, isa.OP_BNE:
		if rs2 == isa.ZERO && isCompressibleReg(rs1) && imm&1 == 0 && fitsSigned(imm, 9) {
			var f3 uint16 = 6
			if inst.Opcode == isa.OP_BNE {
				f3 = 7
			}
			return 0b01 | f3<<13 | field(imm, 8, 8, 12) | field(imm, 4, 3, 10) | creg(rs1)<<7 |
				field(imm, 7, 6, 5) | field(imm, 2, 1, 3) | field(imm, 5, 5, 2), true
		}
	case isa.OP_LW:
		switch {
		case rs1 == isa.SP && rd != 0 && imm >= 0 && imm%4 == 0 && imm < 256:
			return 0b10 | 2<<13 | field(imm, 5, 5, 12) | uint16(rd)<<7 | field(imm, 4, 2, 4) | field(imm, 7, 6, 2), true
		case isCompressibleReg(rd) && isCompressibleReg(rs1) && imm >= 0 && imm%4 == 0 && imm < 128:
			return 2<<13 | field(imm, 5, 3, 10) | creg(rs1)<<7 | field(imm, 2, 2, 6) | field(imm, 6, 6, 5) | creg(rd)<<2, true
		}
	case isa.OP_LD:
		switch {
		case rs1 == isa.SP && rd != 0 && imm >= 0 && imm%8 == 0 && imm < 512:
			return 0b10 | 3<<13 | field(imm, 5, 5, 12) | uint16(rd)<<7 | field(imm, 4, 3, 5) | field(imm, 8, 6, 2), true
		case isCompressibleReg(rd) && isCompressibleReg(rs1) && imm >= 0 && imm%8 == 0 && imm < 256:
			return 3<<13 | field(imm, 5, 3, 10) | creg(rs1)<<7 | field(imm, 7, 6, 5) | creg(rd)<<2, true
		}
	case isa.OP_SW:
		switch {
		case rs1 == isa.SP && imm >= 0 && imm%4 == 0 && imm < 256:
			return 0b10 | 6<<13 | field(imm, 5, 2, 9) | field(imm, 7, 6, 7) | uint16(rs2)<<2, true
		case isCompressibleReg(rs1) && isCompressibleReg(rs2) && imm >= 0 && imm%4 == 0 && imm < 128:
			return 6<<13 | field(imm, 5, 3, 10) | creg(rs1)<<7 | field(imm, 2, 2, 6) | field(imm, 6, 6, 5) | creg(rs2)<<2, true
		}
	case isa.OP_SD:
		switch {
		case rs1 == isa.SP && imm >= 0 && imm%8 == 0 && imm < 512:
			return 0b10 | 7<<13 | field(imm, 5, 3, 10) | field(imm, 8, 6, 7) | uint16(rs2)<<2, true
		case isCompressibleReg(rs1) && isCompressibleReg(rs2) && imm >= 0 && imm%8 == 0 && imm < 256:
			return 7<<13 | field(imm, 5, 3, 10) | creg(rs1)<<7 | field(imm, 7, 6, 5) | creg(rs2)<<2, true
		}
	case isa.OP_EBREAK:
		return 0x9002, true
	}
	return 0, false
}
