package decoder

import "github.com/colorfulnotion/rvm/rvm/isa"

// decodeCompressed expands a 16-bit RVC parcel into its 32-bit equivalent
// with Length 2. The all-zero parcel is illegal.
func decodeCompressed(h uint16) (isa.Instruction, bool) {
	inst, ok := expandCompressed(uint32(h))
	if !ok {
		return isa.Instruction{}, false
	}
	return isa.SetInstructionLength(inst, 2), true
}

// bits extracts h[hi:lo].
func bits(h uint32, hi, lo uint) uint32 {
	return (h >> lo) & (1<<(hi-lo+1) - 1)
}

func expandCompressed(h uint32) (isa.Instruction, bool) {
	funct3 := bits(h, 15, 13)
	rdFull := uint8(bits(h, 11, 7))
	rs2Full := uint8(bits(h, 6, 2))
	rdShort := uint8(8 + bits(h, 4, 2))
	rs1Short := uint8(8 + bits(h, 9, 7))
	imm6 := signExtend(bits(h, 12, 12)<<5|bits(h, 6, 2), 6)

	switch h & 0x3 {
	case 0:
		switch funct3 {
		case 0: // C.ADDI4SPN
			nzuimm := bits(h, 6, 6)<<2 | bits(h, 5, 5)<<3 | bits(h, 12, 11)<<4 | bits(h, 10, 7)<<6
			if nzuimm == 0 {
				return isa.Instruction{}, false
			}
			return isa.Itype(isa.OP_ADDI, rdShort, isa.SP, int64(nzuimm)), true
		case 2: // C.LW
			return isa.Itype(isa.OP_LW, rdShort, rs1Short, int64(clwOffset(h))), true
		case 3: // C.LD
			return isa.Itype(isa.OP_LD, rdShort, rs1Short, int64(cldOffset(h))), true
		case 6: // C.SW
			return isa.Stype(isa.OP_SW, rs1Short, rdShort, int64(clwOffset(h))), true
		case 7: // C.SD
			return isa.Stype(isa.OP_SD, rs1Short, rdShort, int64(cldOffset(h))), true
		}
	case 1:
		switch funct3 {
		case 0: // C.ADDI, C.NOP
			return isa.Itype(isa.OP_ADDI, rdFull, rdFull, imm6), true
		case 1: // C.ADDIW
			if rdFull == 0 {
				return isa.Instruction{}, false
			}
			return isa.Itype(isa.OP_ADDIW, rdFull, rdFull, imm6), true
		case 2: // C.LI
			return isa.Itype(isa.OP_ADDI, rdFull, isa.ZERO, imm6), true
		case 3:
			if rdFull == isa.SP { // C.ADDI16SP
				nzimm := bits(h, 12, 12)<<9 | bits(h, 6, 6)<<4 | bits(h, 5, 5)<<6 | bits(h, 4, 3)<<7 | bits(h, 2, 2)<<5
				if nzimm == 0 {
					return isa.Instruction{}, false
				}
				return isa.Itype(isa.OP_ADDI, isa.SP, isa.SP, signExtend(nzimm, 10)), true
			}
			// C.LUI
			if imm6 == 0 {
				return isa.Instruction{}, false
			}
			return isa.Utype(isa.OP_LUI, rdFull, imm6<<12), true
		case 4:
			return expandCompressedArith(h, imm6)
		case 5: // C.J
			return isa.Utype(isa.OP_JAL, isa.ZERO, cjOffset(h)), true
		case 6: // C.BEQZ
			return isa.Stype(isa.OP_BEQ, rs1Short, isa.ZERO, cbOffset(h)), true
		case 7: // C.BNEZ
			return isa.Stype(isa.OP_BNE, rs1Short, isa.ZERO, cbOffset(h)), true
		}
	case 2:
		switch funct3 {
		case 0: // C.SLLI
			return isa.Itype(isa.OP_SLLI, rdFull, rdFull, int64(bits(h, 12, 12)<<5|bits(h, 6, 2))), true
		case 2: // C.LWSP
			if rdFull == 0 {
				return isa.Instruction{}, false
			}
			off := bits(h, 12, 12)<<5 | bits(h, 6, 4)<<2 | bits(h, 3, 2)<<6
			return isa.Itype(isa.OP_LW, rdFull, isa.SP, int64(off)), true
		case 3: // C.LDSP
			if rdFull == 0 {
				return isa.Instruction{}, false
			}
			off := bits(h, 12, 12)<<5 | bits(h, 6, 5)<<3 | bits(h, 4, 2)<<6
			return isa.Itype(isa.OP_LD, rdFull, isa.SP, int64(off)), true
		case 4:
			return expandCompressedJumpMove(h, rdFull, rs2Full)
		case 6: // C.SWSP
			off := bits(h, 12, 9)<<2 | bits(h, 8, 7)<<6
			return isa.Stype(isa.OP_SW, isa.SP, rs2Full, int64(off)), true
		case 7: // C.SDSP
			off := bits(h, 12, 10)<<3 | bits(h, 9, 7)<<6
			return isa.Stype(isa.OP_SD, isa.SP, rs2Full, int64(off)), true
		}
	}
	return isa.Instruction{}, false
}

func expandCompressedArith(h uint32, imm6 int64) (isa.Instruction, bool) {
	rd := uint8(8 + bits(h, 9, 7))
	rs2 := uint8(8 + bits(h, 4, 2))
	shamt := int64(bits(h, 12, 12)<<5 | bits(h, 6, 2))
	switch bits(h, 11, 10) {
	case 0: // C.SRLI
		return isa.Itype(isa.OP_SRLI, rd, rd, shamt), true
	case 1: // C.SRAI
		return isa.Itype(isa.OP_SRAI, rd, rd, shamt), true
	case 2: // C.ANDI
		return isa.Itype(isa.OP_ANDI, rd, rd, imm6), true
	}
	if bits(h, 12, 12) == 0 {
		ops := [4]isa.Opcode{isa.OP_SUB, isa.OP_XOR, isa.OP_OR, isa.OP_AND}
		return isa.Rtype(ops[bits(h, 6, 5)], rd, rd, rs2), true
	}
	switch bits(h, 6, 5) {
	case 0:
		return isa.Rtype(isa.OP_SUBW, rd, rd, rs2), true
	case 1:
		return isa.Rtype(isa.OP_ADDW, rd, rd, rs2), true
	}
	return isa.Instruction{}, false
}

func expandCompressedJumpMove(h uint32, rd, rs2 uint8) (isa.Instruction, bool) {
	if bits(h, 12, 12) == 0 {
		if rs2 == 0 { // C.JR
			if rd == 0 {
				return isa.Instruction{}, false
			}
			return isa.Itype(isa.OP_JALR, isa.ZERO, rd, 0), true
		}
		// C.MV
		return isa.Rtype(isa.OP_ADD, rd, isa.ZERO, rs2), true
	}
	switch {
	case rd == 0 && rs2 == 0: // C.EBREAK
		return isa.Instruction{Opcode: isa.OP_EBREAK, Length: 4}, true
	case rs2 == 0: // C.JALR
		return isa.Itype(isa.OP_JALR, isa.RA, rd, 0), true
	}
	// C.ADD
	return isa.Rtype(isa.OP_ADD, rd, rd, rs2), true
}

func clwOffset(h uint32) uint32 {
	return bits(h, 12, 10)<<3 | bits(h, 6, 6)<<2 | bits(h, 5, 5)<<6
}

func cldOffset(h uint32) uint32 {
	return bits(h, 12, 10)<<3 | bits(h, 6, 5)<<6
}

func cjOffset(h uint32) int64 {
	off := bits(h, 12, 12)<<11 | bits(h, 11, 11)<<4 | bits(h, 10, 9)<<8 | bits(h, 8, 8)<<10 |
		bits(h, 7, 7)<<6 | bits(h, 6, 6)<<7 | bits(h, 5, 3)<<1 | bits(h, 2, 2)<<5
	return signExtend(off, 12)
}

func cbOffset(h uint32) int64 {
	off := bits(h, 12, 12)<<8 | bits(h, 11, 10)<<3 | bits(h, 6, 5)<<6 | bits(h, 4, 3)<<1 | bits(h, 2, 2)<<5
	return signExtend(off, 9)
}
