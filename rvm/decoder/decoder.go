// Package decoder turns instruction bytes into isa.Instruction values.
//
// Base decodes RV64IMC. FusionDecoder wraps any Decoder and rewrites
// recognized instructions into custom opcodes; it is a drop-in replacement
// for the decoder it wraps.
package decoder

import (
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/memory"
	"github.com/colorfulnotion/rvm/rvmerrors"
)

// Decoder decodes the instruction at pc. Errors are *rvmerrors.DecodeError.
type Decoder interface {
	Decode(mem memory.Memory, pc uint64) (isa.Instruction, error)
}

// Base is the RV64IMC decoder.
type Base struct {
	isa     isa.ISA
	version uint32
}

// Build returns the base decoder for an instruction set and machine version.
func Build(i isa.ISA, version uint32) (*Base, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}
	if err := isa.ValidateVersion(version); err != nil {
		return nil, err
	}
	return &Base{isa: i, version: version}, nil
}

func (d *Base) ISA() isa.ISA {
	return d.isa
}

func (d *Base) Version() uint32 {
	return d.version
}

// Decode fetches one 16-bit parcel, and a second one when the low two bits
// mark a 32-bit encoding.
func (d *Base) Decode(mem memory.Memory, pc uint64) (isa.Instruction, error) {
	if pc&1 != 0 {
		return isa.Instruction{}, &rvmerrors.DecodeError{PC: pc, Err: rvmerrors.ErrDMisalignedFetch}
	}
	half, err := mem.ExecuteLoad16(pc)
	if err != nil {
		return isa.Instruction{}, &rvmerrors.DecodeError{PC: pc, Err: err}
	}
	if half&0x3 != 0x3 {
		inst, ok := decodeCompressed(half)
		if !ok {
			return isa.Instruction{}, &rvmerrors.DecodeError{PC: pc, Word: uint32(half), Err: rvmerrors.ErrDInvalidInstruction}
		}
		return inst, nil
	}
	word, err := mem.ExecuteLoad32(pc)
	if err != nil {
		return isa.Instruction{}, &rvmerrors.DecodeError{PC: pc, Word: uint32(half), Err: err}
	}
	inst, ok := decodeStandard(word)
	if !ok {
		return isa.Instruction{}, &rvmerrors.DecodeError{PC: pc, Word: word, Err: rvmerrors.ErrDInvalidInstruction}
	}
	return inst, nil
}

// signExtend treats the low bits of v as a two's complement number.
func signExtend(v uint32, bits uint) int64 {
	shift := 64 - bits
	return int64(uint64(v)<<shift) >> shift
}

func decodeStandard(w uint32) (isa.Instruction, bool) {
	opcode := w & 0x7f
	rd := uint8((w >> 7) & 0x1f)
	funct3 := (w >> 12) & 0x7
	rs1 := uint8((w >> 15) & 0x1f)
	rs2 := uint8((w >> 20) & 0x1f)
	funct7 := w >> 25

	iImm := int64(int32(w) >> 20)
	sImm := int64(int32(w)>>25)<<5 | int64((w>>7)&0x1f)
	bImm := signExtend(((w>>31)&1)<<12|((w>>7)&1)<<11|((w>>25)&0x3f)<<5|((w>>8)&0xf)<<1, 13)
	uImm := int64(int32(w & 0xfffff000))
	jImm := signExtend(((w>>31)&1)<<20|((w>>12)&0xff)<<12|((w>>20)&1)<<11|((w>>21)&0x3ff)<<1, 21)

	switch opcode {
	case 0x37:
		return isa.Utype(isa.OP_LUI, rd, uImm), true
	case 0x17:
		return isa.Utype(isa.OP_AUIPC, rd, uImm), true
	case 0x6f:
		return isa.Utype(isa.OP_JAL, rd, jImm), true
	case 0x67:
		if funct3 != 0 {
			return isa.Instruction{}, false
		}
		return isa.Itype(isa.OP_JALR, rd, rs1, iImm), true
	case 0x63:
		ops := [8]isa.Opcode{isa.OP_BEQ, isa.OP_BNE, 0, 0, isa.OP_BLT, isa.OP_BGE, isa.OP_BLTU, isa.OP_BGEU}
		if ops[funct3] == 0 {
			return isa.Instruction{}, false
		}
		return isa.Stype(ops[funct3], rs1, rs2, bImm), true
	case 0x03:
		ops := [8]isa.Opcode{isa.OP_LB, isa.OP_LH, isa.OP_LW, isa.OP_LD, isa.OP_LBU, isa.OP_LHU, isa.OP_LWU, 0}
		if ops[funct3] == 0 {
			return isa.Instruction{}, false
		}
		return isa.Itype(ops[funct3], rd, rs1, iImm), true
	case 0x23:
		ops := [8]isa.Opcode{isa.OP_SB, isa.OP_SH, isa.OP_SW, isa.OP_SD}
		if ops[funct3] == 0 {
			return isa.Instruction{}, false
		}
		return isa.Stype(ops[funct3], rs1, rs2, sImm), true
	case 0x13:
		return decodeOpImm(w, rd, funct3, rs1, iImm)
	case 0x1b:
		return decodeOpImm32(w, rd, funct3, rs1, iImm)
	case 0x33:
		return decodeOp(rd, funct3, rs1, rs2, funct7)
	case 0x3b:
		return decodeOp32(rd, funct3, rs1, rs2, funct7)
	case 0x0f:
		switch funct3 {
		case 0:
			return isa.Instruction{Opcode: isa.OP_FENCE, Length: 4}, true
		case 1:
			return isa.Instruction{Opcode: isa.OP_FENCEI, Length: 4}, true
		}
	case 0x73:
		switch w {
		case 0x00000073:
			return isa.Instruction{Opcode: isa.OP_ECALL, Length: 4}, true
		case 0x00100073:
			return isa.Instruction{Opcode: isa.OP_EBREAK, Length: 4}, true
		}
	}
	return isa.Instruction{}, false
}

func decodeOpImm(w uint32, rd uint8, funct3 uint32, rs1 uint8, imm int64) (isa.Instruction, bool) {
	shamt := int64((w >> 20) & 0x3f)
	funct6 := w >> 26
	switch funct3 {
	case 0:
		return isa.Itype(isa.OP_ADDI, rd, rs1, imm), true
	case 2:
		return isa.Itype(isa.OP_SLTI, rd, rs1, imm), true
	case 3:
		return isa.Itype(isa.OP_SLTIU, rd, rs1, imm), true
	case 4:
		return isa.Itype(isa.OP_XORI, rd, rs1, imm), true
	case 6:
		return isa.Itype(isa.OP_ORI, rd, rs1, imm), true
	case 7:
		return isa.Itype(isa.OP_ANDI, rd, rs1, imm), true
	case 1:
		if funct6 == 0 {
			return isa.Itype(isa.OP_SLLI, rd, rs1, shamt), true
		}
	case 5:
		switch funct6 {
		case 0x00:
			return isa.Itype(isa.OP_SRLI, rd, rs1, shamt), true
		case 0x10:
			return isa.Itype(isa.OP_SRAI, rd, rs1, shamt), true
		}
	}
	return isa.Instruction{}, false
}

func decodeOpImm32(w uint32, rd uint8, funct3 uint32, rs1 uint8, imm int64) (isa.Instruction, bool) {
	shamt := int64((w >> 20) & 0x1f)
	funct7 := w >> 25
	switch {
	case funct3 == 0:
		return isa.Itype(isa.OP_ADDIW, rd, rs1, imm), true
	case funct3 == 1 && funct7 == 0:
		return isa.Itype(isa.OP_SLLIW, rd, rs1, shamt), true
	case funct3 == 5 && funct7 == 0:
		return isa.Itype(isa.OP_SRLIW, rd, rs1, shamt), true
	case funct3 == 5 && funct7 == 0x20:
		return isa.Itype(isa.OP_SRAIW, rd, rs1, shamt), true
	}
	return isa.Instruction{}, false
}

var opTable = map[uint32][8]isa.Opcode{
	0x00: {isa.OP_ADD, isa.OP_SLL, isa.OP_SLT, isa.OP_SLTU, isa.OP_XOR, isa.OP_SRL, isa.OP_OR, isa.OP_AND},
	0x20: {isa.OP_SUB, 0, 0, 0, 0, isa.OP_SRA, 0, 0},
	0x01: {isa.OP_MUL, isa.OP_MULH, isa.OP_MULHSU, isa.OP_MULHU, isa.OP_DIV, isa.OP_DIVU, isa.OP_REM, isa.OP_REMU},
}

var op32Table = map[uint32][8]isa.Opcode{
	0x00: {isa.OP_ADDW, isa.OP_SLLW, 0, 0, 0, isa.OP_SRLW, 0, 0},
	0x20: {isa.OP_SUBW, 0, 0, 0, 0, isa.OP_SRAW, 0, 0},
	0x01: {isa.OP_MULW, 0, 0, 0, isa.OP_DIVW, isa.OP_DIVUW, isa.OP_REMW, isa.OP_REMUW},
}

func decodeOp(rd uint8, funct3 uint32, rs1, rs2 uint8, funct7 uint32) (isa.Instruction, bool) {
	row, ok := opTable[funct7]
	if !ok || row[funct3] == 0 {
		return isa.Instruction{}, false
	}
	return isa.Rtype(row[funct3], rd, rs1, rs2), true
}

func decodeOp32(rd uint8, funct3 uint32, rs1, rs2 uint8, funct7 uint32) (isa.Instruction, bool) {
	row, ok := op32Table[funct7]
	if !ok || row[funct3] == 0 {
		return isa.Instruction{}, false
	}
	return isa.Rtype(row[funct3], rd, rs1, rs2), true
}
