package asm

import (
	"encoding/binary"
	"testing"

	"github.com/colorfulnotion/rvm/rvm/decoder"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAt(t *testing.T, code []byte, pc uint64) isa.Instruction {
	t.Helper()
	mem, err := memory.NewSparse(4 * memory.PageSize)
	require.NoError(t, err)
	require.NoError(t, mem.InitPages(0, memory.RoundPageUp(uint64(len(code))+1), memory.FLAG_EXECUTABLE, code))
	dec, err := decoder.Build(isa.ISA_IMC, isa.LatestVersion)
	require.NoError(t, err)
	inst, err := dec.Decode(mem, pc)
	require.NoError(t, err)
	return inst
}

func TestEncodeKnownWords(t *testing.T) {
	cases := []struct {
		inst isa.Instruction
		want uint32
	}{
		{isa.Itype(isa.OP_ADDI, isa.A0, isa.A0, 24), 0x01850513},
		{isa.Utype(isa.OP_AUIPC, isa.A0, UpperImmediate(1)), 0x00001517},
		{isa.BlankInstruction(isa.OP_ECALL), 0x00000073},
		{isa.Rtype(isa.OP_ADD, isa.A0, isa.A1, isa.A2), 0x00c58533},
		{isa.Stype(isa.OP_SD, isa.SP, isa.RA, 8), 0x00113423},
	}
	for _, c := range cases {
		got, err := Encode(c.inst)
		require.NoError(t, err, c.inst.String())
		assert.Equal(t, c.want, got, c.inst.String())
	}
}

func TestCompressKnownParcels(t *testing.T) {
	cases := []struct {
		inst isa.Instruction
		want uint16
	}{
		{isa.Itype(isa.OP_ADDI, isa.ZERO, isa.ZERO, 0), 0x0001},
		{isa.Itype(isa.OP_ADDI, isa.A0, isa.ZERO, 0), 0x4501},
		{isa.Itype(isa.OP_ADDI, isa.SP, isa.SP, -16), 0x1141},
		{isa.Stype(isa.OP_SD, isa.SP, isa.RA, 8), 0xe406},
		{isa.BlankInstruction(isa.OP_EBREAK), 0x9002},
	}
	for _, c := range cases {
		got, ok := Compress(c.inst)
		require.True(t, ok, c.inst.String())
		assert.Equal(t, c.want, got, c.inst.String())
	}
	_, ok := Compress(isa.Rtype(isa.OP_MUL, isa.A0, isa.A0, isa.A1))
	assert.False(t, ok)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	insts := []isa.Instruction{
		isa.Utype(isa.OP_LUI, isa.A5, UpperImmediate(0xfffff)),
		isa.Utype(isa.OP_AUIPC, isa.A2, UpperImmediate(0x80000)),
		isa.Utype(isa.OP_JAL, isa.RA, -2048),
		isa.Itype(isa.OP_JALR, isa.ZERO, isa.RA, 0),
		isa.Stype(isa.OP_BGEU, isa.A0, isa.A1, -4096),
		isa.Stype(isa.OP_BLT, isa.T0, isa.T1, 4094),
		isa.Itype(isa.OP_LWU, isa.A0, isa.SP, -1),
		isa.Stype(isa.OP_SH, isa.S0, isa.A4, 2047),
		isa.Itype(isa.OP_SRAI, isa.A0, isa.A1, 63),
		isa.Itype(isa.OP_SRAIW, isa.A0, isa.A1, 31),
		isa.Itype(isa.OP_SLTIU, isa.A0, isa.A1, -2048),
		isa.Rtype(isa.OP_SUBW, isa.A0, isa.A1, isa.A2),
		isa.Rtype(isa.OP_MULHSU, isa.A0, isa.A1, isa.A2),
		isa.Rtype(isa.OP_REMUW, isa.T2, isa.A1, isa.A2),
		isa.BlankInstruction(isa.OP_FENCEI),
		isa.BlankInstruction(isa.OP_EBREAK),
	}
	for _, inst := range insts {
		if inst.Length == 0 {
			inst.Length = 4
		}
		w, err := Encode(inst)
		require.NoError(t, err, inst.String())
		got := decodeAt(t, binary.LittleEndian.AppendUint32(nil, w), 0)
		assert.Equal(t, inst, got, inst.String())
	}
}

func TestCompressDecodeRoundTrip(t *testing.T) {
	insts := []isa.Instruction{
		isa.Itype(isa.OP_ADDI, isa.A0, isa.A0, -32),
		isa.Itype(isa.OP_ADDI, isa.T0, isa.ZERO, 31),
		isa.Itype(isa.OP_ADDI, isa.SP, isa.SP, 496),
		isa.Itype(isa.OP_ADDI, isa.S1, isa.SP, 1020),
		isa.Itype(isa.OP_ADDIW, isa.A3, isa.A3, 5),
		isa.Utype(isa.OP_LUI, isa.A1, UpperImmediate(0xfffe0)),
		isa.Itype(isa.OP_SLLI, isa.T1, isa.T1, 33),
		isa.Itype(isa.OP_SRLI, isa.A5, isa.A5, 1),
		isa.Itype(isa.OP_ANDI, isa.S0, isa.S0, -1),
		isa.Rtype(isa.OP_XOR, isa.A0, isa.A0, isa.A1),
		isa.Rtype(isa.OP_ADDW, isa.A4, isa.A4, isa.A5),
		isa.Rtype(isa.OP_ADD, isa.A0, isa.ZERO, isa.T2),
		isa.Rtype(isa.OP_ADD, isa.T1, isa.T1, isa.T0),
		isa.Utype(isa.OP_JAL, isa.ZERO, -2048),
		isa.Itype(isa.OP_JALR, isa.ZERO, isa.RA, 0),
		isa.Itype(isa.OP_JALR, isa.RA, isa.A5, 0),
		isa.Stype(isa.OP_BEQ, isa.A0, isa.ZERO, -256),
		isa.Stype(isa.OP_BNE, isa.S1, isa.ZERO, 254),
		isa.Itype(isa.OP_LW, isa.A0, isa.A1, 124),
		isa.Itype(isa.OP_LD, isa.A0, isa.A1, 248),
		isa.Stype(isa.OP_SW, isa.A1, isa.A0, 64),
		isa.Stype(isa.OP_SD, isa.A1, isa.A0, 8),
		isa.Itype(isa.OP_LW, isa.RA, isa.SP, 252),
		isa.Itype(isa.OP_LD, isa.T0, isa.SP, 504),
		isa.Stype(isa.OP_SW, isa.SP, isa.T2, 252),
		isa.Stype(isa.OP_SD, isa.SP, isa.T2, 504),
		isa.Instruction{Opcode: isa.OP_EBREAK},
	}
	for _, inst := range insts {
		h, ok := Compress(inst)
		require.True(t, ok, inst.String())
		got := decodeAt(t, binary.LittleEndian.AppendUint16(nil, h), 0)
		assert.Equal(t, isa.SetInstructionLength(inst, 2), got, inst.String())
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	bad := []isa.Instruction{
		isa.Itype(isa.OP_ADDI, isa.A0, isa.A0, 2048),
		isa.Stype(isa.OP_BEQ, isa.A0, isa.A1, 3),
		isa.Utype(isa.OP_LUI, isa.A0, 0x123),
		isa.Itype(isa.OP_SLLIW, isa.A0, isa.A0, 32),
		isa.Utype(isa.OP_CUSTOM_LOAD_UIMM, isa.A0, 0x1000),
	}
	for _, inst := range bad {
		_, err := Encode(inst)
		assert.Error(t, err, inst.String())
	}
}

func TestAssemblerLabels(t *testing.T) {
	a := New(0x1000)
	a.Jump(isa.ZERO, "end")
	a.Label("back")
	a.EmitC(isa.Itype(isa.OP_ADDI, isa.A0, isa.A0, 1))
	a.Label("end")
	a.BranchC(isa.OP_BNE, isa.A0, "back")
	a.La(isa.A1, "end")
	code, err := a.Assemble()
	require.NoError(t, err)
	require.Len(t, code, 4+2+2+8)

	assert.Equal(t, isa.Utype(isa.OP_JAL, isa.ZERO, 6), decodeAt(t, code, 0))
	assert.Equal(t, isa.SetInstructionLength(isa.Stype(isa.OP_BNE, isa.A0, isa.ZERO, -2), 2), decodeAt(t, code, 6))
	assert.Equal(t, isa.Utype(isa.OP_AUIPC, isa.A1, 0), decodeAt(t, code, 8))
	assert.Equal(t, isa.Itype(isa.OP_ADDI, isa.A1, isa.A1, -2), decodeAt(t, code, 12))

	addr, ok := a.Addr("back")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x1004), addr)
}

func TestAssemblerErrors(t *testing.T) {
	a := New(0)
	a.Jump(isa.ZERO, "nowhere")
	_, err := a.Assemble()
	assert.ErrorContains(t, err, "undefined label")

	a = New(0)
	a.EmitC(isa.Rtype(isa.OP_MUL, isa.A0, isa.A0, isa.A1))
	_, err = a.Assemble()
	assert.ErrorContains(t, err, "no compressed form")

	a = New(0)
	a.Label("x")
	a.Label("x")
	_, err = a.Assemble()
	assert.ErrorContains(t, err, "redefined")
}

func TestAuipcProgramEntryBlock(t *testing.T) {
	code := AuipcProgram()
	var pc uint64
	var n int
	for {
		inst := decodeAt(t, code, pc)
		pc += uint64(inst.Length)
		n++
		if isa.IsBasicBlockEnd(inst.Opcode) {
			assert.True(t, isa.IsBranch(inst.Opcode))
			break
		}
	}
	assert.Equal(t, AuipcEntryInstructions, n)
	assert.Equal(t, uint64(AuipcEntryLength), pc)
}

func TestLi(t *testing.T) {
	a := New(0)
	a.Li(isa.A7, SysDebugPrint)
	code, err := a.Assemble()
	require.NoError(t, err)
	lui := decodeAt(t, code, 0)
	assert.Equal(t, isa.OP_LUI, lui.Opcode)
	addiw := decodeAt(t, code, uint64(lui.Length))
	assert.Equal(t, int64(SysDebugPrint), lui.Imm+addiw.Imm)
}

func TestLoopHead(t *testing.T) {
	for _, tc := range []struct {
		n    int64
		head uint64
	}{
		{10, DefaultBase + 4},   // c.li
		{200, DefaultBase + 6},  // addi
		{5000, DefaultBase + 8}, // c.lui + addiw
	} {
		head, err := LoopHead(tc.n)
		require.NoError(t, err)
		assert.Equal(t, tc.head, head, "n=%d", tc.n)

		code, err := LoopProgram(tc.n)
		require.NoError(t, err)
		inst := decodeAt(t, code, head-DefaultBase)
		assert.Equal(t, isa.OP_AUIPC, inst.Opcode, "n=%d", tc.n)
	}
}
