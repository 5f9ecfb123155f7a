package asm

import "github.com/colorfulnotion/rvm/rvm/isa"

// DefaultBase is where flat images are loaded and entered.
const DefaultBase = 0x10000

const (
	SysExit       = 93
	SysDebugPrint = 2177
)

// Shape of the AuipcProgram entry block, which starts at DefaultBase.
const (
	AuipcEntryInstructions = 6
	AuipcEntryLength       = 18
)

// AuipcProgram builds a flat image that checks AUIPC results from both
// sides of the fusion guard and exits with 0 when every check holds:
//
//	exit 1: fusible AUIPC produced the wrong address
//	exit 2: AUIPC whose result needs 64 bits lost its upper half
//	exit 3: AUIPC inside a loop disagreed with the absolute label address
//	exit 4: loop sum or stack round-trip was wrong
func AuipcProgram() []byte {
	a := New(DefaultBase)

	// Entry block: six instructions, 18 bytes, ending in a branch.
	a.Label("entry")
	a.Emit(isa.Utype(isa.OP_AUIPC, isa.A0, UpperImmediate(0x1)))
	a.EmitC(isa.Utype(isa.OP_LUI, isa.A1, UpperImmediate(DefaultBase>>12+1)))
	a.Emit(isa.Rtype(isa.OP_XOR, isa.A0, isa.A0, isa.A1))
	a.Emit(isa.Utype(isa.OP_AUIPC, isa.A2, UpperImmediate(0x80000)))
	a.EmitC(isa.Itype(isa.OP_SRAI, isa.A2, isa.A2, 32))
	a.BranchC(isa.OP_BNE, isa.A0, "fail1")

	// a2 = pc - 2^31, so its upper word is all ones.
	a.EmitC(isa.Itype(isa.OP_ADDI, isa.A2, isa.A2, 1))
	a.BranchC(isa.OP_BNE, isa.A2, "fail2")

	a.EmitC(isa.Itype(isa.OP_ADDI, isa.T0, isa.ZERO, 10))
	a.EmitC(isa.Itype(isa.OP_ADDI, isa.T1, isa.ZERO, 0))
	a.Label("loop")
	a.Emit(isa.Utype(isa.OP_AUIPC, isa.T2, 0))
	a.EmitC(isa.Rtype(isa.OP_ADD, isa.T1, isa.T1, isa.T0))
	a.EmitC(isa.Itype(isa.OP_ADDI, isa.T0, isa.T0, -1))
	a.Branch(isa.OP_BNE, isa.T0, isa.ZERO, "loop")

	a.LaAbs(isa.S1, "loop")
	a.Emit(isa.Rtype(isa.OP_SUB, isa.T2, isa.T2, isa.S1))
	a.Branch(isa.OP_BNE, isa.T2, isa.ZERO, "fail3")

	a.EmitC(isa.Itype(isa.OP_ADDI, isa.SP, isa.SP, -16))
	a.EmitC(isa.Stype(isa.OP_SD, isa.SP, isa.T1, 8))
	a.EmitC(isa.Itype(isa.OP_LD, isa.A3, isa.SP, 8))
	a.EmitC(isa.Itype(isa.OP_ADDI, isa.SP, isa.SP, 16))
	a.Emit(isa.Itype(isa.OP_ADDI, isa.A3, isa.A3, -55))
	a.BranchC(isa.OP_BNE, isa.A3, "fail4")

	a.La(isa.A0, "message")
	a.Li(isa.A7, SysDebugPrint)
	a.Emit(isa.BlankInstruction(isa.OP_ECALL))
	a.EmitC(isa.Itype(isa.OP_ADDI, isa.A0, isa.ZERO, 0))
	a.JumpC("exit")

	for i, name := range []string{"fail1", "fail2", "fail3", "fail4"} {
		a.Label(name)
		a.EmitC(isa.Itype(isa.OP_ADDI, isa.A0, isa.ZERO, int64(i+1)))
		a.JumpC("exit")
	}

	a.Label("exit")
	a.Emit(isa.Itype(isa.OP_ADDI, isa.A7, isa.ZERO, SysExit))
	a.Emit(isa.BlankInstruction(isa.OP_ECALL))

	a.Label("message")
	a.Bytes([]byte("auipc fusion ok\x00"))
	a.Align(8)

	image, err := a.Assemble()
	if err != nil {
		panic(err)
	}
	return image
}

// LoopProgram sums 1..n in a tight loop and exits with the low byte of the
// sum. It is the workload used by the profile and benchmark commands.
func LoopProgram(n int64) ([]byte, error) {
	return loopAssembler(n).Assemble()
}

// LoopHead returns the address of LoopProgram(n)'s loop label. It moves with
// n because small counts load through a compressed instruction.
func LoopHead(n int64) (uint64, error) {
	a := loopAssembler(n)
	if _, err := a.Assemble(); err != nil {
		return 0, err
	}
	addr, _ := a.Addr("loop")
	return addr, nil
}

func loopAssembler(n int64) *Assembler {
	a := New(DefaultBase)
	a.Li(isa.T0, n)
	a.EmitC(isa.Itype(isa.OP_ADDI, isa.A0, isa.ZERO, 0))
	a.Label("loop")
	a.Emit(isa.Utype(isa.OP_AUIPC, isa.T2, 0))
	a.Emit(isa.Rtype(isa.OP_ADD, isa.A0, isa.A0, isa.T0))
	a.EmitC(isa.Itype(isa.OP_ADDI, isa.T0, isa.T0, -1))
	a.Branch(isa.OP_BNE, isa.T0, isa.ZERO, "loop")
	a.Emit(isa.Itype(isa.OP_ANDI, isa.A0, isa.A0, 0xff))
	a.Emit(isa.Itype(isa.OP_ADDI, isa.A7, isa.ZERO, SysExit))
	a.Emit(isa.BlankInstruction(isa.OP_ECALL))
	return a
}
