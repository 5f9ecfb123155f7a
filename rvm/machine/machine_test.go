package machine

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/colorfulnotion/rvm/rvm/asm"
	"github.com/colorfulnotion/rvm/rvm/decoder"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/memory"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMachine(t *testing.T, version uint32, maxCycles uint64, opts ...Option) *Machine {
	t.Helper()
	mem, err := memory.NewSparse(memory.DefaultMemorySize)
	require.NoError(t, err)
	m, err := New(isa.ISA_IMC, version, maxCycles, mem, opts...)
	require.NoError(t, err)
	return m
}

func baseDecoder(t *testing.T, version uint32) decoder.Decoder {
	t.Helper()
	d, err := decoder.Build(isa.ISA_IMC, version)
	require.NoError(t, err)
	return d
}

func fusionDecoder(t *testing.T, version uint32, rules ...decoder.FusionRule) decoder.Decoder {
	t.Helper()
	d, err := decoder.NewFusionDecoder(baseDecoder(t, version), rules...)
	require.NoError(t, err)
	return d
}

func runImage(t *testing.T, m *Machine, image []byte, dec decoder.Decoder) (int8, error) {
	t.Helper()
	_, err := m.LoadProgram(image, [][]byte{[]byte("test")})
	require.NoError(t, err)
	return m.Run(context.Background(), dec)
}

func exitProgram(a *asm.Assembler, code int64) {
	a.Emit(isa.Itype(isa.OP_ADDI, isa.A0, isa.ZERO, code))
	a.Emit(isa.Itype(isa.OP_ADDI, isa.A7, isa.ZERO, SyscallExit))
	a.Emit(isa.BlankInstruction(isa.OP_ECALL))
}

func TestAuipcProgramFusedAndUnfused(t *testing.T) {
	for name, dec := range map[string]decoder.Decoder{
		"base":   baseDecoder(t, isa.VERSION1),
		"fusion": fusionDecoder(t, isa.VERSION1),
	} {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			m := newMachine(t, isa.VERSION1, 0, WithStdout(&out))
			code, err := runImage(t, m, asm.AuipcProgram(), dec)
			require.NoError(t, err)
			assert.Equal(t, int8(0), code)
			assert.Equal(t, "auipc fusion ok", out.String())
			assert.NotZero(t, m.Cycles())
		})
	}
}

func TestUnguardedFusionBreaksProgram(t *testing.T) {
	unsafe := decoder.AuipcRule
	unsafe.Guard = func(uint64) bool { return true }
	m := newMachine(t, isa.VERSION1, 0, WithStdout(&bytes.Buffer{}))
	_, err := runImage(t, m, asm.AuipcProgram(), fusionDecoder(t, isa.VERSION1, unsafe))
	require.ErrorIs(t, err, rvmerrors.ErrDInvalidInstruction)
	assert.ErrorContains(t, err, "exceeds 32 bits")
}

func TestJALRVersions(t *testing.T) {
	a := asm.New(FlatImageBase)
	a.La(isa.RA, "target")
	a.Emit(isa.Itype(isa.OP_JALR, isa.RA, isa.RA, 0))
	exitProgram(a, 1)
	a.Label("target")
	exitProgram(a, 2)
	image, err := a.Assemble()
	require.NoError(t, err)

	m := newMachine(t, isa.VERSION1, 0)
	code, err := runImage(t, m, image, baseDecoder(t, isa.VERSION1))
	require.NoError(t, err)
	assert.Equal(t, int8(2), code)

	m = newMachine(t, isa.VERSION0, 0)
	code, err = runImage(t, m, image, baseDecoder(t, isa.VERSION0))
	require.NoError(t, err)
	assert.Equal(t, int8(1), code, "version 0 reads the link it just wrote")
}

func TestStoreIntoCodeFails(t *testing.T) {
	a := asm.New(FlatImageBase)
	a.La(isa.A0, "here")
	a.Label("here")
	a.Emit(isa.Stype(isa.OP_SW, isa.A0, isa.ZERO, 0))
	exitProgram(a, 0)
	image, err := a.Assemble()
	require.NoError(t, err)

	m := newMachine(t, isa.VERSION1, 0)
	_, err = runImage(t, m, image, baseDecoder(t, isa.VERSION1))
	assert.ErrorIs(t, err, rvmerrors.ErrMWriteOnExecutablePage)
	assert.Equal(t, uint64(FlatImageBase+8), m.PC(), "pc stays on the faulting store")
}

func TestCyclesExceeded(t *testing.T) {
	image, err := asm.LoopProgram(1000)
	require.NoError(t, err)
	m := newMachine(t, isa.VERSION1, 100)
	_, err = runImage(t, m, image, baseDecoder(t, isa.VERSION1))
	assert.ErrorIs(t, err, rvmerrors.ErrECyclesExceeded)
	assert.LessOrEqual(t, m.Cycles(), uint64(100))
}

func TestLoopProgramExitCode(t *testing.T) {
	image, err := asm.LoopProgram(100)
	require.NoError(t, err)
	m := newMachine(t, isa.VERSION1, 0)
	code, err := runImage(t, m, image, fusionDecoder(t, isa.VERSION1))
	require.NoError(t, err)
	// 5050 & 0xff = 186, read back as a signed byte.
	assert.Equal(t, int8(-70), code)
}

func TestUnknownEcallAndEbreak(t *testing.T) {
	a := asm.New(FlatImageBase)
	a.Emit(isa.Itype(isa.OP_ADDI, isa.A7, isa.ZERO, 1234))
	a.Emit(isa.BlankInstruction(isa.OP_ECALL))
	image, err := a.Assemble()
	require.NoError(t, err)
	m := newMachine(t, isa.VERSION1, 0)
	_, err = runImage(t, m, image, baseDecoder(t, isa.VERSION1))
	assert.ErrorIs(t, err, rvmerrors.ErrEInvalidEcall)

	a = asm.New(FlatImageBase)
	a.EmitC(isa.BlankInstruction(isa.OP_EBREAK))
	image, err = a.Assemble()
	require.NoError(t, err)
	m = newMachine(t, isa.VERSION1, 0)
	_, err = runImage(t, m, image, baseDecoder(t, isa.VERSION1))
	assert.ErrorIs(t, err, rvmerrors.ErrEInvalidEbreak)
}

func TestRegisterSyscall(t *testing.T) {
	a := asm.New(FlatImageBase)
	a.Emit(isa.Itype(isa.OP_ADDI, isa.A7, isa.ZERO, 64))
	a.Emit(isa.BlankInstruction(isa.OP_ECALL))
	exitProgram(a, 0)
	image, err := a.Assemble()
	require.NoError(t, err)

	m := newMachine(t, isa.VERSION1, 0)
	called := 0
	m.RegisterSyscall(64, func(m *Machine) error {
		called++
		m.SetRegister(isa.A0, 99)
		return nil
	})
	code, err := runImage(t, m, image, baseDecoder(t, isa.VERSION1))
	require.NoError(t, err)
	assert.Equal(t, int8(0), code)
	assert.Equal(t, 1, called)
}

func TestRunHonorsContext(t *testing.T) {
	image, err := asm.LoopProgram(1000)
	require.NoError(t, err)
	m := newMachine(t, isa.VERSION1, 0)
	_, err = m.LoadProgram(image, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Run(ctx, baseDecoder(t, isa.VERSION1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteDispatch(t *testing.T) {
	m := newMachine(t, isa.VERSION1, 0)
	m.SetPC(0x1000)

	err := Execute(m, m.Validation(), m.Handlers(), isa.BlankInstruction(isa.OP_CUSTOM_TRACE_END))
	assert.ErrorIs(t, err, ErrTraceEnd)
	assert.Equal(t, uint64(0x1000), m.PC())

	err = Execute(m, m.Validation(), m.Handlers(), isa.BlankInstruction(isa.OP_UNLOADED))
	assert.ErrorIs(t, err, rvmerrors.ErrEUnsupportedOpcode)

	bad := isa.Utype(isa.OP_CUSTOM_LOAD_UIMM, isa.A0, 1<<40)
	assert.ErrorIs(t, Execute(m, m.Validation(), m.Handlers(), bad), rvmerrors.ErrDInvalidInstruction)

	require.NoError(t, Execute(m, m.Validation(), m.Handlers(), isa.SetInstructionLength(isa.Utype(isa.OP_CUSTOM_LOAD_UIMM, isa.A0, 0xfffff000), 2)))
	assert.Equal(t, uint64(0xfffff000), m.Register(isa.A0), "value is zero-extended")
	assert.Equal(t, uint64(0x1002), m.PC(), "pc advances by the carried length")

	require.NoError(t, Execute(m, m.Validation(), m.Handlers(), isa.Itype(isa.OP_ADDI, isa.ZERO, isa.ZERO, 5)))
	assert.Zero(t, m.Register(isa.ZERO))
}

func TestAuipcAndLoadUimmAgree(t *testing.T) {
	m := newMachine(t, isa.VERSION1, 0)
	m.SetPC(0x10000)
	auipc := isa.Utype(isa.OP_AUIPC, isa.A0, asm.UpperImmediate(0x7))
	require.NoError(t, Execute(m, nil, m.Handlers(), auipc))
	viaAuipc := m.Register(isa.A0)

	m.SetPC(0x10000)
	fused := isa.Utype(isa.OP_CUSTOM_LOAD_UIMM, isa.A0, int64(0x10000+0x7000))
	require.NoError(t, Execute(m, nil, m.Handlers(), fused))
	assert.Equal(t, viaAuipc, m.Register(isa.A0))
}

func TestDivisionEdgeCases(t *testing.T) {
	minInt64 := uint64(1) << 63
	neg1 := uint64(math.MaxUint64)
	assert.Equal(t, neg1, div(5, 0))
	assert.Equal(t, minInt64, div(minInt64, neg1))
	assert.Equal(t, uint64(5), rem(5, 0))
	assert.Zero(t, rem(minInt64, neg1))
	assert.Equal(t, neg1, divu(5, 0))
	assert.Equal(t, uint64(5), remu(5, 0))

	assert.Equal(t, neg1, divw(5, 0))
	assert.Equal(t, sext32(1<<31), divw(1<<31, neg1))
	assert.Zero(t, remw(1<<31, neg1))
	assert.Equal(t, sext32(0x80000005), remw(0x80000005, 0))
	assert.Equal(t, neg1, divuw(7, 0))
	assert.Equal(t, sext32(0xfffffffe/2), divuw(0xfffffffe, 2))
	assert.Equal(t, uint64(1), remuw(7, 3))
	assert.Equal(t, neg1-1, div(neg1-5, 3))
}

func TestMulHigh(t *testing.T) {
	values := []uint64{0, 1, 2, 0x7fffffffffffffff, 1 << 63, math.MaxUint64, 0x123456789abcdef0}
	// 256-bit two's complement products; the high half is limb 1.
	signed := func(v uint64) *uint256.Int {
		ext := uint64(int64(v) >> 63)
		return &uint256.Int{v, ext, ext, ext}
	}
	unsigned := func(v uint64) *uint256.Int { return &uint256.Int{v} }
	high := func(x, y *uint256.Int) uint64 { return new(uint256.Int).Mul(x, y)[1] }
	for _, a := range values {
		for _, b := range values {
			assert.Equal(t, high(unsigned(a), unsigned(b)), mulhu(a, b), "mulhu %x %x", a, b)
			assert.Equal(t, high(signed(a), signed(b)), mulh(a, b), "mulh %x %x", a, b)
			assert.Equal(t, high(signed(a), unsigned(b)), mulhsu(a, b), "mulhsu %x %x", a, b)
		}
	}
}

func TestCostTable(t *testing.T) {
	f := DefaultCostTable().Func()
	assert.Equal(t, uint64(1), f(isa.Itype(isa.OP_ADDI, 0, 0, 0), 0, 8))
	assert.Equal(t, uint64(1), f(isa.Utype(isa.OP_CUSTOM_LOAD_UIMM, isa.A0, 0), 0, 8))
	assert.Equal(t, uint64(3), f(isa.Itype(isa.OP_LD, 0, 0, 0), 0, 8))
	assert.Equal(t, uint64(32), f(isa.Rtype(isa.OP_REMUW, 0, 0, 0), 0, 8))
	assert.Equal(t, uint64(500), f(isa.BlankInstruction(isa.OP_ECALL), 0, 8))
	assert.Equal(t, uint64(1), f(isa.BlankInstruction(isa.OP_FENCE), 0, 8))
	assert.Zero(t, f(isa.BlankInstruction(isa.OP_CUSTOM_TRACE_END), 0, 8))
	assert.Equal(t, f(isa.Itype(isa.OP_LD, 0, 0, 0), 0, 8), f(isa.Itype(isa.OP_LD, 0, 0, 0), 128, 64), "vector state does not change scalar prices")

	overrides, err := ParseClassCosts(map[string]uint64{"Load": 7, "div": 40})
	require.NoError(t, err)
	f = NewCostTable(overrides).Func()
	assert.Equal(t, uint64(7), f(isa.Itype(isa.OP_LBU, 0, 0, 0), 0, 8))
	assert.Equal(t, uint64(40), f(isa.Rtype(isa.OP_DIV, 0, 0, 0), 0, 8))
	assert.Equal(t, uint64(5), f(isa.Rtype(isa.OP_MUL, 0, 0, 0), 0, 8))

	_, err = ParseClassCosts(map[string]uint64{"vector": 1})
	assert.ErrorIs(t, err, rvmerrors.ErrCInvalidConfig)
}

func TestInitStack(t *testing.T) {
	m := newMachine(t, isa.VERSION1, 0)
	_, err := m.LoadProgram([]byte{0x01, 0x00}, [][]byte{[]byte("prog"), []byte("arg")})
	require.NoError(t, err)

	sp := m.Register(isa.SP)
	assert.Zero(t, sp%16)
	argc, err := m.Memory().Load64(sp)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), argc)
	assert.Equal(t, uint64(2), m.Register(isa.A0))
	assert.Equal(t, sp+8, m.Register(isa.A1))

	for i, want := range []string{"prog", "arg"} {
		ptr, err := m.Memory().Load64(sp + 8 + uint64(8*i))
		require.NoError(t, err)
		b, err := m.Memory().LoadBytes(ptr, uint64(len(want)+1))
		require.NoError(t, err)
		assert.Equal(t, want+"\x00", string(b))
	}
	null, err := m.Memory().Load64(sp + 24)
	require.NoError(t, err)
	assert.Zero(t, null)

	m = newMachine(t, isa.VERSION1, 0)
	_, err = m.LoadProgram([]byte{0x01, 0x00}, [][]byte{make([]byte, DefaultStackSize)})
	assert.ErrorIs(t, err, rvmerrors.ErrLArgsTooLarge)
}

// buildElf returns a single-segment ELF64 executable mapping the whole file
// at vaddr with code placed right after the headers.
func buildElf(machine uint16, vaddr uint64, code []byte) []byte {
	const ehsize, phsize = 64, 56
	out := make([]byte, ehsize+phsize, ehsize+phsize+len(code))
	copy(out, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le := binary.LittleEndian
	le.PutUint16(out[16:], 2) // ET_EXEC
	le.PutUint16(out[18:], machine)
	le.PutUint32(out[20:], 1)
	le.PutUint64(out[24:], vaddr+ehsize+phsize)
	le.PutUint64(out[32:], ehsize)
	le.PutUint16(out[52:], ehsize)
	le.PutUint16(out[54:], phsize)
	le.PutUint16(out[56:], 1)
	le.PutUint16(out[58:], 64)

	ph := out[ehsize:]
	le.PutUint32(ph[0:], 1) // PT_LOAD
	le.PutUint32(ph[4:], 5) // R+X
	le.PutUint64(ph[16:], vaddr)
	le.PutUint64(ph[24:], vaddr)
	size := uint64(ehsize + phsize + len(code))
	le.PutUint64(ph[32:], size)
	le.PutUint64(ph[40:], size)
	le.PutUint64(ph[48:], memory.PageSize)
	return append(out, code...)
}

func TestLoadElf(t *testing.T) {
	a := asm.New(0)
	exitProgram(a, 7)
	code, err := a.Assemble()
	require.NoError(t, err)

	image := buildElf(243, 0x20000, code)
	m := newMachine(t, isa.VERSION1, 0)
	entry, err := m.LoadProgram(image, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x20000+120), entry)
	assert.NotZero(t, m.Memory().Flag(0x20000>>memory.PageShift)&memory.FLAG_EXECUTABLE)

	exit, err := m.Run(context.Background(), baseDecoder(t, isa.VERSION1))
	require.NoError(t, err)
	assert.Equal(t, int8(7), exit)

	m = newMachine(t, isa.VERSION1, 0)
	_, err = m.LoadProgram(buildElf(62, 0x20000, code), nil)
	assert.ErrorIs(t, err, rvmerrors.ErrLElfBits)

	m = newMachine(t, isa.VERSION1, 0)
	_, err = m.LoadProgram(image[:40], nil)
	assert.ErrorIs(t, err, rvmerrors.ErrLInvalidElf)
}

type elfSegment struct {
	vaddr uint64
	flags uint32
	data  []byte
	memsz uint64
}

// buildElfSegments returns an ELF64 RISC-V executable with one PT_LOAD per
// segment, segment bytes following the headers in order.
func buildElfSegments(entry uint64, segs ...elfSegment) []byte {
	const ehsize, phsize = 64, 56
	le := binary.LittleEndian
	out := make([]byte, ehsize+phsize*len(segs))
	copy(out, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(out[16:], 2)
	le.PutUint16(out[18:], 243)
	le.PutUint32(out[20:], 1)
	le.PutUint64(out[24:], entry)
	le.PutUint64(out[32:], ehsize)
	le.PutUint16(out[52:], ehsize)
	le.PutUint16(out[54:], phsize)
	le.PutUint16(out[56:], uint16(len(segs)))
	le.PutUint16(out[58:], 64)
	for i, s := range segs {
		ph := out[ehsize+i*phsize:]
		le.PutUint32(ph[0:], 1)
		le.PutUint32(ph[4:], s.flags)
		le.PutUint64(ph[8:], uint64(len(out)))
		le.PutUint64(ph[16:], s.vaddr)
		le.PutUint64(ph[24:], s.vaddr)
		le.PutUint64(ph[32:], uint64(len(s.data)))
		le.PutUint64(ph[40:], s.memsz)
		le.PutUint64(ph[48:], memory.PageSize)
		out = append(out, s.data...)
	}
	return out
}

func TestLoadElfSharedPages(t *testing.T) {
	a := asm.New(0)
	exitProgram(a, 7)
	code, err := a.Assemble()
	require.NoError(t, err)
	const text = 0x20000
	const pfX, pfW, pfR = 1, 2, 4

	// Read-only data sharing the text page must not clobber the code.
	m := newMachine(t, isa.VERSION1, 0)
	_, err = m.LoadProgram(buildElfSegments(text,
		elfSegment{vaddr: text, flags: pfR | pfX, data: code, memsz: uint64(len(code))},
		elfSegment{vaddr: text + 0x800, flags: pfR, data: []byte("ro"), memsz: 8},
	), nil)
	require.NoError(t, err)
	got, err := m.Memory().LoadBytes(text, uint64(len(code)))
	require.NoError(t, err)
	assert.Equal(t, code, got)
	ro, err := m.Memory().LoadBytes(text+0x800, 2)
	require.NoError(t, err)
	assert.Equal(t, "ro", string(ro))
	assert.NotZero(t, m.Memory().Flag(text>>memory.PageShift)&memory.FLAG_EXECUTABLE)
	exit, err := m.Run(context.Background(), baseDecoder(t, isa.VERSION1))
	require.NoError(t, err)
	assert.Equal(t, int8(7), exit)

	// Writable data on the text page is refused.
	m = newMachine(t, isa.VERSION1, 0)
	_, err = m.LoadProgram(buildElfSegments(text,
		elfSegment{vaddr: text, flags: pfR | pfX, data: code, memsz: uint64(len(code))},
		elfSegment{vaddr: text + 0x800, flags: pfR | pfW, data: []byte("rw"), memsz: 8},
	), nil)
	require.ErrorIs(t, err, rvmerrors.ErrLInvalidElf)
	assert.ErrorContains(t, err, "conflicting permissions")

	// Two writable segments on one page keep both contents and stay writable.
	const data = 0x30000
	m = newMachine(t, isa.VERSION1, 0)
	_, err = m.LoadProgram(buildElfSegments(text,
		elfSegment{vaddr: text, flags: pfR | pfX, data: code, memsz: uint64(len(code))},
		elfSegment{vaddr: data, flags: pfR | pfW, data: []byte{0xaa, 0xbb}, memsz: 2},
		elfSegment{vaddr: data + 0x10, flags: pfR | pfW, data: []byte{0xcc}, memsz: 0x20},
	), nil)
	require.NoError(t, err)
	b, err := m.Memory().LoadBytes(data, 0x11)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb}, b[:2])
	assert.Equal(t, byte(0xcc), b[0x10])
	assert.NoError(t, m.Memory().Store8(data+4, 1))
}
