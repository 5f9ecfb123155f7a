package steplog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/rvm/rvm/asm"
	"github.com/colorfulnotion/rvm/rvm/decoder"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/machine"
	"github.com/colorfulnotion/rvm/rvm/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLogged(t *testing.T, w *Writer, fused bool) *machine.Machine {
	t.Helper()
	mem, err := memory.NewSparse(memory.DefaultMemorySize)
	require.NoError(t, err)
	m, err := machine.New(isa.ISA_IMC, isa.VERSION1, 0, mem, machine.WithObserver(w), machine.WithStdout(&bytes.Buffer{}))
	require.NoError(t, err)
	_, err = m.LoadProgram(asm.AuipcProgram(), nil)
	require.NoError(t, err)
	var dec decoder.Decoder
	dec, err = decoder.Build(isa.ISA_IMC, isa.VERSION1)
	require.NoError(t, err)
	if fused {
		dec, err = decoder.NewFusionDecoder(dec)
		require.NoError(t, err)
	}
	code, err := m.Run(context.Background(), dec)
	require.NoError(t, err)
	require.Equal(t, int8(0), code)
	return m
}

func TestWriterRecordsSteps(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WithRegisters())
	runLogged(t, w, true)
	require.NoError(t, w.Close())

	steps, err := ReadSteps(&buf)
	require.NoError(t, err)
	require.Len(t, steps, int(w.Written()))
	require.NotEmpty(t, steps)

	first := steps[0]
	assert.Equal(t, uint64(asm.DefaultBase), first.PC)
	assert.Equal(t, "CUSTOM_LOAD_UIMM", first.OpcodeStr)
	assert.Equal(t, uint8(4), first.Instruction.Length)
	assert.Equal(t, int64(asm.DefaultBase+0x1000), first.Instruction.Imm)
	require.NotNil(t, first.Registers)
	assert.Equal(t, uint64(1), first.Cycles, "charged before the observer runs")

	assert.Equal(t, uint64(asm.DefaultBase+4), steps[1].PC)
	assert.Equal(t, uint8(2), steps[1].Instruction.Length)
	assert.Equal(t, "ECALL", steps[len(steps)-1].OpcodeStr)
}

func TestFusedAndUnfusedFollowSamePath(t *testing.T) {
	var fusedBuf, plainBuf bytes.Buffer
	fw := NewWriter(&fusedBuf)
	pw := NewWriter(&plainBuf)
	runLogged(t, fw, true)
	runLogged(t, pw, false)
	require.NoError(t, fw.Close())
	require.NoError(t, pw.Close())

	fused, err := ReadSteps(&fusedBuf)
	require.NoError(t, err)
	plain, err := ReadSteps(&plainBuf)
	require.NoError(t, err)
	assert.Equal(t, -1, FirstDivergence(fused, plain))
	assert.Nil(t, fused[0].Registers)
	assert.Equal(t, "AUIPC", plain[0].OpcodeStr)
}

func TestFirstDivergence(t *testing.T) {
	a := []Step{{PC: 1}, {PC: 2}, {PC: 3}}
	assert.Equal(t, -1, FirstDivergence(a, a))
	assert.Equal(t, 1, FirstDivergence(a, []Step{{PC: 1}, {PC: 5}}))
	assert.Equal(t, 2, FirstDivergence(a, a[:2]))
}

func TestWriterLimitAndClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WithLimit(3))
	runLogged(t, w, true)
	assert.Equal(t, uint64(3), w.Written())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteStep(&Step{}), ErrWriterClosed)
	assert.ErrorIs(t, w.Flush(), ErrWriterClosed)

	steps, err := ReadSteps(&buf)
	require.NoError(t, err)
	assert.Len(t, steps, 3)
}

func TestWriterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.jsonl")
	w, err := NewWriterFile(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteStep(NewStep(0x10000, isa.Utype(isa.OP_LUI, isa.A0, 0x1000))))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	steps, err := ReadSteps(f)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "LUI a0, 0x1000", steps[0].Text)
}

func TestReadStepsRejectsGarbage(t *testing.T) {
	_, err := ReadSteps(bytes.NewBufferString("{\"pc\":1}\nnot json\n"))
	assert.Error(t, err)
}
