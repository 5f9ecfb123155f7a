package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/rvm/config"
	"github.com/colorfulnotion/rvm/rvm/asm"
	"github.com/colorfulnotion/rvm/rvm/tracedb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProgram(t *testing.T, image []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.bin")
	require.NoError(t, os.WriteFile(path, image, 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	prog := writeProgram(t, asm.AuipcProgram())
	for _, engine := range []string{"interpreter", "trace"} {
		_, err := execute(t, "run", "-q", "--engine", engine, prog)
		assert.NoError(t, err, engine)
	}

	loop, err := asm.LoopProgram(100)
	require.NoError(t, err)
	_, err = execute(t, "run", "-q", writeProgram(t, loop))
	var ee exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, int8(-70), ee.code)
}

func TestRunRecordsToDB(t *testing.T) {
	image := asm.AuipcProgram()
	prog := writeProgram(t, image)
	db := filepath.Join(t.TempDir(), "db")
	steps := filepath.Join(t.TempDir(), "steps.jsonl")
	_, err := execute(t, "run", "-q", "--db", db, "--steplog", steps, prog)
	require.NoError(t, err)

	info, err := os.Stat(steps)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	store, err := tracedb.Open(db)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(tracedb.ProgramDigest(image))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "trace", runs[0].Engine)
	assert.NotZero(t, runs[0].Builds)
	blocks, err := store.LoadProfile(tracedb.ProgramDigest(image))
	require.NoError(t, err)
	assert.NotEmpty(t, blocks)
}

func TestTraceCommand(t *testing.T) {
	prog := writeProgram(t, asm.AuipcProgram())
	out, err := execute(t, "trace", "--follow", "1", prog)
	require.NoError(t, err)
	assert.Contains(t, out, "state=block_end")
	assert.Contains(t, out, "trace 0x10000 len=18")
	assert.Contains(t, out, "trace 0x10012")

	out, err = execute(t, "trace", "--all", prog)
	require.NoError(t, err)
	assert.Contains(t, out, "slots occupied")
	assert.Contains(t, out, "exit=0")
}

func TestEquivCommand(t *testing.T) {
	prog := writeProgram(t, asm.AuipcProgram())
	out, err := execute(t, "equiv", "--steps", prog)
	require.NoError(t, err)
	assert.Contains(t, out, "step paths match")
	assert.Contains(t, out, "final state: FullMatch")
}

func TestProfileCommand(t *testing.T) {
	loop, err := asm.LoopProgram(20)
	require.NoError(t, err)
	head, err := asm.LoopHead(20)
	require.NoError(t, err)
	prog := writeProgram(t, loop)
	html := filepath.Join(t.TempDir(), "profile.html")
	out, err := execute(t, "profile", "--top", "2", "--html", html, "--db", filepath.Join(t.TempDir(), "db"), prog)
	require.NoError(t, err)
	// The exit syscall outweighs 19 loop entries; both make the top two.
	assert.Contains(t, out, fmt.Sprintf("0x%-10x", head))
	assert.Contains(t, out, "exit=")
	assert.Contains(t, out, "chart written")
	_, err = os.Stat(html)
	assert.NoError(t, err)
}

func TestDisasmCommand(t *testing.T) {
	prog := writeProgram(t, asm.AuipcProgram())
	out, err := execute(t, "disasm", "--len", "18", prog)
	require.NoError(t, err)
	assert.Contains(t, out, "* CUSTOM_LOAD_UIMM")
}

func TestDebuggerCommands(t *testing.T) {
	image := asm.AuipcProgram()
	s, err := newSession(config.Default(), image, []string{"prog"}, &bytes.Buffer{}, nil)
	require.NoError(t, err)
	var out bytes.Buffer
	d := &debugger{s: s, out: &out, breaks: map[uint64]bool{}}
	d.exec([]string{"step", "2"})
	assert.Equal(t, uint64(asm.DefaultBase+6), s.mach.PC())

	d.exec([]string{"break", "0x10012"})
	d.exec([]string{"continue"})
	assert.Equal(t, uint64(0x10012), s.mach.PC())
	assert.Contains(t, out.String(), "breakpoint at 0x10012")
	assert.True(t, d.exec([]string{"quit"}))
}

func TestConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rvm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trace:\n  engine: jit\n"), 0o644))
	_, err := execute(t, "--config", path, "disasm", writeProgram(t, asm.AuipcProgram()))
	assert.Error(t, err)
}

func TestSampleCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auipc.bin")
	_, err := execute(t, "sample", "auipc", "-o", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, asm.AuipcProgram(), data)

	_, err = execute(t, "sample", "nope")
	assert.Error(t, err)
}
