package machine

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/isa"
	"github.com/colorfulnotion/rvm/rvm/memory"
	"github.com/colorfulnotion/rvm/rvmerrors"
)

const (
	// FlatImageBase is where images without an ELF header are placed and
	// entered.
	FlatImageBase = 0x10000

	// DefaultStackSize is reserved at the top of memory for the stack.
	DefaultStackSize = 1 << 20
)

// LoadProgram places image in memory, builds the argc/argv stack and points
// pc at the entry. Executable segments are mapped with FLAG_EXECUTABLE and
// read-only ones are frozen.
func (m *Machine) LoadProgram(image []byte, args [][]byte) (uint64, error) {
	var entry uint64
	var err error
	if bytes.HasPrefix(image, []byte(elf.ELFMAG)) {
		entry, err = m.loadElf(image)
	} else {
		entry, err = m.loadFlat(image)
	}
	if err != nil {
		return 0, err
	}
	if err := m.initStack(args, DefaultStackSize); err != nil {
		return 0, err
	}
	m.pc = entry
	m.nextPC = entry
	m.running = true
	log.Debug(log.MachineMonitoring, "program loaded", "entry", fmt.Sprintf("0x%x", entry), "bytes", len(image), "args", len(args))
	return entry, nil
}

func (m *Machine) loadFlat(image []byte) (uint64, error) {
	if len(image) == 0 {
		return 0, fmt.Errorf("%w: empty image", rvmerrors.ErrLInvalidElf)
	}
	size := memory.RoundPageUp(uint64(len(image)))
	if err := m.memory.InitPages(FlatImageBase, size, memory.FLAG_EXECUTABLE, image); err != nil {
		return 0, err
	}
	return FlatImageBase, nil
}

func (m *Machine) loadElf(image []byte) (uint64, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", rvmerrors.ErrLInvalidElf, err)
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_RISCV {
		return 0, fmt.Errorf("%w: class=%v data=%v machine=%v", rvmerrors.ErrLElfBits, f.Class, f.Data, f.Machine)
	}
	loaded := 0
	// Page flags are applied once every segment is in place. A page may be
	// shared by segments only if they agree on writability.
	pageFlags := make(map[uint64]uint8)
	pageOwner := make(map[uint64]uint64)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if prog.Filesz > prog.Memsz {
			return 0, fmt.Errorf("%w: segment file size exceeds memory size", rvmerrors.ErrLInvalidElf)
		}
		end := prog.Vaddr + prog.Memsz
		if end < prog.Vaddr {
			return 0, fmt.Errorf("%w: segment at 0x%x wraps", rvmerrors.ErrLInvalidElf, prog.Vaddr)
		}
		var flags uint8
		switch {
		case prog.Flags&elf.PF_X != 0:
			flags = memory.FLAG_EXECUTABLE
		case prog.Flags&elf.PF_W == 0:
			flags = memory.FLAG_FREEZED
		}
		for p := memory.RoundPageDown(prog.Vaddr) >> memory.PageShift; p < memory.RoundPageUp(end)>>memory.PageShift; p++ {
			prev, shared := pageFlags[p]
			if shared && (prev == 0) != (flags == 0) {
				return 0, fmt.Errorf("%w: segments at 0x%x and 0x%x share page 0x%x with conflicting permissions",
					rvmerrors.ErrLInvalidElf, pageOwner[p], prog.Vaddr, p<<memory.PageShift)
			}
			pageFlags[p] = prev | flags
			pageOwner[p] = prog.Vaddr
		}
		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil {
			return 0, fmt.Errorf("%w: %v", rvmerrors.ErrLInvalidElf, err)
		}
		if err := m.memory.InitBytes(prog.Vaddr, prog.Memsz, data); err != nil {
			return 0, err
		}
		loaded++
		log.Trace(log.MachineMonitoring, "segment", "vaddr", fmt.Sprintf("0x%x", prog.Vaddr), "memsz", prog.Memsz, "flags", prog.Flags.String())
	}
	for p, flags := range pageFlags {
		if flags == 0 {
			continue
		}
		if err := m.memory.SetFlag(p, flags); err != nil {
			return 0, err
		}
	}
	if loaded == 0 {
		return 0, fmt.Errorf("%w: no loadable segments", rvmerrors.ErrLInvalidElf)
	}
	return f.Entry, nil
}

// initStack lays out argument strings at the top of memory followed, below
// them, by argc, the argv pointers and a NULL terminator. sp ends 16-byte
// aligned and points at argc; a0 and a1 also receive argc and argv.
func (m *Machine) initStack(args [][]byte, stackSize uint64) error {
	top := m.memory.Size()
	if stackSize > top {
		stackSize = top
	}
	bottom := top - stackSize

	need := uint64(8 * (len(args) + 2))
	for _, a := range args {
		need += uint64(len(a)) + 1
	}
	if need+16 > stackSize {
		return fmt.Errorf("%w: %d bytes for %d args", rvmerrors.ErrLArgsTooLarge, need, len(args))
	}

	sp := top
	pointers := make([]uint64, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		sp -= uint64(len(args[i])) + 1
		if err := m.memory.StoreBytes(sp, append(append([]byte(nil), args[i]...), 0)); err != nil {
			return err
		}
		pointers[i] = sp
	}
	sp &^= 7
	sp -= uint64(8 * (len(args) + 2))
	sp &^= 15
	if sp < bottom {
		return fmt.Errorf("%w: stack underflow", rvmerrors.ErrLArgsTooLarge)
	}

	frame := make([]byte, 8*(len(args)+2))
	binary.LittleEndian.PutUint64(frame, uint64(len(args)))
	for i, p := range pointers {
		binary.LittleEndian.PutUint64(frame[8*(i+1):], p)
	}
	if err := m.memory.StoreBytes(sp, frame); err != nil {
		return err
	}
	m.SetRegister(isa.SP, sp)
	m.SetRegister(isa.A0, uint64(len(args)))
	m.SetRegister(isa.A1, sp+8)
	return nil
}
