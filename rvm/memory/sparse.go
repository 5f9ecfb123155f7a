package memory

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/rvm/rvmerrors"
)

type page [PageSize]byte

// Sparse allocates pages on first write; unwritten pages read as zero.
type Sparse struct {
	size  uint64
	pages map[uint64]*page
	flags []uint8
}

// NewSparse returns a Sparse memory of size bytes; size must be a non-zero multiple of PageSize.
func NewSparse(size uint64) (*Sparse, error) {
	if size == 0 || size%PageSize != 0 {
		return nil, fmt.Errorf("%w: memory size %d is not a multiple of %d", rvmerrors.ErrCInvalidConfig, size, PageSize)
	}
	return &Sparse{
		size:  size,
		pages: make(map[uint64]*page),
		flags: make([]uint8, size/PageSize),
	}, nil
}

func (m *Sparse) Size() uint64 {
	return m.size
}

func (m *Sparse) checkBounds(addr, size uint64) error {
	end := addr + size
	if end < addr || end > m.size {
		return rvmerrors.ErrMOutOfBound
	}
	return nil
}

func (m *Sparse) checkWritable(addr, size uint64) error {
	if size == 0 {
		return nil
	}
	for p := addr >> PageShift; p <= (addr+size-1)>>PageShift; p++ {
		flag := m.flags[p]
		if flag&FLAG_EXECUTABLE != 0 {
			return rvmerrors.ErrMWriteOnExecutablePage
		}
		if flag&FLAG_FREEZED != 0 {
			return rvmerrors.ErrMWriteOnFrozenPage
		}
	}
	return nil
}

func (m *Sparse) read(addr uint64, out []byte) {
	for len(out) > 0 {
		idx := addr >> PageShift
		off := addr & (PageSize - 1)
		n := uint64(len(out))
		if n > PageSize-off {
			n = PageSize - off
		}
		if p, ok := m.pages[idx]; ok {
			copy(out[:n], p[off:off+n])
		} else {
			clear(out[:n])
		}
		out = out[n:]
		addr += n
	}
}

func (m *Sparse) write(addr uint64, in []byte) {
	for len(in) > 0 {
		idx := addr >> PageShift
		off := addr & (PageSize - 1)
		n := uint64(len(in))
		if n > PageSize-off {
			n = PageSize - off
		}
		p, ok := m.pages[idx]
		if !ok {
			p = new(page)
			m.pages[idx] = p
		}
		copy(p[off:off+n], in[:n])
		m.flags[idx] |= FLAG_DIRTY
		in = in[n:]
		addr += n
	}
}

func (m *Sparse) load(addr, size uint64) (uint64, error) {
	if err := m.checkBounds(addr, size); err != nil {
		return 0, err
	}
	var buf [8]byte
	m.read(addr, buf[:size])
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m *Sparse) store(addr, size, value uint64) error {
	if err := m.checkBounds(addr, size); err != nil {
		return err
	}
	if err := m.checkWritable(addr, size); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	m.write(addr, buf[:size])
	return nil
}

func (m *Sparse) Load8(addr uint64) (uint64, error)  { return m.load(addr, 1) }
func (m *Sparse) Load16(addr uint64) (uint64, error) { return m.load(addr, 2) }
func (m *Sparse) Load32(addr uint64) (uint64, error) { return m.load(addr, 4) }
func (m *Sparse) Load64(addr uint64) (uint64, error) { return m.load(addr, 8) }

func (m *Sparse) Store8(addr, value uint64) error  { return m.store(addr, 1, value) }
func (m *Sparse) Store16(addr, value uint64) error { return m.store(addr, 2, value) }
func (m *Sparse) Store32(addr, value uint64) error { return m.store(addr, 4, value) }
func (m *Sparse) Store64(addr, value uint64) error { return m.store(addr, 8, value) }

func (m *Sparse) LoadBytes(addr, size uint64) ([]byte, error) {
	if err := m.checkBounds(addr, size); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	m.read(addr, out)
	return out, nil
}

func (m *Sparse) StoreBytes(addr uint64, value []byte) error {
	size := uint64(len(value))
	if err := m.checkBounds(addr, size); err != nil {
		return err
	}
	if err := m.checkWritable(addr, size); err != nil {
		return err
	}
	m.write(addr, value)
	return nil
}

func (m *Sparse) ExecuteLoad16(addr uint64) (uint16, error) {
	v, err := m.load(addr, 2)
	return uint16(v), err
}

func (m *Sparse) ExecuteLoad32(addr uint64) (uint32, error) {
	v, err := m.load(addr, 4)
	return uint32(v), err
}

func (m *Sparse) InitPages(addr, size uint64, flags uint8, src []byte) error {
	if addr%PageSize != 0 || size%PageSize != 0 {
		return fmt.Errorf("%w: range 0x%x+0x%x is not page aligned", rvmerrors.ErrMInvalidPermission, addr, size)
	}
	if err := m.InitBytes(addr, size, src); err != nil {
		return err
	}
	for p := addr >> PageShift; p < (addr+size)>>PageShift; p++ {
		m.flags[p] |= flags
	}
	return nil
}

func (m *Sparse) InitBytes(addr, size uint64, src []byte) error {
	if uint64(len(src)) > size {
		return fmt.Errorf("%w: %d bytes do not fit in 0x%x", rvmerrors.ErrMOutOfBound, len(src), size)
	}
	if err := m.checkBounds(addr, size); err != nil {
		return err
	}
	m.write(addr, src)
	if tail := size - uint64(len(src)); tail > 0 {
		m.write(addr+uint64(len(src)), make([]byte, tail))
	}
	return nil
}

func (m *Sparse) Flag(page uint64) uint8 {
	if page >= uint64(len(m.flags)) {
		return 0
	}
	return m.flags[page]
}

func (m *Sparse) SetFlag(page uint64, flag uint8) error {
	if page >= uint64(len(m.flags)) {
		return rvmerrors.ErrMOutOfBound
	}
	m.flags[page] |= flag
	return nil
}

func (m *Sparse) ClearFlag(page uint64, flag uint8) error {
	if page >= uint64(len(m.flags)) {
		return rvmerrors.ErrMOutOfBound
	}
	m.flags[page] &^= flag
	return nil
}
