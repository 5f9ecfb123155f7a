// Package memory implements the byte-addressable machine memory. Pages carry
// flags; a page marked executable rejects stores, which is what lets decoded
// traces stay valid without any invalidation protocol.
package memory

const (
	PageShift = 12
	PageSize  = 1 << PageShift

	// DefaultMemorySize matches the 4 MiB address space programs are linked for.
	DefaultMemorySize = 4 << 20
)

// Page flags.
const (
	FLAG_EXECUTABLE uint8 = 1 << 0
	FLAG_FREEZED    uint8 = 1 << 1
	FLAG_DIRTY      uint8 = 1 << 2
)

// Memory is the view of machine memory used by the decoders, the executor
// and the loader.
type Memory interface {
	Size() uint64

	Load8(addr uint64) (uint64, error)
	Load16(addr uint64) (uint64, error)
	Load32(addr uint64) (uint64, error)
	Load64(addr uint64) (uint64, error)
	LoadBytes(addr, size uint64) ([]byte, error)

	Store8(addr, value uint64) error
	Store16(addr, value uint64) error
	Store32(addr, value uint64) error
	Store64(addr, value uint64) error
	StoreBytes(addr uint64, value []byte) error

	// ExecuteLoad16 and ExecuteLoad32 fetch instruction parcels.
	ExecuteLoad16(addr uint64) (uint16, error)
	ExecuteLoad32(addr uint64) (uint32, error)

	// InitPages copies src into [addr, addr+size), zero-filling the rest, and
	// then applies flags to every page in the range. It bypasses page flags
	// so the loader can populate executable segments.
	InitPages(addr, size uint64, flags uint8, src []byte) error

	// InitBytes copies src into [addr, addr+size), zero-filling the rest,
	// without alignment requirements and without touching page flags.
	InitBytes(addr, size uint64, src []byte) error

	Flag(page uint64) uint8
	SetFlag(page uint64, flag uint8) error
	ClearFlag(page uint64, flag uint8) error
}

// RoundPageDown rounds addr down to a page boundary.
func RoundPageDown(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// RoundPageUp rounds addr up to a page boundary.
func RoundPageUp(addr uint64) uint64 {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}
