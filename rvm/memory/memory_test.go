package memory

import (
	"testing"

	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) *Sparse {
	t.Helper()
	mem, err := NewSparse(16 * PageSize)
	require.NoError(t, err)
	return mem
}

func TestNewSparseRejectsOddSizes(t *testing.T) {
	_, err := NewSparse(PageSize + 1)
	assert.ErrorIs(t, err, rvmerrors.ErrCInvalidConfig)
	_, err = NewSparse(0)
	assert.ErrorIs(t, err, rvmerrors.ErrCInvalidConfig)
}

func TestLoadStoreRoundTrip(t *testing.T) {
	mem := newTestMemory(t)

	v, err := mem.Load64(0x2000)
	require.NoError(t, err)
	assert.Zero(t, v, "untouched memory reads as zero")

	require.NoError(t, mem.Store64(0x2000, 0x1122334455667788))
	v, err = mem.Load32(0x2004)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x11223344), v)

	v, err = mem.Load8(0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x88), v)
}

func TestCrossPageAccess(t *testing.T) {
	mem := newTestMemory(t)
	addr := uint64(2*PageSize - 3)
	require.NoError(t, mem.Store64(addr, 0xdeadbeefcafef00d))
	v, err := mem.Load64(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeefcafef00d), v)
	assert.NotZero(t, mem.Flag(1)&FLAG_DIRTY)
	assert.NotZero(t, mem.Flag(2)&FLAG_DIRTY)
}

func TestOutOfBound(t *testing.T) {
	mem := newTestMemory(t)
	_, err := mem.Load32(mem.Size() - 2)
	assert.ErrorIs(t, err, rvmerrors.ErrMOutOfBound)
	assert.ErrorIs(t, mem.Store8(mem.Size(), 1), rvmerrors.ErrMOutOfBound)
	_, err = mem.Load64(^uint64(0) - 3)
	assert.ErrorIs(t, err, rvmerrors.ErrMOutOfBound, "address wrap must not pass the bound check")
	_, err = mem.ExecuteLoad32(mem.Size())
	assert.ErrorIs(t, err, rvmerrors.ErrMOutOfBound)
}

func TestExecutablePagesRejectStores(t *testing.T) {
	mem := newTestMemory(t)
	code := []byte{0x13, 0x00, 0x00, 0x00} // nop
	require.NoError(t, mem.InitPages(PageSize, PageSize, FLAG_EXECUTABLE, code))

	w, err := mem.ExecuteLoad32(PageSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x13), w)

	assert.ErrorIs(t, mem.Store32(PageSize, 0), rvmerrors.ErrMWriteOnExecutablePage)
	assert.ErrorIs(t, mem.StoreBytes(PageSize-2, []byte{1, 2, 3, 4}), rvmerrors.ErrMWriteOnExecutablePage)

	require.NoError(t, mem.SetFlag(3, FLAG_FREEZED))
	assert.ErrorIs(t, mem.Store8(3*PageSize, 1), rvmerrors.ErrMWriteOnFrozenPage)
	require.NoError(t, mem.ClearFlag(3, FLAG_FREEZED))
	assert.NoError(t, mem.Store8(3*PageSize, 1))
}

func TestInitPagesValidation(t *testing.T) {
	mem := newTestMemory(t)
	assert.ErrorIs(t, mem.InitPages(1, PageSize, 0, nil), rvmerrors.ErrMInvalidPermission)
	assert.ErrorIs(t, mem.InitPages(0, PageSize, 0, make([]byte, PageSize+1)), rvmerrors.ErrMOutOfBound)
	assert.ErrorIs(t, mem.InitPages(15*PageSize, 2*PageSize, 0, nil), rvmerrors.ErrMOutOfBound)
}

func TestRoundPage(t *testing.T) {
	assert.Equal(t, uint64(0x1000), RoundPageDown(0x1fff))
	assert.Equal(t, uint64(0x2000), RoundPageUp(0x1001))
	assert.Equal(t, uint64(0x2000), RoundPageUp(0x2000))
}

func TestInitBytesKeepsNeighbours(t *testing.T) {
	mem := newTestMemory(t)
	require.NoError(t, mem.InitBytes(PageSize, 4, []byte{1, 2, 3, 4}))
	require.NoError(t, mem.InitBytes(PageSize+8, 8, []byte{9}))

	b, err := mem.LoadBytes(PageSize, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0, 9, 0, 0, 0, 0, 0, 0, 0}, b)
	assert.Zero(t, mem.Flag(1))

	assert.ErrorIs(t, mem.InitBytes(PageSize, 1, []byte{1, 2}), rvmerrors.ErrMOutOfBound)
	assert.ErrorIs(t, mem.InitBytes(mem.Size()-1, 2, nil), rvmerrors.ErrMOutOfBound)
}
