package bufferpool

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/rtcore/internal/errors"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl := NewTable(nil)
	t.Cleanup(tbl.Close)
	return tbl
}

func TestTableScenario(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t)
	pid, err := tbl.NewPool(4, 2, 256)
	require.NoError(t, err)

	n, err := tbl.Available(pid)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	bufs := make([]BufferID, 0, 3)
	for range 3 {
		id, err := tbl.GetBuffer(pid)
		require.NoError(t, err)
		bufs = append(bufs, id)
	}
	n, err = tbl.Available(pid)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, id := range bufs {
		require.NoError(t, tbl.ReleaseBuffer(pid, id))
	}
	n, err = tbl.Available(pid)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	created, err := tbl.CreatedSinceLastChecked(pid)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), created)
}

func TestTableBufferData(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t)
	pid, err := tbl.NewPool(2, 0, 16)
	require.NoError(t, err)

	id, err := tbl.GetBuffer(pid)
	require.NoError(t, err)

	ptr, n, err := tbl.BufferData(id)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	assert.Equal(t, 16, n)

	samples := unsafe.Slice((*float32)(ptr), n)
	samples[0] = 0.25

	require.NoError(t, tbl.ReleaseBuffer(pid, id))
	_, _, err = tbl.BufferData(id)
	require.ErrorIs(t, err, ErrNotCheckedOut)

	again, err := tbl.GetBuffer(pid)
	require.NoError(t, err)
	ptr, _, err = tbl.BufferData(again)
	require.NoError(t, err)
	if again == id {
		assert.InDelta(t, 0.25, *(*float32)(ptr), 0)
	}
	require.NoError(t, tbl.ReleaseBuffer(pid, again))
}

func TestTableUnknownIDs(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t)
	pid, err := tbl.NewPool(2, 0, 4)
	require.NoError(t, err)

	_, err = tbl.GetBuffer(pid + 100)
	require.ErrorIs(t, err, ErrUnknownID)
	assert.True(t, errors.IsNotFound(err))

	require.ErrorIs(t, tbl.ReleaseBuffer(pid, 999), ErrUnknownID)

	_, _, err = tbl.BufferData(999)
	require.ErrorIs(t, err, ErrUnknownID)

	_, err = tbl.Available(pid + 1)
	require.ErrorIs(t, err, ErrUnknownID)

	require.NoError(t, tbl.ClosePool(pid))
	require.ErrorIs(t, tbl.ClosePool(pid), ErrUnknownID)
}

func TestTableInvalidPoolConfig(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t)
	_, err := tbl.NewPool(0, 0, 4)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Empty(t, tbl.Pools())
}

func TestTableReleaseIntoWrongPoolPanics(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t)
	a, err := tbl.NewPool(2, 0, 4)
	require.NoError(t, err)
	b, err := tbl.NewPool(2, 0, 4)
	require.NoError(t, err)

	id, err := tbl.GetBuffer(a)
	require.NoError(t, err)

	requireOwnershipPanic(t, func() {
		_ = tbl.ReleaseBuffer(b, id)
	})
}

func TestTableExhaustion(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t)
	pid, err := tbl.NewPool(1, 0, 4)
	require.NoError(t, err)

	_, err = tbl.GetBuffer(pid)
	require.NoError(t, err)
	_, err = tbl.GetBuffer(pid)
	require.ErrorIs(t, err, ErrExhausted)
}
