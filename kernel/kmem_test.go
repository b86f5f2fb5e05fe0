// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestKMem(t *testing.T) *KMem {
	t.Helper()
	mem, err := NewMemory(0, MemorySize)
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	k := NewKMem(mem, nil)
	require.NoError(t, k.Init())
	return k
}

func TestKMemConfiguration(t *testing.T) {
	k := newTestKMem(t)
	s := k.Stats()
	require.Equal(t, uint32(heapBlockSize), s.BlockSize)
	require.Equal(t, uint32(heapSize/heapBlockSize), s.Blocks)
	require.Equal(t, s.Blocks, s.FreeBlocks)
	require.Equal(t, s.Blocks, s.LargestFree)

	addr := k.Alloc(1)
	require.Equal(t, heapStartAddress+heapSize/heapBlockSize, addr)
	// The status table size is a multiple of the block size, so
	// blocks are aligned.
	require.Zero(t, addr%heapBlockSize)
}

func TestKMemInitPropagatesFailure(t *testing.T) {
	// Too small to hold the kernel heap.
	mem, err := NewMemory(0, int(heapStartAddress))
	require.NoError(t, err)
	defer mem.Close()
	k := NewKMem(mem, nil)
	err = k.Init()
	require.ErrorIs(t, err, ErrInvalid)
	require.Zero(t, k.Alloc(1))
	require.Zero(t, k.ZAlloc(1))
}

func TestKMemZAlloc(t *testing.T) {
	k := newTestKMem(t)
	sizes := []uint32{1, heapBlockSize - 1, heapBlockSize, 3*heapBlockSize + 7}
	for _, size := range sizes {
		addr := k.Alloc(size)
		require.NotZero(t, addr)
		b := k.Bytes(addr, int(size))
		for i := range b {
			b[i] = 0xee
		}
		k.Free(addr)

		z := k.ZAlloc(size)
		require.Equal(t, addr, z)
		for _, c := range k.Bytes(z, int(size)) {
			require.Zero(t, c)
		}
		k.Free(z)
	}
}

func TestKMemZAllocWholeArena(t *testing.T) {
	k := newTestKMem(t)
	// Dirty a block in the middle of the arena.
	a := k.Alloc(heapSize / 2)
	b := k.Alloc(heapBlockSize)
	require.NotZero(t, b)
	k.Bytes(b, heapBlockSize)[100] = 1
	k.Free(a)
	k.Free(b)

	z := k.ZAlloc(heapSize)
	require.NotZero(t, z)
	for _, c := range k.Bytes(z, heapSize) {
		if c != 0 {
			t.Fatal("ZAlloc returned dirty memory")
		}
	}
	require.Zero(t, k.ZAlloc(1))
	require.NoError(t, k.Verify())
}

func TestKMemExhaustion(t *testing.T) {
	k := newTestKMem(t)
	require.NotZero(t, k.Alloc(heapSize))
	require.Zero(t, k.Alloc(1))
	require.Zero(t, k.ZAlloc(heapBlockSize))
	require.Equal(t, uint32(1), k.Stats().Allocations)
}
