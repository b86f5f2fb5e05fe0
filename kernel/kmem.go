// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"github.com/dustin/go-humanize"
)

// Kernel heap configuration. The arena holds heapSize bytes of
// blocks plus the block status table in front of them.
const (
	heapStartAddress PhysicalAddress = 0x01000000
	heapSize                         = 64 << 20
	heapBlockSize                    = 4096
	heapEndAddress                   = heapStartAddress + heapSize + heapSize/heapBlockSize
)

// MemorySize is the amount of physical memory, starting at address
// 0, that the kernel needs.
const MemorySize = int(heapEndAddress)

// KMem is the kernel memory allocator. It owns the one kernel heap
// and is the allocation surface for the rest of the kernel.
type KMem struct {
	heap Heap
	con  *Console
}

// NewKMem returns an allocator over mem. Diagnostics go to con,
// which may be nil.
func NewKMem(mem *Memory, con *Console) *KMem {
	return &KMem{heap: Heap{mem: mem}, con: con}
}

// Init initializes the kernel heap. Failure leaves the allocator
// unusable and is fatal to kernel bring-up.
func (k *KMem) Init() error {
	k.con.Printf("Initializing KMem...\n")
	k.con.Printf("Initializing Heap (%s in %s blocks at %#x)...\n",
		humanize.IBytes(heapSize), humanize.IBytes(heapBlockSize), heapStartAddress)
	if err := k.heap.Init(heapStartAddress, heapEndAddress, heapBlockSize, heapSize); err != nil {
		k.con.Printf("Failed to initialize heap: %v\n", err)
		return err
	}
	return nil
}

// Alloc allocates at least size bytes and returns their address,
// or 0 if the heap is exhausted.
func (k *KMem) Alloc(size uint32) PhysicalAddress {
	return k.heap.Alloc(size)
}

// ZAlloc is like Alloc, but zeroes the allocated blocks.
func (k *KMem) ZAlloc(size uint32) PhysicalAddress {
	addr := k.Alloc(size)
	if addr == 0 {
		return 0
	}
	n := k.heap.blocksFor(size) * k.heap.blockSize
	k.heap.mem.zero(addr, int(n))
	return addr
}

// Free releases the allocation at addr.
func (k *KMem) Free(addr PhysicalAddress) {
	k.heap.Free(addr)
}

// Bytes returns size bytes of memory at addr.
func (k *KMem) Bytes(addr PhysicalAddress, size int) []byte {
	return k.heap.mem.Bytes(addr, size)
}

// Stats returns the heap block usage.
func (k *KMem) Stats() HeapStats {
	return k.heap.Stats()
}

// Verify checks the heap block table for corruption.
func (k *KMem) Verify() error {
	return verifyHeap(&k.heap)
}

// Runs returns the live allocations in address order.
func (k *KMem) Runs() []HeapRun {
	return k.heap.Runs()
}

// BlockMap returns the heap block map; see Heap.BlockMap.
func (k *KMem) BlockMap(max int) string {
	return k.heap.BlockMap(max)
}
