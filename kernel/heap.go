// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import "fmt"

// Heap is a block allocator for one contiguous arena of physical
// memory. Its only bookkeeping is a status table of one byte per
// block, stored at the front of the arena itself:
//
//	arena start                start             end
//	| status table (count B) | block 0 | block 1 | ... |
//
// A Heap is not safe for concurrent use, and must not be called
// from an interrupt handler while another call is in progress.
type Heap struct {
	mem *Memory

	blockSize  uint32
	blockCount uint32
	heapSize   uint32

	// blocks is the address of the status table.
	blocks PhysicalAddress
	// start is the address of block 0.
	start PhysicalAddress
	// end is one past the last address of the arena.
	end PhysicalAddress
}

// HeapStats summarizes the block usage of a heap.
type HeapStats struct {
	BlockSize   uint32 `json:"blockSize"`
	Blocks      uint32 `json:"blocks"`
	UsedBlocks  uint32 `json:"usedBlocks"`
	FreeBlocks  uint32 `json:"freeBlocks"`
	Allocations uint32 `json:"allocations"`
	// LargestFree is the length in blocks of the longest free run,
	// the largest allocation that can currently succeed.
	LargestFree uint32 `json:"largestFree"`
}

// NewHeap returns an uninitialized heap over mem. Every allocation
// fails until Init succeeds.
func NewHeap(mem *Memory) *Heap {
	return &Heap{mem: mem}
}

// Init sets up the heap for the arena [start, end), with heapSize
// bytes divided into blocks of blockSize bytes. The status table
// takes the first heapSize/blockSize bytes of the arena, so end
// must leave room for the table in front of the blocks.
//
// Init fails with ErrInvalid if start or end is not aligned to
// blockSize, and with ErrLayout if the blocks between the table
// and end do not match the block count. A failed Init leaves the
// heap and the arena unmodified.
func (h *Heap) Init(start, end PhysicalAddress, blockSize, heapSize uint32) error {
	if blockSize == 0 {
		return fmt.Errorf("heap: zero block size: %w", ErrInvalid)
	}
	bs := PhysicalAddress(blockSize)
	if start%bs != 0 || end%bs != 0 {
		return fmt.Errorf("heap: arena [%#x, %#x) not aligned to %d: %w", start, end, blockSize, ErrInvalid)
	}
	if end < start || !h.mem.contains(start, int(end-start)) {
		return fmt.Errorf("heap: arena [%#x, %#x) outside memory: %w", start, end, ErrInvalid)
	}
	count := heapSize / blockSize
	first := start + PhysicalAddress(count)
	if end < first || (end-first)/bs != PhysicalAddress(count) {
		return fmt.Errorf("heap: %d blocks do not fit [%#x, %#x): %w", count, first, end, ErrLayout)
	}
	h.heapSize = heapSize
	h.blockSize = blockSize
	h.blockCount = count
	h.blocks = start
	h.start = first
	h.end = end
	h.mem.zero(h.blocks, int(count))
	return nil
}

// Alloc reserves the smallest whole number of blocks holding size
// bytes and returns the address of the first. It returns 0 if no
// run of free blocks is large enough, or if size is 0.
func (h *Heap) Alloc(size uint32) PhysicalAddress {
	n := h.blocksFor(size)
	if n == 0 {
		return 0
	}
	first, err := h.findRun(n)
	if err != nil {
		return 0
	}
	h.markAllocated(first, n)
	return h.blockToAddress(first)
}

// Free releases the allocation starting at addr. The address is
// not checked against earlier Alloc results: freeing an address in
// the middle of an allocation releases the rest of it, and freeing
// a free block is a no-op. Addresses outside the arena are ignored.
func (h *Heap) Free(addr PhysicalAddress) {
	if addr < h.start || addr >= h.end {
		return
	}
	block := h.addressToBlock(addr)
	if block >= h.blockCount {
		return
	}
	h.markFree(block)
}

// Stats returns the current block usage.
func (h *Heap) Stats() HeapStats {
	s := HeapStats{BlockSize: h.blockSize, Blocks: h.blockCount}
	var run uint32
	for i := uint32(0); i < h.blockCount; i++ {
		st := h.state(i)
		if !st.free() {
			s.UsedBlocks++
			if st == blockStart {
				s.Allocations++
			}
			run = 0
			continue
		}
		run++
		if run > s.LargestFree {
			s.LargestFree = run
		}
	}
	s.FreeBlocks = s.Blocks - s.UsedBlocks
	return s
}

// blocksFor returns the number of blocks needed for size bytes.
func (h *Heap) blocksFor(size uint32) uint32 {
	if h.blockSize == 0 {
		return 0
	}
	return uint32((uint64(size) + uint64(h.blockSize) - 1) / uint64(h.blockSize))
}

// findRun returns the index of the first run of n free blocks.
func (h *Heap) findRun(n uint32) (uint32, error) {
	var count uint32
	for i := uint32(0); i < h.blockCount; i++ {
		if !h.state(i).free() {
			count = 0
			continue
		}
		count++
		if count == n {
			return i + 1 - n, nil
		}
	}
	return 0, ErrNoMem
}

// markAllocated tags the first block of the run as the start of an
// allocation and every following block as its continuation.
func (h *Heap) markAllocated(first, n uint32) {
	h.setState(first, blockStart)
	for i := first + 1; i < first+n; i++ {
		h.setState(i, blockContinuation)
	}
}

// markFree clears block and every continuation block after it.
func (h *Heap) markFree(block uint32) {
	h.setState(block, blockFree)
	for i := block + 1; i < h.blockCount; i++ {
		if h.state(i) != blockContinuation {
			break
		}
		h.setState(i, blockFree)
	}
}

func (h *Heap) state(block uint32) blockState {
	return blockState(h.mem.load8(h.blocks + PhysicalAddress(block)))
}

func (h *Heap) setState(block uint32, s blockState) {
	h.mem.store8(h.blocks+PhysicalAddress(block), uint8(s))
}

func (h *Heap) blockToAddress(block uint32) PhysicalAddress {
	return h.start + PhysicalAddress(block)*PhysicalAddress(h.blockSize)
}

func (h *Heap) addressToBlock(addr PhysicalAddress) uint32 {
	return uint32((addr - h.start) / PhysicalAddress(h.blockSize))
}
