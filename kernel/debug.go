// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// HeapRun is one allocation found in the block status table.
type HeapRun struct {
	Addr   PhysicalAddress `json:"addr"`
	Block  uint32          `json:"block"`
	Blocks uint32          `json:"blocks"`
}

func (r HeapRun) end() uint32 {
	return r.Block + r.Blocks
}

// Runs returns the allocations of the heap in block order.
func (h *Heap) Runs() []HeapRun {
	runs, _ := dumpHeap(h)
	return runs
}

// BlockMap renders the first max blocks of the status table, one
// character per block: '.' free, 'S' start of an allocation, '+'
// continuation and '?' for a corrupt entry. A max of 0 or less
// renders every block.
func (h *Heap) BlockMap(max int) string {
	n := int(h.blockCount)
	if max > 0 && max < n {
		n = max
	}
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(h.state(uint32(i)).glyph())
	}
	return b.String()
}

// dumpHeap walks the status table and returns its runs, along with
// the indices of entries that break the table invariants.
func dumpHeap(h *Heap) ([]HeapRun, []uint32) {
	var runs []HeapRun
	var bad []uint32
	for i := uint32(0); i < h.blockCount; i++ {
		switch s := h.state(i); s {
		case blockFree:
		case blockStart:
			runs = append(runs, HeapRun{Addr: h.blockToAddress(i), Block: i, Blocks: 1})
		case blockContinuation:
			if n := len(runs); n > 0 && runs[n-1].end() == i {
				runs[n-1].Blocks++
				continue
			}
			// A continuation not preceded by its run.
			bad = append(bad, i)
		default:
			bad = append(bad, i)
		}
	}
	return runs, bad
}

// verifyHeap checks the status table for invalid entries and
// overlapping runs.
func verifyHeap(h *Heap) error {
	runs, bad := dumpHeap(h)
	if len(bad) > 0 {
		return fmt.Errorf("verifyHeap: %d invalid block entries, first at block %d (%v)",
			len(bad), bad[0], h.state(bad[0]))
	}
	slices.SortFunc(runs, func(r1, r2 HeapRun) int {
		switch {
		case r1.Block < r2.Block:
			return -1
		case r1.Block > r2.Block:
			return 1
		}
		return int(r1.Blocks) - int(r2.Blocks)
	})
	for i := 0; i < len(runs)-1; i++ {
		r1 := runs[i]
		r2 := runs[i+1]
		if r1.end() > r2.Block {
			return fmt.Errorf("verifyHeap: overlapping runs: %+v %+v", r1, r2)
		}
	}
	if n := len(runs); n > 0 && runs[n-1].end() > h.blockCount {
		return fmt.Errorf("verifyHeap: run %+v past block %d", runs[n-1], h.blockCount)
	}
	return nil
}

// overlaps reports whether two allocations share a block.
func (r HeapRun) overlaps(r2 HeapRun) bool {
	return r.Block <= r2.Block && r.end() > r2.Block ||
		r2.Block <= r.Block && r2.end() > r.Block
}

// runAt returns the run containing block, if any.
func runAt(runs []HeapRun, block uint32) (HeapRun, bool) {
	i, _ := slices.BinarySearchFunc(runs, block, func(r HeapRun, b uint32) int {
		switch {
		case r.end() <= b:
			return -1
		case r.Block > b:
			return 1
		}
		return 0
	})
	if i >= len(runs) || !runs[i].overlaps(HeapRun{Block: block, Blocks: 1}) {
		return HeapRun{}, false
	}
	return runs[i], true
}

// RunAt returns the allocation containing addr.
func (h *Heap) RunAt(addr PhysicalAddress) (HeapRun, bool) {
	if addr < h.start || addr >= h.end {
		return HeapRun{}, false
	}
	return runAt(h.Runs(), h.addressToBlock(addr))
}
