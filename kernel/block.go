// SPDX-License-Identifier: Unlicense OR MIT

package kernel

// blockState is the status of one heap block, stored as one byte
// in the block status table.
type blockState uint8

const (
	blockFlagAllocated    = 1 << 0
	blockFlagContinuation = 1 << 6
	blockFlagStart        = 1 << 7
)

const (
	blockFree blockState = 0
	// blockStart is the first block of an allocation.
	blockStart blockState = blockFlagStart | blockFlagAllocated
	// blockContinuation is a block contiguous with the block before
	// it in the same allocation.
	blockContinuation blockState = blockFlagContinuation | blockFlagAllocated
)

// free reports whether the block is available. Bytes other than
// the three known states never read as free.
func (s blockState) free() bool {
	return s == blockFree
}

func (s blockState) String() string {
	switch s {
	case blockFree:
		return "free"
	case blockStart:
		return "start"
	case blockContinuation:
		return "continuation"
	default:
		return "invalid"
	}
}

// glyph is the block map character for the state.
func (s blockState) glyph() byte {
	switch s {
	case blockFree:
		return '.'
	case blockStart:
		return 'S'
	case blockContinuation:
		return '+'
	default:
		return '?'
	}
}
