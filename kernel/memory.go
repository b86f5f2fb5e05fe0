// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import "fmt"

// PhysicalAddress is an address in the machine's physical memory.
type PhysicalAddress uintptr

// Memory is the physical memory of the machine: one contiguous
// byte region starting at a fixed physical address. All kernel
// access to memory goes through its bounds-checked accessors.
type Memory struct {
	base PhysicalAddress
	mem  []byte
	// release returns the backing region to the host.
	release func([]byte) error
}

// NewMemory maps size bytes of zeroed memory at physical address
// base.
func NewMemory(base PhysicalAddress, size int) (*Memory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("NewMemory: size %d: %w", size, ErrInvalid)
	}
	mem, release, err := mapMemory(size)
	if err != nil {
		return nil, fmt.Errorf("NewMemory: %w", err)
	}
	return &Memory{base: base, mem: mem, release: release}, nil
}

// Close releases the backing region. The memory must not be used
// afterwards.
func (m *Memory) Close() error {
	if m.mem == nil {
		return nil
	}
	mem := m.mem
	m.mem = nil
	return m.release(mem)
}

// Start returns the lowest physical address.
func (m *Memory) Start() PhysicalAddress {
	return m.base
}

// End returns the address one past the highest physical address.
func (m *Memory) End() PhysicalAddress {
	return m.base + PhysicalAddress(len(m.mem))
}

// Bytes returns the memory range [addr, addr+size) as a slice, or
// nil if the range is not entirely backed by memory.
func (m *Memory) Bytes(addr PhysicalAddress, size int) []byte {
	if !m.contains(addr, size) {
		return nil
	}
	off := int(addr - m.base)
	return m.mem[off : off+size : off+size]
}

// contains reports whether [addr, addr+size) lies within the
// memory.
func (m *Memory) contains(addr PhysicalAddress, size int) bool {
	if size < 0 || addr < m.base {
		return false
	}
	off := uint64(addr - m.base)
	n := uint64(len(m.mem))
	return off <= n && uint64(size) <= n-off
}

func (m *Memory) load8(addr PhysicalAddress) uint8 {
	return m.mem[addr-m.base]
}

func (m *Memory) store8(addr PhysicalAddress, v uint8) {
	m.mem[addr-m.base] = v
}

// zero clears the range [addr, addr+size), which must be valid.
func (m *Memory) zero(addr PhysicalAddress, size int) {
	b := m.Bytes(addr, size)
	for i := range b {
		b[i] = 0
	}
}
