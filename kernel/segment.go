// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"encoding/binary"
	"fmt"
)

// Types and code for setting up processor segments and the task
// state structure. Segmenting is largely disabled in 64-bit mode,
// but a GDT and a TSS are nevertheless required.

// Kernel tables and stacks in low physical memory.
const (
	gdtAddress        PhysicalAddress = 0x00100000
	tssAddress        PhysicalAddress = 0x00100100
	idtAddress        PhysicalAddress = 0x00101000
	istackTop         PhysicalAddress = 0x00108000
	pageFaultStackTop PhysicalAddress = 0x00110000

	// Interrupt entry stubs, one per vector.
	trampolineBase PhysicalAddress = 0x00200000
	trampolineSize                 = 16
)

// segmentDescriptor represents a 64-bit segment descriptor.
type segmentDescriptor uint64

// TSS structure for amd64. Hardware task switching is not available
// in 64-bit mode, but a TSS structure must be defined to specify
// interrupt and ring 0 stacks.
type tss [25]uint32

type gdt [segmentEnd]segmentDescriptor

// Segment selectors. The SYSCALL/SYSRET instructions force the
// particular positions of the selectors.
const (
	// Mandatory null selector.
	_ = iota
	// Ring 0 code (64-bit).
	segmentCode0
	// Ring 0 data.
	segmentData0
	// Ring 3 code (32-bit).
	segment32Code3
	// Ring 3 data.
	segmentData3
	// Ring 3 code (64-bit).
	segment64Code3
	// TSS.
	segmentTSS0
	// TSS high address.
	segmentTSS0High
	// End sentinel for determining limit.
	segmentEnd
)

// There are 256 interrupts available.
type idt [256]idtDescriptor

// IDT descriptor, 16 bytes.
type idtDescriptor [2]uint64

type segmentFlags uint32
type privLevel uint32
type intVector uint8

const (
	ring0 privLevel = 0
	ring3 privLevel = 3
)

const (
	segFlagAccess  segmentFlags = 1 << 8
	segFlagWrite   segmentFlags = 1 << 9
	segFlagCode    segmentFlags = 1 << 11
	segFlagSystem  segmentFlags = 1 << 12
	segFlagPresent segmentFlags = 1 << 15
	segFlagLong    segmentFlags = 1 << 21
)

const (
	istGeneric = 1
	// Use a separate stack for page faults to handle faults
	// that occur during interrupts.
	istPageFault = 2
)

// loadGDT builds the TSS and the GDT in memory and loads them.
func (k *Kernel) loadGDT() error {
	var t tss
	t.setISP(istGeneric, uint64(istackTop))
	t.setISP(istPageFault, uint64(pageFaultStackTop))
	t.setRSP(0, uint64(istackTop))
	tssLimit := uint32(len(t)*4 - 1)
	// Block all I/O ports.
	t.setIOPerm(uint16(tssLimit + 1))

	var g gdt
	g[segmentCode0] = newSegmentDescriptor(0, 0, segFlagSystem|segFlagCode|segFlagLong, ring0)
	g[segmentData0] = newSegmentDescriptor(0, 0, segFlagSystem|segFlagWrite, ring0)
	g[segment32Code3] = newSegmentDescriptor(0, 0, segFlagSystem|segFlagCode|segFlagLong, ring3)
	g[segmentData3] = newSegmentDescriptor(0, 0, segFlagSystem|segFlagWrite, ring3)
	g[segment64Code3] = newSegmentDescriptor(0, 0, segFlagSystem|segFlagCode|segFlagLong, ring3)
	// The 64-bit TSS structure spans two descriptor entries,
	// with the high 32-bit address in the second entry.
	g[segmentTSS0] = newSegmentDescriptor(uint32(tssAddress), tssLimit, segFlagAccess|segFlagCode, ring0)
	g[segmentTSS0High] = segmentDescriptor(uint64(tssAddress) >> 32)

	tb := k.mem.Bytes(tssAddress, len(t)*4)
	if tb == nil {
		return fmt.Errorf("loadGDT: no memory for TSS at %#x: %w", tssAddress, ErrFault)
	}
	for i, w := range t {
		binary.LittleEndian.PutUint32(tb[i*4:], w)
	}
	gb := k.mem.Bytes(gdtAddress, len(g)*8)
	if gb == nil {
		return fmt.Errorf("loadGDT: no memory for GDT at %#x: %w", gdtAddress, ErrFault)
	}
	for i, d := range g {
		binary.LittleEndian.PutUint64(gb[i*8:], uint64(d))
	}
	k.m.LGDT(gdtAddress, uint16(len(gb)-1))
	k.m.SetSegments(selector(segmentCode0, ring0), selector(segmentData0, ring0))
	k.m.LTR(selector(segmentTSS0, ring0))
	return nil
}

// loadIDT writes the interrupt descriptor table to memory and loads
// it.
func (k *Kernel) loadIDT() error {
	b := k.mem.Bytes(idtAddress, len(k.idt)*16)
	if b == nil {
		return fmt.Errorf("loadIDT: no memory for IDT at %#x: %w", idtAddress, ErrFault)
	}
	for i, d := range k.idt {
		binary.LittleEndian.PutUint64(b[i*16:], d[0])
		binary.LittleEndian.PutUint64(b[i*16+8:], d[1])
	}
	k.m.LIDT(idtAddress, uint16(len(b)-1))
	return nil
}

func selector(seg int, level privLevel) uint16 {
	return uint16(seg<<3) | uint16(level)
}

// install an interrupt gate pointing at handler.
func (t *idt) install(interrupt intVector, level privLevel, ist uint8, handler PhysicalAddress) {
	sel := uint32(selector(segmentCode0, ring0))
	pc := uint64(handler)
	flags := uint32(segFlagPresent)
	// Use a trap gate, which does not affect the IF flag on entry.
	const trapGate = 0xe
	w0 := sel<<16 | uint32(pc&0xffff)
	w1 := uint32(pc&0xffff0000) | flags | uint32(level)<<13 | trapGate<<8 | uint32(ist)
	w2 := uint32(pc >> 32)
	t[interrupt][0] = uint64(w1)<<32 | uint64(w0)
	t[interrupt][1] = uint64(w2)
}

// setRSP sets the address for the kernel stack
// number idx.
func (t *tss) setRSP(idx int, rsp uint64) {
	if idx < 0 || idx > 2 {
		panic("setRSP: stack index out of range")
	}
	t[1+idx*2] = uint32(rsp)
	t[1+idx*2+1] = uint32(rsp >> 32)
}

// setISP sets the address for the interrupt stack
// number idx (1-based).
func (t *tss) setISP(idx int, rsp uint64) {
	if idx < 1 || idx > 7 {
		panic("setISP: stack index out of range")
	}
	t[7+idx*2] = uint32(rsp)
	t[7+idx*2+1] = uint32(rsp >> 32)
}

func (t *tss) setIOPerm(addr uint16) {
	t[24] = uint32(addr) << 16
}

func newSegmentDescriptor(base uint32, limit uint32, flags segmentFlags, level privLevel) segmentDescriptor {
	if limit > 0xfffff {
		panic("newSegmentDescriptor: limit too high")
	}
	flags |= segFlagPresent
	w0 := base<<16 | limit&0xffff
	w1 := base&0xff000000 | limit&0xf0000 | uint32(flags) | uint32(level)<<13 | (base>>16)&0xff
	return segmentDescriptor(uint64(w1)<<32 | uint64(w0))
}
