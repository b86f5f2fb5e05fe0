// SPDX-License-Identifier: Unlicense OR MIT

// Package pc simulates the parts of a PC that kernel bring-up
// touches: physical memory, the COM1 serial port, the two 8259
// interrupt controllers, the descriptor table registers, the
// interrupt flag and halt.
package pc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"eliasnaur.com/kmem/kernel"
)

const (
	com1       = 0x3f8
	com1Status = com1 + 5
	// Transmitter holding register empty.
	com1StatusTHRE = 0x20

	pic1Command = 0x20
	pic1Data    = 0x21
	pic2Command = 0xa0
	pic2Data    = 0xa1
)

// Op is a traced machine operation.
type Op string

const (
	OpOutb        Op = "outb"
	OpLGDT        Op = "lgdt"
	OpLIDT        Op = "lidt"
	OpLTR         Op = "ltr"
	OpSetSegments Op = "segments"
	OpCli         Op = "cli"
	OpSti         Op = "sti"
	OpHalt        Op = "hlt"
)

// Event is one traced machine operation. Port is only set for
// OpOutb.
type Event struct {
	Op   Op
	Port uint16
	Val  uint64
}

// TableRegister is the content of the GDTR or IDTR register.
type TableRegister struct {
	Base  kernel.PhysicalAddress
	Limit uint16
}

// Machine is a simulated PC. It implements kernel.Machine.
type Machine struct {
	mem    *kernel.Memory
	serial bytes.Buffer
	pics   [2]pic
	trace  []Event

	gdtr, idtr TableRegister
	tr         uint16
	cs, ds     uint16
	interrupts bool
	halted     bool
}

// New returns a machine with memSize bytes of physical memory at
// address 0.
func New(memSize int) (*Machine, error) {
	mem, err := kernel.NewMemory(0, memSize)
	if err != nil {
		return nil, fmt.Errorf("pc: %w", err)
	}
	m := &Machine{mem: mem}
	// Everything is masked at power on.
	m.pics[0].mask = 0xff
	m.pics[1].mask = 0xff
	return m, nil
}

// Close releases the physical memory.
func (m *Machine) Close() error {
	return m.mem.Close()
}

// Memory returns the physical memory.
func (m *Machine) Memory() *kernel.Memory {
	return m.mem
}

func (m *Machine) Outb(port uint16, val uint8) {
	m.trace = append(m.trace, Event{Op: OpOutb, Port: port, Val: uint64(val)})
	switch port {
	case com1:
		m.serial.WriteByte(val)
	case pic1Command:
		m.pics[0].command(val)
	case pic1Data:
		m.pics[0].data(val)
	case pic2Command:
		m.pics[1].command(val)
	case pic2Data:
		m.pics[1].data(val)
	}
}

func (m *Machine) Inb(port uint16) uint8 {
	switch port {
	case com1Status:
		return com1StatusTHRE
	case pic1Data:
		return m.pics[0].mask
	case pic2Data:
		return m.pics[1].mask
	default:
		return 0xff
	}
}

func (m *Machine) LGDT(base kernel.PhysicalAddress, limit uint16) {
	m.trace = append(m.trace, Event{Op: OpLGDT, Val: uint64(base)})
	m.gdtr = TableRegister{Base: base, Limit: limit}
}

func (m *Machine) LIDT(base kernel.PhysicalAddress, limit uint16) {
	m.trace = append(m.trace, Event{Op: OpLIDT, Val: uint64(base)})
	m.idtr = TableRegister{Base: base, Limit: limit}
}

func (m *Machine) LTR(sel uint16) {
	m.trace = append(m.trace, Event{Op: OpLTR, Val: uint64(sel)})
	m.tr = sel
}

func (m *Machine) SetSegments(code, data uint16) {
	m.trace = append(m.trace, Event{Op: OpSetSegments, Val: uint64(code)<<16 | uint64(data)})
	m.cs, m.ds = code, data
}

func (m *Machine) Cli() {
	m.trace = append(m.trace, Event{Op: OpCli})
	m.interrupts = false
}

func (m *Machine) Sti() {
	m.trace = append(m.trace, Event{Op: OpSti})
	m.interrupts = true
}

func (m *Machine) Halt() {
	m.trace = append(m.trace, Event{Op: OpHalt})
	m.halted = true
}

// Raise asserts the interrupt line irq (0-15). It returns the
// vector the processor takes, or false if the interrupt is not
// delivered because it is masked, interrupts are disabled, the
// machine is halted or the IDT gate is missing.
func (m *Machine) Raise(irq int) (uint8, bool) {
	if irq < 0 || irq > 15 || m.halted || !m.interrupts {
		return 0, false
	}
	p := &m.pics[irq/8]
	line := uint(irq % 8)
	if irq >= 8 && m.pics[0].mask&(1<<2) != 0 {
		return 0, false
	}
	if p.initializing() || p.mask&(1<<line) != 0 {
		return 0, false
	}
	vector := p.offset + uint8(line)
	if _, ok := m.Gate(vector); !ok {
		return 0, false
	}
	p.inService |= 1 << line
	if irq >= 8 {
		m.pics[0].inService |= 1 << 2
	}
	return vector, true
}

// Gate decodes the IDT gate for vector from memory and returns its
// handler address. It returns false if the gate is outside the
// loaded IDT or not present.
func (m *Machine) Gate(vector uint8) (kernel.PhysicalAddress, bool) {
	off := int(vector) * 16
	if m.idtr.Limit == 0 || off+15 > int(m.idtr.Limit) {
		return 0, false
	}
	b := m.mem.Bytes(m.idtr.Base+kernel.PhysicalAddress(off), 16)
	if b == nil {
		return 0, false
	}
	lo := binary.LittleEndian.Uint64(b)
	hi := binary.LittleEndian.Uint64(b[8:])
	const present = 1 << 47
	if lo&present == 0 {
		return 0, false
	}
	pc := lo&0xffff | (lo>>32)&0xffff0000 | (hi&0xffffffff)<<32
	return kernel.PhysicalAddress(pc), true
}

// Segment returns the raw GDT descriptor for selector sel.
func (m *Machine) Segment(sel uint16) (uint64, bool) {
	off := int(sel &^ 7)
	if off+7 > int(m.gdtr.Limit) {
		return 0, false
	}
	b := m.mem.Bytes(m.gdtr.Base+kernel.PhysicalAddress(off), 8)
	if b == nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// Serial returns everything written to COM1.
func (m *Machine) Serial() string {
	return m.serial.String()
}

// Trace returns the operations performed so far.
func (m *Machine) Trace() []Event {
	return m.trace
}

// Halted reports whether the processor is halted.
func (m *Machine) Halted() bool {
	return m.halted
}

// InterruptsEnabled reports the state of the interrupt flag.
func (m *Machine) InterruptsEnabled() bool {
	return m.interrupts
}

// GDTR returns the global descriptor table register.
func (m *Machine) GDTR() TableRegister {
	return m.gdtr
}

// IDTR returns the interrupt descriptor table register.
func (m *Machine) IDTR() TableRegister {
	return m.idtr
}

// Selectors returns the code, data and task register selectors.
func (m *Machine) Selectors() (code, data, task uint16) {
	return m.cs, m.ds, m.tr
}

// PIC returns the vector offset and mask of the master (0) or
// slave (1) interrupt controller.
func (m *Machine) PIC(i int) (offset, mask uint8) {
	return m.pics[i].offset, m.pics[i].mask
}

var _ kernel.Machine = (*Machine)(nil)
