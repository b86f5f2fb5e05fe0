// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import "fmt"

const (
	intDivideError            intVector = 0x0
	intGeneralProtectionFault intVector = 0xd
	intPageFault              intVector = 0xe
	intSSE                    intVector = 0x13
)

// The 8259 PICs are remapped above the processor exceptions.
const (
	intFirstIRQ intVector = 0x20
	intLastIRQ            = intFirstIRQ + irqCount - 1

	irqCount = 16
	// Line 2 of the master PIC is wired to the slave.
	irqCascade = 2
)

const (
	PIC1_COMMAND = 0x20
	PIC1_DATA    = 0x21
	PIC2_COMMAND = 0xa0
	PIC2_DATA    = 0xa1

	picICW1ICW4 = 0x01
	picICW1Init = 0x10
	picICW4x86  = 0x01
	picEOI      = 0x20
)

// initIDT installs a gate for every vector and loads the table.
func (k *Kernel) initIDT() error {
	for v := 0; v < len(k.idt); v++ {
		vector := intVector(v)
		ist := uint8(istGeneric)
		if vector == intPageFault {
			ist = istPageFault
		}
		k.idt.install(vector, ring0, ist, trampoline(vector))
	}
	return k.loadIDT()
}

func trampoline(v intVector) PhysicalAddress {
	return trampolineBase + PhysicalAddress(v)*trampolineSize
}

// remapPIC moves the PIC interrupts to vectors intFirstIRQ and up,
// and masks every line but the cascade.
func (k *Kernel) remapPIC() {
	k.m.Outb(PIC1_COMMAND, picICW1Init|picICW1ICW4)
	k.m.Outb(PIC2_COMMAND, picICW1Init|picICW1ICW4)
	k.m.Outb(PIC1_DATA, uint8(intFirstIRQ))
	k.m.Outb(PIC2_DATA, uint8(intFirstIRQ+8))
	k.m.Outb(PIC1_DATA, 1<<irqCascade)
	k.m.Outb(PIC2_DATA, irqCascade)
	k.m.Outb(PIC1_DATA, picICW4x86)
	k.m.Outb(PIC2_DATA, picICW4x86)
	k.m.Outb(PIC1_DATA, ^uint8(1<<irqCascade))
	k.m.Outb(PIC2_DATA, 0xff)
}

// HandleIRQ installs fn as the handler for the PIC line irq and
// unmasks the line.
func (k *Kernel) HandleIRQ(irq int, fn func()) error {
	if irq < 0 || irq >= irqCount || irq == irqCascade {
		return fmt.Errorf("HandleIRQ: line %d: %w", irq, ErrInvalid)
	}
	k.irqHandlers[irq] = fn
	port := uint16(PIC1_DATA)
	if irq >= 8 {
		port = PIC2_DATA
	}
	mask := k.m.Inb(port)
	k.m.Outb(port, mask&^(1<<(irq%8)))
	return nil
}

// Interrupt dispatches the interrupt vector. It is the common path
// of the interrupt entry stubs.
func (k *Kernel) Interrupt(vector uint8) {
	v := intVector(vector)
	switch v {
	case intDivideError:
		k.fatal("division by 0")
		return
	case intGeneralProtectionFault:
		k.fatal("general protection fault")
		return
	case intPageFault:
		k.fatal("page fault")
		return
	case intSSE:
		k.fatal("SSE exception")
		return
	}
	if v < intFirstIRQ || v > intLastIRQ {
		k.fatal(fmt.Sprintf("unexpected interrupt %#x", vector))
		return
	}
	irq := int(v - intFirstIRQ)
	h := k.irqHandlers[irq]
	if h == nil {
		if irq%8 == 7 {
			// Spurious; the PIC expects no EOI.
			return
		}
		k.fatal(fmt.Sprintf("unexpected interrupt %#x", vector))
		return
	}
	h()
	if irq >= 8 {
		k.m.Outb(PIC2_COMMAND, picEOI)
	}
	k.m.Outb(PIC1_COMMAND, picEOI)
}
