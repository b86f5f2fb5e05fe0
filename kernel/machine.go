// SPDX-License-Identifier: Unlicense OR MIT

package kernel

// Machine is the processor and port I/O surface that kernel
// bring-up drives. Implementations are not expected to be safe for
// concurrent use.
type Machine interface {
	Outb(port uint16, val uint8)
	Inb(port uint16) uint8
	// LGDT loads the global descriptor table register.
	LGDT(base PhysicalAddress, limit uint16)
	// LIDT loads the interrupt descriptor table register.
	LIDT(base PhysicalAddress, limit uint16)
	// LTR loads the task register.
	LTR(sel uint16)
	// SetSegments reloads CS with code and the data segment
	// registers with data.
	SetSegments(code, data uint16)
	// Cli disables interrupts.
	Cli()
	// Sti enables interrupts.
	Sti()
	Halt()
}
