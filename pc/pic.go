// SPDX-License-Identifier: Unlicense OR MIT

package pc

const (
	icw1ICW4 = 0x01
	icw1Init = 0x10
	ocw2EOI  = 0x20
)

// pic is an 8259 programmable interrupt controller.
type pic struct {
	offset uint8
	mask   uint8
	// inService has a bit set for every line being handled.
	inService uint8
	// icw is the initialization word expected next on the data
	// port, or 0 outside initialization.
	icw      int
	needICW4 bool
}

func (p *pic) initializing() bool {
	return p.icw != 0
}

func (p *pic) command(v uint8) {
	switch {
	case v&icw1Init != 0:
		p.icw = 2
		p.needICW4 = v&icw1ICW4 != 0
		p.mask = 0
		p.inService = 0
	case v == ocw2EOI:
		// Non-specific EOI clears the highest priority line.
		p.inService &= p.inService - 1
	}
}

func (p *pic) data(v uint8) {
	switch p.icw {
	case 2:
		p.offset = v &^ 7
		p.icw = 3
	case 3:
		if p.needICW4 {
			p.icw = 4
		} else {
			p.icw = 0
		}
	case 4:
		p.icw = 0
	default:
		p.mask = v
	}
}
