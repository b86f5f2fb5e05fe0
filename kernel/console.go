// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"fmt"
)

const (
	COM1 = 0x3f8

	vgaTextAddress PhysicalAddress = 0xb8000
	vgaColumns                     = 80
	vgaRows                        = 25
	// Light grey on black.
	vgaAttribute = 0x07
)

// Console is the kernel's diagnostic output. Everything is written
// to the COM1 serial port, and to the VGA text buffer once video
// is initialized. A nil *Console discards output.
type Console struct {
	m Machine
	// vga is the text mode buffer of character and attribute
	// pairs, or nil before initVideo.
	vga      []byte
	row, col int
}

func newConsole(m Machine) *Console {
	return &Console{m: m}
}

// initVideo attaches the console to the VGA text buffer and clears
// the screen.
func (c *Console) initVideo(mem *Memory) error {
	vga := mem.Bytes(vgaTextAddress, vgaColumns*vgaRows*2)
	if vga == nil {
		return fmt.Errorf("initVideo: no text buffer at %#x: %w", vgaTextAddress, ErrFault)
	}
	for i := 0; i < len(vga); i += 2 {
		vga[i] = ' '
		vga[i+1] = vgaAttribute
	}
	c.vga = vga
	c.row, c.col = 0, 0
	return nil
}

// Printf formats according to a format specifier and writes to
// the console.
func (c *Console) Printf(format string, args ...interface{}) {
	if c == nil {
		return
	}
	fmt.Fprintf(c, format, args...)
}

func (c *Console) Write(b []byte) (int, error) {
	if c == nil {
		return len(b), nil
	}
	for _, ch := range b {
		c.m.Outb(COM1, ch)
		if c.vga != nil {
			c.putVGA(ch)
		}
	}
	return len(b), nil
}

func (c *Console) putVGA(ch byte) {
	switch ch {
	case '\n':
		c.col = 0
		c.row++
	case '\r':
		c.col = 0
	default:
		off := (c.row*vgaColumns + c.col) * 2
		c.vga[off] = ch
		c.vga[off+1] = vgaAttribute
		c.col++
		if c.col == vgaColumns {
			c.col = 0
			c.row++
		}
	}
	if c.row == vgaRows {
		c.scroll()
	}
}

// scroll moves every line up by one and clears the last.
func (c *Console) scroll() {
	line := vgaColumns * 2
	copy(c.vga, c.vga[line:])
	last := c.vga[len(c.vga)-line:]
	for i := 0; i < len(last); i += 2 {
		last[i] = ' '
		last[i+1] = vgaAttribute
	}
	c.row = vgaRows - 1
}

// Screen returns the text currently on the VGA display, one string
// per row with trailing blanks removed.
func (c *Console) Screen() []string {
	if c == nil || c.vga == nil {
		return nil
	}
	rows := make([]string, vgaRows)
	for r := range rows {
		line := make([]byte, 0, vgaColumns)
		for col := 0; col < vgaColumns; col++ {
			line = append(line, c.vga[(r*vgaColumns+col)*2])
		}
		end := len(line)
		for end > 0 && line[end-1] == ' ' {
			end--
		}
		rows[r] = string(line[:end])
	}
	return rows
}
