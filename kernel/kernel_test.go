// SPDX-License-Identifier: Unlicense OR MIT

package kernel_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"eliasnaur.com/kmem/kernel"
	"eliasnaur.com/kmem/pc"
)

func newMachine(t *testing.T, size int) *pc.Machine {
	t.Helper()
	m, err := pc.New(size)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func boot(t *testing.T) (*pc.Machine, *kernel.Kernel) {
	t.Helper()
	m := newMachine(t, kernel.MemorySize)
	k := kernel.NewKernel(m, m.Memory())
	require.True(t, k.Run(), "bring-up failed: %s", m.Serial())
	return m, k
}

// ops returns the trace without serial output.
func ops(m *pc.Machine) []pc.Event {
	var evs []pc.Event
	for _, e := range m.Trace() {
		if e.Op == pc.OpOutb && e.Port == kernel.COM1 {
			continue
		}
		evs = append(evs, e)
	}
	return evs
}

func TestBringUp(t *testing.T) {
	m, k := boot(t)
	require.False(t, m.Halted())
	require.True(t, m.InterruptsEnabled())

	out := m.Serial()
	for _, line := range []string{
		"Video initialized\n",
		"Initializing KMem...\n",
		"Initializing Heap (64 MiB in 4.0 KiB blocks at 0x1000000)...\n",
		"Kernel initialized\n",
	} {
		require.Contains(t, out, line)
	}
	require.Equal(t, "Video initialized", k.Console().Screen()[0])

	km := k.KMem()
	require.NotNil(t, km)
	require.NotZero(t, km.Alloc(1))
}

func TestBringUpOrder(t *testing.T) {
	m, _ := boot(t)
	evs := ops(m)
	require.Equal(t, pc.OpCli, evs[0].Op)
	require.Equal(t, pc.OpLGDT, evs[1].Op)
	require.Equal(t, pc.OpSetSegments, evs[2].Op)
	require.Equal(t, pc.OpLTR, evs[3].Op)
	require.Equal(t, pc.OpLIDT, evs[4].Op)
	for _, e := range evs[5 : len(evs)-1] {
		require.Equal(t, pc.OpOutb, e.Op)
	}
	require.Equal(t, pc.OpSti, evs[len(evs)-1].Op)

	// The heap is initialized after the GDT and before the IDT.
	out := m.Serial()
	video := strings.Index(out, "Video initialized")
	kmem := strings.Index(out, "Initializing KMem")
	done := strings.Index(out, "Kernel initialized")
	require.True(t, video < kmem && kmem < done)
	var lgdt, kmemAt, lidt int
	serial := 0
	for i, e := range m.Trace() {
		switch {
		case e.Op == pc.OpLGDT:
			lgdt = i
		case e.Op == pc.OpLIDT:
			lidt = i
		case e.Op == pc.OpOutb && e.Port == kernel.COM1:
			if serial == kmem {
				kmemAt = i
			}
			serial++
		}
	}
	require.True(t, lgdt < kmemAt && kmemAt < lidt, "lgdt %d kmem %d lidt %d", lgdt, kmemAt, lidt)
}

func TestSegmentTable(t *testing.T) {
	m, _ := boot(t)
	gdtr := m.GDTR()
	require.Equal(t, kernel.PhysicalAddress(0x100000), gdtr.Base)
	require.Equal(t, uint16(8*8-1), gdtr.Limit)

	code, data, task := m.Selectors()
	require.Equal(t, uint16(1<<3), code)
	require.Equal(t, uint16(2<<3), data)
	require.Equal(t, uint16(6<<3), task)

	const (
		present = 1 << 47
		long    = 1 << 53
		codeSeg = 1 << 43
	)
	null, ok := m.Segment(0)
	require.True(t, ok)
	require.Zero(t, null)

	d, ok := m.Segment(code)
	require.True(t, ok)
	require.NotZero(t, d&present)
	require.NotZero(t, d&long)
	require.NotZero(t, d&codeSeg)

	d, ok = m.Segment(data)
	require.True(t, ok)
	require.NotZero(t, d&present)
	require.Zero(t, d&codeSeg)

	// The TSS descriptor holds the TSS address and limit.
	d, ok = m.Segment(task)
	require.True(t, ok)
	base := (d>>16)&0xffffff | (d>>32)&0xff000000
	require.Equal(t, uint64(0x100100), base)
	require.Equal(t, uint64(25*4-1), d&0xffff)
	hi, ok := m.Segment(task + 8)
	require.True(t, ok)
	require.Zero(t, hi)

	_, ok = m.Segment(8 << 3)
	require.False(t, ok)
}

func TestInterruptTable(t *testing.T) {
	m, _ := boot(t)
	idtr := m.IDTR()
	require.Equal(t, uint16(256*16-1), idtr.Limit)
	for _, v := range []uint8{0x00, 0x0e, 0x20, 0x2f, 0xff} {
		addr, ok := m.Gate(v)
		require.True(t, ok, "vector %#x", v)
		require.Equal(t, kernel.PhysicalAddress(0x200000+int(v)*16), addr)
	}
}

func TestPICRemap(t *testing.T) {
	m, _ := boot(t)
	var writes [][2]uint16
	for _, e := range m.Trace() {
		if e.Op != pc.OpOutb || e.Port == kernel.COM1 {
			continue
		}
		writes = append(writes, [2]uint16{e.Port, uint16(e.Val)})
	}
	require.Equal(t, [][2]uint16{
		{kernel.PIC1_COMMAND, 0x11},
		{kernel.PIC2_COMMAND, 0x11},
		{kernel.PIC1_DATA, 0x20},
		{kernel.PIC2_DATA, 0x28},
		{kernel.PIC1_DATA, 0x04},
		{kernel.PIC2_DATA, 0x02},
		{kernel.PIC1_DATA, 0x01},
		{kernel.PIC2_DATA, 0x01},
		{kernel.PIC1_DATA, 0xfb},
		{kernel.PIC2_DATA, 0xff},
	}, writes)

	offset, mask := m.PIC(0)
	require.Equal(t, uint8(0x20), offset)
	require.Equal(t, uint8(0xfb), mask)
	offset, mask = m.PIC(1)
	require.Equal(t, uint8(0x28), offset)
	require.Equal(t, uint8(0xff), mask)
}

func TestIRQDispatch(t *testing.T) {
	m, k := boot(t)

	_, ok := m.Raise(0)
	require.False(t, ok, "timer line should be masked")

	var timer, mouse int
	require.NoError(t, k.HandleIRQ(0, func() { timer++ }))
	require.NoError(t, k.HandleIRQ(12, func() { mouse++ }))
	_, mask := m.PIC(0)
	require.Equal(t, uint8(0xfa), mask)
	_, mask = m.PIC(1)
	require.Equal(t, uint8(0xef), mask)

	for i := 0; i < 3; i++ {
		v, ok := m.Raise(0)
		require.True(t, ok)
		require.Equal(t, uint8(0x20), v)
		k.Interrupt(v)
	}
	v, ok := m.Raise(12)
	require.True(t, ok)
	require.Equal(t, uint8(0x2c), v)
	k.Interrupt(v)

	require.Equal(t, 3, timer)
	require.Equal(t, 1, mouse)
	require.False(t, m.Halted())

	_, ok = m.Raise(1)
	require.False(t, ok)
}

func TestHandleIRQInvalid(t *testing.T) {
	_, k := boot(t)
	for _, irq := range []int{-1, 2, 16} {
		require.ErrorIs(t, k.HandleIRQ(irq, func() {}), kernel.ErrInvalid)
	}
}

func TestUnexpectedInterrupt(t *testing.T) {
	tests := []struct {
		vector uint8
		msg    string
		halt   bool
	}{
		{0x00, "fatal error: division by 0\n", true},
		{0x0d, "fatal error: general protection fault\n", true},
		{0x0e, "fatal error: page fault\n", true},
		{0x21, "fatal error: unexpected interrupt 0x21\n", true},
		{0x80, "fatal error: unexpected interrupt 0x80\n", true},
		// Spurious IRQ 7.
		{0x27, "", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%#x", tt.vector), func(t *testing.T) {
			m, k := boot(t)
			k.Interrupt(tt.vector)
			require.Equal(t, tt.halt, m.Halted())
			if tt.halt {
				require.True(t, strings.HasSuffix(m.Serial(), tt.msg), m.Serial())
				require.False(t, m.InterruptsEnabled())
			}
		})
	}
}

func TestBringUpFailureIsFatal(t *testing.T) {
	// Enough for the kernel tables but not for the heap.
	m := newMachine(t, 16<<20)
	k := kernel.NewKernel(m, m.Memory())
	err := k.Init()
	require.ErrorIs(t, err, kernel.ErrInvalid)
	require.Equal(t, -22, kernel.Code(err))
	require.Nil(t, k.KMem())

	m = newMachine(t, 16<<20)
	k = kernel.NewKernel(m, m.Memory())
	require.False(t, k.Run())
	require.True(t, m.Halted())
	require.False(t, m.InterruptsEnabled())
	out := m.Serial()
	require.Contains(t, out, "Failed to initialize heap")
	require.Contains(t, out, "fatal error: initKernel: heap: arena")
	for _, e := range m.Trace() {
		require.NotEqual(t, pc.OpSti, e.Op)
		require.NotEqual(t, pc.OpLIDT, e.Op)
	}
}

func TestNoVideoMemory(t *testing.T) {
	m := newMachine(t, 0x1000)
	k := kernel.NewKernel(m, m.Memory())
	require.False(t, k.Run())
	require.True(t, m.Halted())
	// The serial console works without video.
	require.Contains(t, m.Serial(), "fatal error: initVideo")
	require.Nil(t, k.Console().Screen())
}

func TestConsoleScroll(t *testing.T) {
	_, k := boot(t)
	con := k.Console()
	for i := 0; i < 30; i++ {
		con.Printf("line %d\n", i)
	}
	screen := con.Screen()
	require.Len(t, screen, 25)
	require.Equal(t, "line 29", screen[23])
	require.Equal(t, "", screen[24])
	require.Equal(t, "line 6", screen[0])

	con.Printf("%s", strings.Repeat("x", 85))
	screen = con.Screen()
	require.Equal(t, strings.Repeat("x", 80), screen[23])
	require.Equal(t, "xxxxx", screen[24])
}
