// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import "fmt"

// Kernel sequences hardware bring-up and owns the kernel-wide
// state that results from it.
type Kernel struct {
	m   Machine
	mem *Memory
	con *Console

	kmem        *KMem
	idt         idt
	irqHandlers [irqCount]func()
}

// NewKernel returns a kernel for the machine m with physical memory
// mem. Call Init or Run to bring it up.
func NewKernel(m Machine, mem *Memory) *Kernel {
	return &Kernel{m: m, mem: mem, con: newConsole(m)}
}

// Init brings up video output, the segment table, kernel memory,
// the interrupt table and interrupt controller, in that order, and
// enables interrupts last.
func (k *Kernel) Init() error {
	k.m.Cli()
	if err := k.con.initVideo(k.mem); err != nil {
		return err
	}
	k.con.Printf("Video initialized\n")
	if err := k.loadGDT(); err != nil {
		return err
	}
	kmem := NewKMem(k.mem, k.con)
	if err := kmem.Init(); err != nil {
		return fmt.Errorf("initKernel: %w", err)
	}
	k.kmem = kmem
	if err := k.initIDT(); err != nil {
		return err
	}
	k.remapPIC()
	k.m.Sti()
	k.con.Printf("Kernel initialized\n")
	return nil
}

// Run is like Init, but treats failure as fatal. It reports whether
// the kernel is up.
func (k *Kernel) Run() bool {
	if err := k.Init(); err != nil {
		k.fatalError(err)
		return false
	}
	return true
}

// KMem returns the kernel memory allocator, or nil before Init
// succeeds.
func (k *Kernel) KMem() *KMem {
	return k.kmem
}

// Console returns the kernel console.
func (k *Kernel) Console() *Console {
	return k.con
}

func (k *Kernel) fatalError(err error) {
	k.fatal(err.Error())
}

func (k *Kernel) fatal(msg string) {
	k.m.Cli()
	k.con.Printf("fatal error: %s\n", msg)
	k.m.Halt()
}
