// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package kernel

import "golang.org/x/sys/unix"

// mapMemory backs physical memory with an anonymous private
// mapping. The host supplies zeroed pages lazily, so a large
// memory costs nothing until it is touched.
func mapMemory(size int) ([]byte, func([]byte) error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return mem, unix.Munmap, nil
}
