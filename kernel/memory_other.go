// SPDX-License-Identifier: Unlicense OR MIT

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package kernel

func mapMemory(size int) ([]byte, func([]byte) error, error) {
	return make([]byte, size), func([]byte) error { return nil }, nil
}
