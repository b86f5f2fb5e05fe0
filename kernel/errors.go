// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import "errors"

// kernError is an error type usable in kernel code.
type kernError string

// Errno is a kernel error number. Kernel entry points that report
// failure as an integer return its negation.
type Errno int

const (
	ENOMEM Errno = 12
	EFAULT Errno = 14
	EINVAL Errno = 22
)

const (
	// ErrInvalid reports an argument the kernel cannot accept, such
	// as an arena not aligned to its block size.
	ErrInvalid kernError = "invalid argument"
	// ErrLayout reports a heap whose block status table does not
	// match the span of its arena.
	ErrLayout kernError = "block table layout mismatch"
	// ErrNoMem reports an exhausted heap.
	ErrNoMem kernError = "out of memory"
	// ErrFault reports access to unbacked physical memory.
	ErrFault kernError = "bad address"
)

func (k kernError) Error() string {
	return string(k)
}

// Code returns the negative error number for err, or 0 if err is
// nil.
func Code(err error) int {
	var errno Errno
	switch {
	case err == nil:
		return 0
	case errors.As(err, &errno):
		return -int(errno)
	case errors.Is(err, ErrNoMem):
		return -int(ENOMEM)
	case errors.Is(err, ErrFault):
		return -int(EFAULT)
	default:
		return -int(EINVAL)
	}
}

func (e Errno) Error() string {
	switch e {
	case ENOMEM:
		return ErrNoMem.Error()
	case EFAULT:
		return ErrFault.Error()
	case EINVAL:
		return ErrInvalid.Error()
	default:
		return "unknown error"
	}
}
