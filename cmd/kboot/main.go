// SPDX-License-Identifier: Unlicense OR MIT

// Command kboot runs kernel bring-up on a simulated PC and
// exercises the kernel heap.
package main

func main() {
	execute()
}
