// SPDX-License-Identifier: Unlicense OR MIT

package main

import (
	"fmt"
	"math/rand"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"eliasnaur.com/kmem/kernel"
)

func init() {
	rootCmd.AddCommand(newHeapCmd())
}

func newHeapCmd() *cobra.Command {
	var (
		ops       int
		maxBlocks int
		seed      int64
		mapBlocks int
	)
	cmd := &cobra.Command{
		Use:   "heap",
		Short: "Run an allocation workload against the kernel heap",
		Long: `The heap command boots the kernel, performs a random sequence of
allocations and frees against the kernel heap, verifies the block
status table and prints the heap statistics and block map.

Block map legend: '.' free, 'S' start of allocation, '+' continuation.

Example:
  kboot heap --ops 1000 --max-blocks 8
  kboot heap --ops 200 --map 256 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeap(ops, maxBlocks, seed, mapBlocks)
		},
	}
	cmd.Flags().IntVar(&ops, "ops", 1000, "Number of allocate/free operations")
	cmd.Flags().IntVar(&maxBlocks, "max-blocks", 4, "Largest allocation in blocks")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Random seed for the workload")
	cmd.Flags().IntVar(&mapBlocks, "map", 128, "Number of blocks to show in the block map (0 for all)")
	return cmd
}

type workloadResult struct {
	Allocs   int `json:"allocs"`
	Frees    int `json:"frees"`
	Failures int `json:"failures"`
	Live     int `json:"live"`
}

// allocation is a live workload allocation and the byte pattern
// written to it.
type allocation struct {
	addr kernel.PhysicalAddress
	size uint32
	fill byte
}

// runWorkload performs ops random allocations and frees. Every
// allocation is zeroed, filled with a pattern and checked before it
// is freed, so overlapping allocations are detected.
func runWorkload(km *kernel.KMem, ops, maxBlocks int, rng *rand.Rand) (workloadResult, error) {
	var res workloadResult
	var live []allocation
	blockSize := int(km.Stats().BlockSize)
	for i := 0; i < ops; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live))
			a := live[j]
			if err := checkFill(km, a); err != nil {
				return res, err
			}
			km.Free(a.addr)
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			res.Frees++
			continue
		}
		size := uint32(1 + rng.Intn(maxBlocks*blockSize))
		addr := km.ZAlloc(size)
		if addr == 0 {
			res.Failures++
			continue
		}
		res.Allocs++
		b := km.Bytes(addr, int(size))
		for _, c := range b {
			if c != 0 {
				return res, fmt.Errorf("allocation %#x not zeroed", addr)
			}
		}
		a := allocation{addr: addr, size: size, fill: byte(1 + i%255)}
		for j := range b {
			b[j] = a.fill
		}
		live = append(live, a)
	}
	for _, a := range live {
		if err := checkFill(km, a); err != nil {
			return res, err
		}
	}
	res.Live = len(live)
	return res, nil
}

func checkFill(km *kernel.KMem, a allocation) error {
	for _, c := range km.Bytes(a.addr, int(a.size)) {
		if c != a.fill {
			return fmt.Errorf("allocation %#x overwritten", a.addr)
		}
	}
	return nil
}

func runHeap(ops, maxBlocks int, seed int64, mapBlocks int) error {
	if maxBlocks < 1 {
		return fmt.Errorf("--max-blocks must be at least 1")
	}
	m, k, err := bootMachine()
	if err != nil {
		return err
	}
	defer m.Close()

	km := k.KMem()
	res, err := runWorkload(km, ops, maxBlocks, rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}
	if err := km.Verify(); err != nil {
		return err
	}
	stats := km.Stats()
	log.Debugw("workload", "allocs", res.Allocs, "frees", res.Frees, "failures", res.Failures)

	if jsonOut {
		return printJSON(struct {
			Workload workloadResult   `json:"workload"`
			Stats    kernel.HeapStats `json:"stats"`
			Runs     []kernel.HeapRun `json:"runs"`
		}{res, stats, km.Runs()})
	}
	bs := uint64(stats.BlockSize)
	fmt.Printf("Workload: %d allocs, %d frees, %d failed, %d live\n", res.Allocs, res.Frees, res.Failures, res.Live)
	fmt.Printf("Heap: %d blocks of %s\n", stats.Blocks, humanize.IBytes(bs))
	fmt.Printf("  Used:    %d blocks (%s) in %d allocations\n", stats.UsedBlocks, humanize.IBytes(uint64(stats.UsedBlocks)*bs), stats.Allocations)
	fmt.Printf("  Free:    %d blocks (%s)\n", stats.FreeBlocks, humanize.IBytes(uint64(stats.FreeBlocks)*bs))
	fmt.Printf("  Largest: %d blocks (%s)\n", stats.LargestFree, humanize.IBytes(uint64(stats.LargestFree)*bs))
	fmt.Printf("Block map:\n%s\n", km.BlockMap(mapBlocks))
	return nil
}
