// SPDX-License-Identifier: Unlicense OR MIT

package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eliasnaur.com/kmem/kernel"
)

func bootTest(t *testing.T) *kernel.Kernel {
	t.Helper()
	log = zap.NewNop().Sugar()
	m, k, err := bootMachine()
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return k
}

func TestWorkload(t *testing.T) {
	tests := []struct {
		name      string
		ops       int
		maxBlocks int
		seed      int64
	}{
		{"small", 200, 1, 1},
		{"mixed", 2000, 8, 42},
		{"large", 80, 1024, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km := bootTest(t).KMem()
			res, err := runWorkload(km, tt.ops, tt.maxBlocks, rand.New(rand.NewSource(tt.seed)))
			require.NoError(t, err)
			require.Equal(t, tt.ops, res.Allocs+res.Frees+res.Failures)
			require.Equal(t, res.Allocs-res.Frees, res.Live)
			require.NoError(t, km.Verify())

			s := km.Stats()
			require.Equal(t, uint32(res.Live), s.Allocations)
			require.Len(t, km.Runs(), res.Live)
		})
	}
}

func TestCommands(t *testing.T) {
	log = zap.NewNop().Sugar()
	require.NoError(t, runBoot(5, false))
	require.NoError(t, runHeap(100, 4, 1, 16))
	require.Error(t, runHeap(100, 0, 1, 16))
}
