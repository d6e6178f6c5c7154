package partition

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForIsStable(t *testing.T) {
	for _, id := range []string{"startup-1", "startup-2", ""} {
		first := For(id)
		for i := 0; i < 10; i++ {
			require.Equal(t, first, For(id), "partition for %q must be stable", id)
		}
		require.GreaterOrEqual(t, first, 0)
		require.Less(t, first, Count)
	}
}

func TestRangeCoversAllPartitionsDisjointly(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 4, 7, Count, Count + 5} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			owned := make([]int, Count)
			for i := 0; i < workers; i++ {
				lo, hi := Range(i, workers)
				require.LessOrEqual(t, lo, hi)
				for p := lo; p < hi; p++ {
					owned[p]++
				}
			}
			for p, n := range owned {
				require.Equal(t, 1, n, "partition %d owned %d times", p, n)
			}
		})
	}
}
